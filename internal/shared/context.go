package shared

import "context"

type userContextKey struct{}

// ContextWithUserID stores the authenticated caller id in context.
func ContextWithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userContextKey{}, userID)
}

// UserIDFromContext extracts the authenticated caller id.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userContextKey{}).(int64)
	if !ok || id <= 0 {
		return 0, false
	}
	return id, true
}
