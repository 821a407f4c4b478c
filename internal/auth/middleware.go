package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kinbay/kinbay/internal/platform/httpx"
	"github.com/kinbay/kinbay/internal/shared"
)

// Resolver maps a bearer token to a user id.
type Resolver interface {
	Resolve(ctx context.Context, token string) (int64, error)
}

// Middleware attaches the caller identity from the Authorization header.
type Middleware struct {
	resolver Resolver
	logger   *slog.Logger
}

// NewMiddleware builds Middleware.
func NewMiddleware(resolver Resolver, logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{resolver: resolver, logger: logger}
}

// Require rejects requests without a valid bearer token.
func (m *Middleware) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			httpx.RespondError(w, shared.ErrUnauthorized)
			return
		}
		userID, err := m.resolver.Resolve(r.Context(), token)
		if err != nil {
			if !errors.Is(err, shared.ErrUnauthorized) {
				m.logger.Error("resolve bearer token", slog.Any("error", err))
			}
			httpx.RespondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithUserID(r.Context(), userID)))
	})
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
