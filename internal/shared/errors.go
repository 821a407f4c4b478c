package shared

import "errors"

// Error kinds surfaced by every domain package. Wrap them with fmt.Errorf and
// %w so transports can classify failures with errors.Is.
var (
	// ErrNotFound indicates the resource does not exist or is soft-deleted.
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates the caller lacks the relationship the operation needs.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict indicates a state based rejection.
	ErrConflict = errors.New("conflict")
	// ErrInvalidInput indicates malformed identifiers or missing fields.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnauthorized indicates a missing or invalid caller identity.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
)
