package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/cast"

	"github.com/kinbay/kinbay/internal/shared"
)

// Middleware is the chi middleware signature.
type Middleware = func(http.Handler) http.Handler

// ParseID converts an opaque wire identifier into a positive primary key.
func ParseID(raw string) (int64, error) {
	id, err := cast.ToInt64E(strings.TrimSpace(raw))
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("malformed id %q: %w", raw, shared.ErrInvalidInput)
	}
	return id, nil
}

// URLParamID parses the named chi URL parameter as an id.
func URLParamID(r *http.Request, name string) (int64, error) {
	return ParseID(chi.URLParam(r, name))
}

// ParseDate parses an ISO-8601 date or timestamp and truncates it to the UTC
// calendar day. Empty input yields nil.
func ParseDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := dateparse.ParseStrict(raw)
	if err != nil {
		return nil, fmt.Errorf("malformed date %q: %w", raw, shared.ErrInvalidInput)
	}
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &day, nil
}

// Validate runs struct validation and folds field errors into ErrInvalidInput.
func Validate(v *validator.Validate, target any) error {
	err := v.Struct(target)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%v: %w", err, shared.ErrInvalidInput)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%s: %w", strings.Join(msgs, "; "), shared.ErrInvalidInput)
}

// Decode reads a JSON body into target and validates it.
func Decode(r *http.Request, v *validator.Validate, target any) error {
	if err := DecodeJSON(r, target); err != nil {
		return fmt.Errorf("malformed body: %w", shared.ErrInvalidInput)
	}
	return Validate(v, target)
}
