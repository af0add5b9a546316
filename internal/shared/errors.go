package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a missing user, role, permission or override.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed or inconsistent input, checked before any write.
	ErrValidation = errors.New("validation failed")
	// ErrAuthorization indicates the acting user lacks the authority for a mutation.
	// Distinct from an ordinary "access denied" decision, which is a value, not an error.
	ErrAuthorization = errors.New("authorization failed")
	// ErrConflict indicates a duplicate grant or override detected under race.
	ErrConflict = errors.New("conflict")
)

// NotFoundf wraps ErrNotFound with detail.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

// Validationf wraps ErrValidation with detail.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrValidation)
}

// Authorizationf wraps ErrAuthorization with detail.
func Authorizationf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrAuthorization)
}

// Conflictf wraps ErrConflict with detail.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrConflict)
}
