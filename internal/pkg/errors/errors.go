package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrValidation is a generic sentinel for invalid input.
	ErrValidation = errors.New("validation error")
	// ErrModelNotConfigured is returned when no active image generation model exists.
	ErrModelNotConfigured = errors.New("no active image generation model configured")
	// ErrInsufficientCredits is returned when a debit would drive the balance negative.
	ErrInsufficientCredits = errors.New("not enough credits on balance")
	// ErrDuplicateTask marks a redelivered outcome whose task_id is already persisted.
	// The persister absorbs it; it never reaches a caller.
	ErrDuplicateTask = errors.New("duplicate task")
	// ErrNotClaimable is returned when a demo prediction is absent, unfinished or
	// already claimed.
	ErrNotClaimable = errors.New("demo prediction not claimable")
	// ErrInvalidCredentials covers both unknown email and wrong password, so
	// login responses do not reveal which one it was.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// ProviderError wraps a failure from an external provider (translation, image
// engine). Permanent failures must not be retried.
type ProviderError struct {
	Provider  string
	Permanent bool
	Err       error
}

func (e *ProviderError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("%s provider %s error: %v", e.Provider, kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsPermanent reports whether err carries a permanent provider failure.
func IsPermanent(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Permanent
}
