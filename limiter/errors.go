package limiter

import "errors"

var (
	// ErrStoreUnavailable wraps every failure to reach the bucket store, timeouts included.
	// It is never returned for an ordinary denial.
	ErrStoreUnavailable = errors.New("limiter: bucket store unavailable")
	// ErrInvalidConfig is returned when a configuration cannot be validated.
	ErrInvalidConfig = errors.New("limiter: invalid configuration")
	// ErrEmptyIdentifier is returned when a tenant or user id is empty.
	ErrEmptyIdentifier = errors.New("limiter: identifier cannot be empty")
)

// ScopeError reports the scope whose store call failed.
type ScopeError struct {
	Scope Scope
	Err   error
}

func (e *ScopeError) Error() string {
	return "limiter: " + e.Scope.String() + " scope: " + e.Err.Error()
}

func (e *ScopeError) Unwrap() error {
	return e.Err
}
