package domain

import "errors"

// Sentinel errors for domain error conditions.
// Use errors.Is() for matching - never compare error strings.
//
// Expected authentication outcomes (throttled, wrong guess, expired code, ...)
// are NOT errors; they are returned as typed results by the app layer. The
// values below are faults.
var (
	// ID validation errors
	ErrEmptyID               = errors.New("ID cannot be empty")
	ErrInvalidID             = errors.New("invalid ID format")
	ErrInvalidDeviceIdentity = errors.New("invalid device identity")

	// Resource errors
	ErrNotFound = errors.New("resource not found")
	ErrConflict = errors.New("conflicting concurrent write")
	// ErrCodeNotLive means a transition tried to consume a code that was
	// exhausted, consumed or replaced after it was checked.
	ErrCodeNotLive = errors.New("code is no longer live")

	// Authorization errors
	ErrUnauthorized = errors.New("authentication required")

	// Validation errors
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidPhoneNumber = errors.New("invalid phone number format")
	ErrNoAuthAttempt      = errors.New("device has never made an authentication attempt")

	// Operational errors
	ErrRateLimited = errors.New("rate limit exceeded")
	ErrUnavailable = errors.New("service temporarily unavailable")

	// Configuration errors
	ErrConfigRequired       = errors.New("required configuration key missing")
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry. A conflict means another request for the same
// device or identifier committed first; retrying re-classifies against the
// new state.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrConflict)
}

// clientErrors enumerates all domain errors that represent client-side issues.
var clientErrors = []error{
	ErrEmptyID,
	ErrInvalidID,
	ErrInvalidDeviceIdentity,
	ErrNotFound,
	ErrUnauthorized,
	ErrInvalidInput,
	ErrInvalidPhoneNumber,
	ErrNoAuthAttempt,
}

// IsClientError returns true if the error represents a client-side issue
// that will not succeed on retry without client-side changes.
func IsClientError(err error) bool {
	for _, target := range clientErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsNotFound returns true if the error represents a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
