// Package errmap translates domain sentinel errors into transport responses.
package errmap

import (
	"errors"
	"net/http"

	"github.com/deliberation-platform/identity/internal/domain"
)

// HTTPError represents an HTTP error response.
type HTTPError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	// Retryable tells clients that repeating the same request may succeed.
	Retryable bool `json:"retryable,omitempty"`
}

func (e HTTPError) Error() string {
	return e.Message
}

// httpMapping defines a domain error to HTTP status/code mapping. Only
// mappings with detail set pass the wrapped error text to the client; the
// rest answer with the sentinel's own message.
type httpMapping struct {
	err        error
	statusCode int
	code       string
	detail     bool
}

// httpMappings maps domain errors to HTTP status codes and error codes.
// Order matters: first match wins (via errors.Is). Expected authentication
// outcomes are not errors and never reach this table.
var httpMappings = []httpMapping{
	// Resource errors
	{domain.ErrNotFound, http.StatusNotFound, "NOT_FOUND", false},
	{domain.ErrConflict, http.StatusConflict, "CONFLICT", false},
	{domain.ErrCodeNotLive, http.StatusConflict, "CONFLICT", false},

	// Auth errors
	{domain.ErrUnauthorized, http.StatusUnauthorized, "UNAUTHENTICATED", false},

	// Validation errors
	{domain.ErrNoAuthAttempt, http.StatusBadRequest, "NO_AUTH_ATTEMPT", true},
	{domain.ErrInvalidPhoneNumber, http.StatusBadRequest, "INVALID_PHONE_NUMBER", true},
	{domain.ErrInvalidDeviceIdentity, http.StatusBadRequest, "INVALID_ARGUMENT", true},
	{domain.ErrInvalidInput, http.StatusBadRequest, "INVALID_ARGUMENT", true},
	{domain.ErrEmptyID, http.StatusBadRequest, "INVALID_ARGUMENT", true},
	{domain.ErrInvalidID, http.StatusBadRequest, "INVALID_ARGUMENT", true},

	// Rate limiting
	{domain.ErrRateLimited, http.StatusTooManyRequests, "RATE_LIMITED", false},

	// Availability
	{domain.ErrUnavailable, http.StatusServiceUnavailable, "UNAVAILABLE", false},
}

// ToHTTPError converts a domain error to an HTTP error.
func ToHTTPError(err error) HTTPError {
	if err == nil {
		return HTTPError{StatusCode: http.StatusOK}
	}
	for _, m := range httpMappings {
		if errors.Is(err, m.err) {
			msg := m.err.Error()
			if m.detail {
				msg = err.Error()
			}
			return HTTPError{
				StatusCode: m.statusCode,
				Code:       m.code,
				Message:    msg,
				Retryable:  domain.IsRetryable(err),
			}
		}
	}
	// Never expose internal error details to clients
	return HTTPError{StatusCode: http.StatusInternalServerError, Code: "INTERNAL", Message: "internal error"}
}

// ToHTTPStatusCode extracts just the HTTP status code for a domain error.
func ToHTTPStatusCode(err error) int {
	return ToHTTPError(err).StatusCode
}
