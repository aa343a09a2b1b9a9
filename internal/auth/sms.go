package auth

import "context"

// SMSProvider abstracts one-time code delivery.
type SMSProvider interface {
	// SendOTP delivers the code to the given E.164 phone number.
	// Returns nil once the provider accepted the message (not necessarily
	// delivered it).
	SendOTP(ctx context.Context, phone string, code string) error
}
