package domain

import (
	"fmt"
	"regexp"
)

// e164Pattern matches E.164 phone numbers: + followed by 7-15 digits.
var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

// PhoneNumber is a value object representing a phone number in E.164 format.
// Raw user input goes through the phone package first; this type only holds
// the normalized form that is hashed and never persisted in clear.
type PhoneNumber struct {
	value string
}

// NewPhoneNumber creates a PhoneNumber from a normalized string, validating E.164 format.
func NewPhoneNumber(raw string) (PhoneNumber, error) {
	if raw == "" {
		return PhoneNumber{}, fmt.Errorf("phone number cannot be empty: %w", ErrInvalidPhoneNumber)
	}
	if !e164Pattern.MatchString(raw) {
		return PhoneNumber{}, fmt.Errorf("phone number is not valid E.164: %w", ErrInvalidPhoneNumber)
	}
	return PhoneNumber{value: raw}, nil
}

// MustPhoneNumber creates a PhoneNumber, panicking on invalid input. Use only in tests.
func MustPhoneNumber(raw string) PhoneNumber {
	p, err := NewPhoneNumber(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// LastTwoDigits returns the redacted suffix stored alongside the phone hash
// so that users can recognize which number an account is bound to.
func (p PhoneNumber) LastTwoDigits() string {
	if len(p.value) < 2 {
		return ""
	}
	return p.value[len(p.value)-2:]
}

func (p PhoneNumber) String() string { return p.value }
func (p PhoneNumber) IsZero() bool   { return p.value == "" }
