// Package domain contains pure business logic and types.
// No external dependencies beyond identifiers - this is the innermost ring.
package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Device identity prefixes. Only base58btc did:key values and did:web values
// are accepted as device identities.
const (
	DIDKeyPrefix = "did:key:z"
	DIDWebPrefix = "did:web:"

	// MaxDIDLength bounds a device identity so that it fits a storage key.
	MaxDIDLength = 1000
)

// AccountID is a value object representing a unique account identifier.
// Always valid in memory - use NewAccountID to construct.
type AccountID struct {
	value string
}

// NewAccountID creates an AccountID from a raw string, validating it is a valid UUID.
func NewAccountID(raw string) (AccountID, error) {
	if raw == "" {
		return AccountID{}, ErrEmptyID
	}
	if _, err := uuid.Parse(raw); err != nil {
		return AccountID{}, fmt.Errorf("invalid account ID %q: %w", raw, ErrInvalidID)
	}
	return AccountID{value: raw}, nil
}

// MustAccountID creates an AccountID, panicking on invalid input. Use only in tests.
func MustAccountID(raw string) AccountID {
	id, err := NewAccountID(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// GenerateAccountID creates a new random AccountID.
func GenerateAccountID() AccountID {
	return AccountID{value: uuid.NewString()}
}

func (id AccountID) String() string { return id.value }
func (id AccountID) IsZero() bool   { return id.value == "" }

// DIDWrite is the public identifier of one client key pair ("device identity").
type DIDWrite struct {
	value string
}

// NewDIDWrite validates the prefix and length of a device identity.
// Cryptographic validity of did:key values is checked by the did package
// when a device token is verified.
func NewDIDWrite(raw string) (DIDWrite, error) {
	if raw == "" {
		return DIDWrite{}, fmt.Errorf("device identity cannot be empty: %w", ErrInvalidDeviceIdentity)
	}
	if len(raw) > MaxDIDLength {
		return DIDWrite{}, fmt.Errorf("device identity longer than %d bytes: %w", MaxDIDLength, ErrInvalidDeviceIdentity)
	}
	if !strings.HasPrefix(raw, DIDKeyPrefix) && !strings.HasPrefix(raw, DIDWebPrefix) {
		return DIDWrite{}, fmt.Errorf("device identity %q is neither did:key nor did:web: %w", raw, ErrInvalidDeviceIdentity)
	}
	return DIDWrite{value: raw}, nil
}

// MustDIDWrite creates a DIDWrite, panicking on invalid input. Use only in tests.
func MustDIDWrite(raw string) DIDWrite {
	d, err := NewDIDWrite(raw)
	if err != nil {
		panic(err)
	}
	return d
}

func (d DIDWrite) String() string { return d.value }
func (d DIDWrite) IsZero() bool   { return d.value == "" }
