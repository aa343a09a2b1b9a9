package domain

import (
	"fmt"
	"log/slog"
)

// SecretString wraps sensitive string values such as connection strings.
// It implements slog.LogValuer and fmt.Stringer so that accidental logging
// or formatting yields a placeholder.
type SecretString string

// String returns a redacted placeholder, never the actual value.
func (s SecretString) String() string {
	return "[REDACTED]"
}

// LogValue implements slog.LogValuer.
func (s SecretString) LogValue() slog.Value {
	return slog.StringValue("[REDACTED]")
}

// Expose returns the actual secret value.
func (s SecretString) Expose() string {
	return string(s)
}

// IsEmpty returns true if the secret is empty.
func (s SecretString) IsEmpty() bool {
	return len(s) == 0
}

// SecretBytes wraps sensitive byte slice values with the same protections as SecretString.
type SecretBytes []byte

// String returns a redacted placeholder.
func (s SecretBytes) String() string {
	return "[REDACTED]"
}

// LogValue implements slog.LogValuer.
func (s SecretBytes) LogValue() slog.Value {
	return slog.StringValue("[REDACTED]")
}

// Expose returns the actual secret bytes.
func (s SecretBytes) Expose() []byte {
	return []byte(s)
}

// IsEmpty returns true if the secret is empty.
func (s SecretBytes) IsEmpty() bool {
	return len(s) == 0
}

// Peppers is the ordered list of phone hashing secrets. The index of a pepper
// is its version; the version used for a hash is persisted next to it.
type Peppers []SecretBytes

// Get returns the pepper for the given version.
func (p Peppers) Get(version int) (SecretBytes, error) {
	if version < 0 || version >= len(p) {
		return nil, fmt.Errorf("pepper version %d not configured (%d available): %w", version, len(p), ErrInvalidInput)
	}
	if p[version].IsEmpty() {
		return nil, fmt.Errorf("pepper version %d is empty: %w", version, ErrInvalidInput)
	}
	return p[version], nil
}

// Latest returns the highest configured version, or -1 when none is configured.
func (p Peppers) Latest() int {
	return len(p) - 1
}

// LogValue reports only the number of configured versions.
func (p Peppers) LogValue() slog.Value {
	return slog.IntValue(len(p))
}

var (
	_ slog.LogValuer = SecretString("")
	_ slog.LogValuer = SecretBytes{}
	_ slog.LogValuer = Peppers{}
)
