package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"regexp"
	"time"

	"github.com/deliberation-platform/identity/internal/domain"
)

var (
	codeMax     = big.NewInt(1_000_000)
	codePattern = regexp.MustCompile(`^\d{6}$`)
)

// GenerateOTP generates a cryptographically random 6-digit code.
// crypto/rand.Int samples uniformly, so there is no modulo bias. The code is
// zero-padded so that every code has the same width.
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, codeMax)
	if err != nil {
		return "", fmt.Errorf("generate OTP: %w", err)
	}
	return FormatCode(int(n.Int64())), nil
}

// FormatCode renders a numeric code with the fixed OTP width.
func FormatCode(n int) string {
	return fmt.Sprintf("%0*d", domain.OTPCodeDigits, n)
}

// IsWellFormedCode reports whether s looks like a code this service issues.
func IsWellFormedCode(s string) bool {
	return codePattern.MatchString(s)
}

// ComputeCodeMAC computes HMAC-SHA256(pepper, code || didWrite || sentAt).
// The MAC binds a code to the device it was issued for and to the instant it
// was issued, so the code itself is never persisted.
func ComputeCodeMAC(pepper []byte, code, didWrite string, sentAt time.Time) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(code))
	mac.Write([]byte(didWrite))
	mac.Write([]byte(sentAt.UTC().Format(time.RFC3339)))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyCodeMAC compares a candidate code against a stored MAC in constant time.
func VerifyCodeMAC(pepper []byte, candidate, didWrite string, sentAt time.Time, storedMAC string) bool {
	candidateMAC := ComputeCodeMAC(pepper, candidate, didWrite, sentAt)
	return subtle.ConstantTimeCompare([]byte(candidateMAC), []byte(storedMAC)) == 1
}
