package auth

import (
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/deliberation-platform/identity/internal/domain"
)

// HashPhone derives the stored identifier of a phone number: keyed
// BLAKE2b-256 with the pepper of the given version as key, base64 encoded.
// The same (number, version) pair always produces the same hash.
func HashPhone(phone domain.PhoneNumber, peppers domain.Peppers, version int) (string, error) {
	pepper, err := peppers.Get(version)
	if err != nil {
		return "", fmt.Errorf("hash phone: %w", err)
	}
	h, err := blake2b.New256(pepper.Expose())
	if err != nil {
		// blake2b keys are limited to 64 bytes
		return "", fmt.Errorf("hash phone: pepper version %d: %w: %w", version, domain.ErrInvalidInput, err)
	}
	h.Write([]byte(phone.String()))
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// HashPhoneAllVersions hashes a phone number under every configured pepper,
// newest version first. Used where all records of one underlying number must
// be found regardless of the pepper that was current when they were written.
func HashPhoneAllVersions(phone domain.PhoneNumber, peppers domain.Peppers) ([]string, error) {
	hashes := make([]string, 0, len(peppers))
	for v := peppers.Latest(); v >= 0; v-- {
		h, err := HashPhone(phone, peppers, v)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return hashes, nil
}
