package auth

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/deliberation-platform/identity/internal/domain"
)

// MinPepperLength and MaxPepperLength bound pepper sizes; the upper bound is
// the BLAKE2b key size limit.
const (
	MinPepperLength = 16
	MaxPepperLength = 64
)

// DecodePeppers parses base64-encoded peppers ordered by version.
func DecodePeppers(encoded []string) (domain.Peppers, error) {
	peppers := make(domain.Peppers, 0, len(encoded))
	for i, e := range encoded {
		b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(e))
		if err != nil {
			return nil, fmt.Errorf("decode pepper version %d: %w", i, domain.ErrInvalidConfiguration)
		}
		if err := ValidatePepper(b); err != nil {
			return nil, fmt.Errorf("pepper version %d: %w", i, err)
		}
		peppers = append(peppers, domain.SecretBytes(b))
	}
	return peppers, nil
}

// ValidatePepper checks that a pepper can key the phone hash.
func ValidatePepper(b []byte) error {
	if len(b) < MinPepperLength || len(b) > MaxPepperLength {
		return fmt.Errorf("pepper must be %d-%d bytes, got %d: %w", MinPepperLength, MaxPepperLength, len(b), domain.ErrInvalidConfiguration)
	}
	return nil
}
