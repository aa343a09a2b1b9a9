// Package did converts between P-256 public keys and did:key identifiers.
//
// A did:key for a NIST P-256 key is "did:key:z" followed by the base58btc
// encoding of the multicodec prefix 0x80 0x24 and the 33-byte compressed
// public key.
package did

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"

	"github.com/deliberation-platform/identity/internal/domain"
)

// ErrUnsupportedMethod is returned for identifiers that cannot be resolved to
// a key locally (did:web, other methods).
var ErrUnsupportedMethod = errors.New("did method cannot be resolved to a public key")

var p256Multicodec = []byte{0x80, 0x24}

const compressedP256Len = 33

// FromPublicKey returns the did:key identifier of a P-256 public key.
func FromPublicKey(pub *ecdsa.PublicKey) (string, error) {
	if pub == nil || pub.Curve != elliptic.P256() {
		return "", fmt.Errorf("did: only P-256 keys are supported: %w", domain.ErrInvalidInput)
	}
	compressed := elliptic.MarshalCompressed(pub.Curve, pub.X, pub.Y)

	buf := make([]byte, 0, len(p256Multicodec)+len(compressed))
	buf = append(buf, p256Multicodec...)
	buf = append(buf, compressed...)
	return domain.DIDKeyPrefix + base58.Encode(buf), nil
}

// PublicKey decodes a did:key identifier into its P-256 public key.
func PublicKey(id string) (*ecdsa.PublicKey, error) {
	if strings.HasPrefix(id, domain.DIDWebPrefix) {
		return nil, fmt.Errorf("did: %w", ErrUnsupportedMethod)
	}
	if !strings.HasPrefix(id, domain.DIDKeyPrefix) {
		return nil, fmt.Errorf("did: not a base58btc did:key: %w", domain.ErrInvalidDeviceIdentity)
	}

	raw, err := base58.Decode(strings.TrimPrefix(id, domain.DIDKeyPrefix))
	if err != nil {
		return nil, fmt.Errorf("did: decode base58: %w", errors.Join(domain.ErrInvalidDeviceIdentity, err))
	}
	if !bytes.HasPrefix(raw, p256Multicodec) {
		return nil, fmt.Errorf("did: key is not P-256: %w", domain.ErrInvalidDeviceIdentity)
	}
	keyBytes := raw[len(p256Multicodec):]
	if len(keyBytes) != compressedP256Len {
		return nil, fmt.Errorf("did: expected %d byte compressed key, got %d: %w", compressedP256Len, len(keyBytes), domain.ErrInvalidDeviceIdentity)
	}

	x, y := elliptic.UnmarshalCompressed(elliptic.P256(), keyBytes)
	if x == nil {
		return nil, fmt.Errorf("did: point not on curve: %w", domain.ErrInvalidDeviceIdentity)
	}
	return &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}, nil
}
