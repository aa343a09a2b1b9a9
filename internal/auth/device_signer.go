package auth

import (
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/deliberation-platform/identity/internal/did"
	"github.com/deliberation-platform/identity/internal/domain"
)

// SignedToken holds a freshly signed device token.
type SignedToken struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
}

// DeviceSigner produces device tokens the way a client does. Servers never
// hold device keys; the signer backs the devicetoken command and tests.
type DeviceSigner struct {
	key      *ecdsa.PrivateKey
	didWrite string
	audience string
	ttl      time.Duration
	clock    domain.Clock
}

// DeviceSignerConfig holds configuration for creating a DeviceSigner.
type DeviceSignerConfig struct {
	Key      *ecdsa.PrivateKey
	Audience string
	TTL      time.Duration
	Clock    domain.Clock
}

// NewDeviceSigner derives the device identity from the key and returns a signer.
func NewDeviceSigner(cfg DeviceSignerConfig) (*DeviceSigner, error) {
	if cfg.Key == nil {
		return nil, fmt.Errorf("device signer: key required: %w", domain.ErrInvalidInput)
	}
	didWrite, err := did.FromPublicKey(&cfg.Key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("device signer: %w", err)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &DeviceSigner{
		key:      cfg.Key,
		didWrite: didWrite,
		audience: cfg.Audience,
		ttl:      ttl,
		clock:    cfg.Clock,
	}, nil
}

// DIDWrite returns the signer's device identity.
func (s *DeviceSigner) DIDWrite() string { return s.didWrite }

// Sign creates a signed ES256 token with a fresh jti.
func (s *DeviceSigner) Sign() (SignedToken, error) {
	now := s.clock.Now().UTC()
	jti := uuid.NewString()
	expiresAt := now.Add(s.ttl)

	claims := DeviceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.didWrite,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        jti,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodES256, &claims).SignedString(s.key)
	if err != nil {
		return SignedToken{}, fmt.Errorf("sign device token: %w", err)
	}
	return SignedToken{Token: signed, JTI: jti, ExpiresAt: expiresAt}, nil
}
