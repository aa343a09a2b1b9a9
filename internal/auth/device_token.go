package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/deliberation-platform/identity/internal/did"
	"github.com/deliberation-platform/identity/internal/domain"
)

// ErrTokenExpired is returned when a validly signed token has expired.
var ErrTokenExpired = jwt.ErrTokenExpired

// DeviceVerifier authenticates requests signed by a device key pair. The
// verifying key is not looked up anywhere: it is decoded from the token's
// did:key issuer, so possession of the key proves ownership of the identity.
type DeviceVerifier struct {
	audience string
	maxAge   time.Duration
	clock    domain.Clock
}

// DeviceVerifierConfig holds configuration for creating a DeviceVerifier.
type DeviceVerifierConfig struct {
	Audience string
	// MaxAge bounds exp - iat so that a leaked token is short-lived.
	MaxAge time.Duration
	Clock  domain.Clock
}

// NewDeviceVerifier creates a new device token verifier.
func NewDeviceVerifier(cfg DeviceVerifierConfig) *DeviceVerifier {
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = domain.DeviceTokenMaxAge
	}
	return &DeviceVerifier{
		audience: cfg.Audience,
		maxAge:   maxAge,
		clock:    cfg.Clock,
	}
}

// Verify parses and fully validates a device token.
func (v *DeviceVerifier) Verify(tokenString string) (*DeviceClaims, error) {
	var claims DeviceClaims

	opts := []jwt.ParserOption{
		jwt.WithAudience(v.audience),
		jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}),
		jwt.WithTimeFunc(v.clock.Now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(domain.DeviceTokenClockSkew),
	}

	if _, err := jwt.ParseWithClaims(tokenString, &claims, v.keyFunc, opts...); err != nil {
		return nil, fmt.Errorf("invalid device token: %w: %w", domain.ErrUnauthorized, err)
	}

	if claims.ID == "" {
		return nil, fmt.Errorf("missing jti claim: %w", domain.ErrUnauthorized)
	}
	if claims.IssuedAt == nil {
		return nil, fmt.Errorf("missing iat claim: %w", domain.ErrUnauthorized)
	}
	if claims.ExpiresAt.Sub(claims.IssuedAt.Time) > v.maxAge {
		return nil, fmt.Errorf("device token lifetime exceeds %s: %w", v.maxAge, domain.ErrUnauthorized)
	}

	return &claims, nil
}

func (v *DeviceVerifier) keyFunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	claims, ok := token.Claims.(*DeviceClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type %T", token.Claims)
	}
	if _, err := domain.NewDIDWrite(claims.Issuer); err != nil {
		return nil, err
	}
	return did.PublicKey(claims.Issuer)
}
