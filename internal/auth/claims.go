package auth

import "github.com/golang-jwt/jwt/v5"

// DeviceClaims are the claims of a device-signed request token. The issuer is
// the device's did:key; the token is signed with the matching private key.
type DeviceClaims struct {
	jwt.RegisteredClaims
}

// DIDWrite returns the device identity that signed the token.
func (c *DeviceClaims) DIDWrite() string {
	return c.Issuer
}
