// Package token mints and validates the short-lived signed bearer tokens the
// gateway issues to editor clients. Tokens are HS256 JWTs; the signature is
// verified before any claim is inspected, so a tampered token can never be
// reported as merely expired.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	gateway "github.com/eugener/radagast/internal"
)

// DefaultLifetime bounds how long a minted token stays valid.
const DefaultLifetime = 60 * time.Minute

// Codec mints and validates tokens with a server-held secret.
type Codec struct {
	secret   []byte
	lifetime time.Duration
}

// NewCodec returns a Codec signing with secret. A non-positive lifetime falls
// back to DefaultLifetime.
func NewCodec(secret string, lifetime time.Duration) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("token: empty signing secret")
	}
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	return &Codec{secret: []byte(secret), lifetime: lifetime}, nil
}

// wireClaims is the JWT payload. Registered claims carry issued-at/expiry;
// the custom fields carry gateway identity.
type wireClaims struct {
	jwt.RegisteredClaims
	UserID  uint64       `json:"user_id"`
	Plan    gateway.Plan `json:"plan"`
	IsStaff bool         `json:"is_staff"`
}

// Mint produces a signed token string for the given claims, valid from now
// for the codec's lifetime.
func (c *Codec) Mint(claims gateway.Claims, now time.Time) (string, error) {
	wc := wireClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now.UTC()),
			ExpiresAt: jwt.NewNumericDate(now.UTC().Add(c.lifetime)),
		},
		UserID:  claims.UserID,
		Plan:    claims.Plan,
		IsStaff: claims.IsStaff,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, wc)
	signed, err := tok.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return signed, nil
}

// Validate checks the signature and expiry of a token string and returns the
// embedded claims. An expired-but-authentic token returns
// gateway.ErrTokenExpired, which drives the client refresh protocol; every
// other failure (bad signature, malformed payload, wrong algorithm) returns
// gateway.ErrUnauthorized.
func (c *Codec) Validate(tokenString string) (*gateway.Claims, error) {
	var wc wireClaims
	_, err := jwt.ParseWithClaims(tokenString, &wc,
		func(*jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		// Signature verification runs before claim validation, so
		// ErrTokenExpired here implies an authentic token.
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, gateway.ErrTokenExpired
		}
		return nil, gateway.ErrUnauthorized
	}
	return &gateway.Claims{
		UserID:  wc.UserID,
		Plan:    wc.Plan,
		IsStaff: wc.IsStaff,
	}, nil
}
