// Package token signs and verifies the compact access tokens handed out by
// the token endpoint. Tokens are HMAC-signed JWTs carrying the client
// identity and the human-verification proof that earned them.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const (
	// Lifetime defines how long access tokens are valid.
	Lifetime = 24 * time.Hour
)

var (
	// ErrTokenExpired is returned when the token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrInvalidToken is returned when the token is invalid for any reason
	ErrInvalidToken = errors.New("invalid token")
)

// Claims carried by an access token. ClientIdentity is the IP address the
// token was issued to; HumanProof is the one-time proof that was verified
// at issuance.
type Claims struct {
	jwt.RegisteredClaims
	ClientIdentity string `json:"client_identity"`
	HumanProof     string `json:"human_proof"`
}

// Sign produces a signed access token for the given client identity.
func Sign(clientIdentity, humanProof, secret string) (string, error) {
	now := time.Now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(Lifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        now.Format(time.RFC3339Nano),
		},
		ClientIdentity: clientIdentity,
		HumanProof:     humanProof,
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	return tok.SignedString([]byte(secret))
}

// Verify parses and validates an access token. It fails closed: any
// structural, signature, or decoding problem yields ErrInvalidToken rather
// than a panic or a pass-through error.
func Verify(tokenString, secret string) (*Claims, error) {
	tok, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
