package token

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func TestSign(t *testing.T) {
	tests := []struct {
		name     string
		identity string
		proof    string
		secret   string
		wantErr  bool
	}{
		{
			name:     "valid token creation",
			identity: "203.0.113.7",
			proof:    "proof-abc",
			secret:   "test-secret",
			wantErr:  false,
		},
		{
			name:     "empty secret",
			identity: "203.0.113.7",
			proof:    "proof-abc",
			secret:   "",
			wantErr:  false, // Empty secret is allowed but not recommended
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, err := Sign(tt.identity, tt.proof, tt.secret)
			if (err != nil) != tt.wantErr {
				t.Errorf("Sign() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && tok == "" {
				t.Error("Sign() returned empty token")
			}
		})
	}
}

func TestVerify(t *testing.T) {
	secret := "test-secret"
	identity := "203.0.113.7"
	proof := "proof-abc"

	validToken, err := Sign(identity, proof, secret)
	if err != nil {
		t.Fatalf("Failed to create test token: %v", err)
	}

	tests := []struct {
		name        string
		token       string
		secret      string
		wantErr     error
		checkClaims bool
	}{
		{
			name:        "valid token",
			token:       validToken,
			secret:      secret,
			wantErr:     nil,
			checkClaims: true,
		},
		{
			name:    "empty token",
			token:   "",
			secret:  secret,
			wantErr: ErrInvalidToken,
		},
		{
			name:    "malformed token",
			token:   "invalid.token.format",
			secret:  secret,
			wantErr: ErrInvalidToken,
		},
		{
			name:    "truncated token",
			token:   validToken[:len(validToken)-10],
			secret:  secret,
			wantErr: ErrInvalidToken,
		},
		{
			name:    "wrong secret",
			token:   validToken,
			secret:  "wrong-secret",
			wantErr: ErrInvalidToken,
		},
		{
			name:    "expired token",
			token:   createExpiredToken(identity, proof, secret),
			secret:  secret,
			wantErr: ErrTokenExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Verify(tt.token, tt.secret)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Verify() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if tt.checkClaims {
				if got == nil {
					t.Fatal("Verify() returned nil claims")
				}
				if got.ClientIdentity != identity {
					t.Errorf("Verify() ClientIdentity = %v, want %v", got.ClientIdentity, identity)
				}
				if got.HumanProof != proof {
					t.Errorf("Verify() HumanProof = %v, want %v", got.HumanProof, proof)
				}
			}
		})
	}
}

// Helper function to create an expired token
func createExpiredToken(identity, proof, secret string) string {
	now := time.Now().Add(-2 * Lifetime)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(Lifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        now.Format(time.RFC3339Nano),
		},
		ClientIdentity: identity,
		HumanProof:     proof,
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, _ := tok.SignedString([]byte(secret))
	return tokenString
}
