package jwtx

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Signer signs access claims.
type Signer interface {
	Alg() string
	Sign(Claims) (string, error)
}

// HS256Signer signs with a shared secret, matching the swellwatch backend.
type HS256Signer struct {
	secret []byte
}

// NewSignerHS256 returns a signer for secret. Secrets shorter than 32 bytes
// are refused.
func NewSignerHS256(secret []byte) (*HS256Signer, error) {
	if len(secret) < 32 {
		return nil, errors.New("jwtx: HS256 secret must be at least 32 bytes")
	}
	return &HS256Signer{secret: secret}, nil
}

func (s *HS256Signer) Alg() string { return jwt.SigningMethodHS256.Alg() }

// Sign turns claims into a compact JWT.
func (s *HS256Signer) Sign(claims Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}
