package jwtx

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Peek decodes token without verifying it. Clients hold no verification key;
// the result is only fit for display (who is logged in, when the access
// token runs out) and must never drive an authorization decision.
func Peek(token string) (Claims, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return claims, nil
}
