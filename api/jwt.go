package api

import (
	"crypto"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// AccessClaims is the token payload the platform's auth service issues.
// The bidding surface only reads Subject (the user id stamped onto
// ledger and audit rows) and the display name.
type AccessClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func ParseAndValidateJWT(tokenString string, secret crypto.Signer) (*AccessClaims, error) {
	const op = "ParseJWT"
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		return secret.Public(), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%s: token is invalid", op)
	}
	claims, ok := token.Claims.(*AccessClaims)
	if !ok {
		return nil, fmt.Errorf("%s: token claims are invalid", op)
	}
	return claims, nil
}
