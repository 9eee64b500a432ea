package rpc

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingToken is returned when no token accompanies a gateway
	// connection.
	ErrMissingToken = errors.New("rpc: missing authorization token")
	// ErrInvalidToken is returned when the JWT is malformed or its
	// signature does not verify.
	ErrInvalidToken = errors.New("rpc: invalid token")
	// ErrExpiredToken is returned when the JWT has expired.
	ErrExpiredToken = errors.New("rpc: token expired")
)

// gatewayClaims identifies the connecting client.
type gatewayClaims struct {
	ClientID string `json:"client_id"`
	jwt.RegisteredClaims
}

// GenerateToken creates a signed HS256 JWT admitting clientID to the
// gateway for the given duration.
func GenerateToken(clientID string, secret []byte, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := gatewayClaims{
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ValidateToken verifies a gateway token and returns the client id.
func ValidateToken(tokenStr string, secret []byte) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &gatewayClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(*gatewayClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	return claims.ClientID, nil
}
