// Package auth issues session tokens and keeps the in-memory session registry.
package auth

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the session id (jti) and the vault id (sub).
type Claims struct {
	jwt.RegisteredClaims
}

func GenerateToken(sessionID, subject string, secretKey []byte, issuedAt, expiresAt time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionID,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// ParseToken verifies the signature and expiry of tokenString against now.
// It returns common.ErrTokenExpired or common.ErrInvalidToken on failure.
func ParseToken(tokenString string, secretKey []byte, now func() time.Time) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, common.ErrInvalidToken
	}

	if !token.Valid || claims.ID == "" || claims.Subject == "" {
		return nil, common.ErrInvalidToken
	}

	return claims, nil
}
