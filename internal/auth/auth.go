// Package auth verifies the identity assertions issued by the auth service.
// This service never mints tokens; it only checks an HS256 JWT and extracts
// the subject.
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidToken covers malformed, expired, or badly signed tokens.
	ErrInvalidToken = errors.New("invalid token")
)

// Claims is the verified identity carried by a bearer token.
type Claims struct {
	UserID uuid.UUID
}

// Verifier parses and validates bearer tokens.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for HS256 tokens signed with secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses the token, checks the signature and expiry, and returns
// the claims. The subject must be the user's UUID.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return nil, ErrInvalidToken
	}

	userID, err := uuid.Parse(subject)
	if err != nil {
		return nil, ErrInvalidToken
	}

	return &Claims{UserID: userID}, nil
}
