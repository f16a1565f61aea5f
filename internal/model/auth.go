package model

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Auth errors
var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrInvalidSubject = errors.New("invalid token subject")
)

// TokenClaims represents JWT claims issued by the account service
type TokenClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}
