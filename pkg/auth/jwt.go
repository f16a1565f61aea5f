package auth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jwalitptl/peoli-api/internal/model"
)

// JWTService validates bearer tokens issued by the account service.
type JWTService interface {
	ValidateToken(token string) (*model.TokenClaims, error)
}

type Validator struct {
	method jwt.SigningMethod
	key    interface{}
	issuer string
}

// NewValidator accepts either a base64 encoded PEM RSA public key (RS512) or
// a shared secret (HS256). The public key wins when both are set.
func NewValidator(publicKey, secret, issuer string) (*Validator, error) {
	v := &Validator{issuer: issuer}

	switch {
	case publicKey != "":
		pem, err := base64.StdEncoding.DecodeString(publicKey)
		if err != nil {
			return nil, fmt.Errorf("failed to decode jwt public key: %w", err)
		}
		key, err := jwt.ParseRSAPublicKeyFromPEM(pem)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jwt public key: %w", err)
		}
		v.method = jwt.SigningMethodRS512
		v.key = key
	case secret != "":
		v.method = jwt.SigningMethodHS256
		v.key = []byte(secret)
	default:
		return nil, errors.New("jwt public key or secret is required")
	}
	return v, nil
}

func (v *Validator) ValidateToken(tokenString string) (*model.TokenClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{v.method.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &model.TokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return v.key, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, model.ErrInvalidToken
	}
	return claims, nil
}

// UserID returns the numeric user id carried in the subject claim.
func UserID(claims *model.TokenClaims) (int64, error) {
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, model.ErrInvalidSubject
	}
	return id, nil
}
