package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/peoli-api/internal/model"
)

func sign(t *testing.T, method jwt.SigningMethod, key interface{}, claims *model.TokenClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func claimsFor(subject string, exp time.Time) *model.TokenClaims {
	return &model.TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "peoli",
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Email: "ana@example.com",
	}
}

func TestValidator_HS256(t *testing.T) {
	v, err := NewValidator("", "s3cret", "peoli")
	require.NoError(t, err)

	token := sign(t, jwt.SigningMethodHS256, []byte("s3cret"), claimsFor("42", time.Now().Add(time.Hour)))
	claims, err := v.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", claims.Email)

	id, err := UserID(claims)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestValidator_RS512(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	v, err := NewValidator(base64.StdEncoding.EncodeToString(pubPEM), "", "")
	require.NoError(t, err)

	token := sign(t, jwt.SigningMethodRS512, key, claimsFor("7", time.Now().Add(time.Hour)))
	claims, err := v.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "7", claims.Subject)

	// an HS256 token must not pass an RS512 validator
	forged := sign(t, jwt.SigningMethodHS256, []byte("anything"), claimsFor("7", time.Now().Add(time.Hour)))
	_, err = v.ValidateToken(forged)
	assert.ErrorIs(t, err, model.ErrInvalidToken)
}

func TestValidator_Rejects(t *testing.T) {
	v, err := NewValidator("", "s3cret", "peoli")
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"wrong secret", sign(t, jwt.SigningMethodHS256, []byte("other"), claimsFor("1", time.Now().Add(time.Hour)))},
		{"expired", sign(t, jwt.SigningMethodHS256, []byte("s3cret"), claimsFor("1", time.Now().Add(-time.Minute)))},
		{"no expiry", sign(t, jwt.SigningMethodHS256, []byte("s3cret"), &model.TokenClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "1", Issuer: "peoli"}})},
		{"garbage", "not.a.token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.ValidateToken(tt.token)
			assert.ErrorIs(t, err, model.ErrInvalidToken)
		})
	}

	wrongIssuer := claimsFor("1", time.Now().Add(time.Hour))
	wrongIssuer.Issuer = "someone-else"
	_, err = v.ValidateToken(sign(t, jwt.SigningMethodHS256, []byte("s3cret"), wrongIssuer))
	assert.ErrorIs(t, err, model.ErrInvalidToken)
}

func TestNewValidator_RequiresKey(t *testing.T) {
	_, err := NewValidator("", "", "")
	assert.Error(t, err)

	_, err = NewValidator("%%%", "", "")
	assert.Error(t, err)
}

func TestUserID(t *testing.T) {
	for _, sub := range []string{"", "abc", "0", "-3"} {
		_, err := UserID(&model.TokenClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: sub}})
		assert.ErrorIs(t, err, model.ErrInvalidSubject, sub)
	}
}
