package validator

import (
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPushEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		want     bool
	}{
		{"https://fcm.googleapis.com/fcm/send/abc", true},
		{"https://updates.push.services.mozilla.com/wpush/v2/xyz", true},
		{"http://localhost:8080/push", true},
		{"http://127.0.0.1/push", true},
		{"http://push.example.com/abc", false},
		{"ftp://push.example.com/abc", false},
		{"/relative/path", false},
		{"", false},
		{"https://", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsPushEndpoint(tt.endpoint), tt.endpoint)
	}
}

func TestSubscriptionKeys(t *testing.T) {
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	point := key.PublicKey().Bytes()

	assert.True(t, IsP256dhKey(base64.RawURLEncoding.EncodeToString(point)))
	assert.True(t, IsP256dhKey(base64.StdEncoding.EncodeToString(point)))
	assert.False(t, IsP256dhKey("garbage"))
	assert.False(t, IsP256dhKey(""))
	assert.False(t, IsP256dhKey(base64.RawURLEncoding.EncodeToString(point[:33])), "compressed length")

	offCurve := append([]byte{}, point...)
	offCurve[64] ^= 0xff
	assert.False(t, IsP256dhKey(base64.RawURLEncoding.EncodeToString(offCurve)))

	assert.True(t, IsPushAuth("tBHItJI5svbpez7KI4CCXg"))
	assert.False(t, IsPushAuth(base64.RawURLEncoding.EncodeToString(make([]byte, 8))))
	assert.False(t, IsPushAuth("not base64!"))
}

type subscribeRequest struct {
	Endpoint string `json:"endpoint" validate:"required,pushendpoint"`
	Delay    int    `json:"durationInSeconds" validate:"gt=0"`
	Internal string `json:"-" validate:"required"`
}

func TestErrors(t *testing.T) {
	v := validator.New()
	require.NoError(t, Register(v))

	err := v.Struct(subscribeRequest{Endpoint: "http://push.example.com"})
	require.Error(t, err)

	got := Errors(err)
	assert.ElementsMatch(t, []ValidationError{
		{Field: "endpoint", Message: "must be an https URL"},
		{Field: "durationInSeconds", Message: "must be greater than 0"},
		{Field: "Internal", Message: "is required"},
	}, got)

	assert.Nil(t, Errors(assert.AnError))
}
