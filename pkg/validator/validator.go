package validator

import (
	"crypto/ecdh"
	"encoding/base64"
	stderrors "errors"
	"fmt"
	"net"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Binding tags for the browser-provided subscription.
const (
	PushEndpointTag = "pushendpoint"
	P256dhTag       = "p256dh"
	PushAuthTag     = "pushauth"
)

// pushAuthLen is the size of the auth secret in RFC 8291
const pushAuthLen = 16

// Register adds the custom rules to v and makes errors report json names.
func Register(v *validator.Validate) error {
	rules := map[string]validator.Func{
		PushEndpointTag: pushEndpoint,
		P256dhTag:       func(fl validator.FieldLevel) bool { return IsP256dhKey(fl.Field().String()) },
		PushAuthTag:     func(fl validator.FieldLevel) bool { return IsPushAuth(fl.Field().String()) },
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("failed to register %s validator: %w", tag, err)
		}
	}
	v.RegisterTagNameFunc(JSONTagName)
	return nil
}

func pushEndpoint(fl validator.FieldLevel) bool {
	return IsPushEndpoint(fl.Field().String())
}

// IsPushEndpoint accepts absolute https URLs, and http only for loopback hosts
// so a local push service can be used in development.
func IsPushEndpoint(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	switch u.Scheme {
	case "https":
		return true
	case "http":
		host := u.Hostname()
		if host == "localhost" {
			return true
		}
		ip := net.ParseIP(host)
		return ip != nil && ip.IsLoopback()
	}
	return false
}

// IsP256dhKey accepts an uncompressed P-256 public point in base64.
func IsP256dhKey(raw string) bool {
	b, ok := decodeKey(raw)
	if !ok {
		return false
	}
	_, err := ecdh.P256().NewPublicKey(b)
	return err == nil
}

// IsPushAuth accepts a 16 byte secret in base64.
func IsPushAuth(raw string) bool {
	b, ok := decodeKey(raw)
	return ok && len(b) == pushAuthLen
}

// decodeKey takes the encodings browsers and webpush-go accept, url-safe first.
func decodeKey(raw string) ([]byte, bool) {
	if raw == "" {
		return nil, false
	}
	for _, enc := range []*base64.Encoding{
		base64.RawURLEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.StdEncoding,
	} {
		if b, err := enc.DecodeString(raw); err == nil {
			return b, true
		}
	}
	return nil, false
}

func JSONTagName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" || name == "" {
		return fld.Name
	}
	return name
}

var messages = map[string]string{
	"required":      "is required",
	"gt":            "must be greater than %s",
	"oneof":         "must be one of %s",
	PushEndpointTag: "must be an https URL",
	P256dhTag:       "must be a base64url P-256 public key",
	PushAuthTag:     "must be a base64url 16 byte secret",
}

// Errors flattens validator errors into per-field messages. It returns nil
// when err did not come from the validator.
func Errors(err error) []ValidationError {
	var errs validator.ValidationErrors
	if !stderrors.As(err, &errs) {
		return nil
	}
	out := make([]ValidationError, 0, len(errs))
	for _, e := range errs {
		msg, ok := messages[e.Tag()]
		switch {
		case !ok:
			msg = "failed " + e.Tag() + " validation"
		case strings.Contains(msg, "%s"):
			msg = fmt.Sprintf(msg, e.Param())
		}
		out = append(out, ValidationError{Field: e.Field(), Message: msg})
	}
	return out
}
