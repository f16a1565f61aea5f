package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_HTTPStatus(t *testing.T) {
	cases := []struct {
		err  *AppError
		want int
	}{
		{NotFound("notification", nil), http.StatusNotFound},
		{BadRequest("bad", nil), http.StatusBadRequest},
		{Unauthorized(nil), http.StatusUnauthorized},
		{TooManyRequests(), http.StatusTooManyRequests},
		{Internal(stderrors.New("db")), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.err.HTTPStatus(), tc.err.Message)
	}
}

func TestAs_FindsWrappedAppError(t *testing.T) {
	cause := stderrors.New("no rows")
	wrapped := fmt.Errorf("service: %w", NotFound("notification", cause))

	appErr, ok := As(wrapped)
	assert.True(t, ok)
	assert.Equal(t, "notification not found", appErr.Message)
	assert.ErrorIs(t, wrapped, cause)
	assert.True(t, HasCode(wrapped, ErrNotFound))
	assert.False(t, HasCode(cause, ErrNotFound))
}
