package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/peoli-api/pkg/errors"
	"github.com/jwalitptl/peoli-api/pkg/logger"
)

// ErrorLogger logs the errors handlers attached with c.Error. The response
// itself is written by the handler.
func ErrorLogger(log *logger.Logger) gin.HandlerFunc {
	zl := log.Zerolog()

	return func(c *gin.Context) {
		c.Next()

		for _, e := range c.Errors {
			event := zl.Error()
			if appErr, ok := errors.As(e.Err); ok && appErr.HTTPStatus() < 500 {
				event = zl.Debug()
			}
			event.
				Err(e.Err).
				Str("request_id", c.GetString(ContextRequestID)).
				Str("path", c.Request.URL.Path).
				Str("method", c.Request.Method).
				Msg("Request error")
		}
	}
}
