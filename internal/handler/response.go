package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/peoli-api/pkg/httputil"
	"github.com/jwalitptl/peoli-api/pkg/validator"
)

func NewSuccessResponse(data interface{}) *httputil.Response {
	return &httputil.Response{
		Status: httputil.StatusSuccess,
		Data:   data,
	}
}

func NewErrorResponse(message string) *httputil.Response {
	return &httputil.Response{
		Status:  httputil.StatusError,
		Message: message,
	}
}

// RespondWithBindError answers a request whose body or query failed binding.
func RespondWithBindError(c *gin.Context, err error) {
	_ = c.Error(err)
	resp := NewErrorResponse("invalid request")
	if errs := validator.Errors(err); errs != nil {
		resp.Message = "validation failed"
		resp.Data = errs
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, resp)
}
