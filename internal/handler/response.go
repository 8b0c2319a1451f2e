package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/jwalitptl/healthbridge/pkg/errors"
)

type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Status: "success",
		Data:   data,
	}
}

func NewErrorResponse(message string) *Response {
	return &Response{
		Status:  "error",
		Message: message,
	}
}

// RespondWithResult reports err with its status but still returns the
// partial result, so callers see which services were tried.
func RespondWithResult(c *gin.Context, err error, data interface{}) {
	status := http.StatusInternalServerError
	message := "Internal server error"
	if appErr, ok := apperrors.As(err); ok {
		status = appErr.HTTPStatus()
		message = appErr.Message
	}
	_ = c.Error(err)
	c.JSON(status, &Response{Status: "error", Message: message, Data: data})
}
