package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/samstikhin/ulearn-notifier/pkg/errors"
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

// RespondError writes err with the status its code maps to. Internal errors
// are attached to the context for the logger and answered generically.
func RespondError(c *gin.Context, err error) {
	status := errors.HTTPStatus(err)
	appErr, ok := errors.As(err)
	if !ok || appErr.Code == errors.ErrInternal {
		_ = c.Error(err)
		c.JSON(status, NewErrorResponse("internal server error"))
		return
	}
	c.JSON(status, NewErrorResponse(appErr.Error()))
}
