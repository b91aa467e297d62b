package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/samstikhin/ulearn-notifier/pkg/errors"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
}

// ErrorHandler renders the last error attached with c.Error when the handler
// wrote no response itself. Internal error details are not exposed.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		status := errors.HTTPStatus(err)
		message := "internal server error"
		if appErr, ok := errors.As(err); ok && appErr.Code != errors.ErrInternal {
			message = appErr.Message
		}

		c.JSON(status, ErrorResponse{
			Code:    status,
			Message: message,
			TraceID: c.GetString(ContextRequestID),
		})
	}
}
