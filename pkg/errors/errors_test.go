package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Wrapping(t *testing.T) {
	cause := stderrors.New("no rows")
	err := fmt.Errorf("resolve course: %w", NotFound("course", cause))

	assert.True(t, IsNotFound(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "resolve course: course not found: no rows", err.Error())
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", NotFound("transport", nil), http.StatusNotFound},
		{"bad request", BadRequest("invalid payload", nil), http.StatusBadRequest},
		{"unavailable", Unavailable("broker down", nil), http.StatusServiceUnavailable},
		{"internal", Internal(stderrors.New("x")), http.StatusInternalServerError},
		{"plain error", stderrors.New("x"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}
