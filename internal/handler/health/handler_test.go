package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type pinger struct{ err error }

func (p pinger) PingContext(context.Context) error { return p.err }

type heartbeat struct {
	last  time.Time
	alive bool
}

func (h heartbeat) Last() time.Time       { return h.last }
func (h heartbeat) Alive(time.Time) bool { return h.alive }

func serve(h *Handler, path string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.RegisterRoutes(r.Group(""))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestLivenessCheck(t *testing.T) {
	tests := []struct {
		name      string
		heartbeat Heartbeat
		want      int
	}{
		{"loop disabled", nil, http.StatusOK},
		{"no ping yet", heartbeat{}, http.StatusOK},
		{"fresh", heartbeat{last: time.Now(), alive: true}, http.StatusOK},
		{"stale", heartbeat{last: time.Now().Add(-time.Hour), alive: false}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(NewHandler(nil, tt.heartbeat), "/health/live")
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestReadinessCheck(t *testing.T) {
	assert.Equal(t, http.StatusOK, serve(NewHandler(nil, nil), "/health/ready").Code)
	assert.Equal(t, http.StatusOK, serve(NewHandler(pinger{}, nil), "/health/ready").Code)
	assert.Equal(t, http.StatusServiceUnavailable,
		serve(NewHandler(pinger{err: errors.New("connection refused")}, nil), "/health/ready").Code)
}
