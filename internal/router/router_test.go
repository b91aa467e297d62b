package router

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samstikhin/ulearn-notifier/internal/handler/health"
	"github.com/samstikhin/ulearn-notifier/internal/handler/prometheus"
	"github.com/samstikhin/ulearn-notifier/internal/middleware"
	"github.com/samstikhin/ulearn-notifier/pkg/logger"
)

type panicHandler struct{}

func (panicHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/boom", func(*gin.Context) { panic("boom") })
	rg.GET("/ok", func(c *gin.Context) { c.Status(http.StatusNoContent) })
}

func newRouter(cfg RouterConfig) *Router {
	return NewRouter(logger.Nop(), health.NewHandler(nil, nil), prometheus.New(prom.NewRegistry(), "test"), cfg, panicHandler{})
}

func get(r *Router, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	r.Engine().ServeHTTP(w, req)
	return w
}

func TestRouter_ProbesAndMetrics(t *testing.T) {
	r := newRouter(RouterConfig{})

	assert.Equal(t, http.StatusOK, get(r, "/health/live", nil).Code)
	assert.Equal(t, http.StatusOK, get(r, "/health/ready", nil).Code)
	assert.Equal(t, http.StatusNoContent, get(r, "/api/v1/ok", nil).Code)

	w := get(r, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "test_http_requests_total"))
}

func TestRouter_RequestIDAndRecovery(t *testing.T) {
	r := newRouter(RouterConfig{})

	w := get(r, "/api/v1/ok", http.Header{middleware.HeaderXRequestID: {"rid-1"}})
	assert.Equal(t, "rid-1", w.Header().Get(middleware.HeaderXRequestID))

	w = get(r, "/api/v1/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderXRequestID))
	assert.Contains(t, w.Body.String(), "Internal server error")
}

func TestRouter_RateLimit(t *testing.T) {
	r := newRouter(RouterConfig{RateLimit: 1, RateBurst: 1})

	assert.Equal(t, http.StatusNoContent, get(r, "/api/v1/ok", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, get(r, "/api/v1/ok", nil).Code)
	assert.Equal(t, http.StatusOK, get(r, "/health/live", nil).Code)
}
