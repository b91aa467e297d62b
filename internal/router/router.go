package router

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/samstikhin/ulearn-notifier/internal/handler/prometheus"
	"github.com/samstikhin/ulearn-notifier/internal/middleware"
	"github.com/samstikhin/ulearn-notifier/pkg/logger"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type RouterConfig struct {
	// RateLimit of zero disables the limiter.
	RateLimit rate.Limit
	RateBurst int
}

type Router struct {
	engine  *gin.Engine
	health  Handler
	metrics *prometheus.Handler
	api     []Handler
}

// NewRouter builds the engine. health and metrics are served outside /api/v1
// and api handlers inside it; api may be empty when only probes are served.
func NewRouter(log *logger.Logger, health Handler, metrics *prometheus.Handler, config RouterConfig, api ...Handler) *Router {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()

	r := &Router{
		engine:  engine,
		health:  health,
		metrics: metrics,
		api:     api,
	}

	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(log),
		middleware.Logger(log, "/health/live", "/health/ready", "/metrics"),
		metrics.Middleware(),
		middleware.ErrorHandler(),
	)

	r.setup(config)
	return r
}

func (r *Router) setup(config RouterConfig) {
	r.health.RegisterRoutes(r.engine.Group(""))
	r.engine.GET("/metrics", r.metrics.Handler())

	if len(r.api) == 0 {
		return
	}

	api := r.engine.Group("/api/v1")
	if config.RateLimit > 0 {
		limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  config.RateLimit,
			Burst: config.RateBurst,
		})
		api.Use(limiter.RateLimit())
	}
	for _, h := range r.api {
		h.RegisterRoutes(api)
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
