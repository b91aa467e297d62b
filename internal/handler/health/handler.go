package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger is satisfied by *sqlx.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Heartbeat is satisfied by *liveness.Heartbeat.
type Heartbeat interface {
	Last() time.Time
	Alive(now time.Time) bool
}

type Handler struct {
	db        Pinger
	heartbeat Heartbeat
	now       func() time.Time
}

// NewHandler creates health endpoints. db is nil for in-memory storage and
// heartbeat is nil when the dispatch loop is disabled.
func NewHandler(db Pinger, heartbeat Heartbeat) *Handler {
	return &Handler{
		db:        db,
		heartbeat: heartbeat,
		now:       time.Now,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	health := r.Group("/health")
	{
		health.GET("/live", h.LivenessCheck)
		health.GET("/ready", h.ReadinessCheck)
	}
}

// LivenessCheck fails once the dispatch loop stops pinging.
func (h *Handler) LivenessCheck(c *gin.Context) {
	if h.heartbeat == nil {
		c.JSON(http.StatusOK, gin.H{"status": "UP", "loop": "disabled"})
		return
	}

	last := h.heartbeat.Last()
	if last.IsZero() {
		c.JSON(http.StatusOK, gin.H{"status": "STARTING"})
		return
	}
	if !h.heartbeat.Alive(h.now()) {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":         "DOWN",
			"reason":         "Dispatch loop heartbeat is stale",
			"last_heartbeat": last.UTC().Format(time.RFC3339),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         "UP",
		"last_heartbeat": last.UTC().Format(time.RFC3339),
	})
}

func (h *Handler) ReadinessCheck(c *gin.Context) {
	if h.db == nil {
		c.JSON(http.StatusOK, gin.H{"status": "UP", "storage": "memory"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.PingContext(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "DOWN",
			"reason": "Database connection failed",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "UP"})
}
