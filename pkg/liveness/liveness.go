// Package liveness tells monitoring that the dispatch loop is still turning.
package liveness

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/samstikhin/ulearn-notifier/pkg/logger"
)

// Reporter is called once per loop iteration. interval is how long the ping
// stays valid. Implementations log their own failures.
type Reporter interface {
	Ping(ctx context.Context, interval time.Duration)
}

// RedisReporter keeps a key with a TTL of interval; an external monitor
// raises an alert once the key disappears.
type RedisReporter struct {
	client redis.Cmdable
	key    string
	logger *logger.Logger
	now    func() time.Time
}

func NewRedisReporter(client redis.Cmdable, service string, log *logger.Logger) *RedisReporter {
	return &RedisReporter{
		client: client,
		key:    "keepalive:" + service,
		logger: log,
		now:    time.Now,
	}
}

func (r *RedisReporter) Key() string {
	return r.key
}

func (r *RedisReporter) Ping(ctx context.Context, interval time.Duration) {
	ts := strconv.FormatInt(r.now().Unix(), 10)
	if err := r.client.Set(ctx, r.key, ts, interval).Err(); err != nil {
		r.logger.WarnErr(err, "Failed to send keep-alive", "key", r.key)
	}
}

// Heartbeat remembers the last ping in process. It backs the liveness
// endpoint and the last heartbeat gauge.
type Heartbeat struct {
	mu       sync.RWMutex
	last     time.Time
	interval time.Duration
	gauge    prometheus.Gauge
	now      func() time.Time
}

// NewHeartbeat creates a heartbeat; gauge may be nil.
func NewHeartbeat(gauge prometheus.Gauge) *Heartbeat {
	return &Heartbeat{gauge: gauge, now: time.Now}
}

func (h *Heartbeat) Ping(_ context.Context, interval time.Duration) {
	now := h.now()
	h.mu.Lock()
	h.last = now
	h.interval = interval
	h.mu.Unlock()

	if h.gauge != nil {
		h.gauge.Set(float64(now.Unix()))
	}
}

// Last returns the time of the last ping, zero if there was none.
func (h *Heartbeat) Last() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last
}

// Alive reports whether the last ping is still within its interval at now.
func (h *Heartbeat) Alive(now time.Time) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.last.IsZero() {
		return false
	}
	return now.Sub(h.last) <= h.interval
}

// Multi pings every reporter in order.
type Multi []Reporter

func (m Multi) Ping(ctx context.Context, interval time.Duration) {
	for _, r := range m {
		r.Ping(ctx, interval)
	}
}
