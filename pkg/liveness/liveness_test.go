package liveness

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type countingReporter struct {
	calls     int
	intervals []time.Duration
}

func (c *countingReporter) Ping(_ context.Context, interval time.Duration) {
	c.calls++
	c.intervals = append(c.intervals, interval)
}

func TestHeartbeat_Alive(t *testing.T) {
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_heartbeat"})
	h := NewHeartbeat(gauge)
	now := time.Unix(5000, 0)
	h.now = func() time.Time { return now }

	assert.False(t, h.Alive(now))
	assert.True(t, h.Last().IsZero())

	h.Ping(context.Background(), 10*time.Second)
	assert.Equal(t, now, h.Last())
	assert.True(t, h.Alive(now.Add(10*time.Second)))
	assert.False(t, h.Alive(now.Add(11*time.Second)))
	assert.Equal(t, float64(5000), testutil.ToFloat64(gauge))
}

func TestHeartbeat_NilGauge(t *testing.T) {
	h := NewHeartbeat(nil)
	h.Ping(context.Background(), time.Second)
	assert.True(t, h.Alive(time.Now()))
}

func TestMulti(t *testing.T) {
	a, b := &countingReporter{}, &countingReporter{}
	Multi{a, b}.Ping(context.Background(), time.Minute)

	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
	assert.Equal(t, []time.Duration{time.Minute}, b.intervals)
}

func TestRedisReporter_Key(t *testing.T) {
	r := NewRedisReporter(nil, "ulearn.notifier", nil)
	assert.Equal(t, "keepalive:ulearn.notifier", r.Key())
}
