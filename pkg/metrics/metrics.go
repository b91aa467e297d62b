package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all notifier metrics
type Metrics struct {
	// Delivery metrics
	DeliveriesSent      *prometheus.CounterVec
	DeliveriesFailed    *prometheus.CounterVec
	DeliveriesAbandoned prometheus.Counter
	BatchSize           *prometheus.HistogramVec
	SendLatency         *prometheus.HistogramVec

	// Loop metrics
	IterationDuration prometheus.Histogram
	IterationErrors   prometheus.Counter
	LastHeartbeat     prometheus.Gauge

	// Planner metrics
	NotificationsPlanned    prometheus.Counter
	NotificationsSuppressed *prometheus.CounterVec
	PlanningErrors          prometheus.Counter
	DeliveriesCreated       prometheus.Counter
	DeliveriesRetired       prometheus.Counter

	// Database metrics
	DatabaseOperations *prometheus.CounterVec
}

// New creates the collectors without registering them.
func New(namespace string) *Metrics {
	return &Metrics{
		DeliveriesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_sent_total",
			Help:      "Total number of deliveries marked as sent",
		}, []string{"transport"}),
		DeliveriesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_failed_total",
			Help:      "Total number of deliveries marked as failed",
		}, []string{"transport", "reason"}),
		DeliveriesAbandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_abandoned_total",
			Help:      "Total number of deliveries that reached the failure limit",
		}),
		BatchSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_group_size",
			Help:      "Number of deliveries sent in one transport call",
			Buckets:   []float64{1, 2, 3, 5, 10, 20, 50, 100},
		}, []string{"transport"}),
		SendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "send_duration_seconds",
			Help:      "Time spent in transport sender calls",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"transport", "path"}),
		IterationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "loop_iteration_duration_seconds",
			Help:      "Time spent in one dispatch loop iteration",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		IterationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_iteration_errors_total",
			Help:      "Total number of dispatch loop iterations that ended with an error",
		}),
		LastHeartbeat: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_heartbeat_timestamp_seconds",
			Help:      "Unix time of the last liveness ping",
		}),
		NotificationsPlanned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_planned_total",
			Help:      "Total number of notifications processed by the planner",
		}),
		NotificationsSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_suppressed_total",
			Help:      "Total number of notifications suppressed by a higher priority one",
		}, []string{"kind"}),
		PlanningErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "planning_errors_total",
			Help:      "Total number of notifications the planner had to skip",
		}),
		DeliveriesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_created_total",
			Help:      "Total number of delivery rows created by the planner",
		}),
		DeliveriesRetired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_retired_total",
			Help:      "Total number of unsent deliveries suppressed by a later, more specific notification",
		}),
		DatabaseOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
	}
}

// Register adds every collector to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.DeliveriesSent,
		m.DeliveriesFailed,
		m.DeliveriesAbandoned,
		m.BatchSize,
		m.SendLatency,
		m.IterationDuration,
		m.IterationErrors,
		m.LastHeartbeat,
		m.NotificationsPlanned,
		m.NotificationsSuppressed,
		m.PlanningErrors,
		m.DeliveriesCreated,
		m.DeliveriesRetired,
		m.DatabaseOperations,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveDB records the outcome of a store call.
func (m *Metrics) ObserveDB(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.DatabaseOperations.WithLabelValues(operation, status).Inc()
}
