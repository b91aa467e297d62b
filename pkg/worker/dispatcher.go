package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/samstikhin/ulearn-notifier/internal/model"
	"github.com/samstikhin/ulearn-notifier/internal/repository"
	"github.com/samstikhin/ulearn-notifier/internal/service/planner"
	"github.com/samstikhin/ulearn-notifier/internal/transport"
	"github.com/samstikhin/ulearn-notifier/pkg/liveness"
	"github.com/samstikhin/ulearn-notifier/pkg/logger"
	"github.com/samstikhin/ulearn-notifier/pkg/metrics"
)

type DispatcherConfig struct {
	PollInterval      time.Duration
	SendTimeout       time.Duration
	KeepAliveInterval time.Duration
	// Lease is how long claimed deliveries stay invisible to other loops.
	Lease time.Duration
	// BatchLimit caps the deliveries claimed per iteration. Zero means no cap.
	BatchLimit int
	// Workers is the number of groups sent concurrently.
	Workers int
}

type Planner interface {
	CreateDeliveries(ctx context.Context) (planner.PlanResult, error)
}

type CourseResolver interface {
	// FindCourse returns nil, nil when the course does not exist.
	FindCourse(ctx context.Context, id string) (*model.Course, error)
}

// GroupKey selects deliveries that may share one transport call.
type GroupKey struct {
	TransportID uuid.UUID
	Kind        model.Kind
}

type DeliveryGroup struct {
	Key        GroupKey
	Deliveries []*model.Delivery
}

// Dispatcher is the send loop. Every iteration plans new notifications, sends
// due deliveries and pings liveness. Deliveries are sent at least once: a
// crash after a successful send but before it is marked sent repeats the send
// once the lease expires.
type Dispatcher struct {
	planner    Planner
	deliveries repository.DeliveryRepository
	courses    CourseResolver
	sender     transport.Sender
	reporter   liveness.Reporter
	config     DispatcherConfig
	logger     *logger.Logger
	metrics    *metrics.Metrics
}

func NewDispatcher(
	planner Planner,
	deliveries repository.DeliveryRepository,
	courses CourseResolver,
	sender transport.Sender,
	reporter liveness.Reporter,
	config DispatcherConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *Dispatcher {
	// Config validation instead of defaults
	if config.PollInterval <= 0 {
		panic("PollInterval must be greater than 0")
	}
	if config.SendTimeout <= 0 {
		panic("SendTimeout must be greater than 0")
	}
	if config.KeepAliveInterval <= 0 {
		panic("KeepAliveInterval must be greater than 0")
	}
	if config.Lease <= 0 {
		panic("Lease must be greater than 0")
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}

	return &Dispatcher{
		planner:    planner,
		deliveries: deliveries,
		courses:    courses,
		sender:     sender,
		reporter:   reporter,
		config:     config,
		logger:     logger,
		metrics:    metrics,
	}
}

// Run loops until ctx is cancelled. Cancellation is checked between
// iterations; an iteration in progress finishes its sends first.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("Starting dispatch loop",
		"poll_interval", d.config.PollInterval.String(),
		"workers", d.config.Workers)

	for {
		if ctx.Err() != nil {
			d.logger.Info("Shutting down dispatch loop")
			return
		}

		d.Iterate(ctx)

		select {
		case <-ctx.Done():
			d.logger.Info("Shutting down dispatch loop")
			return
		case <-time.After(d.config.PollInterval):
		}
	}
}

// Iterate runs one loop iteration. It never fails: errors and panics are
// logged and the liveness ping is sent regardless.
func (d *Dispatcher) Iterate(ctx context.Context) {
	timer := prometheus.NewTimer(d.metrics.IterationDuration)
	defer timer.ObserveDuration()

	if err := d.iterate(ctx); err != nil {
		d.metrics.IterationErrors.Inc()
		d.logger.Error(err, "Can't create deliveries or send them")
	}

	pingCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.config.SendTimeout)
	defer cancel()
	d.reporter.Ping(pingCtx, d.config.KeepAliveInterval)
}

func (d *Dispatcher) iterate(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in dispatch loop: %v\n%s", r, debug.Stack())
		}
	}()

	if _, err := d.planner.CreateDeliveries(ctx); err != nil {
		return fmt.Errorf("failed to create deliveries: %w", err)
	}
	return d.SendDeliveries(ctx)
}

// SendDeliveries claims due deliveries and sends them group by group. Groups
// not started before ctx is cancelled are left to their lease.
func (d *Dispatcher) SendDeliveries(ctx context.Context) error {
	deliveries, err := d.deliveries.GetDeliveriesForSendingNow(ctx, d.config.BatchLimit, d.config.Lease)
	d.metrics.ObserveDB("get_deliveries_for_sending", err)
	if err != nil {
		return fmt.Errorf("failed to get deliveries: %w", err)
	}
	if len(deliveries) == 0 {
		return nil
	}

	groups := GroupDeliveries(deliveries)
	d.logger.Debug("Sending deliveries",
		"deliveries", len(deliveries),
		"groups", len(groups))

	sem := make(chan struct{}, d.config.Workers)
	var wg sync.WaitGroup
	for _, group := range groups {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(g DeliveryGroup) {
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error(fmt.Errorf("%v", r), "Panic while sending group",
						"kind", string(g.Key.Kind),
						"stack", string(debug.Stack()))
				}
				<-sem
				wg.Done()
			}()
			d.sendGroup(ctx, g)
		}(group)
	}
	wg.Wait()
	return nil
}

func (d *Dispatcher) sendGroup(ctx context.Context, group DeliveryGroup) {
	switch len(group.Deliveries) {
	case 0:
		return
	case 1:
		d.sendOne(ctx, group.Deliveries[0])
	default:
		d.sendBatch(ctx, group.Deliveries)
	}
}

func (d *Dispatcher) sendOne(ctx context.Context, delivery *model.Delivery) {
	sendCtx := context.WithoutCancel(ctx)
	n := delivery.Notification
	if n == nil {
		d.logger.Warn("Delivery has no notification", "delivery_id", delivery.ID.String())
		d.markFailed(sendCtx, []*model.Delivery{delivery}, "invalid")
		return
	}

	course, err := d.courses.FindCourse(sendCtx, n.CourseID)
	if err != nil {
		d.logger.Error(err, "Can't resolve course", "course_id", n.CourseID)
		d.markFailed(sendCtx, []*model.Delivery{delivery}, "course_lookup")
		return
	}
	if course == nil {
		d.logger.Warn(fmt.Sprintf("Can't find course %s", n.CourseID),
			"delivery_id", delivery.ID.String())
		d.markFailed(sendCtx, []*model.Delivery{delivery}, "course_not_found")
		return
	}
	n.Course = course

	err = d.call(sendCtx, delivery.Transport, "single", func(callCtx context.Context) error {
		return d.sender.SendOne(callCtx, delivery)
	})
	if err != nil {
		d.logger.WarnErr(err, fmt.Sprintf("Can't send notification %s to %s. Will try later", n.ID, transportName(delivery.Transport)))
		d.markFailed(sendCtx, []*model.Delivery{delivery}, failureReason(err))
		return
	}
	d.markSent(sendCtx, []*model.Delivery{delivery})
}

// sendBatch is all or nothing: one transport call, then every delivery is
// marked with the same outcome.
func (d *Dispatcher) sendBatch(ctx context.Context, deliveries []*model.Delivery) {
	sendCtx := context.WithoutCancel(ctx)
	tr := deliveries[0].Transport

	err := d.call(sendCtx, tr, "batch", func(callCtx context.Context) error {
		return d.sender.SendBatch(callCtx, deliveries)
	})
	if err != nil {
		d.logger.WarnErr(err, fmt.Sprintf("Can't send multiple notifications to %s. Will try later", transportName(tr)),
			"notification_ids", notificationIDs(deliveries))
		d.markFailed(sendCtx, deliveries, failureReason(err))
		return
	}
	d.markSent(sendCtx, deliveries)
}

// call runs fn bounded by SendTimeout. A sender that ignores its context is
// abandoned on timeout and the call counts as failed.
func (d *Dispatcher) call(ctx context.Context, tr *model.Transport, path string, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, d.config.SendTimeout)
	defer cancel()

	timer := prometheus.NewTimer(d.metrics.SendLatency.WithLabelValues(transportType(tr), path))
	defer timer.ObserveDuration()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("sender panic: %v", r)
			}
		}()
		done <- fn(callCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-callCtx.Done():
		return callCtx.Err()
	}
}

func (d *Dispatcher) markSent(ctx context.Context, deliveries []*model.Delivery) {
	var err error
	if len(deliveries) == 1 {
		err = d.deliveries.MarkDeliveryAsSent(ctx, deliveries[0].ID)
	} else {
		err = d.deliveries.MarkDeliveriesAsSent(ctx, model.DeliveryIDs(deliveries))
	}
	d.metrics.ObserveDB("mark_sent", err)
	if err != nil {
		d.logger.Error(err, "Failed to mark deliveries as sent",
			"notification_ids", notificationIDs(deliveries))
		return
	}

	label := transportType(deliveries[0].Transport)
	d.metrics.DeliveriesSent.WithLabelValues(label).Add(float64(len(deliveries)))
	d.metrics.BatchSize.WithLabelValues(label).Observe(float64(len(deliveries)))
}

func (d *Dispatcher) markFailed(ctx context.Context, deliveries []*model.Delivery, reason string) {
	var (
		abandoned int
		err       error
	)
	if len(deliveries) == 1 {
		abandoned, err = d.deliveries.MarkDeliveryAsFailed(ctx, deliveries[0].ID)
	} else {
		abandoned, err = d.deliveries.MarkDeliveriesAsFailed(ctx, model.DeliveryIDs(deliveries))
	}
	d.metrics.ObserveDB("mark_failed", err)
	if err != nil {
		d.logger.Error(err, "Failed to mark deliveries as failed",
			"notification_ids", notificationIDs(deliveries))
		return
	}

	d.metrics.DeliveriesFailed.WithLabelValues(transportType(deliveries[0].Transport), reason).Add(float64(len(deliveries)))
	if abandoned > 0 {
		d.metrics.DeliveriesAbandoned.Add(float64(abandoned))
		d.logger.Warn("Deliveries abandoned",
			"abandoned", abandoned,
			"notification_ids", notificationIDs(deliveries))
	}
}

// GroupDeliveries groups deliveries by transport and notification kind. Groups
// keep the order in which their first delivery appears.
func GroupDeliveries(deliveries []*model.Delivery) []DeliveryGroup {
	index := make(map[GroupKey]int)
	var groups []DeliveryGroup
	for _, delivery := range deliveries {
		key := GroupKey{TransportID: delivery.TransportID}
		if delivery.Notification != nil {
			key.Kind = delivery.Notification.Kind
		}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, DeliveryGroup{Key: key})
		}
		groups[i].Deliveries = append(groups[i].Deliveries, delivery)
	}
	return groups
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, transport.ErrNoSender):
		return "no_sender"
	default:
		return "send_error"
	}
}

func transportType(t *model.Transport) string {
	if t == nil {
		return "unknown"
	}
	return string(t.Type)
}

func transportName(t *model.Transport) string {
	if t == nil {
		return "unknown transport"
	}
	return t.String()
}

func notificationIDs(deliveries []*model.Delivery) []string {
	ids := make([]string, 0, len(deliveries))
	for _, d := range deliveries {
		ids = append(ids, d.NotificationID.String())
	}
	return ids
}
