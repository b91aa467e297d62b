// Package memory keeps notifications, transports and deliveries in process
// memory. It backs tests and local runs without a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samstikhin/ulearn-notifier/internal/model"
	"github.com/samstikhin/ulearn-notifier/internal/repository"
	"github.com/samstikhin/ulearn-notifier/pkg/errors"
)

var (
	_ repository.NotificationRepository = (*Store)(nil)
	_ repository.TransportRepository    = (*Store)(nil)
	_ repository.DeliveryRepository     = (*Store)(nil)
	_ repository.CourseRepository       = (*Store)(nil)
)

type deliveryKey struct {
	notificationID uuid.UUID
	transportID    uuid.UUID
}

// Store implements every repository interface behind one mutex, so each
// method is atomic the same way a single SQL statement is.
type Store struct {
	mu            sync.Mutex
	notifications map[uuid.UUID]*model.Notification
	transports    map[uuid.UUID]*model.Transport
	deliveries    map[uuid.UUID]*model.Delivery
	deliveryIndex map[deliveryKey]uuid.UUID
	courses       map[string]*model.Course
	maxFailures   int
	now           func() time.Time
}

type Option func(*Store)

// WithMaxFailures abandons a delivery after n failures. Zero retries forever.
func WithMaxFailures(n int) Option {
	return func(s *Store) {
		s.maxFailures = n
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		notifications: make(map[uuid.UUID]*model.Notification),
		transports:    make(map[uuid.UUID]*model.Transport),
		deliveries:    make(map[uuid.UUID]*model.Delivery),
		deliveryIndex: make(map[deliveryKey]uuid.UUID),
		courses:       make(map[string]*model.Course),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddCourse registers a course for FindCourse.
func (s *Store) AddCourse(course *model.Course) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *course
	s.courses[c.ID] = &c
}

func (s *Store) Create(_ context.Context, notification *model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if notification.ID == uuid.Nil {
		notification.ID = uuid.New()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = s.now()
	}
	n := *notification
	s.notifications[n.ID] = &n
	return nil
}

func (s *Store) GetNotification(_ context.Context, id uuid.UUID) (*model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok {
		return nil, errors.NotFound("notification", nil)
	}
	cp := *n
	return &cp, nil
}

func (s *Store) GetPendingNotifications(_ context.Context, createdBefore time.Time, limit int) ([]*model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Notification
	for _, n := range s.notifications {
		if n.IsPlanned() || n.CreatedAt.After(createdBefore) {
			continue
		}
		cp := *n
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ExistingKinds(_ context.Context, recipientUserID, targetKey string) ([]model.Kind, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[model.Kind]bool)
	var kinds []model.Kind
	for _, n := range s.notifications {
		if !n.IsPlanned() || n.RecipientUserID != recipientUserID || n.TargetKey != targetKey {
			continue
		}
		if !seen[n.Kind] {
			seen[n.Kind] = true
			kinds = append(kinds, n.Kind)
		}
	}
	return kinds, nil
}

func (s *Store) ExistsForTarget(_ context.Context, kind model.Kind, targetKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range s.notifications {
		if n.Kind == kind && n.TargetKey == targetKey {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) MarkPlanned(_ context.Context, mark repository.PlanMark) (repository.PlanOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[mark.NotificationID]
	if !ok {
		return repository.PlanOutcome{}, errors.NotFound("notification", nil)
	}
	if n.IsPlanned() {
		return repository.PlanOutcome{}, nil
	}

	for _, d := range mark.Deliveries {
		key := deliveryKey{notificationID: d.NotificationID, transportID: d.TransportID}
		if _, exists := s.deliveryIndex[key]; exists {
			continue
		}
		cp := *d
		cp.Notification = nil
		cp.Transport = nil
		s.deliveries[cp.ID] = &cp
		s.deliveryIndex[key] = cp.ID
	}

	now := s.now()
	n.PlannedAt = &now
	n.Suppressed = mark.Suppressed

	outcome := repository.PlanOutcome{Planned: true}
	if !mark.Suppressed && len(mark.Supersedes) > 0 {
		outcome.Retired = s.supersede(n, mark.Supersedes)
	}
	return outcome, nil
}

// supersede must be called with s.mu held.
func (s *Store) supersede(by *model.Notification, kinds []model.Kind) int {
	blocked := make(map[model.Kind]bool, len(kinds))
	for _, k := range kinds {
		blocked[k] = true
	}

	retired := 0
	for _, o := range s.notifications {
		if o.ID == by.ID || !o.IsPlanned() || !blocked[o.Kind] ||
			o.RecipientUserID != by.RecipientUserID || o.TargetKey != by.TargetKey {
			continue
		}
		sent := false
		for _, d := range s.deliveries {
			if d.NotificationID != o.ID {
				continue
			}
			if d.Status == model.DeliveryStatusSent {
				sent = true
			}
			if d.Status.Sendable() && d.Status.CanTransition(model.DeliveryStatusSuppressed) {
				d.Status = model.DeliveryStatusSuppressed
				retired++
			}
		}
		if !sent {
			o.Suppressed = true
		}
	}
	return retired
}

func (s *Store) Upsert(_ context.Context, transport *model.Transport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.transports {
		if t.UserID == transport.UserID && t.Type == transport.Type {
			t.Address = transport.Address
			t.IsEnabled = transport.IsEnabled
			*transport = *t
			return nil
		}
	}
	if transport.ID == uuid.Nil {
		transport.ID = uuid.New()
	}
	if transport.CreatedAt.IsZero() {
		transport.CreatedAt = s.now()
	}
	t := *transport
	s.transports[t.ID] = &t
	return nil
}

func (s *Store) GetTransport(_ context.Context, id uuid.UUID) (*model.Transport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transports[id]
	if !ok {
		return nil, errors.NotFound("transport", nil)
	}
	cp := *t
	return &cp, nil
}

func (s *Store) FindByUser(_ context.Context, userID string, transportType model.TransportType, includeDisabled bool) (*model.Transport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.transports {
		if t.UserID == userID && t.Type == transportType && (includeDisabled || t.IsEnabled) {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Store) ListByUser(_ context.Context, userID string) ([]*model.Transport, error) {
	return s.listTransports(userID, false), nil
}

func (s *Store) GetEnabledTransports(_ context.Context, userID string) ([]*model.Transport, error) {
	return s.listTransports(userID, true), nil
}

func (s *Store) listTransports(userID string, enabledOnly bool) []*model.Transport {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Transport
	for _, t := range s.transports {
		if t.UserID != userID || (enabledOnly && !t.IsEnabled) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

func (s *Store) SetEnabled(_ context.Context, id uuid.UUID, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transports[id]
	if !ok {
		return errors.NotFound("transport", nil)
	}
	t.IsEnabled = enabled
	return nil
}

func (s *Store) GetDeliveriesForSendingNow(_ context.Context, limit int, lease time.Duration) ([]*model.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var due []*model.Delivery
	for _, d := range s.deliveries {
		if !d.Status.Sendable() || d.NextTryTime.After(now) {
			continue
		}
		due = append(due, d)
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].NextTryTime.Equal(due[j].NextTryTime) {
			return due[i].NextTryTime.Before(due[j].NextTryTime)
		}
		return due[i].ID.String() < due[j].ID.String()
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]*model.Delivery, 0, len(due))
	for _, d := range due {
		d.NextTryTime = now.Add(lease)
		cp := *d
		if n, ok := s.notifications[d.NotificationID]; ok {
			nc := *n
			cp.Notification = &nc
		}
		if t, ok := s.transports[d.TransportID]; ok {
			tc := *t
			cp.Transport = &tc
		}
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) MarkDeliveryAsSent(ctx context.Context, id uuid.UUID) error {
	return s.MarkDeliveriesAsSent(ctx, []uuid.UUID{id})
}

func (s *Store) MarkDeliveriesAsSent(_ context.Context, ids []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, id := range ids {
		d, ok := s.deliveries[id]
		if !ok || !d.Status.CanTransition(model.DeliveryStatusSent) {
			continue
		}
		d.Status = model.DeliveryStatusSent
		d.SentAt = &now
	}
	return nil
}

func (s *Store) MarkDeliveryAsFailed(ctx context.Context, id uuid.UUID) (int, error) {
	return s.MarkDeliveriesAsFailed(ctx, []uuid.UUID{id})
}

func (s *Store) MarkDeliveriesAsFailed(_ context.Context, ids []uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	abandoned := 0
	for _, id := range ids {
		d, ok := s.deliveries[id]
		if !ok || !d.Status.CanTransition(model.DeliveryStatusFailed) {
			continue
		}
		d.FailsCount++
		d.NextTryTime = now
		d.Status = model.DeliveryStatusFailed
		if s.maxFailures > 0 && d.FailsCount >= s.maxFailures {
			d.Status = model.DeliveryStatusAbandoned
			abandoned++
		}
	}
	return abandoned, nil
}

func (s *Store) ListByNotification(_ context.Context, notificationID uuid.UUID) ([]*model.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Delivery
	for _, d := range s.deliveries {
		if d.NotificationID == notificationID {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TransportID.String() < out[j].TransportID.String() })
	return out, nil
}

// Deliveries returns a snapshot of every delivery.
func (s *Store) Deliveries() []*model.Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Delivery, 0, len(s.deliveries))
	for _, d := range s.deliveries {
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) FindCourse(_ context.Context, id string) (*model.Course, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.courses[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *Store) DeleteFinishedBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, d := range s.deliveries {
		if !d.Status.IsTerminal() || !d.CreatedAt.Before(before) {
			continue
		}
		delete(s.deliveries, id)
		delete(s.deliveryIndex, deliveryKey{notificationID: d.NotificationID, transportID: d.TransportID})
		removed++
	}
	return removed, nil
}
