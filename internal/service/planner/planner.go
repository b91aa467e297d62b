// Package planner turns pending notifications into deliveries, one per enabled
// transport of the recipient, and drops notifications that a more specific one
// about the same target already covers.
package planner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/samstikhin/ulearn-notifier/internal/model"
	"github.com/samstikhin/ulearn-notifier/internal/repository"
	"github.com/samstikhin/ulearn-notifier/pkg/logger"
	"github.com/samstikhin/ulearn-notifier/pkg/metrics"
)

var (
	ErrInvalidPayload     = errors.New("invalid notification payload")
	ErrUnresolvableTarget = errors.New("notification target cannot be resolved")
)

type Config struct {
	// SuppressionWindow delays planning of fresh notifications so that related
	// ones created by the same event land in the same pass.
	SuppressionWindow time.Duration
	// SendDelay postpones the first send attempt.
	SendDelay time.Duration
	// Limit caps the notifications read per pass. Zero reads all.
	Limit int
}

type PlanResult struct {
	Planned    int
	Suppressed int
	Deliveries int
	// Retired counts unsent deliveries of earlier passes suppressed by a
	// notification planned in this one.
	Retired int
	Failed  int
}

// Group is the set of pending notifications for one recipient and target,
// highest priority first.
type Group struct {
	Key           model.GroupKey
	Notifications []*model.Notification
}

type Planner struct {
	notifications repository.NotificationRepository
	transports    repository.TransportRepository
	config        Config
	logger        *logger.Logger
	metrics       *metrics.Metrics
	now           func() time.Time
}

func NewPlanner(
	notifications repository.NotificationRepository,
	transports repository.TransportRepository,
	config Config,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *Planner {
	return &Planner{
		notifications: notifications,
		transports:    transports,
		config:        config,
		logger:        logger,
		metrics:       metrics,
		now:           time.Now,
	}
}

// CreateDeliveries plans every pending notification. A failure on one
// notification is logged and counted; the notification stays pending and is
// retried on the next call. Only a failure to read pending notifications is
// returned.
func (p *Planner) CreateDeliveries(ctx context.Context) (PlanResult, error) {
	var result PlanResult
	now := p.now()

	pending, err := p.notifications.GetPendingNotifications(ctx, now.Add(-p.config.SuppressionWindow), p.config.Limit)
	p.metrics.ObserveDB("get_pending_notifications", err)
	if err != nil {
		return result, fmt.Errorf("failed to get pending notifications: %w", err)
	}
	if len(pending) == 0 {
		return result, nil
	}

	for _, group := range GroupNotifications(pending) {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		p.planGroup(ctx, group, now, &result)
	}

	p.logger.Info("Deliveries planned",
		"notifications", result.Planned,
		"suppressed", result.Suppressed,
		"deliveries", result.Deliveries,
		"retired", result.Retired,
		"failed", result.Failed)
	return result, nil
}

func (p *Planner) planGroup(ctx context.Context, group Group, now time.Time, result *PlanResult) {
	existing, err := p.notifications.ExistingKinds(ctx, group.Key.RecipientUserID, group.Key.TargetKey)
	p.metrics.ObserveDB("existing_kinds", err)
	if err != nil {
		p.fail(result, len(group.Notifications), err, "Failed to load planned notifications",
			"recipient", group.Key.RecipientUserID,
			"target", group.Key.TargetKey)
		return
	}

	present := make(map[model.Kind]bool, len(existing)+len(group.Notifications))
	planned := make(map[model.Kind]bool, len(existing))
	for _, k := range existing {
		present[k] = true
		planned[k] = true
	}

	valid := make([]*model.Notification, 0, len(group.Notifications))
	for _, n := range group.Notifications {
		if err := checkNotification(n); err != nil {
			p.fail(result, 1, err, "Skipping notification",
				"notification_id", n.ID.String(),
				"kind", string(n.Kind))
			continue
		}
		present[n.Kind] = true
		valid = append(valid, n)
	}

	type decision struct {
		blocker    model.Kind
		suppressed bool
	}
	decisions := make([]decision, len(valid))
	needTransports := false
	for i, n := range valid {
		blocker, suppressed := n.Kind.BlockedBy(present)
		decisions[i] = decision{blocker: blocker, suppressed: suppressed}
		needTransports = needTransports || !suppressed
	}

	var transports []*model.Transport
	if needTransports {
		transports, err = p.transports.GetEnabledTransports(ctx, group.Key.RecipientUserID)
		p.metrics.ObserveDB("get_enabled_transports", err)
		if err != nil {
			p.fail(result, len(valid), err, "Failed to load transports",
				"recipient", group.Key.RecipientUserID)
			return
		}
		transports = model.UniqueByType(transports)
	}

	sendAt := now.Add(p.config.SendDelay)
	for i, n := range valid {
		blocker, suppressed := decisions[i].blocker, decisions[i].suppressed

		var deliveries []*model.Delivery
		if !suppressed {
			for _, t := range transports {
				deliveries = append(deliveries, model.NewDelivery(n, t, sendAt))
			}
		}

		mark := repository.PlanMark{
			NotificationID: n.ID,
			Suppressed:     suppressed,
			Deliveries:     deliveries,
		}
		if !suppressed {
			mark.Supersedes = supersededKinds(n.Kind, planned)
		}

		outcome, err := p.notifications.MarkPlanned(ctx, mark)
		p.metrics.ObserveDB("mark_planned", err)
		if err != nil {
			p.fail(result, 1, err, "Failed to save deliveries",
				"notification_id", n.ID.String())
			continue
		}
		if !outcome.Planned {
			p.logger.Debug("Notification already planned", "notification_id", n.ID.String())
			continue
		}

		result.Planned++
		p.metrics.NotificationsPlanned.Inc()
		if outcome.Retired > 0 {
			result.Retired += outcome.Retired
			p.metrics.DeliveriesRetired.Add(float64(outcome.Retired))
			p.logger.Info("Superseded deliveries retired",
				"notification_id", n.ID.String(),
				"kind", string(n.Kind),
				"retired", outcome.Retired)
		}
		if suppressed {
			result.Suppressed++
			p.metrics.NotificationsSuppressed.WithLabelValues(string(n.Kind)).Inc()
			p.logger.Debug("Notification suppressed",
				"notification_id", n.ID.String(),
				"kind", string(n.Kind),
				"blocked_by", string(blocker))
			continue
		}
		result.Deliveries += len(deliveries)
		p.metrics.DeliveriesCreated.Add(float64(len(deliveries)))
	}
}

// supersededKinds returns the kinds blocked by k that earlier passes already
// planned for the group.
func supersededKinds(k model.Kind, planned map[model.Kind]bool) []model.Kind {
	var out []model.Kind
	for _, b := range k.BlockedKinds() {
		if planned[b] {
			out = append(out, b)
		}
	}
	return out
}

func (p *Planner) fail(result *PlanResult, count int, err error, msg string, fields ...interface{}) {
	result.Failed += count
	p.metrics.PlanningErrors.Add(float64(count))
	p.logger.Error(err, msg, fields...)
}

func checkNotification(n *model.Notification) error {
	if _, err := n.DecodePayload(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if n.TargetKey == "" || n.RecipientUserID == "" {
		return ErrUnresolvableTarget
	}
	return nil
}

// GroupNotifications groups notifications by recipient and target. Groups are
// ordered by key and notifications inside a group by priority, then creation
// time, so planning is reproducible.
func GroupNotifications(notifications []*model.Notification) []Group {
	index := make(map[model.GroupKey]int)
	var groups []Group
	for _, n := range notifications {
		key := n.GroupKey()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{Key: key})
		}
		groups[i].Notifications = append(groups[i].Notifications, n)
	}

	sort.Slice(groups, func(i, j int) bool {
		a, b := groups[i].Key, groups[j].Key
		if a.RecipientUserID != b.RecipientUserID {
			return a.RecipientUserID < b.RecipientUserID
		}
		return a.TargetKey < b.TargetKey
	})
	for _, g := range groups {
		ns := g.Notifications
		sort.SliceStable(ns, func(i, j int) bool {
			pi, pj := ns[i].Kind.Priority(), ns[j].Kind.Priority()
			if pi != pj {
				return pi > pj
			}
			return ns[i].CreatedAt.Before(ns[j].CreatedAt)
		})
	}
	return groups
}
