// Package transport sends deliveries through the channel of their transport.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/samstikhin/ulearn-notifier/internal/model"
)

var (
	ErrNoSender        = errors.New("no sender for transport type")
	ErrIncompleteBatch = errors.New("delivery has no notification or transport attached")
	ErrMixedBatch      = errors.New("batch mixes transports")
)

// Sender delivers notifications. A nil error means the transport accepted
// every delivery passed in; any error fails the whole call.
type Sender interface {
	SendOne(ctx context.Context, d *model.Delivery) error
	SendBatch(ctx context.Context, ds []*model.Delivery) error
}

// Registry routes deliveries to the sender registered for their transport type.
type Registry struct {
	senders map[model.TransportType]Sender
}

var _ Sender = (*Registry)(nil)

func NewRegistry() *Registry {
	return &Registry{senders: make(map[model.TransportType]Sender)}
}

func (r *Registry) Register(t model.TransportType, s Sender) *Registry {
	r.senders[t] = s
	return r
}

func (r *Registry) Get(t model.TransportType) (Sender, error) {
	s, ok := r.senders[t]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrNoSender, t)
	}
	return s, nil
}

func (r *Registry) SendOne(ctx context.Context, d *model.Delivery) error {
	if err := checkDelivery(d); err != nil {
		return err
	}
	s, err := r.Get(d.Transport.Type)
	if err != nil {
		return err
	}
	return s.SendOne(ctx, d)
}

func (r *Registry) SendBatch(ctx context.Context, ds []*model.Delivery) error {
	transport, err := batchTransport(ds)
	if err != nil {
		return err
	}
	s, err := r.Get(transport.Type)
	if err != nil {
		return err
	}
	return s.SendBatch(ctx, ds)
}

func checkDelivery(d *model.Delivery) error {
	if d == nil || d.Notification == nil || d.Transport == nil {
		return ErrIncompleteBatch
	}
	return nil
}

// batchTransport returns the transport shared by every delivery of ds.
func batchTransport(ds []*model.Delivery) (*model.Transport, error) {
	if len(ds) == 0 {
		return nil, errors.New("empty batch")
	}
	for _, d := range ds {
		if err := checkDelivery(d); err != nil {
			return nil, err
		}
		if d.TransportID != ds[0].TransportID {
			return nil, ErrMixedBatch
		}
	}
	return ds[0].Transport, nil
}

func notificationsOf(ds []*model.Delivery) []*model.Notification {
	out := make([]*model.Notification, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.Notification)
	}
	return out
}
