package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samstikhin/ulearn-notifier/internal/model"
	"github.com/samstikhin/ulearn-notifier/internal/repository"
	"github.com/samstikhin/ulearn-notifier/internal/repository/memory"
	"github.com/samstikhin/ulearn-notifier/pkg/logger"
	"github.com/samstikhin/ulearn-notifier/pkg/metrics"
)

func TestCleanupWorker_RemovesOnlyOldFinished(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	plan := func(recipient string) *model.Delivery {
		n := &model.Notification{Kind: model.KindNewComment, RecipientUserID: recipient, TargetKey: "comment:1"}
		require.NoError(t, store.Create(ctx, n))
		tr := &model.Transport{UserID: recipient, Type: model.TransportMail, IsEnabled: true}
		require.NoError(t, store.Upsert(ctx, tr))
		d := model.NewDelivery(n, tr, time.Now())
		_, err := store.MarkPlanned(ctx, repository.PlanMark{NotificationID: n.ID, Deliveries: []*model.Delivery{d}})
		require.NoError(t, err)
		return d
	}
	sent := plan("u1")
	plan("u2")
	require.NoError(t, store.MarkDeliveryAsSent(ctx, sent.ID))

	w := NewCleanupWorker(store, time.Hour, time.Minute, logger.Nop(), metrics.New("test"))

	removed, err := w.Cleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)

	w.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	removed, err = w.Cleanup(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	left := store.Deliveries()
	require.Len(t, left, 1)
	assert.Equal(t, model.DeliveryStatusPending, left[0].Status)
}
