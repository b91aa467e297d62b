package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/samstikhin/ulearn-notifier/internal/repository"
	"github.com/samstikhin/ulearn-notifier/pkg/logger"
	"github.com/samstikhin/ulearn-notifier/pkg/metrics"
)

// CleanupWorker purges finished deliveries older than the retention period.
// Notifications are kept since suppression reads them.
type CleanupWorker struct {
	repo            repository.DeliveryRepository
	retention       time.Duration
	cleanupInterval time.Duration
	logger          *logger.Logger
	metrics         *metrics.Metrics
	now             func() time.Time
}

func NewCleanupWorker(repo repository.DeliveryRepository, retention, cleanupInterval time.Duration, log *logger.Logger, m *metrics.Metrics) *CleanupWorker {
	return &CleanupWorker{
		repo:            repo,
		retention:       retention,
		cleanupInterval: cleanupInterval,
		logger:          log,
		metrics:         m,
		now:             time.Now,
	}
}

func (w *CleanupWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Cleanup(ctx); err != nil {
				w.logger.Error(err, "Error cleaning up deliveries")
			}
		}
	}
}

func (w *CleanupWorker) Cleanup(ctx context.Context) (int64, error) {
	cutoff := w.now().Add(-w.retention)

	rows, err := w.repo.DeleteFinishedBefore(ctx, cutoff)
	w.metrics.ObserveDB("delete_finished_deliveries", err)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup deliveries: %w", err)
	}

	if rows > 0 {
		w.logger.Info("Cleaned up finished deliveries", "count", rows, "cutoff", cutoff)
	}
	return rows, nil
}
