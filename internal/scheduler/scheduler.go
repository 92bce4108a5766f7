package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Bytemaster121/Prepsales-Notification-Service/internal/db"
	"github.com/Bytemaster121/Prepsales-Notification-Service/internal/metrics"
)

// Store is the slice of the repository the scheduler needs. Claims are
// conditional updates: when a worker, a manual retry, and a scheduler tick
// race on the same record, exactly one wins.
type Store interface {
	ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*db.Notification, error)
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*db.Notification, error)
	ClaimDue(ctx context.Context, id uuid.UUID) (bool, error)
	ClaimStalePending(ctx context.Context, id uuid.UUID) (bool, error)
	Release(ctx context.Context, id uuid.UUID, prevStatus string, nextRetryTime *time.Time) error
}

// Publisher is the producing side of the work queue.
type Publisher interface {
	Enqueue(ctx context.Context, notif *db.Notification) (string, error)
}

// Scheduler is the reconciliation loop: on a fixed period it republishes due
// retries and sweeps stale pending records whose intake-time publish never
// reached the queue.
type Scheduler struct {
	store     Store
	publisher Publisher
	config    Config
	logger    *zap.Logger

	ticking atomic.Bool
}

type Config struct {
	// Interval between reconciliation ticks.
	Interval time.Duration

	// BatchSize caps how many records one tick claims per scan.
	BatchSize int

	// PendingGracePeriod is how old a pending record must be before the
	// sweep treats its intake publish as lost and republishes it.
	PendingGracePeriod time.Duration
}

func New(store Store, publisher Publisher, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.Interval == 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.PendingGracePeriod == 0 {
		cfg.PendingGracePeriod = 5 * time.Minute
	}

	return &Scheduler{
		store:     store,
		publisher: publisher,
		config:    cfg,
		logger:    logger,
	}
}

// Start runs the tick loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.logger.Info("retry scheduler started",
		zap.Duration("interval", s.config.Interval),
		zap.Duration("pending_grace_period", s.config.PendingGracePeriod),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retry scheduler stopping")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one reconciliation pass. A tick never overlaps itself: if a
// previous pass is still in flight the new one is skipped, not queued.
func (s *Scheduler) Tick(ctx context.Context) {
	if !s.ticking.CompareAndSwap(false, true) {
		s.logger.Warn("previous scheduler tick still running, skipping")
		return
	}
	defer s.ticking.Store(false)

	now := time.Now().UTC()
	s.republishDueRetries(ctx, now)
	s.sweepStalePending(ctx, now)
}

func (s *Scheduler) republishDueRetries(ctx context.Context, now time.Time) {
	due, err := s.store.ListDueRetries(ctx, now, s.config.BatchSize)
	if err != nil {
		s.logger.Error("failed to list due retries", zap.Error(err))
		return
	}

	for _, notif := range due {
		if ctx.Err() != nil {
			return
		}

		won, err := s.store.ClaimDue(ctx, notif.ID)
		if err != nil {
			metrics.RecordSchedulerClaim("retry", "error")
			s.logger.Error("failed to claim due retry",
				zap.Error(err),
				zap.String("notification_id", notif.ID.String()),
			)
			continue
		}
		if !won {
			// Another actor got there first; nothing to do.
			metrics.RecordSchedulerClaim("retry", "lost")
			continue
		}
		metrics.RecordSchedulerClaim("retry", "won")

		s.republish(ctx, notif, db.StatusRetryScheduled, notif.NextRetryTime)
	}
}

func (s *Scheduler) sweepStalePending(ctx context.Context, now time.Time) {
	cutoff := now.Add(-s.config.PendingGracePeriod)

	stale, err := s.store.ListStalePending(ctx, cutoff, s.config.BatchSize)
	if err != nil {
		s.logger.Error("failed to list stale pending notifications", zap.Error(err))
		return
	}

	for _, notif := range stale {
		if ctx.Err() != nil {
			return
		}

		won, err := s.store.ClaimStalePending(ctx, notif.ID)
		if err != nil {
			metrics.RecordSchedulerClaim("pending", "error")
			s.logger.Error("failed to claim stale pending notification",
				zap.Error(err),
				zap.String("notification_id", notif.ID.String()),
			)
			continue
		}
		if !won {
			metrics.RecordSchedulerClaim("pending", "lost")
			continue
		}
		metrics.RecordSchedulerClaim("pending", "won")

		s.logger.Warn("republishing stale pending notification",
			zap.String("notification_id", notif.ID.String()),
			zap.Time("created_at", notif.CreatedAt),
		)
		s.republish(ctx, notif, db.StatusPending, nil)
	}
}

// republish publishes a claimed record's snapshot to the work queue. A
// failed publish rolls the claim back to its previous state so a later tick
// can retry; an already-claimed record is never left stranded in retrying.
func (s *Scheduler) republish(ctx context.Context, notif *db.Notification, prevStatus string, prevNextRetry *time.Time) {
	snapshot := *notif
	snapshot.Status = db.StatusRetrying
	snapshot.NextRetryTime = nil

	if _, err := s.publisher.Enqueue(ctx, &snapshot); err != nil {
		metrics.RecordQueuePublishFailure()
		s.logger.Error("failed to republish notification, rolling back claim",
			zap.Error(err),
			zap.String("notification_id", notif.ID.String()),
		)

		if relErr := s.store.Release(ctx, notif.ID, prevStatus, prevNextRetry); relErr != nil {
			// The record stays in retrying; the operator retry endpoint can
			// recover it if this persists.
			s.logger.Error("failed to roll back claim",
				zap.Error(relErr),
				zap.String("notification_id", notif.ID.String()),
			)
		}
		return
	}

	s.logger.Info("notification republished for retry",
		zap.String("notification_id", notif.ID.String()),
		zap.Int("retry_count", notif.RetryCount),
	)
}
