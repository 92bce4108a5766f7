package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Bytemaster121/Prepsales-Notification-Service/internal/db"
	"github.com/Bytemaster121/Prepsales-Notification-Service/internal/metrics"
	"github.com/Bytemaster121/Prepsales-Notification-Service/internal/sqs"
)

// Store is the slice of the repository the worker needs. The database row
// is the source of truth: every attempt outcome is written there before the
// queue message is acknowledged.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (*db.Notification, error)
	MarkSent(ctx context.Context, id uuid.UUID) error
	ScheduleRetry(ctx context.Context, id uuid.UUID, retryCount int, lastError string, nextRetryTime time.Time) error
	MarkFailedPermanently(ctx context.Context, id uuid.UUID, retryCount int, lastError string) error
}

// Queue is the consuming side of the work queue.
type Queue interface {
	Receive(ctx context.Context) (*sqs.Delivery, error)
	Ack(ctx context.Context, receiptHandle string) error
	ReturnToQueue(ctx context.Context, receiptHandle string) error
}

// DeadLetterQueue receives permanently failed notifications and payloads
// that could not be processed at all.
type DeadLetterQueue interface {
	EnqueueDeadLetter(ctx context.Context, notif *db.Notification) error
	EnqueueDeadLetterRaw(ctx context.Context, body []byte) error
}

// Worker consumes the work queue and performs delivery attempts, one
// in-flight attempt per worker. Per-record serialization comes from the
// scheduler's claim step, not from the worker count.
type Worker struct {
	store      Store
	queue      Queue
	deadLetter DeadLetterQueue
	dispatcher Sender
	config     Config
	logger     *zap.Logger
}

type Config struct {
	// AttemptTimeout bounds a single delivery attempt so a hung provider
	// call cannot hold a message past the broker's visibility timeout.
	AttemptTimeout time.Duration

	// ReceiveBackoff is how long to pause after a failed queue poll.
	ReceiveBackoff time.Duration
}

func New(store Store, queue Queue, deadLetter DeadLetterQueue, dispatcher Sender, cfg Config, logger *zap.Logger) *Worker {
	if cfg.AttemptTimeout == 0 {
		cfg.AttemptTimeout = 30 * time.Second
	}
	if cfg.ReceiveBackoff == 0 {
		cfg.ReceiveBackoff = 5 * time.Second
	}

	return &Worker{
		store:      store,
		queue:      queue,
		deadLetter: deadLetter,
		dispatcher: dispatcher,
		config:     cfg,
		logger:     logger,
	}
}

// Start runs the consume loop until ctx is cancelled. Receive blocks on the
// broker's long poll; a nil delivery means the poll timed out empty.
func (w *Worker) Start(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			w.logger.Info("worker stopping")
			return
		}

		delivery, err := w.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("worker stopping")
				return
			}
			w.logger.Error("failed to receive from queue", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.config.ReceiveBackoff):
			}
			continue
		}
		if delivery == nil {
			continue
		}

		w.Process(ctx, delivery)
	}
}

// Process handles one dequeued message end to end. The message is only
// acknowledged once the outcome of the attempt has been persisted; any
// persistence failure returns the message to the queue for redelivery.
func (w *Worker) Process(ctx context.Context, delivery *sqs.Delivery) {
	var snapshot db.Notification
	if err := json.Unmarshal(delivery.Body, &snapshot); err != nil {
		w.handleMalformed(ctx, delivery, err)
		return
	}

	record, err := w.store.Get(ctx, snapshot.ID)
	if errors.Is(err, db.ErrNotFound) {
		w.logger.Warn("dequeued notification no longer exists, dropping",
			zap.String("notification_id", snapshot.ID.String()),
		)
		w.ack(ctx, delivery)
		return
	}
	if err != nil {
		w.logger.Error("failed to load notification, returning message to queue",
			zap.Error(err),
			zap.String("notification_id", snapshot.ID.String()),
		)
		w.returnToQueue(ctx, delivery)
		return
	}

	// At-least-once guard: redelivered messages for records that already
	// reached a terminal state are acknowledged without another attempt.
	if record.IsTerminal() {
		w.logger.Debug("notification already terminal, skipping",
			zap.String("notification_id", record.ID.String()),
			zap.String("status", record.Status),
		)
		w.ack(ctx, delivery)
		return
	}

	attemptCtx, cancel := context.WithTimeout(ctx, w.config.AttemptTimeout)
	err = w.dispatcher.Send(attemptCtx, &snapshot)
	cancel()

	switch {
	case err == nil:
		w.handleSent(ctx, delivery, record)
	case IsPermanent(err):
		// Malformed contact info can never deliver: dead-letter right away
		// without consuming retry budget.
		w.handleDeadLetter(ctx, delivery, record, record.RetryCount, err)
	default:
		w.handleTransient(ctx, delivery, record, err)
	}
}

func (w *Worker) handleSent(ctx context.Context, delivery *sqs.Delivery, record *db.Notification) {
	if err := w.store.MarkSent(ctx, record.ID); err != nil {
		w.logger.Error("failed to persist sent status, returning message to queue",
			zap.Error(err),
			zap.String("notification_id", record.ID.String()),
		)
		w.returnToQueue(ctx, delivery)
		return
	}

	w.logger.Info("notification sent",
		zap.String("notification_id", record.ID.String()),
		zap.String("type", record.Type),
		zap.Int("retry_count", record.RetryCount),
	)
	metrics.RecordDelivery(db.StatusSent, record.Type)
	w.ack(ctx, delivery)
}

func (w *Worker) handleTransient(ctx context.Context, delivery *sqs.Delivery, record *db.Notification, sendErr error) {
	newCount := record.RetryCount + 1

	w.logger.Error("delivery attempt failed",
		zap.Error(sendErr),
		zap.String("notification_id", record.ID.String()),
		zap.String("type", record.Type),
		zap.Int("retry_count", newCount),
		zap.Int("max_retries", record.MaxRetries),
	)

	if newCount >= record.MaxRetries {
		w.handleDeadLetter(ctx, delivery, record, newCount, sendErr)
		return
	}

	nextRetry := NextRetryTime(time.Now().UTC(), newCount)
	if err := w.store.ScheduleRetry(ctx, record.ID, newCount, sendErr.Error(), nextRetry); err != nil {
		w.logger.Error("failed to persist retry schedule, returning message to queue",
			zap.Error(err),
			zap.String("notification_id", record.ID.String()),
		)
		w.returnToQueue(ctx, delivery)
		return
	}

	metrics.RecordRetryScheduled(record.Type)
	w.ack(ctx, delivery)
}

// handleDeadLetter routes a permanently failed notification to the DLQ and
// persists the terminal state. The DLQ publish happens first: if it fails
// the message is returned to the queue untouched, so the record is never
// marked failed_permanently without a dead-letter message existing.
func (w *Worker) handleDeadLetter(ctx context.Context, delivery *sqs.Delivery, record *db.Notification, retryCount int, cause error) {
	errMsg := cause.Error()

	dead := *record
	dead.Status = db.StatusFailedPermanently
	dead.RetryCount = retryCount
	dead.LastError = &errMsg
	dead.NextRetryTime = nil

	if err := w.deadLetter.EnqueueDeadLetter(ctx, &dead); err != nil {
		w.logger.Error("failed to publish to dead-letter queue, returning message to queue",
			zap.Error(err),
			zap.String("notification_id", record.ID.String()),
		)
		w.returnToQueue(ctx, delivery)
		return
	}

	if err := w.store.MarkFailedPermanently(ctx, record.ID, retryCount, errMsg); err != nil {
		w.logger.Error("failed to persist permanent failure, returning message to queue",
			zap.Error(err),
			zap.String("notification_id", record.ID.String()),
		)
		w.returnToQueue(ctx, delivery)
		return
	}

	w.logger.Warn("notification dead-lettered",
		zap.String("notification_id", record.ID.String()),
		zap.String("type", record.Type),
		zap.Int("retry_count", retryCount),
		zap.String("last_error", errMsg),
	)
	metrics.RecordDeadLetter(record.Type)
	w.ack(ctx, delivery)
}

// handleMalformed dead-letters an undeserializable payload verbatim. The
// message is acknowledged only after the DLQ publish succeeds, so a broker
// outage cannot turn a malformed message into a silently lost one.
func (w *Worker) handleMalformed(ctx context.Context, delivery *sqs.Delivery, cause error) {
	w.logger.Error("malformed queue message",
		zap.Error(cause),
		zap.Int("body_bytes", len(delivery.Body)),
	)

	if err := w.deadLetter.EnqueueDeadLetterRaw(ctx, delivery.Body); err != nil {
		w.logger.Error("failed to dead-letter malformed message, returning to queue", zap.Error(err))
		w.returnToQueue(ctx, delivery)
		return
	}

	metrics.RecordMalformedMessage()
	w.ack(ctx, delivery)
}

func (w *Worker) ack(ctx context.Context, delivery *sqs.Delivery) {
	if err := w.queue.Ack(ctx, delivery.ReceiptHandle); err != nil {
		// The broker will redeliver; the terminal guard makes that a no-op.
		w.logger.Error("failed to ack message", zap.Error(err))
	}
}

func (w *Worker) returnToQueue(ctx context.Context, delivery *sqs.Delivery) {
	if err := w.queue.ReturnToQueue(ctx, delivery.ReceiptHandle); err != nil {
		// Visibility timeout will expire on its own; redelivery is delayed,
		// not lost.
		w.logger.Error("failed to return message to queue", zap.Error(err))
	}
}
