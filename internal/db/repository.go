package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a notification does not exist.
var ErrNotFound = errors.New("notification not found")

const notificationColumns = `
	id, user_id, type, message, contact,
	status, retry_count, max_retries, next_retry_time, last_error,
	created_at, updated_at
`

// Repository handles database operations for notifications
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new notification repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func scanNotification(row pgx.Row) (*Notification, error) {
	var notif Notification
	err := row.Scan(
		&notif.ID,
		&notif.UserID,
		&notif.Type,
		&notif.Message,
		&notif.Contact,
		&notif.Status,
		&notif.RetryCount,
		&notif.MaxRetries,
		&notif.NextRetryTime,
		&notif.LastError,
		&notif.CreatedAt,
		&notif.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &notif, nil
}

// Create inserts a new notification into the database
func (r *Repository) Create(ctx context.Context, notif *Notification) error {
	query := `
		INSERT INTO notifications (
			id, user_id, type, message, contact,
			status, retry_count, max_retries, next_retry_time, last_error
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		notif.ID,
		notif.UserID,
		notif.Type,
		notif.Message,
		notif.Contact,
		notif.Status,
		notif.RetryCount,
		notif.MaxRetries,
		notif.NextRetryTime,
		notif.LastError,
	).Scan(&notif.CreatedAt, &notif.UpdatedAt)

	if err != nil {
		r.logger.Error("failed to create notification",
			zap.Error(err),
			zap.String("notification_id", notif.ID.String()),
		)
		return fmt.Errorf("insert notification: %w", err)
	}

	r.logger.Info("notification created",
		zap.String("notification_id", notif.ID.String()),
		zap.String("user_id", notif.UserID),
		zap.String("type", notif.Type),
	)

	return nil
}

// Get retrieves a notification by ID
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`

	notif, err := scanNotification(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		r.logger.Error("failed to get notification",
			zap.Error(err),
			zap.String("notification_id", id.String()),
		)
		return nil, fmt.Errorf("query notification: %w", err)
	}

	return notif, nil
}

// ListByUser retrieves notifications for a user, optionally filtered by type.
func (r *Repository) ListByUser(ctx context.Context, userID, typeFilter string, limit, offset int) ([]*Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE user_id = $1 AND ($2 = '' OR type = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.db.Pool().Query(ctx, query, userID, typeFilter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		notif, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, notif)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return notifications, nil
}

// MarkSent records a successful delivery: terminal status, error cleared.
func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE notifications
		SET status = $1, last_error = NULL, next_retry_time = NULL
		WHERE id = $2
	`

	result, err := r.db.Pool().Exec(ctx, query, StatusSent, id)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// ScheduleRetry records a transient delivery failure and the time of the
// next attempt. next_retry_time is only ever set together with the
// retry_scheduled status.
func (r *Repository) ScheduleRetry(ctx context.Context, id uuid.UUID, retryCount int, lastError string, nextRetryTime time.Time) error {
	query := `
		UPDATE notifications
		SET status = $1, retry_count = $2, last_error = $3, next_retry_time = $4
		WHERE id = $5
	`

	result, err := r.db.Pool().Exec(ctx, query, StatusRetryScheduled, retryCount, lastError, nextRetryTime, id)
	if err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// MarkFailedPermanently transitions a notification to its terminal failure
// state. The caller is responsible for publishing the record to the
// dead-letter queue.
func (r *Repository) MarkFailedPermanently(ctx context.Context, id uuid.UUID, retryCount int, lastError string) error {
	query := `
		UPDATE notifications
		SET status = $1, retry_count = $2, last_error = $3, next_retry_time = NULL
		WHERE id = $4
	`

	result, err := r.db.Pool().Exec(ctx, query, StatusFailedPermanently, retryCount, lastError, id)
	if err != nil {
		return fmt.Errorf("mark failed permanently: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	r.logger.Info("notification failed permanently",
		zap.String("notification_id", id.String()),
		zap.Int("retry_count", retryCount),
		zap.String("last_error", lastError),
	)

	return nil
}

// ClaimDue atomically claims a due retry_scheduled notification for
// republishing. The conditional WHERE clause makes concurrent claims on the
// same record resolve to exactly one winner.
func (r *Repository) ClaimDue(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE notifications
		SET status = $1, next_retry_time = NULL
		WHERE id = $2 AND status = $3
	`

	result, err := r.db.Pool().Exec(ctx, query, StatusRetrying, id, StatusRetryScheduled)
	if err != nil {
		return false, fmt.Errorf("claim due notification: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// ClaimStalePending atomically claims a pending notification whose initial
// publish never made it to the queue, so the scheduler can republish it.
func (r *Repository) ClaimStalePending(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE notifications
		SET status = $1
		WHERE id = $2 AND status = $3
	`

	result, err := r.db.Pool().Exec(ctx, query, StatusRetrying, id, StatusPending)
	if err != nil {
		return false, fmt.Errorf("claim stale pending notification: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// Release rolls a claimed notification back after a failed republish so a
// later scheduler tick can pick it up again. Only records still in the
// retrying state are touched.
func (r *Repository) Release(ctx context.Context, id uuid.UUID, prevStatus string, nextRetryTime *time.Time) error {
	query := `
		UPDATE notifications
		SET status = $1, next_retry_time = $2
		WHERE id = $3 AND status = $4
	`

	result, err := r.db.Pool().Exec(ctx, query, prevStatus, nextRetryTime, id, StatusRetrying)
	if err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// ListDueRetries returns retry_scheduled notifications whose next attempt
// time has passed.
func (r *Repository) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE status = $1 AND next_retry_time <= $2
		ORDER BY next_retry_time ASC
		LIMIT $3
	`

	rows, err := r.db.Pool().Query(ctx, query, StatusRetryScheduled, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due retries: %w", err)
	}
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		notif, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, notif)
	}

	return notifications, rows.Err()
}

// ListStalePending returns pending notifications created before the cutoff.
// These are records whose intake-time publish failed and which would
// otherwise never be delivered.
func (r *Repository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE status = $1 AND created_at <= $2
		ORDER BY created_at ASC
		LIMIT $3
	`

	rows, err := r.db.Pool().Query(ctx, query, StatusPending, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("query stale pending: %w", err)
	}
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		notif, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, notif)
	}

	return notifications, rows.Err()
}

// ResetForRetry resets a notification for a manual (operator) retry: retry
// budget back to zero, schedule cleared, status retrying. This is the only
// backward transition out of a terminal state. Returns the updated record.
func (r *Repository) ResetForRetry(ctx context.Context, id uuid.UUID) (*Notification, error) {
	query := `
		UPDATE notifications
		SET status = $1, retry_count = 0, next_retry_time = NULL
		WHERE id = $2
		RETURNING ` + notificationColumns

	notif, err := scanNotification(r.db.Pool().QueryRow(ctx, query, StatusRetrying, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reset for retry: %w", err)
	}

	r.logger.Info("notification reset for manual retry",
		zap.String("notification_id", id.String()),
	)

	return notif, nil
}
