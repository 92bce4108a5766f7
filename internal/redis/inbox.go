package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultInboxSize caps how many in-app notifications are kept per user.
const DefaultInboxSize = 100

// InboxEntry is one delivered in-app notification in a user's feed.
type InboxEntry struct {
	NotificationID string    `json:"notification_id"`
	Message        string    `json:"message"`
	DeliveredAt    time.Time `json:"delivered_at"`
}

// Inbox is the delivery target for the in_app channel: a capped, newest
// first per-user list in redis.
type Inbox struct {
	client  *Client
	maxSize int
	logger  *zap.Logger
}

// NewInbox creates an inbox store. maxSize <= 0 uses DefaultInboxSize.
func NewInbox(client *Client, maxSize int, logger *zap.Logger) *Inbox {
	if maxSize <= 0 {
		maxSize = DefaultInboxSize
	}
	return &Inbox{
		client:  client,
		maxSize: maxSize,
		logger:  logger,
	}
}

func (i *Inbox) buildKey(userID string) string {
	return fmt.Sprintf("inbox:%s", userID)
}

// Push appends a delivered notification to the front of the user's feed and
// trims the feed to its cap.
func (i *Inbox) Push(ctx context.Context, userID, notificationID, message string, deliveredAt time.Time) error {
	entry := InboxEntry{
		NotificationID: notificationID,
		Message:        message,
		DeliveredAt:    deliveredAt,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal inbox entry: %w", err)
	}

	key := i.buildKey(userID)

	if err := i.client.rdb.LPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("redis lpush failed: %w", err)
	}
	if err := i.client.rdb.LTrim(ctx, key, 0, int64(i.maxSize-1)).Err(); err != nil {
		return fmt.Errorf("redis ltrim failed: %w", err)
	}

	return nil
}

// List returns up to limit entries from the user's feed, newest first.
func (i *Inbox) List(ctx context.Context, userID string, limit int) ([]InboxEntry, error) {
	if limit <= 0 || limit > i.maxSize {
		limit = i.maxSize
	}

	vals, err := i.client.rdb.LRange(ctx, i.buildKey(userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange failed: %w", err)
	}

	entries := make([]InboxEntry, 0, len(vals))
	for _, val := range vals {
		var entry InboxEntry
		if err := json.Unmarshal([]byte(val), &entry); err != nil {
			i.logger.Error("skipping corrupt inbox entry",
				zap.Error(err),
				zap.String("user_id", userID),
			)
			continue
		}
		entries = append(entries, entry)
	}

	return entries, nil
}
