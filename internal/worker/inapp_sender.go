package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Bytemaster121/Prepsales-Notification-Service/internal/db"
)

// InboxWriter appends a delivered in-app notification to a user's feed.
// Implemented by redis.Inbox.
type InboxWriter interface {
	Push(ctx context.Context, userID, notificationID, message string, deliveredAt time.Time) error
}

// InAppSender delivers in-app notifications into the per-user inbox. There
// is no external provider: delivery means the message is readable from the
// inbox API.
type InAppSender struct {
	inbox  InboxWriter
	logger *zap.Logger
}

// NewInAppSender creates a sender backed by the given inbox store.
func NewInAppSender(inbox InboxWriter, logger *zap.Logger) *InAppSender {
	return &InAppSender{
		inbox:  inbox,
		logger: logger,
	}
}

// Send appends the notification to the user's inbox. Store failures are
// transient like any other provider outage.
func (s *InAppSender) Send(ctx context.Context, notif *db.Notification) error {
	if notif.Type != db.TypeInApp {
		return fmt.Errorf("in-app sender only supports in_app, got: %s", notif.Type)
	}

	if err := s.inbox.Push(ctx, notif.UserID, notif.ID.String(), notif.Message, time.Now().UTC()); err != nil {
		return fmt.Errorf("inbox push failed: %w", err)
	}

	s.logger.Info("in-app notification delivered",
		zap.String("id", notif.ID.String()),
		zap.String("user_id", notif.UserID),
	)

	return nil
}

// SupportsType checks if this sender supports the in_app type
func (s *InAppSender) SupportsType(notifType string) bool {
	return notifType == db.TypeInApp
}
