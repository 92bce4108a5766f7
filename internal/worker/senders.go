package worker

import (
	"context"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/Bytemaster121/Prepsales-Notification-Service/internal/db"
)

// Sender is the unified interface for all notification channels.
// Implementations: Email (SES), SMS (SNS), in-app (redis inbox).
type Sender interface {
	Send(ctx context.Context, notif *db.Notification) error
	SupportsType(notifType string) bool
}

var (
	emailPattern = regexp.MustCompile(`^[\w.-]+@[\w.-]+\.\w+$`)
	phonePattern = regexp.MustCompile(`^\+\d{10,15}$`)
)

// ValidateContact checks the contact field against the notification type.
// A failure here is permanent: retrying a malformed address can never
// succeed, so the caller must dead-letter instead of rescheduling.
func ValidateContact(notifType, contact string) error {
	switch notifType {
	case db.TypeEmail:
		if !emailPattern.MatchString(contact) {
			return &ValidationError{Field: "contact", Reason: "malformed email address"}
		}
	case db.TypeSMS:
		if !phonePattern.MatchString(contact) {
			return &ValidationError{Field: "contact", Reason: "phone must be + followed by 10-15 digits"}
		}
	case db.TypeInApp:
		// In-app delivery targets the user id, not the contact field.
	default:
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unrecognized notification type %q", notifType)}
	}
	return nil
}

// Dispatcher routes a notification to the sender for its type, validating
// contact info first so provider calls are never made for records that can
// never be delivered.
type Dispatcher struct {
	senders []Sender
	logger  *zap.Logger
}

// NewDispatcher creates a dispatcher over the given channel senders.
func NewDispatcher(logger *zap.Logger, senders ...Sender) *Dispatcher {
	return &Dispatcher{
		senders: senders,
		logger:  logger,
	}
}

// Send validates the contact and routes to the matching sender. Returns a
// *ValidationError for permanently undeliverable records; any other error
// is a transient provider or routing failure.
func (d *Dispatcher) Send(ctx context.Context, notif *db.Notification) error {
	if err := ValidateContact(notif.Type, notif.Contact); err != nil {
		return err
	}

	for _, sender := range d.senders {
		if sender.SupportsType(notif.Type) {
			d.logger.Debug("routing notification to sender",
				zap.String("type", notif.Type),
				zap.String("notification_id", notif.ID.String()),
			)
			return sender.Send(ctx, notif)
		}
	}

	return fmt.Errorf("no sender found for type: %s", notif.Type)
}

// SupportsType checks if any underlying sender supports the type.
func (d *Dispatcher) SupportsType(notifType string) bool {
	for _, sender := range d.senders {
		if sender.SupportsType(notifType) {
			return true
		}
	}
	return false
}

// LogSender is a simple sender that logs notifications (for testing/development)
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, notif *db.Notification) error {
	s.logger.Info("logging notification (development mode)",
		zap.String("id", notif.ID.String()),
		zap.String("type", notif.Type),
		zap.String("user_id", notif.UserID),
		zap.String("message", notif.Message),
	)
	return nil
}

func (s *LogSender) SupportsType(notifType string) bool {
	// LogSender supports all types for development/testing
	return db.ValidType(notifType)
}
