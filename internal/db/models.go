package db

import (
	"time"

	"github.com/google/uuid"
)

// Notification is the single persisted entity of the service. The database
// row is the source of truth for its state; queue messages only carry
// point-in-time snapshots of it.
type Notification struct {
	ID            uuid.UUID  `json:"id"`
	UserID        string     `json:"user_id"`
	Type          string     `json:"type"`
	Message       string     `json:"message"`
	Contact       string     `json:"contact"`
	Status        string     `json:"status"`
	RetryCount    int        `json:"retry_count"`
	MaxRetries    int        `json:"max_retries"`
	NextRetryTime *time.Time `json:"next_retry_time,omitempty"`
	LastError     *string    `json:"last_error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Status constants
const (
	StatusPending           = "pending"
	StatusRetrying          = "retrying"
	StatusRetryScheduled    = "retry_scheduled"
	StatusSent              = "sent"
	StatusFailed            = "failed"
	StatusFailedPermanently = "failed_permanently"
)

// Notification type constants
const (
	TypeEmail = "email"
	TypeSMS   = "sms"
	TypeInApp = "in_app"
)

// DefaultMaxRetries is the per-record retry budget assigned at creation.
const DefaultMaxRetries = 5

// ValidType reports whether t is a recognized notification type.
func ValidType(t string) bool {
	return t == TypeEmail || t == TypeSMS || t == TypeInApp
}

// IsTerminal reports whether the notification is in a terminal state.
// Terminal records are never republished except through a manual retry.
func (n *Notification) IsTerminal() bool {
	return n.Status == StatusSent || n.Status == StatusFailedPermanently
}
