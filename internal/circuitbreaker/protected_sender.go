package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Bytemaster121/Prepsales-Notification-Service/internal/db"
)

// Sender mirrors the worker.Sender interface to avoid circular imports.
type Sender interface {
	Send(ctx context.Context, notif *db.Notification) error
	SupportsType(notifType string) bool
}

// ProtectedSender wraps a channel sender with a CircuitBreaker. When the
// downstream provider (SES, SNS) starts failing, the circuit opens and
// attempts fail fast. A rejected attempt is a transient delivery failure:
// it consumes retry budget like any other provider outage.
type ProtectedSender struct {
	sender  Sender
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewProtectedSender wraps a sender with circuit breaker protection.
func NewProtectedSender(sender Sender, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedSender {
	return &ProtectedSender{
		sender:  sender,
		breaker: breaker,
		logger:  logger,
	}
}

// Send attempts a delivery through the circuit breaker.
// If the circuit is open, returns ErrCircuitOpen immediately (fail fast).
func (p *ProtectedSender) Send(ctx context.Context, notif *db.Notification) error {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected delivery attempt",
			zap.String("breaker", p.breaker.config.Name),
			zap.String("notification_id", notif.ID.String()),
			zap.String("type", notif.Type),
			zap.String("state", p.breaker.GetState().String()),
		)
		return fmt.Errorf("%w: %s sender unavailable", ErrCircuitOpen, p.breaker.config.Name)
	}

	err := p.sender.Send(ctx, notif)
	if err != nil {
		p.breaker.RecordFailure()
		p.logger.Debug("circuit breaker recorded failure",
			zap.String("breaker", p.breaker.config.Name),
			zap.Error(err),
		)
		return err
	}

	p.breaker.RecordSuccess()
	return nil
}

// SupportsType delegates to the underlying sender.
func (p *ProtectedSender) SupportsType(notifType string) bool {
	return p.sender.SupportsType(notifType)
}

// Breaker returns the underlying circuit breaker for metrics/monitoring.
func (p *ProtectedSender) Breaker() *CircuitBreaker {
	return p.breaker
}
