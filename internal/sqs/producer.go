package sqs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"

	"github.com/Bytemaster121/Prepsales-Notification-Service/internal/db"
)

// Config holds SQS configuration.
type Config struct {
	Region   string
	QueueURL string
	DLQURL   string
}

// Producer publishes notification snapshots to the work queue and to the
// dead-letter queue. The message body is the full persisted record
// serialized as JSON with RFC3339 timestamps; consumers treat it as a
// delivery trigger, never as authoritative state.
type Producer struct {
	client   *sqs.Client
	queueURL string
	dlqURL   string
	logger   *zap.Logger
}

// NewProducer creates a new SQS producer.
func NewProducer(ctx context.Context, cfg Config, logger *zap.Logger) (*Producer, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sqs.NewFromConfig(awsCfg)

	logger.Info("sqs producer initialized",
		zap.String("queue_url", cfg.QueueURL),
		zap.String("dlq_url", cfg.DLQURL),
	)

	return &Producer{
		client:   client,
		queueURL: cfg.QueueURL,
		dlqURL:   cfg.DLQURL,
		logger:   logger,
	}, nil
}

// Enqueue publishes a notification snapshot to the work queue for a
// delivery attempt. Returns the broker message ID for tracking.
func (p *Producer) Enqueue(ctx context.Context, notif *db.Notification) (string, error) {
	body, err := json.Marshal(notif)
	if err != nil {
		return "", fmt.Errorf("failed to marshal notification: %w", err)
	}

	result, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		p.logger.Error("failed to send message to sqs",
			zap.Error(err),
			zap.String("notification_id", notif.ID.String()),
		)
		return "", fmt.Errorf("sqs send failed: %w", err)
	}

	return *result.MessageId, nil
}

// EnqueueDeadLetter publishes a permanently failed notification, verbatim,
// to the dead-letter queue for external inspection and replay tooling.
func (p *Producer) EnqueueDeadLetter(ctx context.Context, notif *db.Notification) error {
	body, err := json.Marshal(notif)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	return p.EnqueueDeadLetterRaw(ctx, body)
}

// EnqueueDeadLetterRaw publishes an opaque payload to the dead-letter queue.
// Used for queue messages that could not be deserialized: they still must
// land in the DLQ rather than be dropped.
func (p *Producer) EnqueueDeadLetterRaw(ctx context.Context, body []byte) error {
	_, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.dlqURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		p.logger.Error("failed to send message to dead-letter queue", zap.Error(err))
		return fmt.Errorf("sqs dead-letter send failed: %w", err)
	}

	return nil
}

// Close closes the SQS producer.
func (p *Producer) Close() {
	// AWS SDK v2 clients don't require explicit Close()
}
