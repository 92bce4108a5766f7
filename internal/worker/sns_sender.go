package worker

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"github.com/Bytemaster121/Prepsales-Notification-Service/internal/db"
)

// SNSSender sends SMS notifications via AWS SNS
type SNSSender struct {
	client *sns.Client
	logger *zap.Logger
}

type SNSConfig struct {
	Region string
}

// NewSNSSender creates a new SNS sender for SMS notifications
func NewSNSSender(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSSender, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}

	return &SNSSender{
		client: sns.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

// Send sends an SMS notification via AWS SNS
func (s *SNSSender) Send(ctx context.Context, notif *db.Notification) error {
	if notif.Type != db.TypeSMS {
		return fmt.Errorf("SNS sender only supports SMS, got: %s", notif.Type)
	}

	input := &sns.PublishInput{
		PhoneNumber: aws.String(notif.Contact),
		Message:     aws.String(notif.Message),
	}

	result, err := s.client.Publish(ctx, input)
	if err != nil {
		return fmt.Errorf("sns publish failed: %w", err)
	}

	s.logger.Info("SMS sent via SNS",
		zap.String("id", notif.ID.String()),
		zap.String("phone_number", notif.Contact),
		zap.String("message_id", *result.MessageId),
	)

	return nil
}

// SupportsType checks if this sender supports the SMS type
func (s *SNSSender) SupportsType(notifType string) bool {
	return notifType == db.TypeSMS
}
