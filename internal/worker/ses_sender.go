package worker

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"github.com/Bytemaster121/Prepsales-Notification-Service/internal/db"
)

// SESSender delivers email notifications via AWS SES.
type SESSender struct {
	client  *ses.Client
	from    string
	subject string
	logger  *zap.Logger
}

type SESConfig struct {
	Region    string
	FromEmail string
	Subject   string
}

func NewSESSender(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESSender, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}

	if cfg.Subject == "" {
		cfg.Subject = "Notification"
	}

	return &SESSender{
		client:  ses.NewFromConfig(awsCfg),
		from:    cfg.FromEmail,
		subject: cfg.Subject,
		logger:  logger,
	}, nil
}

// Send sends an email notification via AWS SES. Provider failures are
// transient; contact validation happens before this is called.
func (s *SESSender) Send(ctx context.Context, notif *db.Notification) error {
	if notif.Type != db.TypeEmail {
		return fmt.Errorf("SES sender only supports email, got: %s", notif.Type)
	}

	input := &ses.SendEmailInput{
		Source: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{notif.Contact},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(s.subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(notif.Message),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses send failed: %w", err)
	}

	s.logger.Info("email sent via SES",
		zap.String("id", notif.ID.String()),
		zap.String("to", notif.Contact),
		zap.String("message_id", *result.MessageId),
	)

	return nil
}

// SupportsType checks if this sender supports the email type
func (s *SESSender) SupportsType(notifType string) bool {
	return notifType == db.TypeEmail
}
