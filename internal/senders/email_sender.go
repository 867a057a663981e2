package senders

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/nudge/internal/store"
)

// EmailSender delivers outbox messages over the email channel via
// AWS SES.
type EmailSender struct {
	client *ses.Client
	from   string
	logger *zap.Logger
}

// EmailConfig configures the SES sender.
type EmailConfig struct {
	Region    string
	FromEmail string
}

// NewEmailSender creates a new SES-backed email sender.
func NewEmailSender(ctx context.Context, cfg EmailConfig, logger *zap.Logger) (*EmailSender, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config for SES: %w", err)
	}
	return &EmailSender{
		client: ses.NewFromConfig(awsCfg),
		from:   cfg.FromEmail,
		logger: logger,
	}, nil
}

// Send delivers msg via SES SendEmail.
func (s *EmailSender) Send(ctx context.Context, msg *store.OutboxMessage) error {
	if msg.Channel != store.ChannelEmail {
		return fmt.Errorf("email sender only supports email, got: %s", msg.Channel)
	}
	if msg.Payload.To == "" {
		return fmt.Errorf("email payload missing 'to' field")
	}
	if msg.Payload.Subject == "" {
		return fmt.Errorf("email payload missing 'subject' field")
	}
	if msg.Payload.Body == "" {
		return fmt.Errorf("email payload missing 'body' field")
	}

	input := &ses.SendEmailInput{
		Source: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{msg.Payload.To},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(msg.Payload.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(msg.Payload.Body),
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
		zap.String("outbox_id", msg.OutboxID.String()),
		zap.String("to", msg.Payload.To),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return nil
}

// SupportsChannel reports true for the email channel.
func (s *EmailSender) SupportsChannel(channel string) bool {
	return channel == store.ChannelEmail
}
