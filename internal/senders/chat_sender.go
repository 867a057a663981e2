package senders

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"github.com/lalithlochan/nudge/internal/store"
)

// ChatSender delivers outbox messages over the chat channel via AWS
// SNS Publish. SNS is the pack's only chat-adjacent transport (its
// PhoneNumber-addressed Publish call maps naturally onto a chat
// number), so it stands in for whatever chat provider a deployment
// integrates with.
type ChatSender struct {
	client *sns.Client
	logger *zap.Logger
}

// ChatConfig configures the SNS-backed chat sender.
type ChatConfig struct {
	Region string
}

// NewChatSender creates a new SNS-backed chat sender.
func NewChatSender(ctx context.Context, cfg ChatConfig, logger *zap.Logger) (*ChatSender, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config for SNS: %w", err)
	}
	return &ChatSender{
		client: sns.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

// Send delivers msg via SNS Publish, addressed by chat number.
func (s *ChatSender) Send(ctx context.Context, msg *store.OutboxMessage) error {
	if msg.Channel != store.ChannelChat {
		return fmt.Errorf("chat sender only supports chat, got: %s", msg.Channel)
	}
	if msg.Payload.To == "" {
		return fmt.Errorf("chat payload missing 'to' field")
	}
	if msg.Payload.Body == "" {
		return fmt.Errorf("chat payload missing 'body' field")
	}

	input := &sns.PublishInput{
		PhoneNumber: aws.String(msg.Payload.To),
		Message:     aws.String(msg.Payload.Body),
	}

	result, err := s.client.Publish(ctx, input)
	if err != nil {
		return fmt.Errorf("sns publish failed: %w", err)
	}

	s.logger.Info("chat message sent via SNS",
		zap.String("outbox_id", msg.OutboxID.String()),
		zap.String("to", msg.Payload.To),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return nil
}

// SupportsChannel reports true for the chat channel.
func (s *ChatSender) SupportsChannel(channel string) bool {
	return channel == store.ChannelChat
}
