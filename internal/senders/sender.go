// Package senders implements outbound delivery for outbox messages,
// one Sender per channel plus a router that picks the right one.
package senders

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/nudge/internal/store"
)

// Sender delivers a single outbox message over one channel.
type Sender interface {
	Send(ctx context.Context, msg *store.OutboxMessage) error
	SupportsChannel(channel string) bool
}

// MultiSender routes an outbox message to the sender that supports its
// channel. This is the Strategy pattern: the outbox loop is written
// against Sender and does not know which concrete implementation
// handles a given channel.
type MultiSender struct {
	senders []Sender
	logger  *zap.Logger
}

// NewMultiSender creates a router over the given channel senders.
func NewMultiSender(logger *zap.Logger, senders ...Sender) *MultiSender {
	return &MultiSender{senders: senders, logger: logger}
}

// Send routes msg to the first sender that supports its channel.
func (m *MultiSender) Send(ctx context.Context, msg *store.OutboxMessage) error {
	for _, s := range m.senders {
		if s.SupportsChannel(msg.Channel) {
			m.logger.Debug("routing outbox message to sender",
				zap.String("channel", msg.Channel),
				zap.String("outbox_id", msg.OutboxID.String()),
			)
			return s.Send(ctx, msg)
		}
	}
	return fmt.Errorf("no sender for channel: %s", msg.Channel)
}

// SupportsChannel reports whether any underlying sender handles channel.
func (m *MultiSender) SupportsChannel(channel string) bool {
	for _, s := range m.senders {
		if s.SupportsChannel(channel) {
			return true
		}
	}
	return false
}

// LogSender logs deliveries instead of making them, for local
// development and tests where no real email/chat provider is wired.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a sender that only logs.
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs the delivery and always succeeds.
func (s *LogSender) Send(ctx context.Context, msg *store.OutboxMessage) error {
	s.logger.Info("logging outbox delivery (development mode)",
		zap.String("outbox_id", msg.OutboxID.String()),
		zap.String("channel", msg.Channel),
		zap.String("to", msg.Payload.To),
		zap.String("subject", msg.Payload.Subject),
	)
	return nil
}

// SupportsChannel reports true for both email and chat, so LogSender can
// stand in for the whole MultiSender in development.
func (s *LogSender) SupportsChannel(channel string) bool {
	return channel == store.ChannelEmail || channel == store.ChannelChat
}
