package senders

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/nudge/internal/store"
)

func TestEmailSenderSupportsChannel(t *testing.T) {
	logger := zap.NewNop()
	sender, _ := NewEmailSender(context.Background(), EmailConfig{Region: "us-east-1"}, logger)

	tests := []struct {
		channel string
		want    bool
	}{
		{store.ChannelEmail, true},
		{store.ChannelChat, false},
	}

	for _, tt := range tests {
		t.Run(tt.channel, func(t *testing.T) {
			if got := sender.SupportsChannel(tt.channel); got != tt.want {
				t.Errorf("SupportsChannel(%s) = %v, want %v", tt.channel, got, tt.want)
			}
		})
	}
}

func TestChatSenderSupportsChannel(t *testing.T) {
	logger := zap.NewNop()
	sender, _ := NewChatSender(context.Background(), ChatConfig{Region: "us-east-1"}, logger)

	tests := []struct {
		channel string
		want    bool
	}{
		{store.ChannelChat, true},
		{store.ChannelEmail, false},
	}

	for _, tt := range tests {
		t.Run(tt.channel, func(t *testing.T) {
			if got := sender.SupportsChannel(tt.channel); got != tt.want {
				t.Errorf("SupportsChannel(%s) = %v, want %v", tt.channel, got, tt.want)
			}
		})
	}
}

func TestMultiSenderRouting(t *testing.T) {
	logger := zap.NewNop()

	emailSender, _ := NewEmailSender(context.Background(), EmailConfig{Region: "us-east-1"}, logger)
	chatSender, _ := NewChatSender(context.Background(), ChatConfig{Region: "us-east-1"}, logger)
	multi := NewMultiSender(logger, emailSender, chatSender)

	if !multi.SupportsChannel(store.ChannelEmail) {
		t.Error("expected email to be supported")
	}
	if !multi.SupportsChannel(store.ChannelChat) {
		t.Error("expected chat to be supported")
	}
	if multi.SupportsChannel("carrier_pigeon") {
		t.Error("expected unknown channel to be unsupported")
	}
}

func TestMultiSenderNoMatchingSenderErrors(t *testing.T) {
	logger := zap.NewNop()
	emailSender, _ := NewEmailSender(context.Background(), EmailConfig{Region: "us-east-1"}, logger)
	multi := NewMultiSender(logger, emailSender)

	msg := &store.OutboxMessage{
		OutboxID: uuid.New(),
		Channel:  store.ChannelChat,
		Payload:  store.OutboxPayload{To: "+15551234567", Body: "hi"},
	}

	if err := multi.Send(context.Background(), msg); err == nil {
		t.Fatal("expected error when no sender supports the channel")
	}
}

func TestEmailSenderRejectsMissingFields(t *testing.T) {
	logger := zap.NewNop()
	sender, _ := NewEmailSender(context.Background(), EmailConfig{Region: "us-east-1", FromEmail: "noreply@nudge.local"}, logger)

	msg := &store.OutboxMessage{
		OutboxID: uuid.New(),
		Channel:  store.ChannelEmail,
		Payload:  store.OutboxPayload{To: "", Subject: "hi", Body: "hi"},
	}

	if err := sender.Send(context.Background(), msg); err == nil {
		t.Fatal("expected error for missing 'to' field")
	}
}

func TestChatSenderRejectsMissingFields(t *testing.T) {
	logger := zap.NewNop()
	sender, _ := NewChatSender(context.Background(), ChatConfig{Region: "us-east-1"}, logger)

	msg := &store.OutboxMessage{
		OutboxID: uuid.New(),
		Channel:  store.ChannelChat,
		Payload:  store.OutboxPayload{To: "", Body: ""},
	}

	if err := sender.Send(context.Background(), msg); err == nil {
		t.Fatal("expected error for missing fields")
	}
}

func TestLogSenderSupportsBothChannels(t *testing.T) {
	logger := zap.NewNop()
	sender := NewLogSender(logger)

	for _, ch := range []string{store.ChannelEmail, store.ChannelChat} {
		if !sender.SupportsChannel(ch) {
			t.Errorf("LogSender should support %s channel", ch)
		}
	}
}

func TestLogSenderSend(t *testing.T) {
	logger := zap.NewNop()
	sender := NewLogSender(logger)

	msg := &store.OutboxMessage{
		OutboxID: uuid.New(),
		Channel:  store.ChannelEmail,
		Payload:  store.OutboxPayload{To: "alice@example.com", Subject: "hi", Body: "hello"},
	}

	if err := sender.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
