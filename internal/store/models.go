// Package store persists the pipeline's six entities in Postgres and
// exposes the atomic claim operations the state machine relies on.
package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// User is resolved from an inbound message's sender address. It is
// externally provisioned and immutable to the pipeline.
type User struct {
	UserID       uuid.UUID `json:"user_id"`
	PrimaryEmail string    `json:"primary_email"`
	ChatNumber   string    `json:"chat_number"`
	DisplayName  string    `json:"display_name"`
	Status       string    `json:"status"`
}

// Preferences configures how the pipeline speaks to one user.
type Preferences struct {
	UserID          uuid.UUID `json:"user_id"`
	Timezone        string    `json:"timezone"`
	Tone            string    `json:"tone"`
	DefaultAction   string    `json:"default_action"`
	FallbackChannel string    `json:"fallback_channel"`
}

const (
	ToneFriendly = "friendly"
	ToneFormal   = "formal"
	ToneBrief    = "brief"
)

const (
	ActionRemind        = "remind"
	ActionRemindAndDraft = "remind_and_draft"
	ActionSend          = "send"
)

const (
	ChannelEmail = "email"
	ChannelChat  = "chat"
)

// InboundMessage is one row per webhook event accepted for a known user.
type InboundMessage struct {
	InboundID         uuid.UUID `json:"inbound_id"`
	UserID            uuid.UUID `json:"user_id"`
	Channel           string    `json:"channel"`
	ProviderMessageID string    `json:"provider_message_id"`
	IdempotencyKey    string    `json:"idempotency_key"`
	RawTextRedacted   string    `json:"raw_text_redacted"`
	Status            string    `json:"status"`
	ReceivedAt        time.Time `json:"received_at"`
}

const (
	InboundStatusReceived  = "received"
	InboundStatusProcessed = "processed"
)

// RedactionMarker replaces raw_text_redacted once a message ages past
// the retention window.
const RedactionMarker = "[REDACTED_PER_RETENTION_POLICY]"

// Task is the unit of follow-up work the user cares about.
type Task struct {
	TaskID          uuid.UUID  `json:"task_id"`
	UserID          uuid.UUID  `json:"user_id"`
	SourceInboundID uuid.UUID  `json:"source_inbound_id"`
	DueAt           *time.Time `json:"due_at,omitempty"`
	ActionType      string     `json:"action_type"`
	ContactHint     string     `json:"contact_hint"`
	Context         string     `json:"context"`
	Status          string     `json:"status"`
	AttemptCount    int        `json:"attempt_count"`
	LastAttemptAt   *time.Time `json:"last_attempt_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

const (
	TaskStatusPending             = "pending"
	TaskStatusNeedsClarification  = "needs_clarification"
	TaskStatusDue                 = "due"
	TaskStatusExecuting           = "executing"
	TaskStatusSending             = "sending"
	TaskStatusDone                = "done"
	TaskStatusFailed              = "failed"
)

// OutboxPayload is the structured body of one send intent, shared by
// both channels: the chat sender ignores Subject.
type OutboxPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
}

// OutboxMessage is one durable send intent.
type OutboxMessage struct {
	OutboxID    uuid.UUID  `json:"outbox_id"`
	TaskID      *uuid.UUID `json:"task_id,omitempty"`
	UserID      uuid.UUID  `json:"user_id"`
	Channel     string     `json:"channel"`
	Payload     OutboxPayload `json:"payload"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	NextRetryAt time.Time  `json:"next_retry_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

const (
	OutboxStatusQueued  = "queued"
	OutboxStatusSending = "sending"
	OutboxStatusSent    = "sent"
	OutboxStatusFailed  = "failed"
)

// TaskEvent is an append-only audit entry recorded for every observable
// task-state transition.
type TaskEvent struct {
	EventID   uuid.UUID       `json:"event_id"`
	TaskID    uuid.UUID       `json:"task_id"`
	UserID    uuid.UUID       `json:"user_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

const (
	EventCreated            = "created"
	EventClarificationSent  = "clarification_sent"
	EventScheduled          = "scheduled"
	EventDue                = "due"
	EventExecuting          = "executing"
	EventDraftGenerated     = "draft_generated"
	EventSending            = "sending"
	EventSent               = "sent"
	EventDone               = "done"
	EventFailed             = "failed"
	EventRetried            = "retried"
)
