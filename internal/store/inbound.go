package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// CreateInbound inserts a new inbound message row. The UNIQUE constraint
// on idempotency_key is the authoritative dedup signal: a conflict here
// means a duplicate webhook delivery and is reported as such rather than
// as a generic write failure.
func (r *Repository) CreateInbound(ctx context.Context, msg *InboundMessage) error {
	query := `
		INSERT INTO inbound_messages (
			inbound_id, user_id, channel, provider_message_id,
			idempotency_key, raw_text_redacted, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING received_at
	`
	err := r.db.Pool().QueryRow(
		ctx, query,
		msg.InboundID, msg.UserID, msg.Channel, msg.ProviderMessageID,
		msg.IdempotencyKey, msg.RawTextRedacted, msg.Status,
	).Scan(&msg.ReceivedAt)

	if err == pgx.ErrNoRows {
		return ErrDuplicateInbound
	}
	if err != nil {
		r.logger.Error("failed to create inbound message",
			zap.Error(err),
			zap.String("idempotency_key", msg.IdempotencyKey),
		)
		return fmt.Errorf("insert inbound message: %w", err)
	}

	return nil
}

// GetInboundByID loads an inbound message by primary key.
func (r *Repository) GetInboundByID(ctx context.Context, id uuid.UUID) (*InboundMessage, error) {
	query := `
		SELECT inbound_id, user_id, channel, provider_message_id,
			idempotency_key, raw_text_redacted, status, received_at
		FROM inbound_messages
		WHERE inbound_id = $1
	`
	var m InboundMessage
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&m.InboundID, &m.UserID, &m.Channel, &m.ProviderMessageID,
		&m.IdempotencyKey, &m.RawTextRedacted, &m.Status, &m.ReceivedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query inbound message: %w", err)
	}
	return &m, nil
}

// MarkInboundProcessed advances an inbound row to status=processed.
func (r *Repository) MarkInboundProcessed(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Pool().Exec(ctx,
		`UPDATE inbound_messages SET status = $1 WHERE inbound_id = $2`,
		InboundStatusProcessed, id,
	)
	if err != nil {
		return fmt.Errorf("mark inbound processed: %w", err)
	}
	return nil
}

// RedactExpiredInbound replaces raw_text_redacted with the retention
// marker for every inbound row received before cutoff that has not
// already been redacted. Returns the number of rows touched.
func (r *Repository) RedactExpiredInbound(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE inbound_messages
		SET raw_text_redacted = $1
		WHERE received_at < $2 AND raw_text_redacted <> $1
	`, RedactionMarker, cutoff)
	if err != nil {
		return 0, fmt.Errorf("redact expired inbound: %w", err)
	}
	return tag.RowsAffected(), nil
}
