package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateOutbox inserts a new outbox message, ready to be claimed by the
// sender loop on its next poll.
func (r *Repository) CreateOutbox(ctx context.Context, o *OutboxMessage) error {
	payload, err := json.Marshal(o.Payload)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}
	query := `
		INSERT INTO outbox_messages (
			outbox_id, task_id, user_id, channel, payload, status, attempts, next_retry_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		RETURNING updated_at
	`
	return r.db.Pool().QueryRow(
		ctx, query,
		o.OutboxID, o.TaskID, o.UserID, o.Channel, payload, o.Status, o.Attempts,
	).Scan(&o.UpdatedAt)
}

// GetOutboxByID loads an outbox row by primary key.
func (r *Repository) GetOutboxByID(ctx context.Context, id uuid.UUID) (*OutboxMessage, error) {
	return r.scanOutbox(ctx, `
		SELECT outbox_id, task_id, user_id, channel, payload, status,
			attempts, next_retry_at, updated_at
		FROM outbox_messages
		WHERE outbox_id = $1
	`, id)
}

func (r *Repository) scanOutbox(ctx context.Context, query string, arg interface{}) (*OutboxMessage, error) {
	var o OutboxMessage
	var payload []byte
	err := r.db.Pool().QueryRow(ctx, query, arg).Scan(
		&o.OutboxID, &o.TaskID, &o.UserID, &o.Channel, &payload, &o.Status,
		&o.Attempts, &o.NextRetryAt, &o.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query outbox message: %w", err)
	}
	if err := json.Unmarshal(payload, &o.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal outbox payload: %w", err)
	}
	return &o, nil
}

// ClaimQueuedOutbox atomically claims up to limit outbox rows that are
// either newly queued or due for a retry, moving them to sending. Same
// SELECT ... FOR UPDATE SKIP LOCKED shape as ClaimDueTasks so multiple
// outbox sender replicas never deliver the same message twice.
func (r *Repository) ClaimQueuedOutbox(ctx context.Context, limit int) ([]*OutboxMessage, error) {
	query := `
		WITH claimed AS (
			SELECT outbox_id
			FROM outbox_messages
			WHERE status = $1 AND next_retry_at <= now()
			ORDER BY next_retry_at
			FOR UPDATE SKIP LOCKED
			LIMIT $2
		)
		UPDATE outbox_messages
		SET status = $3, updated_at = now()
		FROM claimed
		WHERE outbox_messages.outbox_id = claimed.outbox_id
		RETURNING outbox_messages.outbox_id, outbox_messages.task_id, outbox_messages.user_id,
			outbox_messages.channel, outbox_messages.payload, outbox_messages.status,
			outbox_messages.attempts, outbox_messages.next_retry_at, outbox_messages.updated_at
	`
	rows, err := r.db.Pool().Query(ctx, query, OutboxStatusQueued, limit, OutboxStatusSending)
	if err != nil {
		return nil, fmt.Errorf("claim queued outbox: %w", err)
	}
	defer rows.Close()

	var claimed []*OutboxMessage
	for rows.Next() {
		var o OutboxMessage
		var payload []byte
		if err := rows.Scan(
			&o.OutboxID, &o.TaskID, &o.UserID, &o.Channel, &payload, &o.Status,
			&o.Attempts, &o.NextRetryAt, &o.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan claimed outbox: %w", err)
		}
		if err := json.Unmarshal(payload, &o.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal claimed outbox payload: %w", err)
		}
		claimed = append(claimed, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claimed outbox: %w", err)
	}
	return claimed, nil
}

// MarkOutboxSent records a successful delivery.
func (r *Repository) MarkOutboxSent(ctx context.Context, outboxID uuid.UUID) error {
	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE outbox_messages SET status = $1, updated_at = now()
		WHERE outbox_id = $2 AND status = $3
	`, OutboxStatusSent, outboxID, OutboxStatusSending)
	if err != nil {
		return fmt.Errorf("mark outbox sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleTransition
	}
	return nil
}

// MarkOutboxRetry records a failed delivery attempt that has not yet
// exhausted MAX_ATTEMPTS, scheduling nextRetryAt (computed by the
// caller from the exponential backoff formula) and returning the row
// to queued so the next poll can pick it up again.
func (r *Repository) MarkOutboxRetry(ctx context.Context, outboxID uuid.UUID, nextRetryAt time.Time) error {
	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE outbox_messages
		SET status = $1, attempts = attempts + 1, next_retry_at = $2, updated_at = now()
		WHERE outbox_id = $3 AND status = $4
	`, OutboxStatusQueued, nextRetryAt, outboxID, OutboxStatusSending)
	if err != nil {
		return fmt.Errorf("mark outbox retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleTransition
	}
	return nil
}

// MarkOutboxFailed records a terminal delivery failure after
// MAX_ATTEMPTS has been exhausted.
func (r *Repository) MarkOutboxFailed(ctx context.Context, outboxID uuid.UUID) error {
	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE outbox_messages
		SET status = $1, attempts = attempts + 1, updated_at = now()
		WHERE outbox_id = $2 AND status = $3
	`, OutboxStatusFailed, outboxID, OutboxStatusSending)
	if err != nil {
		return fmt.Errorf("mark outbox failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleTransition
	}
	return nil
}

// AdminRetryFailedOutbox resets a terminally failed outbox row back to
// queued for immediate redelivery.
func (r *Repository) AdminRetryFailedOutbox(ctx context.Context, outboxID uuid.UUID) error {
	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE outbox_messages
		SET status = $1, attempts = 0, next_retry_at = now(), updated_at = now()
		WHERE outbox_id = $2 AND status = $3
	`, OutboxStatusQueued, outboxID, OutboxStatusFailed)
	if err != nil {
		return fmt.Errorf("retry failed outbox: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleTransition
	}
	return nil
}

// ListFailedOutbox returns terminally failed outbox rows for admin
// inspection, most recently updated first.
func (r *Repository) ListFailedOutbox(ctx context.Context, limit int) ([]*OutboxMessage, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT outbox_id, task_id, user_id, channel, payload, status,
			attempts, next_retry_at, updated_at
		FROM outbox_messages
		WHERE status = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`, OutboxStatusFailed, limit)
	if err != nil {
		return nil, fmt.Errorf("list failed outbox: %w", err)
	}
	defer rows.Close()

	var msgs []*OutboxMessage
	for rows.Next() {
		var o OutboxMessage
		var payload []byte
		if err := rows.Scan(
			&o.OutboxID, &o.TaskID, &o.UserID, &o.Channel, &payload, &o.Status,
			&o.Attempts, &o.NextRetryAt, &o.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan failed outbox: %w", err)
		}
		if err := json.Unmarshal(payload, &o.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal failed outbox payload: %w", err)
		}
		msgs = append(msgs, &o)
	}
	return msgs, rows.Err()
}

// ReclaimStuckSending resets outbox rows stuck in sending past the
// given staleness cutoff back to queued, so a sender replica that
// crashed mid-delivery cannot strand a message forever. Attempts is not
// incremented: the row gets a full retry, not a penalized one, since
// the delivery outcome is unknown rather than a confirmed failure.
func (r *Repository) ReclaimStuckSending(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE outbox_messages
		SET status = $1, next_retry_at = now(), updated_at = now()
		WHERE status = $2 AND updated_at < now() - $3::interval
	`, OutboxStatusQueued, OutboxStatusSending, fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("reclaim stuck sending outbox: %w", err)
	}
	return tag.RowsAffected(), nil
}
