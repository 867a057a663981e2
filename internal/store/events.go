package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// RecordEvent appends an immutable task_event row. Events are the audit
// trail read back by the admin surface; nothing in the pipeline reads
// its own events, so this is a pure append.
func (r *Repository) RecordEvent(ctx context.Context, ev *TaskEvent) error {
	if ev.Payload == nil {
		ev.Payload = json.RawMessage("{}")
	}
	query := `
		INSERT INTO task_events (event_id, task_id, user_id, event_type, payload)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`
	err := r.db.Pool().QueryRow(
		ctx, query, ev.EventID, ev.TaskID, ev.UserID, ev.EventType, []byte(ev.Payload),
	).Scan(&ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("record task event: %w", err)
	}
	return nil
}

// ListEventsByTask returns the full event history for a task in
// chronological order.
func (r *Repository) ListEventsByTask(ctx context.Context, taskID uuid.UUID) ([]*TaskEvent, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT event_id, task_id, user_id, event_type, payload, created_at
		FROM task_events
		WHERE task_id = $1
		ORDER BY created_at ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list task events: %w", err)
	}
	defer rows.Close()

	var events []*TaskEvent
	for rows.Next() {
		var ev TaskEvent
		var payload []byte
		if err := rows.Scan(&ev.EventID, &ev.TaskID, &ev.UserID, &ev.EventType, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan task event: %w", err)
		}
		ev.Payload = json.RawMessage(payload)
		events = append(events, &ev)
	}
	return events, rows.Err()
}
