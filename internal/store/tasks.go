package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateTask inserts a new task row. source_inbound_id is unique so that
// a re-run of the ingest step for the same inbound message (crash and
// retry, redelivered queue job) can never produce a second task.
func (r *Repository) CreateTask(ctx context.Context, t *Task) error {
	query := `
		INSERT INTO tasks (
			task_id, user_id, source_inbound_id, due_at,
			action_type, contact_hint, context, status, attempt_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (source_inbound_id) DO NOTHING
		RETURNING updated_at
	`
	err := r.db.Pool().QueryRow(
		ctx, query,
		t.TaskID, t.UserID, t.SourceInboundID, t.DueAt,
		t.ActionType, t.ContactHint, t.Context, t.Status, t.AttemptCount,
	).Scan(&t.UpdatedAt)

	if err == pgx.ErrNoRows {
		return ErrDuplicateInbound
	}
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTaskByID loads a task by primary key.
func (r *Repository) GetTaskByID(ctx context.Context, id uuid.UUID) (*Task, error) {
	return r.scanTask(ctx, `
		SELECT task_id, user_id, source_inbound_id, due_at, action_type,
			contact_hint, context, status, attempt_count, last_attempt_at, updated_at
		FROM tasks
		WHERE task_id = $1
	`, id)
}

// GetTaskBySourceInbound looks up the task produced by a given inbound
// message, used by the ingest worker to detect it already ran.
func (r *Repository) GetTaskBySourceInbound(ctx context.Context, inboundID uuid.UUID) (*Task, error) {
	return r.scanTask(ctx, `
		SELECT task_id, user_id, source_inbound_id, due_at, action_type,
			contact_hint, context, status, attempt_count, last_attempt_at, updated_at
		FROM tasks
		WHERE source_inbound_id = $1
	`, inboundID)
}

func (r *Repository) scanTask(ctx context.Context, query string, arg interface{}) (*Task, error) {
	var t Task
	err := r.db.Pool().QueryRow(ctx, query, arg).Scan(
		&t.TaskID, &t.UserID, &t.SourceInboundID, &t.DueAt, &t.ActionType,
		&t.ContactHint, &t.Context, &t.Status, &t.AttemptCount, &t.LastAttemptAt, &t.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}
	return &t, nil
}

// ClaimDueTasks atomically claims up to limit tasks whose due_at has
// passed, moving them from pending to due and returning the claimed
// rows. The inner SELECT ... FOR UPDATE SKIP LOCKED lets any number of
// scheduler replicas run the same query concurrently against the same
// table without two of them ever claiming the same row: a row already
// locked by another replica's in-flight claim is simply skipped rather
// than waited on.
func (r *Repository) ClaimDueTasks(ctx context.Context, limit int) ([]*Task, error) {
	query := `
		WITH claimed AS (
			SELECT task_id
			FROM tasks
			WHERE status = $1 AND due_at IS NOT NULL AND due_at <= now()
			ORDER BY due_at
			FOR UPDATE SKIP LOCKED
			LIMIT $2
		)
		UPDATE tasks
		SET status = $3, updated_at = now()
		FROM claimed
		WHERE tasks.task_id = claimed.task_id
		RETURNING tasks.task_id, tasks.user_id, tasks.source_inbound_id, tasks.due_at,
			tasks.action_type, tasks.contact_hint, tasks.context, tasks.status,
			tasks.attempt_count, tasks.last_attempt_at, tasks.updated_at
	`
	rows, err := r.db.Pool().Query(ctx, query, TaskStatusPending, limit, TaskStatusDue)
	if err != nil {
		return nil, fmt.Errorf("claim due tasks: %w", err)
	}
	defer rows.Close()

	var claimed []*Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(
			&t.TaskID, &t.UserID, &t.SourceInboundID, &t.DueAt, &t.ActionType,
			&t.ContactHint, &t.Context, &t.Status, &t.AttemptCount, &t.LastAttemptAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan claimed task: %w", err)
		}
		claimed = append(claimed, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claimed tasks: %w", err)
	}
	return claimed, nil
}

// SetTaskExecuting performs the due -> executing compare-and-swap. The
// WHERE clause asserts the prior state so a task already picked up by
// another executor worker is reported as a stale transition rather
// than silently double-run.
func (r *Repository) SetTaskExecuting(ctx context.Context, taskID uuid.UUID) error {
	return r.casTaskStatus(ctx, taskID, TaskStatusDue, TaskStatusExecuting)
}

// SetTaskSending performs the executing -> sending compare-and-swap.
func (r *Repository) SetTaskSending(ctx context.Context, taskID uuid.UUID) error {
	return r.casTaskStatus(ctx, taskID, TaskStatusExecuting, TaskStatusSending)
}

func (r *Repository) casTaskStatus(ctx context.Context, taskID uuid.UUID, from, to string) error {
	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE tasks SET status = $1, updated_at = now()
		WHERE task_id = $2 AND status = $3
	`, to, taskID, from)
	if err != nil {
		return fmt.Errorf("update task status %s -> %s: %w", from, to, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleTransition
	}
	return nil
}

// SetTaskDone marks a task done once its outbox delivery succeeds.
func (r *Repository) SetTaskDone(ctx context.Context, taskID uuid.UUID) error {
	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE tasks SET status = $1, updated_at = now()
		WHERE task_id = $2 AND status = $3
	`, TaskStatusDone, taskID, TaskStatusSending)
	if err != nil {
		return fmt.Errorf("mark task done: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleTransition
	}
	return nil
}

// SetTaskFailed marks a task failed after its outbox row exhausts
// retries; the outbox sender is its caller. Unlike the CAS helpers
// this does not assert a prior state.
func (r *Repository) SetTaskFailed(ctx context.Context, taskID uuid.UUID) error {
	_, err := r.db.Pool().Exec(ctx, `
		UPDATE tasks SET status = $1, updated_at = now()
		WHERE task_id = $2
	`, TaskStatusFailed, taskID)
	if err != nil {
		return fmt.Errorf("mark task failed: %w", err)
	}
	return nil
}

// SetTaskNeedsClarification marks a task as awaiting user clarification,
// used when the extractor cannot produce a confident structured task.
func (r *Repository) SetTaskNeedsClarification(ctx context.Context, taskID uuid.UUID) error {
	_, err := r.db.Pool().Exec(ctx, `
		UPDATE tasks SET status = $1, updated_at = now()
		WHERE task_id = $2
	`, TaskStatusNeedsClarification, taskID)
	if err != nil {
		return fmt.Errorf("mark task needs clarification: %w", err)
	}
	return nil
}

// RecordTaskAttempt bumps attempt_count and last_attempt_at, called by
// the executor each time it moves a task from due to executing.
func (r *Repository) RecordTaskAttempt(ctx context.Context, taskID uuid.UUID) error {
	_, err := r.db.Pool().Exec(ctx, `
		UPDATE tasks SET attempt_count = attempt_count + 1, last_attempt_at = now()
		WHERE task_id = $1
	`, taskID)
	if err != nil {
		return fmt.Errorf("record task attempt: %w", err)
	}
	return nil
}

// AdminRetryFailedTask resets a failed task back to due with a zeroed
// attempt_count. The scheduler claims only pending tasks, so the task
// runs again only through an execute job the caller enqueues.
func (r *Repository) AdminRetryFailedTask(ctx context.Context, taskID uuid.UUID) error {
	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE tasks SET status = $1, attempt_count = 0, due_at = now(), updated_at = now()
		WHERE task_id = $2 AND status = $3
	`, TaskStatusDue, taskID, TaskStatusFailed)
	if err != nil {
		return fmt.Errorf("retry failed task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleTransition
	}
	return nil
}

// ListFailedTasks returns failed tasks for admin inspection, most
// recently updated first.
func (r *Repository) ListFailedTasks(ctx context.Context, limit int) ([]*Task, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT task_id, user_id, source_inbound_id, due_at, action_type,
			contact_hint, context, status, attempt_count, last_attempt_at, updated_at
		FROM tasks
		WHERE status = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`, TaskStatusFailed, limit)
	if err != nil {
		return nil, fmt.Errorf("list failed tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(
			&t.TaskID, &t.UserID, &t.SourceInboundID, &t.DueAt, &t.ActionType,
			&t.ContactHint, &t.Context, &t.Status, &t.AttemptCount, &t.LastAttemptAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan failed task: %w", err)
		}
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}

// ReclaimStuckExecuting resets tasks stuck in executing past the given
// staleness cutoff back to due, so a crashed executor worker cannot
// strand a task forever. See the outbox equivalent, ReclaimStuckSending.
func (r *Repository) ReclaimStuckExecuting(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE tasks
		SET status = $1, updated_at = now()
		WHERE status = $2 AND updated_at < now() - $3::interval
	`, TaskStatusDue, TaskStatusExecuting, fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("reclaim stuck executing tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}
