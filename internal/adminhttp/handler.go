// Package adminhttp implements the operator-facing HTTP surface for
// inspecting and retrying tasks and outbox messages that the pipeline
// could not carry to completion on its own.
package adminhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/nudge/internal/queue"
	"github.com/lalithlochan/nudge/internal/store"
)

// defaultListLimit and maxListLimit bound the list endpoints the same
// way the ingress rate limiter bounds inbound traffic: a caller can ask
// for less, never for more.
const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Repository is the subset of store.Repository the admin surface needs.
type Repository interface {
	ListFailedTasks(ctx context.Context, limit int) ([]*store.Task, error)
	AdminRetryFailedTask(ctx context.Context, taskID uuid.UUID) error
	ListFailedOutbox(ctx context.Context, limit int) ([]*store.OutboxMessage, error)
	AdminRetryFailedOutbox(ctx context.Context, outboxID uuid.UUID) error
	ListEventsByTask(ctx context.Context, taskID uuid.UUID) ([]*store.TaskEvent, error)
	RedactExpiredInbound(ctx context.Context, cutoff time.Time) (int64, error)
}

// Enqueuer is the subset of queue.Queue the admin surface needs to
// re-drive a retried task through the executor; the scheduler claims
// only pending tasks, so it never picks up a retried (due) task.
type Enqueuer interface {
	Enqueue(ctx context.Context, stream string, job queue.Job) error
}

// Handler serves the admin HTTP API.
type Handler struct {
	repo   Repository
	queue  Enqueuer
	logger *zap.Logger
}

// NewHandler creates an admin Handler.
func NewHandler(repo Repository, q Enqueuer, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, queue: q, logger: logger}
}

// ListFailedTasks handles GET /admin/tasks/failed.
func (h *Handler) ListFailedTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := parseLimit(r)

	tasks, err := h.repo.ListFailedTasks(ctx, limit)
	if err != nil {
		h.logger.Error("failed to list failed tasks", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list failed tasks")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

// RetryFailedTask handles POST /admin/tasks/{id}/retry. It resets the
// task to due and enqueues an execute job for it, using a timestamped
// job identity so it is never mistaken for a redelivery of the
// original (already-consumed) execute job.
func (h *Handler) RetryFailedTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	taskID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "id must be a valid UUID")
		return
	}

	if err := h.repo.AdminRetryFailedTask(ctx, taskID); err != nil {
		if err == store.ErrStaleTransition {
			h.writeError(w, http.StatusConflict, "not_failed", "task is not in a failed state")
			return
		}
		h.logger.Error("failed to retry task", zap.Error(err), zap.String("task_id", taskID.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to retry task")
		return
	}

	job := queue.Job{
		ID:      fmt.Sprintf("retry:%s:%d", taskID, time.Now().UnixNano()),
		Payload: mustMarshal(map[string]string{"task_id": taskID.String()}),
	}
	if err := h.queue.Enqueue(ctx, "execute", job); err != nil {
		h.logger.Warn("failed to enqueue execute job for retried task",
			zap.Error(err), zap.String("task_id", taskID.String()))
	}

	h.logger.Info("task retried by admin", zap.String("task_id", taskID.String()))
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "retried", "task_id": taskID.String()})
}

// ListFailedOutbox handles GET /admin/outbox/failed.
func (h *Handler) ListFailedOutbox(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := parseLimit(r)

	messages, err := h.repo.ListFailedOutbox(ctx, limit)
	if err != nil {
		h.logger.Error("failed to list failed outbox messages", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list failed outbox messages")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"outbox": messages})
}

// RetryFailedOutbox handles POST /admin/outbox/{id}/retry.
func (h *Handler) RetryFailedOutbox(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	outboxID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "id must be a valid UUID")
		return
	}

	if err := h.repo.AdminRetryFailedOutbox(ctx, outboxID); err != nil {
		if err == store.ErrStaleTransition {
			h.writeError(w, http.StatusConflict, "not_failed", "outbox message is not in a failed state")
			return
		}
		h.logger.Error("failed to retry outbox message", zap.Error(err), zap.String("outbox_id", outboxID.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to retry outbox message")
		return
	}

	h.logger.Info("outbox message retried by admin", zap.String("outbox_id", outboxID.String()))
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "retried", "outbox_id": outboxID.String()})
}

// ListTaskEvents handles GET /admin/tasks/{id}/events.
func (h *Handler) ListTaskEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	taskID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "id must be a valid UUID")
		return
	}

	events, err := h.repo.ListEventsByTask(ctx, taskID)
	if err != nil {
		h.logger.Error("failed to list task events", zap.Error(err), zap.String("task_id", taskID.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list task events")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// RunRetention handles POST /admin/retention/run, triggering on demand
// the same PII redaction the retention sweeper applies on a schedule.
// The window is taken from the retention_days query parameter (default
// 60 days); the RETENTION_DAYS setting is not read here.
func (h *Handler) RunRetention(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	days := 60
	if v := r.URL.Query().Get("retention_days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			days = n
		}
	}
	cutoff := time.Now().AddDate(0, 0, -days)

	n, err := h.repo.RedactExpiredInbound(ctx, cutoff)
	if err != nil {
		h.logger.Error("failed to run retention redaction", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to run retention redaction")
		return
	}

	h.logger.Info("retention redaction run by admin", zap.Int64("redacted", n))
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "redacted": n})
}

func parseLimit(r *http.Request) int {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= maxListLimit {
			limit = n
		}
	}
	return limit
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "detail": detail})
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
