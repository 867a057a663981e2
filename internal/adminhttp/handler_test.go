package adminhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/nudge/internal/queue"
	"github.com/lalithlochan/nudge/internal/store"
)

type mockRepo struct {
	failedTasks    []*store.Task
	failedOutbox   []*store.OutboxMessage
	events         []*store.TaskEvent
	retryTaskErr   error
	retryOutboxErr error
	redacted       int64
}

func (m *mockRepo) ListFailedTasks(ctx context.Context, limit int) ([]*store.Task, error) {
	return m.failedTasks, nil
}

func (m *mockRepo) AdminRetryFailedTask(ctx context.Context, taskID uuid.UUID) error {
	return m.retryTaskErr
}

func (m *mockRepo) ListFailedOutbox(ctx context.Context, limit int) ([]*store.OutboxMessage, error) {
	return m.failedOutbox, nil
}

func (m *mockRepo) AdminRetryFailedOutbox(ctx context.Context, outboxID uuid.UUID) error {
	return m.retryOutboxErr
}

func (m *mockRepo) ListEventsByTask(ctx context.Context, taskID uuid.UUID) ([]*store.TaskEvent, error) {
	return m.events, nil
}

func (m *mockRepo) RedactExpiredInbound(ctx context.Context, cutoff time.Time) (int64, error) {
	return m.redacted, nil
}

type mockQueue struct {
	enqueued []queue.Job
}

func (q *mockQueue) Enqueue(ctx context.Context, stream string, job queue.Job) error {
	q.enqueued = append(q.enqueued, job)
	return nil
}

func newRouter(repo *mockRepo, q *mockQueue) http.Handler {
	h := NewHandler(repo, q, zap.NewNop())
	r := chi.NewRouter()
	r.Get("/admin/tasks/failed", h.ListFailedTasks)
	r.Post("/admin/tasks/{id}/retry", h.RetryFailedTask)
	r.Get("/admin/outbox/failed", h.ListFailedOutbox)
	r.Post("/admin/outbox/{id}/retry", h.RetryFailedOutbox)
	r.Get("/admin/tasks/{id}/events", h.ListTaskEvents)
	r.Post("/admin/retention/run", h.RunRetention)
	return r
}

func TestListFailedTasks_ReturnsRepositoryResults(t *testing.T) {
	repo := &mockRepo{failedTasks: []*store.Task{{TaskID: uuid.New()}}}
	r := newRouter(repo, &mockQueue{})

	req := httptest.NewRequest(http.MethodGet, "/admin/tasks/failed", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string][]store.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body["tasks"]) != 1 {
		t.Errorf("expected 1 task, got %d", len(body["tasks"]))
	}
}

func TestRetryFailedTask_SucceedsAndEnqueuesExecuteJob(t *testing.T) {
	repo := &mockRepo{}
	q := &mockQueue{}
	r := newRouter(repo, q)

	taskID := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/admin/tasks/"+taskID.String()+"/retry", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(q.enqueued) != 1 {
		t.Fatalf("expected 1 execute job enqueued, got %d", len(q.enqueued))
	}
}

func TestRetryFailedTask_NotFailedReturnsConflict(t *testing.T) {
	repo := &mockRepo{retryTaskErr: store.ErrStaleTransition}
	r := newRouter(repo, &mockQueue{})

	req := httptest.NewRequest(http.MethodPost, "/admin/tasks/"+uuid.New().String()+"/retry", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestRetryFailedTask_InvalidIDReturnsBadRequest(t *testing.T) {
	r := newRouter(&mockRepo{}, &mockQueue{})

	req := httptest.NewRequest(http.MethodPost, "/admin/tasks/not-a-uuid/retry", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRetryFailedOutbox_Succeeds(t *testing.T) {
	repo := &mockRepo{}
	r := newRouter(repo, &mockQueue{})

	req := httptest.NewRequest(http.MethodPost, "/admin/outbox/"+uuid.New().String()+"/retry", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestListTaskEvents_ReturnsEvents(t *testing.T) {
	repo := &mockRepo{events: []*store.TaskEvent{{EventID: uuid.New(), EventType: store.EventCreated}}}
	r := newRouter(repo, &mockQueue{})

	req := httptest.NewRequest(http.MethodGet, "/admin/tasks/"+uuid.New().String()+"/events", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRunRetention_ReportsRedactedCount(t *testing.T) {
	repo := &mockRepo{redacted: 7}
	r := newRouter(repo, &mockQueue{})

	req := httptest.NewRequest(http.MethodPost, "/admin/retention/run", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["redacted"].(float64) != 7 {
		t.Errorf("expected redacted count 7, got %v", body["redacted"])
	}
}
