package ingresshttp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/nudge/internal/queue"
	"github.com/lalithlochan/nudge/internal/store"
)

type mockRepo struct {
	usersByEmail map[string]*store.User
	usersByChat  map[string]*store.User
	inbound      map[string]*store.InboundMessage // by idempotency_key

	createErr error
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		usersByEmail: make(map[string]*store.User),
		usersByChat:  make(map[string]*store.User),
		inbound:      make(map[string]*store.InboundMessage),
	}
}

func (m *mockRepo) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	if u, ok := m.usersByEmail[email]; ok {
		return u, nil
	}
	return nil, store.ErrNotFound
}

func (m *mockRepo) GetUserByChatNumber(ctx context.Context, number string) (*store.User, error) {
	if u, ok := m.usersByChat[number]; ok {
		return u, nil
	}
	return nil, store.ErrNotFound
}

func (m *mockRepo) CreateInbound(ctx context.Context, msg *store.InboundMessage) error {
	if m.createErr != nil {
		return m.createErr
	}
	if _, exists := m.inbound[msg.IdempotencyKey]; exists {
		return store.ErrDuplicateInbound
	}
	m.inbound[msg.IdempotencyKey] = msg
	return nil
}

type mockQueue struct {
	jobs []queue.Job
}

func (q *mockQueue) Enqueue(ctx context.Context, stream string, job queue.Job) error {
	q.jobs = append(q.jobs, job)
	return nil
}

func newTestHandler() (*Handler, *mockRepo, *mockQueue) {
	repo := newMockRepo()
	q := &mockQueue{}
	h := NewHandler(repo, nil, q, nil, zap.NewNop())
	return h, repo, q
}

func TestHandleEmailWebhook_Accepted(t *testing.T) {
	h, repo, q := newTestHandler()
	user := &store.User{UserID: uuid.New(), PrimaryEmail: "alice@example.com"}
	repo.usersByEmail[user.PrimaryEmail] = user

	body, _ := json.Marshal(EmailWebhookRequest{
		MessageID: "msg-1",
		From:      "alice@example.com",
		TextBody:  "remind me to call bob tomorrow",
	})

	req := httptest.NewRequest(http.MethodPost, "/webhook/email", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.HandleEmailWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp webhookResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "accepted" {
		t.Fatalf("expected accepted, got %s", resp.Status)
	}
	if len(q.jobs) != 1 {
		t.Fatalf("expected 1 enqueued job, got %d", len(q.jobs))
	}
	if len(repo.inbound) != 1 {
		t.Fatalf("expected 1 persisted inbound row, got %d", len(repo.inbound))
	}
}

func TestHandleEmailWebhook_Duplicate(t *testing.T) {
	h, repo, q := newTestHandler()
	user := &store.User{UserID: uuid.New(), PrimaryEmail: "alice@example.com"}
	repo.usersByEmail[user.PrimaryEmail] = user

	body, _ := json.Marshal(EmailWebhookRequest{MessageID: "msg-1", From: "alice@example.com", TextBody: "hi"})

	req1 := httptest.NewRequest(http.MethodPost, "/webhook/email", bytes.NewReader(body))
	h.HandleEmailWebhook(httptest.NewRecorder(), req1)

	req2 := httptest.NewRequest(http.MethodPost, "/webhook/email", bytes.NewReader(body))
	rec2 := httptest.NewRecorder()
	h.HandleEmailWebhook(rec2, req2)

	var resp webhookResponse
	_ = json.Unmarshal(rec2.Body.Bytes(), &resp)
	if resp.Status != "duplicate" {
		t.Fatalf("expected duplicate, got %s", resp.Status)
	}
	if len(q.jobs) != 1 {
		t.Fatalf("expected only 1 job enqueued across both requests, got %d", len(q.jobs))
	}
}

func TestHandleEmailWebhook_UnknownSender(t *testing.T) {
	h, _, _ := newTestHandler()

	body, _ := json.Marshal(EmailWebhookRequest{MessageID: "msg-1", From: "ghost@example.com", TextBody: "hi"})
	req := httptest.NewRequest(http.MethodPost, "/webhook/email", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.HandleEmailWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp webhookResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Status != "ignored" || resp.Reason != "unknown_sender" {
		t.Fatalf("expected ignored/unknown_sender, got %+v", resp)
	}
}

func TestHandleEmailWebhook_MissingFields(t *testing.T) {
	h, _, _ := newTestHandler()

	body, _ := json.Marshal(EmailWebhookRequest{From: "alice@example.com"})
	req := httptest.NewRequest(http.MethodPost, "/webhook/email", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.HandleEmailWebhook(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleChatWebhook_ExtractsNestedMessages(t *testing.T) {
	h, repo, q := newTestHandler()
	user := &store.User{UserID: uuid.New(), ChatNumber: "+15551234567"}
	repo.usersByChat[user.ChatNumber] = user

	payload := `{
		"entry": [{
			"changes": [{
				"value": {
					"messages": [
						{"id": "wamid.1", "from": "+15551234567", "type": "text", "text": {"body": "remind me Friday"}},
						{"id": "wamid.2", "from": "+15551234567", "type": "image", "text": {"body": ""}}
					]
				}
			}]
		}]
	}`

	req := httptest.NewRequest(http.MethodPost, "/webhook/chat", bytes.NewReader([]byte(payload)))
	rec := httptest.NewRecorder()

	h.HandleChatWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(repo.inbound) != 1 {
		t.Fatalf("expected only the text message to be ingested, got %d rows", len(repo.inbound))
	}
	if len(q.jobs) != 1 {
		t.Fatalf("expected 1 enqueued job, got %d", len(q.jobs))
	}
}

func TestHandleChatVerify(t *testing.T) {
	h, _, _ := newTestHandler()
	verify := h.HandleChatVerify("my-verify-token")

	req := httptest.NewRequest(http.MethodGet, "/webhook/chat?hub.mode=subscribe&hub.verify_token=my-verify-token&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()

	verify(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "12345" {
		t.Fatalf("expected challenge echoed back, got %q", rec.Body.String())
	}
}

func TestHandleChatVerify_WrongToken(t *testing.T) {
	h, _, _ := newTestHandler()
	verify := h.HandleChatVerify("my-verify-token")

	req := httptest.NewRequest(http.MethodGet, "/webhook/chat?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()

	verify(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}
