package executor

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/nudge/internal/llm"
	"github.com/lalithlochan/nudge/internal/store"
)

type fakeRepo struct {
	tasks   map[uuid.UUID]*store.Task
	users   map[uuid.UUID]*store.User
	prefs   map[uuid.UUID]*store.Preferences
	inbound map[uuid.UUID]*store.InboundMessage
	outbox  []*store.OutboxMessage
	events  []*store.TaskEvent

	attempts int
}

func (r *fakeRepo) GetTaskByID(ctx context.Context, id uuid.UUID) (*store.Task, error) {
	if t, ok := r.tasks[id]; ok {
		return t, nil
	}
	return nil, store.ErrNotFound
}

func (r *fakeRepo) GetUserByID(ctx context.Context, id uuid.UUID) (*store.User, error) {
	if u, ok := r.users[id]; ok {
		return u, nil
	}
	return nil, store.ErrNotFound
}

func (r *fakeRepo) GetPreferences(ctx context.Context, userID uuid.UUID) (*store.Preferences, error) {
	if p, ok := r.prefs[userID]; ok {
		return p, nil
	}
	return nil, store.ErrNotFound
}

func (r *fakeRepo) GetInboundByID(ctx context.Context, id uuid.UUID) (*store.InboundMessage, error) {
	if m, ok := r.inbound[id]; ok {
		return m, nil
	}
	return nil, store.ErrNotFound
}

func (r *fakeRepo) SetTaskExecuting(ctx context.Context, taskID uuid.UUID) error {
	t, ok := r.tasks[taskID]
	if !ok || t.Status != store.TaskStatusDue {
		return store.ErrStaleTransition
	}
	t.Status = store.TaskStatusExecuting
	return nil
}

func (r *fakeRepo) RecordTaskAttempt(ctx context.Context, taskID uuid.UUID) error {
	r.attempts++
	return nil
}

func (r *fakeRepo) SetTaskSending(ctx context.Context, taskID uuid.UUID) error {
	t, ok := r.tasks[taskID]
	if !ok || t.Status != store.TaskStatusExecuting {
		return store.ErrStaleTransition
	}
	t.Status = store.TaskStatusSending
	return nil
}

func (r *fakeRepo) CreateOutbox(ctx context.Context, o *store.OutboxMessage) error {
	r.outbox = append(r.outbox, o)
	return nil
}

func (r *fakeRepo) RecordEvent(ctx context.Context, ev *store.TaskEvent) error {
	r.events = append(r.events, ev)
	return nil
}

type fakeDrafter struct {
	draft llm.Draft
}

func (f *fakeDrafter) Draft(ctx context.Context, contactHint, taskContext, tone string) llm.Draft {
	return f.draft
}

func setup(t *testing.T, actionType string) (*Executor, *fakeRepo, uuid.UUID) {
	t.Helper()
	userID := uuid.New()
	inboundID := uuid.New()
	taskID := uuid.New()

	repo := &fakeRepo{
		tasks:   map[uuid.UUID]*store.Task{},
		users:   map[uuid.UUID]*store.User{},
		prefs:   map[uuid.UUID]*store.Preferences{},
		inbound: map[uuid.UUID]*store.InboundMessage{},
	}
	repo.users[userID] = &store.User{UserID: userID, PrimaryEmail: "alice@example.com", DisplayName: "Alice"}
	repo.prefs[userID] = &store.Preferences{UserID: userID, Tone: store.ToneFriendly, FallbackChannel: store.ChannelEmail}
	repo.inbound[inboundID] = &store.InboundMessage{InboundID: inboundID, Channel: store.ChannelEmail}
	repo.tasks[taskID] = &store.Task{
		TaskID:          taskID,
		UserID:          userID,
		SourceInboundID: inboundID,
		Status:          store.TaskStatusDue,
		ActionType:      actionType,
		ContactHint:     "Bob",
		Context:         "quarterly review",
	}

	drafter := &fakeDrafter{draft: llm.Draft{Subject: "Re: quarterly review", Body: "Hi Bob, following up."}}
	ex := New(repo, drafter, nil, nil, Config{}, zap.NewNop())
	return ex, repo, taskID
}

func TestProcess_RemindBuildsStaticMessage(t *testing.T) {
	ex, repo, taskID := setup(t, store.ActionRemind)

	if err := ex.process(context.Background(), taskID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if repo.tasks[taskID].Status != store.TaskStatusSending {
		t.Errorf("expected task to end in sending, got %s", repo.tasks[taskID].Status)
	}
	if len(repo.outbox) != 1 {
		t.Fatalf("expected 1 outbox message, got %d", len(repo.outbox))
	}
	if repo.outbox[0].Payload.Body == "" {
		t.Error("expected non-empty reminder body")
	}
}

func TestProcess_RemindAndDraftUsesDrafter(t *testing.T) {
	ex, repo, taskID := setup(t, store.ActionRemindAndDraft)

	if err := ex.process(context.Background(), taskID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	body := repo.outbox[0].Payload.Body
	if body == "" {
		t.Fatal("expected drafted body")
	}
	foundDraftEvent := false
	for _, ev := range repo.events {
		if ev.EventType == store.EventDraftGenerated {
			foundDraftEvent = true
		}
	}
	if !foundDraftEvent {
		t.Error("expected a draft_generated event")
	}
}

func TestProcess_SendUsesDraftVerbatim(t *testing.T) {
	ex, repo, taskID := setup(t, store.ActionSend)

	if err := ex.process(context.Background(), taskID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if repo.outbox[0].Payload.Body != "Hi Bob, following up." {
		t.Errorf("expected draft body verbatim, got %q", repo.outbox[0].Payload.Body)
	}
}

func TestProcess_NotDueIsNoop(t *testing.T) {
	ex, repo, taskID := setup(t, store.ActionRemind)
	repo.tasks[taskID].Status = store.TaskStatusDone

	if err := ex.process(context.Background(), taskID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.outbox) != 0 {
		t.Error("expected no outbox message for a task not in due status")
	}
}

func TestProcess_MissingTaskIsNoop(t *testing.T) {
	ex, _, _ := setup(t, store.ActionRemind)
	if err := ex.process(context.Background(), uuid.New()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestProcess_EmptyDraftStillCreatesOutbox(t *testing.T) {
	userID := uuid.New()
	inboundID := uuid.New()
	taskID := uuid.New()

	repo := &fakeRepo{
		tasks:   map[uuid.UUID]*store.Task{},
		users:   map[uuid.UUID]*store.User{},
		prefs:   map[uuid.UUID]*store.Preferences{},
		inbound: map[uuid.UUID]*store.InboundMessage{},
	}
	repo.users[userID] = &store.User{UserID: userID, PrimaryEmail: "alice@example.com", DisplayName: "Alice"}
	repo.prefs[userID] = &store.Preferences{UserID: userID, FallbackChannel: store.ChannelEmail}
	repo.inbound[inboundID] = &store.InboundMessage{InboundID: inboundID, Channel: store.ChannelEmail}
	repo.tasks[taskID] = &store.Task{
		TaskID: taskID, UserID: userID, SourceInboundID: inboundID,
		Status: store.TaskStatusDue, ActionType: store.ActionSend, ContactHint: "Bob", Context: "review",
	}

	ex := New(repo, &fakeDrafter{}, nil, nil, Config{}, zap.NewNop())

	if err := ex.process(context.Background(), taskID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.outbox) != 1 {
		t.Fatal("expected an outbox message even with an empty drafter response")
	}
}
