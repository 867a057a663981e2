// Package executor consumes execute jobs, builds the outbound message
// for a due task, and hands it to the outbox as a durable send intent.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/nudge/internal/llm"
	"github.com/lalithlochan/nudge/internal/metrics"
	"github.com/lalithlochan/nudge/internal/queue"
	"github.com/lalithlochan/nudge/internal/resilience"
	"github.com/lalithlochan/nudge/internal/store"
)

// Stream and Group name the execute job stream and its consumer group.
const (
	Stream = "execute"
	Group  = "executor-workers"
)

// Repository is the subset of store.Repository the executor needs.
type Repository interface {
	GetTaskByID(ctx context.Context, id uuid.UUID) (*store.Task, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*store.User, error)
	GetPreferences(ctx context.Context, userID uuid.UUID) (*store.Preferences, error)
	GetInboundByID(ctx context.Context, id uuid.UUID) (*store.InboundMessage, error)
	SetTaskExecuting(ctx context.Context, taskID uuid.UUID) error
	RecordTaskAttempt(ctx context.Context, taskID uuid.UUID) error
	SetTaskSending(ctx context.Context, taskID uuid.UUID) error
	CreateOutbox(ctx context.Context, o *store.OutboxMessage) error
	RecordEvent(ctx context.Context, ev *store.TaskEvent) error
}

// Drafter is the subset of llm.Drafter the executor needs.
type Drafter interface {
	Draft(ctx context.Context, contactHint, taskContext, tone string) llm.Draft
}

// Queue is the subset of queue.Queue the executor needs.
type Queue interface {
	EnsureGroup(ctx context.Context, stream, group string) error
	Dequeue(ctx context.Context, stream, group, consumer string, count int, block time.Duration) ([]queue.Job, error)
	Ack(ctx context.Context, stream, group string, job queue.Job) error
	ReclaimStale(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int) ([]queue.Job, error)
}

type jobPayload struct {
	TaskID string `json:"task_id"`
}

// Config controls polling and concurrency.
type Config struct {
	Consumer      string
	Concurrency   int // default 5
	PollBlock     time.Duration
	ReapInterval  time.Duration // default 10x PollBlock, per Decision D1
	ReapThreshold time.Duration // default 10x PollBlock, per Decision D1
}

// Executor consumes execute jobs and drives them through spec §4.5.
type Executor struct {
	repo    Repository
	drafter Drafter
	breaker *resilience.CircuitBreaker
	queue   Queue
	cfg     Config
	logger  *zap.Logger
}

// New creates an Executor. breaker may be nil to call the drafter unguarded.
func New(repo Repository, drafter Drafter, breaker *resilience.CircuitBreaker, q Queue, cfg Config, logger *zap.Logger) *Executor {
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 5
	}
	if cfg.PollBlock == 0 {
		cfg.PollBlock = 5 * time.Second
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "executor-1"
	}
	if cfg.ReapThreshold == 0 {
		cfg.ReapThreshold = 10 * cfg.PollBlock
	}
	if cfg.ReapInterval == 0 {
		cfg.ReapInterval = cfg.ReapThreshold
	}
	return &Executor{repo: repo, drafter: drafter, breaker: breaker, queue: q, cfg: cfg, logger: logger}
}

// Run polls the execute stream until ctx is canceled. A second ticker
// reclaims pending entries idle past ReapThreshold, so a worker that
// crashed after XREADGROUP but before Ack does not strand its job in
// the consumer group's pending list forever.
func (e *Executor) Run(ctx context.Context) error {
	if err := e.queue.EnsureGroup(ctx, Stream, Group); err != nil {
		return fmt.Errorf("ensure execute consumer group: %w", err)
	}

	sem := make(chan struct{}, e.cfg.Concurrency)

	reapTicker := time.NewTicker(e.cfg.ReapInterval)
	defer reapTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("executor stopping")
			return nil
		case <-reapTicker.C:
			e.reap(ctx, sem)
			continue
		default:
		}

		jobs, err := e.queue.Dequeue(ctx, Stream, Group, e.cfg.Consumer, e.cfg.Concurrency, e.cfg.PollBlock)
		if err != nil {
			e.logger.Error("execute dequeue failed", zap.Error(err))
			continue
		}

		for _, job := range jobs {
			job := job
			sem <- struct{}{}
			go func() {
				defer func() { <-sem }()
				e.handle(ctx, job)
			}()
		}
	}
}

// reap claims pending entries abandoned by a crashed consumer and
// dispatches them through the same handler path as a fresh dequeue.
func (e *Executor) reap(ctx context.Context, sem chan struct{}) {
	jobs, err := e.queue.ReclaimStale(ctx, Stream, Group, e.cfg.Consumer, e.cfg.ReapThreshold, e.cfg.Concurrency)
	if err != nil {
		e.logger.Error("execute reclaim failed", zap.Error(err))
		return
	}
	if len(jobs) > 0 {
		e.logger.Warn("reclaimed stale execute jobs", zap.Int("count", len(jobs)))
	}
	for _, job := range jobs {
		job := job
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			e.handle(ctx, job)
		}()
	}
}

func (e *Executor) handle(ctx context.Context, job queue.Job) {
	var payload jobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		e.logger.Error("execute job payload malformed", zap.Error(err))
		return
	}

	taskID, err := uuid.Parse(payload.TaskID)
	if err != nil {
		e.logger.Error("execute job has invalid task_id", zap.Error(err))
		return
	}

	if err := e.process(ctx, taskID); err != nil {
		e.logger.Error("execute job failed, leaving unacked for redelivery",
			zap.Error(err),
			zap.String("task_id", taskID.String()),
		)
		return
	}

	if err := e.queue.Ack(ctx, Stream, Group, job); err != nil {
		e.logger.Error("failed to ack execute job", zap.Error(err), zap.String("task_id", taskID.String()))
	}
}

// process implements spec §4.5 end to end.
func (e *Executor) process(ctx context.Context, taskID uuid.UUID) error {
	task, err := e.repo.GetTaskByID(ctx, taskID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil
		}
		return fmt.Errorf("load task: %w", err)
	}
	if task.Status != store.TaskStatusDue {
		// Tolerates queue replay: a task already past due (executing,
		// sending, done, failed) means an earlier delivery of this
		// fixed-identity job already advanced it.
		return nil
	}

	if err := e.repo.SetTaskExecuting(ctx, taskID); err != nil {
		if err == store.ErrStaleTransition {
			return nil
		}
		return fmt.Errorf("set task executing: %w", err)
	}
	if err := e.repo.RecordTaskAttempt(ctx, taskID); err != nil {
		e.logger.Warn("failed to record task attempt", zap.Error(err), zap.String("task_id", taskID.String()))
	}
	e.recordEvent(ctx, task, store.EventExecuting)
	metrics.RecordTaskTransition(store.TaskStatusExecuting)

	user, err := e.repo.GetUserByID(ctx, task.UserID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	prefs, err := e.repo.GetPreferences(ctx, task.UserID)
	if err != nil {
		return fmt.Errorf("load preferences: %w", err)
	}

	channel := prefs.FallbackChannel
	if inbound, err := e.repo.GetInboundByID(ctx, task.SourceInboundID); err == nil {
		channel = inbound.Channel
	}

	recipient := user.PrimaryEmail
	if channel == store.ChannelChat {
		recipient = user.ChatNumber
	}

	subject, body := e.buildMessage(ctx, task, user, prefs)

	outbox := &store.OutboxMessage{
		OutboxID: uuid.New(),
		TaskID:   &task.TaskID,
		UserID:   task.UserID,
		Channel:  channel,
		Payload: store.OutboxPayload{
			To:      recipient,
			Subject: subject,
			Body:    body,
		},
		Status:      store.OutboxStatusQueued,
		NextRetryAt: time.Now(),
	}
	if err := e.repo.CreateOutbox(ctx, outbox); err != nil {
		return fmt.Errorf("create outbox: %w", err)
	}

	if err := e.repo.SetTaskSending(ctx, taskID); err != nil {
		if err == store.ErrStaleTransition {
			return nil
		}
		return fmt.Errorf("set task sending: %w", err)
	}
	e.recordEvent(ctx, task, store.EventSending)
	metrics.RecordTaskTransition(store.TaskStatusSending)

	return nil
}

// buildMessage implements spec §4.5 step 4's per-action-type branching.
func (e *Executor) buildMessage(ctx context.Context, task *store.Task, user *store.User, prefs *store.Preferences) (subject, body string) {
	switch task.ActionType {
	case store.ActionRemindAndDraft:
		draft := e.draft(ctx, task.ContactHint, task.Context, prefs.Tone)
		e.recordEvent(ctx, task, store.EventDraftGenerated)
		return draft.Subject, fmt.Sprintf("Here is a draft you can use:\n\n%s", draft.Body)
	case store.ActionSend:
		draft := e.draft(ctx, task.ContactHint, task.Context, prefs.Tone)
		e.recordEvent(ctx, task, store.EventDraftGenerated)
		return draft.Subject, draft.Body
	default: // store.ActionRemind
		return fmt.Sprintf("Reminder: %s", task.ContactHint),
			fmt.Sprintf("Hi %s, this is your reminder about %s (%s).", user.DisplayName, task.ContactHint, task.Context)
	}
}

func (e *Executor) draft(ctx context.Context, contactHint, taskContext, tone string) llm.Draft {
	if e.breaker == nil {
		return e.drafter.Draft(ctx, contactHint, taskContext, tone)
	}

	var draft llm.Draft
	err := e.breaker.Do(ctx, func(ctx context.Context) error {
		draft = e.drafter.Draft(ctx, contactHint, taskContext, tone)
		return nil
	})
	if err != nil {
		return llm.Draft{
			Subject: fmt.Sprintf("Follow-up: %s", contactHint),
			Body:    fmt.Sprintf("This is a follow-up regarding %s.", taskContext),
		}
	}
	return draft
}

func (e *Executor) recordEvent(ctx context.Context, task *store.Task, eventType string) {
	if err := e.repo.RecordEvent(ctx, &store.TaskEvent{
		EventID:   uuid.New(),
		TaskID:    task.TaskID,
		UserID:    task.UserID,
		EventType: eventType,
	}); err != nil {
		e.logger.Warn("failed to record task event",
			zap.Error(err),
			zap.String("task_id", task.TaskID.String()),
			zap.String("event_type", eventType),
		)
	}
}
