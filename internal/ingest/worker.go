// Package ingest consumes ingest jobs off the queue and turns redacted
// inbound text into either a scheduled task or a clarifying question,
// implementing the second stage of the pipeline.
package ingest

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
	"github.com/lalithlochan/nudge/internal/redact"
	"github.com/lalithlochan/nudge/internal/resilience"
	"github.com/lalithlochan/nudge/internal/store"
)

// Stream and Group name the ingest job stream and its consumer group.
const (
	Stream = "ingest"
	Group  = "ingest-workers"
)

// Repository is the subset of store.Repository the ingest worker needs.
type Repository interface {
	GetInboundByID(ctx context.Context, id uuid.UUID) (*store.InboundMessage, error)
	MarkInboundProcessed(ctx context.Context, id uuid.UUID) error
	GetUserByID(ctx context.Context, id uuid.UUID) (*store.User, error)
	GetPreferences(ctx context.Context, userID uuid.UUID) (*store.Preferences, error)
	GetTaskBySourceInbound(ctx context.Context, inboundID uuid.UUID) (*store.Task, error)
	CreateTask(ctx context.Context, t *store.Task) error
	CreateOutbox(ctx context.Context, o *store.OutboxMessage) error
	RecordEvent(ctx context.Context, ev *store.TaskEvent) error
}

// Extractor is the subset of llm.Extractor the worker needs.
type Extractor interface {
	Extract(ctx context.Context, text, timezone string, now time.Time) llm.ExtractionResult
}

// Queue is the subset of queue.Queue the worker needs.
type Queue interface {
	EnsureGroup(ctx context.Context, stream, group string) error
	Dequeue(ctx context.Context, stream, group, consumer string, count int, block time.Duration) ([]queue.Job, error)
	Ack(ctx context.Context, stream, group string, job queue.Job) error
	ReclaimStale(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int) ([]queue.Job, error)
}

// jobPayload is the body of one ingest job, matching what ingresshttp enqueues.
type jobPayload struct {
	InboundID string `json:"inbound_id"`
	UserID    string `json:"user_id"`
}

// Config controls the worker's polling and concurrency behavior.
type Config struct {
	Consumer      string
	Concurrency   int // N concurrent job handlers, default 5
	PollBlock     time.Duration
	ReapInterval  time.Duration    // default 10x PollBlock, per Decision D1
	ReapThreshold time.Duration    // default 10x PollBlock, per Decision D1
	ClockSkewNow  func() time.Time // overridable for tests; defaults to time.Now
}

// Worker consumes ingest jobs and drives them through spec §4.2.
type Worker struct {
	repo      Repository
	extractor Extractor
	breaker   *resilience.CircuitBreaker
	queue     Queue
	cfg       Config
	logger    *zap.Logger
}

// New creates an ingest worker. breaker may be nil to call the
// extractor unguarded.
func New(repo Repository, extractor Extractor, breaker *resilience.CircuitBreaker, q Queue, cfg Config, logger *zap.Logger) *Worker {
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 5
	}
	if cfg.PollBlock == 0 {
		cfg.PollBlock = 5 * time.Second
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "ingest-1"
	}
	if cfg.ReapThreshold == 0 {
		cfg.ReapThreshold = 10 * cfg.PollBlock
	}
	if cfg.ReapInterval == 0 {
		cfg.ReapInterval = cfg.ReapThreshold
	}
	if cfg.ClockSkewNow == nil {
		cfg.ClockSkewNow = time.Now
	}
	return &Worker{repo: repo, extractor: extractor, breaker: breaker, queue: q, cfg: cfg, logger: logger}
}

// Run polls the ingest stream until ctx is canceled, dispatching up to
// Concurrency jobs at a time to bounded goroutines. A second ticker
// reclaims pending entries idle past ReapThreshold, so a worker that
// crashed after XREADGROUP but before Ack does not strand its job in
// the consumer group's pending list forever.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.queue.EnsureGroup(ctx, Stream, Group); err != nil {
		return fmt.Errorf("ensure ingest consumer group: %w", err)
	}

	sem := make(chan struct{}, w.cfg.Concurrency)

	reapTicker := time.NewTicker(w.cfg.ReapInterval)
	defer reapTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("ingest worker stopping")
			return nil
		case <-reapTicker.C:
			w.reap(ctx, sem)
			continue
		default:
		}

		jobs, err := w.queue.Dequeue(ctx, Stream, Group, w.cfg.Consumer, w.cfg.Concurrency, w.cfg.PollBlock)
		if err != nil {
			w.logger.Error("ingest dequeue failed", zap.Error(err))
			continue
		}

		for _, job := range jobs {
			job := job
			sem <- struct{}{}
			go func() {
				defer func() { <-sem }()
				w.handle(ctx, job)
			}()
		}
	}
}

// reap claims pending entries abandoned by a crashed consumer and
// dispatches them through the same handler path as a fresh dequeue.
func (w *Worker) reap(ctx context.Context, sem chan struct{}) {
	jobs, err := w.queue.ReclaimStale(ctx, Stream, Group, w.cfg.Consumer, w.cfg.ReapThreshold, w.cfg.Concurrency)
	if err != nil {
		w.logger.Error("ingest reclaim failed", zap.Error(err))
		return
	}
	if len(jobs) > 0 {
		w.logger.Warn("reclaimed stale ingest jobs", zap.Int("count", len(jobs)))
	}
	for _, job := range jobs {
		job := job
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			w.handle(ctx, job)
		}()
	}
}

func (w *Worker) handle(ctx context.Context, job queue.Job) {
	start := time.Now()

	var payload jobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		w.logger.Error("ingest job payload malformed", zap.Error(err))
		return
	}

	inboundID, err := uuid.Parse(payload.InboundID)
	if err != nil {
		w.logger.Error("ingest job has invalid inbound_id", zap.Error(err))
		return
	}

	if err := w.process(ctx, inboundID); err != nil {
		w.logger.Error("ingest job failed, leaving unacked for redelivery",
			zap.Error(err),
			zap.String("inbound_id", inboundID.String()),
		)
		return
	}

	if err := w.queue.Ack(ctx, Stream, Group, job); err != nil {
		w.logger.Error("failed to ack ingest job", zap.Error(err), zap.String("inbound_id", inboundID.String()))
	}

	metrics.RecordIngestJobLatency(time.Since(start))
}

// process implements spec §4.2 end to end. All six steps must succeed
// or the caller leaves the job unacked so the queue redelivers it.
func (w *Worker) process(ctx context.Context, inboundID uuid.UUID) error {
	inbound, err := w.repo.GetInboundByID(ctx, inboundID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil
		}
		return fmt.Errorf("load inbound: %w", err)
	}
	if inbound.Status == store.InboundStatusProcessed {
		return nil
	}

	user, err := w.repo.GetUserByID(ctx, inbound.UserID)
	if err != nil {
		if err == store.ErrNotFound {
			w.logger.Warn("ingest job references unknown user", zap.String("user_id", inbound.UserID.String()))
			return nil
		}
		return fmt.Errorf("load user: %w", err)
	}

	prefs, err := w.repo.GetPreferences(ctx, user.UserID)
	if err != nil {
		return fmt.Errorf("load preferences: %w", err)
	}

	// Task creation is idempotent on source_inbound_id: a retried job
	// whose earlier attempt already committed a task just marks the
	// inbound row processed and returns.
	if existing, err := w.repo.GetTaskBySourceInbound(ctx, inboundID); err == nil && existing != nil {
		return w.repo.MarkInboundProcessed(ctx, inboundID)
	} else if err != nil && err != store.ErrNotFound {
		return fmt.Errorf("check existing task: %w", err)
	}

	safeText := redact.Text(inbound.RawTextRedacted)

	result := w.extract(ctx, safeText, prefs.Timezone)

	task := &store.Task{
		TaskID:          uuid.New(),
		UserID:          user.UserID,
		SourceInboundID: inboundID,
	}

	if result.NeedsClarification {
		task.Status = store.TaskStatusNeedsClarification
		task.ActionType = result.ActionType
		task.ContactHint = result.ContactHint
		task.Context = result.Context

		if err := w.repo.CreateTask(ctx, task); err != nil {
			return fmt.Errorf("create clarification task: %w", err)
		}
		w.recordEvent(ctx, task, store.EventCreated, nil)
		metrics.RecordTaskTransition(task.Status)

		outbox := &store.OutboxMessage{
			OutboxID: uuid.New(),
			TaskID:   &task.TaskID,
			UserID:   user.UserID,
			Channel:  inbound.Channel,
			Payload: store.OutboxPayload{
				To:   recipientFor(user, inbound.Channel),
				Body: result.ClarifyingQuestion,
			},
			Status:      store.OutboxStatusQueued,
			NextRetryAt: time.Now(),
		}
		if err := w.repo.CreateOutbox(ctx, outbox); err != nil {
			return fmt.Errorf("create clarification outbox: %w", err)
		}
		w.recordEvent(ctx, task, store.EventClarificationSent, nil)
	} else {
		dueAt, err := time.Parse(time.RFC3339, result.DueAtISO)
		if err != nil {
			return fmt.Errorf("parse due_at_iso after contract validation: %w", err)
		}

		task.Status = store.TaskStatusPending
		task.DueAt = &dueAt
		task.ActionType = result.ActionType
		task.ContactHint = result.ContactHint
		task.Context = result.Context

		if err := w.repo.CreateTask(ctx, task); err != nil {
			return fmt.Errorf("create task: %w", err)
		}
		w.recordEvent(ctx, task, store.EventCreated, nil)
		metrics.RecordTaskTransition(task.Status)

		outbox := &store.OutboxMessage{
			OutboxID: uuid.New(),
			TaskID:   &task.TaskID,
			UserID:   user.UserID,
			Channel:  inbound.Channel,
			Payload: store.OutboxPayload{
				To:   recipientFor(user, inbound.Channel),
				Body: confirmationBody(result.ActionType, dueAt, prefs.Timezone),
			},
			Status:      store.OutboxStatusQueued,
			NextRetryAt: time.Now(),
		}
		if err := w.repo.CreateOutbox(ctx, outbox); err != nil {
			return fmt.Errorf("create confirmation outbox: %w", err)
		}
		w.recordEvent(ctx, task, store.EventScheduled, nil)
	}

	return w.repo.MarkInboundProcessed(ctx, inboundID)
}

func (w *Worker) extract(ctx context.Context, text, timezone string) llm.ExtractionResult {
	now := w.cfg.ClockSkewNow()

	if w.breaker == nil {
		return w.extractor.Extract(ctx, text, timezone, now)
	}

	var result llm.ExtractionResult
	err := w.breaker.Do(ctx, func(ctx context.Context) error {
		result = w.extractor.Extract(ctx, text, timezone, now)
		return nil
	})
	if err != nil {
		// Breaker open: extractor was never called, so fall back to a
		// fixed "try again shortly" clarification of this worker's own.
		return llm.ExtractionResult{
			NeedsClarification: true,
			ClarifyingQuestion: "I'm briefly unable to process this — could you resend it in a few minutes?",
		}
	}
	return result
}

// recordEvent writes a TaskEvent; per spec §7 this is non-critical
// observability and never fails the pipeline stage.
func (w *Worker) recordEvent(ctx context.Context, task *store.Task, eventType string, payload []byte) {
	if err := w.repo.RecordEvent(ctx, &store.TaskEvent{
		EventID:   uuid.New(),
		TaskID:    task.TaskID,
		UserID:    task.UserID,
		EventType: eventType,
		Payload:   payload,
	}); err != nil {
		w.logger.Warn("failed to record task event",
			zap.Error(err),
			zap.String("task_id", task.TaskID.String()),
			zap.String("event_type", eventType),
		)
	}
}

func recipientFor(user *store.User, channel string) string {
	if channel == store.ChannelChat {
		return user.ChatNumber
	}
	return user.PrimaryEmail
}

func confirmationBody(actionType string, dueAt time.Time, timezone string) string {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}
	formatted := dueAt.In(loc).Format("Mon Jan 2 3:04 PM MST")

	switch actionType {
	case store.ActionRemind:
		return fmt.Sprintf("Got it — I'll remind you on %s.", formatted)
	case store.ActionRemindAndDraft:
		return fmt.Sprintf("Got it — I'll prepare a draft for you on %s.", formatted)
	case store.ActionSend:
		return fmt.Sprintf("Got it — I'll send that on %s.", formatted)
	default:
		return fmt.Sprintf("Got it — this is scheduled for %s.", formatted)
	}
}
