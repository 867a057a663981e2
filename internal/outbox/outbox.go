// Package outbox runs the periodic poller that claims queued send
// intents and delivers them through a channel sender, retrying with
// exponential backoff up to a fixed attempt ceiling.
package outbox

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/nudge/internal/metrics"
	"github.com/lalithlochan/nudge/internal/resilience"
	"github.com/lalithlochan/nudge/internal/store"
)

// batchSize bounds how many rows one poll can claim.
const batchSize = 20

// Repository is the subset of store.Repository the outbox sender needs.
type Repository interface {
	ClaimQueuedOutbox(ctx context.Context, limit int) ([]*store.OutboxMessage, error)
	MarkOutboxSent(ctx context.Context, outboxID uuid.UUID) error
	MarkOutboxRetry(ctx context.Context, outboxID uuid.UUID, nextRetryAt time.Time) error
	MarkOutboxFailed(ctx context.Context, outboxID uuid.UUID) error
	SetTaskDone(ctx context.Context, taskID uuid.UUID) error
	SetTaskFailed(ctx context.Context, taskID uuid.UUID) error
	RecordEvent(ctx context.Context, ev *store.TaskEvent) error
	ReclaimStuckSending(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Sender is the subset of senders.MultiSender the outbox sender needs.
type Sender interface {
	Send(ctx context.Context, msg *store.OutboxMessage) error
}

// Config controls poll cadence, retry ceiling, and reap cadence.
type Config struct {
	PollInterval  time.Duration // default 5s, per OUTBOX_POLL_INTERVAL_MS
	MaxAttempts   int           // default 5, per OUTBOX_MAX_ATTEMPTS
	ReapInterval  time.Duration // default 10x PollInterval
	ReapThreshold time.Duration // default 10x PollInterval, per Decision D1
}

// Outbox is the single-inflight poll loop implementing spec §4.6.
type Outbox struct {
	repo    Repository
	sender  Sender
	breaker *resilience.CircuitBreaker
	cfg     Config
	logger  *zap.Logger
}

// New creates an Outbox sender. breaker may be nil to send unguarded.
func New(repo Repository, sender Sender, breaker *resilience.CircuitBreaker, cfg Config, logger *zap.Logger) *Outbox {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.ReapThreshold == 0 {
		cfg.ReapThreshold = 10 * cfg.PollInterval
	}
	if cfg.ReapInterval == 0 {
		cfg.ReapInterval = cfg.ReapThreshold
	}
	return &Outbox{repo: repo, sender: sender, breaker: breaker, cfg: cfg, logger: logger}
}

// Run drives the poll tick and the stuck-sending reap tick until ctx is
// canceled.
func (o *Outbox) Run(ctx context.Context) {
	pollTicker := time.NewTicker(o.cfg.PollInterval)
	defer pollTicker.Stop()

	reapTicker := time.NewTicker(o.cfg.ReapInterval)
	defer reapTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("outbox sender stopping")
			return
		case <-pollTicker.C:
			o.poll(ctx)
		case <-reapTicker.C:
			o.reap(ctx)
		}
	}
}

// poll implements spec §4.6: claim queued rows, send each, branch on
// the outcome.
func (o *Outbox) poll(ctx context.Context) {
	messages, err := o.repo.ClaimQueuedOutbox(ctx, batchSize)
	if err != nil {
		o.logger.Error("outbox claim failed", zap.Error(err))
		return
	}

	for _, msg := range messages {
		o.deliver(ctx, msg)
	}
}

func (o *Outbox) deliver(ctx context.Context, msg *store.OutboxMessage) {
	start := time.Now()
	err := o.send(ctx, msg)

	if err == nil {
		o.onSuccess(ctx, msg)
		metrics.RecordOutboxOutcome(msg.Channel, "sent", msg.Attempts+1)
		metrics.RecordOutboxLatency(msg.Channel, time.Since(start))
		return
	}

	o.logger.Warn("outbox delivery failed",
		zap.Error(err),
		zap.String("outbox_id", msg.OutboxID.String()),
		zap.Int("attempts", msg.Attempts),
	)
	o.onFailure(ctx, msg)
}

func (o *Outbox) send(ctx context.Context, msg *store.OutboxMessage) error {
	if o.breaker == nil {
		return o.sender.Send(ctx, msg)
	}
	return o.breaker.Do(ctx, func(ctx context.Context) error {
		return o.sender.Send(ctx, msg)
	})
}

func (o *Outbox) onSuccess(ctx context.Context, msg *store.OutboxMessage) {
	if err := o.repo.MarkOutboxSent(ctx, msg.OutboxID); err != nil {
		o.logger.Error("failed to mark outbox sent", zap.Error(err), zap.String("outbox_id", msg.OutboxID.String()))
		return
	}

	if msg.TaskID == nil {
		return
	}

	if err := o.repo.SetTaskDone(ctx, *msg.TaskID); err != nil && err != store.ErrStaleTransition {
		o.logger.Error("failed to mark task done", zap.Error(err), zap.String("task_id", msg.TaskID.String()))
	}
	o.recordEvent(ctx, *msg.TaskID, msg.UserID, store.EventSent)
	o.recordEvent(ctx, *msg.TaskID, msg.UserID, store.EventDone)
	metrics.RecordTaskTransition(store.TaskStatusDone)
}

func (o *Outbox) onFailure(ctx context.Context, msg *store.OutboxMessage) {
	newAttempts := msg.Attempts + 1

	if newAttempts >= o.cfg.MaxAttempts {
		if err := o.repo.MarkOutboxFailed(ctx, msg.OutboxID); err != nil {
			o.logger.Error("failed to mark outbox failed", zap.Error(err), zap.String("outbox_id", msg.OutboxID.String()))
			return
		}
		metrics.RecordOutboxOutcome(msg.Channel, "failed", newAttempts)

		if msg.TaskID == nil {
			return
		}
		if err := o.repo.SetTaskFailed(ctx, *msg.TaskID); err != nil {
			o.logger.Error("failed to mark task failed", zap.Error(err), zap.String("task_id", msg.TaskID.String()))
		}
		o.recordEvent(ctx, *msg.TaskID, msg.UserID, store.EventFailed)
		metrics.RecordTaskTransition(store.TaskStatusFailed)
		return
	}

	nextRetryAt := time.Now().Add(backoff(newAttempts))
	if err := o.repo.MarkOutboxRetry(ctx, msg.OutboxID, nextRetryAt); err != nil {
		o.logger.Error("failed to schedule outbox retry", zap.Error(err), zap.String("outbox_id", msg.OutboxID.String()))
		return
	}
	if msg.TaskID != nil {
		o.recordEvent(ctx, *msg.TaskID, msg.UserID, store.EventRetried)
	}
}

// backoff implements spec §4.6: backoff(n) = min(30_000 * 2^n, 600_000) ms.
func backoff(attempt int) time.Duration {
	ms := 30_000 * math.Pow(2, float64(attempt))
	if ms > 600_000 {
		ms = 600_000
	}
	return time.Duration(ms) * time.Millisecond
}

// reap implements the stuck-sending recovery strategy documented for
// spec §4.6: rows left in sending past 10x the poll period are assumed
// abandoned by a crashed sender and returned to queued without
// incrementing attempts, since the delivery outcome is unknown.
func (o *Outbox) reap(ctx context.Context) {
	n, err := o.repo.ReclaimStuckSending(ctx, o.cfg.ReapThreshold)
	if err != nil {
		o.logger.Error("stuck-sending reap failed", zap.Error(err))
		return
	}
	if n > 0 {
		o.logger.Warn("reclaimed stuck sending outbox rows", zap.Int64("count", n))
	}
}

func (o *Outbox) recordEvent(ctx context.Context, taskID, userID uuid.UUID, eventType string) {
	if err := o.repo.RecordEvent(ctx, &store.TaskEvent{
		EventID:   uuid.New(),
		TaskID:    taskID,
		UserID:    userID,
		EventType: eventType,
	}); err != nil {
		o.logger.Warn("failed to record task event",
			zap.Error(err),
			zap.String("task_id", taskID.String()),
			zap.String("event_type", eventType),
		)
	}
}
