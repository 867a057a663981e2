// Package ingresshttp implements the webhook HTTP surface that accepts
// inbound channel events, resolves the sending user, deduplicates, and
// hands validated events to the ingest queue.
package ingresshttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/nudge/internal/metrics"
	"github.com/lalithlochan/nudge/internal/queue"
	"github.com/lalithlochan/nudge/internal/redis"
	"github.com/lalithlochan/nudge/internal/store"
)

// Repository is the subset of store.Repository the ingress handlers need.
type Repository interface {
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
	GetUserByChatNumber(ctx context.Context, number string) (*store.User, error)
	CreateInbound(ctx context.Context, msg *store.InboundMessage) error
}

// Enqueuer is the subset of queue.Queue the ingress handler needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, stream string, job queue.Job) error
}

// IngestStream is the Redis stream ingest jobs are published to.
const IngestStream = "ingest"

// ingestJobPayload is the body of an enqueued ingest job.
type ingestJobPayload struct {
	InboundID string `json:"inbound_id"`
	UserID    string `json:"user_id"`
}

// Handler holds the dependencies shared by the email and chat webhook
// endpoints.
type Handler struct {
	repo    Repository
	idem    *redis.IdempotencyService // nil disables the Redis fast-path cache
	queue   Enqueuer
	limiter *redis.RateLimiter // nil disables the per-user limit; RateLimitMiddleware still runs per-IP
	logger  *zap.Logger
}

// NewHandler creates an ingress handler. idem may be nil to run without
// the Redis fast-path idempotency cache (the store's unique constraint
// remains authoritative either way). limiter may be nil to run without
// the per-user rate limit.
func NewHandler(repo Repository, idem *redis.IdempotencyService, queue Enqueuer, limiter *redis.RateLimiter, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, idem: idem, queue: queue, limiter: limiter, logger: logger}
}

// EmailWebhookRequest is the body of POST /webhook/email.
type EmailWebhookRequest struct {
	MessageID string `json:"messageId"`
	From      string `json:"from"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	TextBody  string `json:"textBody"`
	Timestamp string `json:"timestamp"`
}

// webhookResponse is the JSON body returned by both webhook endpoints.
type webhookResponse struct {
	Status    string `json:"status"`
	InboundID string `json:"inbound_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// HandleEmailWebhook handles POST /webhook/email.
func (h *Handler) HandleEmailWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req EmailWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	if req.MessageID == "" || req.From == "" || req.TextBody == "" {
		h.writeError(w, http.StatusBadRequest, "messageId, from, and textBody are required")
		return
	}

	result, err := h.accept(ctx, store.ChannelEmail, req.MessageID, req.From, req.TextBody)
	if err != nil {
		h.logger.Error("email ingress failed",
			zap.Error(err),
			zap.String("message_id", req.MessageID),
		)
		h.writeError(w, http.StatusInternalServerError, "failed to persist inbound message")
		return
	}

	if result.status == "rejected" && result.reason == "rate_limited" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(webhookResponse{Status: result.status, Reason: result.reason})
		return
	}

	h.writeResult(w, result)
}

// ChatWebhookRequest is the WhatsApp-Cloud-API-shaped body of
// POST /webhook/chat.
type ChatWebhookRequest struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []struct {
					ID   string `json:"id"`
					From string `json:"from"`
					Type string `json:"type"`
					Text struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// HandleChatWebhook handles POST /webhook/chat. The provider batches an
// arbitrary number of events into one request; each is processed
// independently so a failure on one never rolls back the others.
func (h *Handler) HandleChatWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ChatWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	failed := false
	for _, entry := range req.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				if msg.Type != "text" {
					continue
				}
				if _, err := h.accept(ctx, store.ChannelChat, msg.ID, msg.From, msg.Text.Body); err != nil {
					h.logger.Error("chat ingress failed",
						zap.Error(err),
						zap.String("message_id", msg.ID),
					)
					failed = true
				}
			}
		}
	}

	// Success is returned only once every event is durably persisted; if
	// any event failed, the request fails so the provider retries it, and
	// events already accepted are recognized as duplicates on that retry.
	if failed {
		h.writeError(w, http.StatusInternalServerError, "failed to persist one or more inbound messages")
		return
	}
	h.writeResult(w, ingestResult{status: "accepted"})
}

// HandleChatVerify answers the webhook subscription challenge the chat
// provider issues when a webhook is registered.
func (h *Handler) HandleChatVerify(verifyToken string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mode := r.URL.Query().Get("hub.mode")
		token := r.URL.Query().Get("hub.verify_token")
		challenge := r.URL.Query().Get("hub.challenge")

		if mode != "subscribe" || verifyToken == "" || token != verifyToken {
			w.WriteHeader(http.StatusForbidden)
			return
		}

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(challenge))
	}
}

// ingestResult is the outcome of accepting one inbound event.
type ingestResult struct {
	status    string
	inboundID uuid.UUID
	reason    string
}

// accept implements spec §4.1: resolve user, dedup, persist, enqueue.
func (h *Handler) accept(ctx context.Context, channel, providerMessageID, senderAddress, text string) (ingestResult, error) {
	user, err := h.resolveUser(ctx, channel, senderAddress)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.RecordInboundRejected(channel, "unknown_sender")
			return ingestResult{status: "ignored", reason: "unknown_sender"}, nil
		}
		return ingestResult{}, err
	}

	if h.limiter != nil {
		allowed, err := h.checkUserRateLimit(ctx, user.UserID.String())
		if err != nil {
			h.logger.Warn("user rate limit check failed, proceeding", zap.Error(err))
		} else if !allowed {
			metrics.RecordInboundRejected(channel, "rate_limited")
			return ingestResult{status: "rejected", reason: "rate_limited"}, nil
		}
	}

	idempotencyKey := user.UserID.String() + ":" + providerMessageID

	if h.idem != nil {
		if cached, err := h.idem.Check(ctx, user.UserID.String(), idempotencyKey); err != nil {
			h.logger.Warn("idempotency check failed, proceeding to store", zap.Error(err))
		} else if cached != nil {
			metrics.RecordInboundDuplicate(channel)
			metrics.RecordIdempotencyHit()
			return ingestResult{status: "duplicate"}, nil
		}
	}

	msg := &store.InboundMessage{
		InboundID:         uuid.New(),
		UserID:            user.UserID,
		Channel:           channel,
		ProviderMessageID: providerMessageID,
		IdempotencyKey:    idempotencyKey,
		RawTextRedacted:   text,
		Status:            store.InboundStatusReceived,
	}

	if err := h.repo.CreateInbound(ctx, msg); err != nil {
		if errors.Is(err, store.ErrDuplicateInbound) {
			metrics.RecordInboundDuplicate(channel)
			return ingestResult{status: "duplicate"}, nil
		}
		return ingestResult{}, err
	}

	payload, err := json.Marshal(ingestJobPayload{InboundID: msg.InboundID.String(), UserID: user.UserID.String()})
	if err != nil {
		return ingestResult{}, err
	}

	if err := h.queue.Enqueue(ctx, IngestStream, queue.Job{ID: idempotencyKey, Payload: payload}); err != nil && !errors.Is(err, queue.ErrDuplicateJob) {
		return ingestResult{}, err
	}

	if h.idem != nil {
		if err := h.idem.Store(ctx, user.UserID.String(), idempotencyKey, &redis.IdempotencyResult{
			InboundID:  msg.InboundID.String(),
			StatusCode: http.StatusOK,
		}, redis.IdempotencyTTLExact); err != nil {
			h.logger.Warn("failed to store idempotency result", zap.Error(err))
		}
	}

	metrics.RecordInboundAccepted(channel)
	return ingestResult{status: "accepted", inboundID: msg.InboundID}, nil
}

func (h *Handler) resolveUser(ctx context.Context, channel, senderAddress string) (*store.User, error) {
	if channel == store.ChannelChat {
		return h.repo.GetUserByChatNumber(ctx, senderAddress)
	}
	return h.repo.GetUserByEmail(ctx, senderAddress)
}

// checkUserRateLimit applies the per-sender-address limit named in the
// per-user key space, distinct from RateLimitMiddleware's per-IP key
// space, once resolveUser has identified the sending user.
func (h *Handler) checkUserRateLimit(ctx context.Context, userID string) (bool, error) {
	result, err := h.limiter.Allow(ctx, "user:"+userID)
	if err != nil {
		return true, err
	}
	return result.Allowed, nil
}

func (h *Handler) writeResult(w http.ResponseWriter, res ingestResult) {
	resp := webhookResponse{Status: res.status, Reason: res.reason}
	if res.inboundID != uuid.Nil {
		resp.InboundID = res.inboundID.String()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "detail": detail})
}
