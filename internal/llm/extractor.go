package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/nudge/internal/store"
)

// ExtractionResult is the structured output of the extractor: either a
// confident task (needs_clarification=false, due_at_iso set) or a
// request for the user to clarify (needs_clarification=true).
type ExtractionResult struct {
	NeedsClarification bool   `json:"needs_clarification"`
	ClarifyingQuestion string `json:"clarifying_question,omitempty"`
	DueAtISO           string `json:"due_at_iso"`
	ActionType         string `json:"action_type"`
	ContactHint        string `json:"contact_hint"`
	Context            string `json:"context"`
}

// fallbackQuestion is used whenever the extractor call fails outright
// or returns something that does not satisfy the contract below.
const fallbackQuestion = "I couldn't tell when or how you'd like this handled — could you clarify the date/time and what you'd like me to do?"

const extractorSystemPrompt = `You turn a short message into a structured follow-up task.
Given the message text, the user's timezone, and the current time, decide:
- whether you have enough information to schedule a follow-up (needs_clarification=false), or
- whether you need to ask the user something first (needs_clarification=true)

When needs_clarification is false, due_at_iso MUST be a parseable ISO-8601 timestamp with a UTC offset,
action_type MUST be one of "remind", "remind_and_draft", "send", and contact_hint/context should summarize
who this follow-up is about and why.

When needs_clarification is true, due_at_iso MUST be null and clarifying_question MUST be a short question.

Respond with ONLY a JSON object with keys: needs_clarification, clarifying_question, due_at_iso, action_type, contact_hint, context.`

// Extractor turns redacted inbound text into a structured task via the
// chat completion API.
type Extractor struct {
	client *Client
	logger *zap.Logger
}

// NewExtractor creates a new Extractor over an existing chat client.
func NewExtractor(client *Client, logger *zap.Logger) *Extractor {
	return &Extractor{client: client, logger: logger}
}

// Extract calls the LLM with the redacted text plus timezone/now
// context and parses its structured response. Any failure — a
// transport error, a non-JSON reply, or a reply that violates the
// contract (needs_clarification=false without a parseable due_at_iso,
// or needs_clarification=true without a question) — is not
// propagated as an error: it is turned into a clarification result
// with the fixed fallback question, per the contract that extractor
// failure must still produce a usable outcome for the pipeline.
func (e *Extractor) Extract(ctx context.Context, text, timezone string, now time.Time) ExtractionResult {
	userPrompt := fmt.Sprintf(
		"Message: %s\nUser timezone: %s\nCurrent time (ISO-8601): %s",
		text, timezone, now.Format(time.RFC3339),
	)

	raw, err := e.client.ChatCompletion(ctx, []ChatMessage{
		{Role: "system", Content: extractorSystemPrompt},
		{Role: "user", Content: userPrompt},
	}, true)
	if err != nil {
		e.logger.Warn("extractor call failed, falling back to clarification", zap.Error(err))
		return fallbackResult()
	}

	var result ExtractionResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		e.logger.Warn("extractor returned malformed JSON, falling back to clarification", zap.Error(err))
		return fallbackResult()
	}

	if !valid(result) {
		e.logger.Warn("extractor result violates contract, falling back to clarification")
		return fallbackResult()
	}

	return result
}

func valid(r ExtractionResult) bool {
	if r.NeedsClarification {
		return r.ClarifyingQuestion != ""
	}
	if _, err := time.Parse(time.RFC3339, r.DueAtISO); err != nil {
		return false
	}
	switch r.ActionType {
	case store.ActionRemind, store.ActionRemindAndDraft, store.ActionSend:
		return true
	default:
		return false
	}
}

func fallbackResult() ExtractionResult {
	return ExtractionResult{
		NeedsClarification: true,
		ClarifyingQuestion: fallbackQuestion,
	}
}
