package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// Draft is the drafter's structured output: a short outbound message.
type Draft struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

const drafterSystemPrompt = `You draft a short outbound follow-up message on behalf of a user.
Given who/what the follow-up is about, its context, and the desired tone, write a subject line and
a body under 100 words. Respond with ONLY a JSON object with keys: subject, body.`

// Drafter turns a task's contact hint and context into a ready-to-send
// message body via the chat completion API.
type Drafter struct {
	client *Client
	logger *zap.Logger
}

// NewDrafter creates a new Drafter over an existing chat client.
func NewDrafter(client *Client, logger *zap.Logger) *Drafter {
	return &Drafter{client: client, logger: logger}
}

// Draft calls the LLM to produce a subject/body pair. On any failure
// — transport error or malformed JSON — it returns a deterministic
// fallback so the executor can still produce an outbox message rather
// than stalling the task.
func (d *Drafter) Draft(ctx context.Context, contactHint, taskContext, tone string) Draft {
	userPrompt := fmt.Sprintf("Contact: %s\nContext: %s\nTone: %s", contactHint, taskContext, tone)

	raw, err := d.client.ChatCompletion(ctx, []ChatMessage{
		{Role: "system", Content: drafterSystemPrompt},
		{Role: "user", Content: userPrompt},
	}, true)
	if err != nil {
		d.logger.Warn("drafter call failed, falling back to template", zap.Error(err))
		return fallbackDraft(contactHint, taskContext)
	}

	var draft Draft
	if err := json.Unmarshal([]byte(raw), &draft); err != nil || draft.Body == "" {
		d.logger.Warn("drafter returned malformed output, falling back to template", zap.Error(err))
		return fallbackDraft(contactHint, taskContext)
	}

	return draft
}

func fallbackDraft(contactHint, taskContext string) Draft {
	return Draft{
		Subject: fmt.Sprintf("Follow-up: %s", contactHint),
		Body:    fmt.Sprintf("Following up regarding %s. %s", contactHint, taskContext),
	}
}
