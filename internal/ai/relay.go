package ai

import (
	"context"
	"unicode/utf8"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type EventType string

const (
	EventToken EventType = "token"
	EventDone  EventType = "done"
	EventError EventType = "error"
)

// StreamEvent is one item of a relay stream. A stream carries any number
// of token events followed by exactly one done or error event, then closes.
type StreamEvent struct {
	Type EventType

	// token: the increment. done: the full assistant text.
	Content string

	PromptTokens     int
	CompletionTokens int
	ThreadID         string

	Err error
}

type RelayRequest struct {
	AssistantID string
	// ThreadID is the provider-side conversation; empty starts a new one.
	ThreadID     string
	Message      string
	SystemPrompt string
	// History is oldest-first prior turns, used by relays without
	// provider-side threads.
	History []Message
}

// Relay forwards one user message to a hosted model and streams the reply.
// Implementations do not retry; a provider failure is surfaced as a single
// error event.
type Relay interface {
	Stream(ctx context.Context, req RelayRequest) <-chan StreamEvent
}

// Usage is what a provider reports for a completed response.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// EstimateTokens approximates a token count as ceil(chars/4). It is a
// display heuristic for providers that omit usage, not a billing figure.
// Relays apply it to the user's message alone, so the prompt estimate
// leaves out system prompt and history in every mode.
func EstimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + 3) / 4
}

// doneEvent builds the terminal event, estimating counts when the
// provider reported none.
func doneEvent(content, input, threadID string, usage *Usage) StreamEvent {
	ev := StreamEvent{Type: EventDone, Content: content, ThreadID: threadID}
	if usage != nil {
		ev.PromptTokens = usage.PromptTokens
		ev.CompletionTokens = usage.CompletionTokens
	} else {
		ev.PromptTokens = EstimateTokens(input)
		ev.CompletionTokens = EstimateTokens(content)
	}
	return ev
}

type emitter struct {
	ctx context.Context
	out chan<- StreamEvent
}

// send delivers ev unless the consumer went away.
func (e emitter) send(ev StreamEvent) bool {
	select {
	case e.out <- ev:
		return true
	case <-e.ctx.Done():
		return false
	}
}

func (e emitter) fail(err error) {
	e.send(StreamEvent{Type: EventError, Err: err})
}

// buildMessages lays out system prompt, history and the new user turn.
func buildMessages(req RelayRequest) []Message {
	out := make([]Message, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		out = append(out, Message{Role: "system", Content: req.SystemPrompt})
	}
	out = append(out, req.History...)
	out = append(out, Message{Role: "user", Content: req.Message})
	return out
}
