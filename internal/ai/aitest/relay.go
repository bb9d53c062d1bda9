// Package aitest provides a scripted ai.Relay for tests.
package aitest

import (
	"context"
	"strings"
	"sync"

	"github.com/suPer8Hu/companion-chat/internal/ai"
)

// Relay replays Tokens then a done event, or Err after the tokens when
// Err is set. Calls are recorded.
type Relay struct {
	Tokens   []string
	Err      error
	ThreadID string
	Usage    *ai.Usage
	// Block, when non-nil, is waited on before the terminal event.
	Block chan struct{}

	mu    sync.Mutex
	calls []ai.RelayRequest
}

func (r *Relay) Stream(ctx context.Context, req ai.RelayRequest) <-chan ai.StreamEvent {
	r.mu.Lock()
	r.calls = append(r.calls, req)
	r.mu.Unlock()

	out := make(chan ai.StreamEvent, len(r.Tokens)+1)
	go func() {
		defer close(out)
		send := func(ev ai.StreamEvent) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for _, tok := range r.Tokens {
			if !send(ai.StreamEvent{Type: ai.EventToken, Content: tok}) {
				return
			}
		}
		if r.Block != nil {
			select {
			case <-r.Block:
			case <-ctx.Done():
				return
			}
		}
		if r.Err != nil {
			send(ai.StreamEvent{Type: ai.EventError, Err: r.Err})
			return
		}
		full := strings.Join(r.Tokens, "")
		ev := ai.StreamEvent{Type: ai.EventDone, Content: full, ThreadID: r.ThreadID}
		if r.Usage != nil {
			ev.PromptTokens, ev.CompletionTokens = r.Usage.PromptTokens, r.Usage.CompletionTokens
		} else {
			ev.PromptTokens, ev.CompletionTokens = ai.EstimateTokens(req.Message), ai.EstimateTokens(full)
		}
		send(ev)
	}()
	return out
}

func (r *Relay) Calls() []ai.RelayRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ai.RelayRequest(nil), r.calls...)
}

var _ ai.Relay = (*Relay)(nil)
