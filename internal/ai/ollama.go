package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// OllamaRelay streams from a local Ollama server. Ollama has no
// server-side threads, so the caller passes the history window.
type OllamaRelay struct {
	BaseURL string
	Model   string
	Client  *http.Client
}

type ollamaMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatReq struct {
	Model    string      `json:"model"`
	Messages []ollamaMsg `json:"messages"`
	Stream   bool        `json:"stream"`
}

type ollamaStreamResp struct {
	Message         ollamaMsg `json:"message"`
	Done            bool      `json:"done"`
	Error           string    `json:"error,omitempty"`
	PromptEvalCount int       `json:"prompt_eval_count,omitempty"`
	EvalCount       int       `json:"eval_count,omitempty"`
}

func NewOllamaRelay(baseURL, model string) *OllamaRelay {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3:latest"
	}
	// no global timeout; ctx bounds the stream
	return &OllamaRelay{BaseURL: strings.TrimRight(baseURL, "/"), Model: model, Client: &http.Client{}}
}

func (p *OllamaRelay) Stream(ctx context.Context, req RelayRequest) <-chan StreamEvent {
	out := make(chan StreamEvent, 16)

	go func() {
		defer close(out)
		em := emitter{ctx: ctx, out: out}

		if p.Client == nil {
			em.fail(errors.New("ollama: http client is nil"))
			return
		}

		msgs := buildMessages(req)
		body := ollamaChatReq{Model: p.Model, Stream: true, Messages: make([]ollamaMsg, 0, len(msgs))}
		for _, m := range msgs {
			body.Messages = append(body.Messages, ollamaMsg{Role: m.Role, Content: m.Content})
		}
		b, err := json.Marshal(body)
		if err != nil {
			em.fail(err)
			return
		}

		hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/api/chat", bytes.NewReader(b))
		if err != nil {
			em.fail(err)
			return
		}
		hreq.Header.Set("Content-Type", "application/json")

		resp, err := p.Client.Do(hreq)
		if err != nil {
			em.fail(fmt.Errorf("ollama: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			em.fail(statusError("ollama", resp))
			return
		}

		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

		var full strings.Builder
		for sc.Scan() {
			line := sc.Bytes()
			if len(line) == 0 {
				continue
			}
			var decoded ollamaStreamResp
			if err := json.Unmarshal(line, &decoded); err != nil {
				em.fail(fmt.Errorf("ollama: decode chunk: %w", err))
				return
			}
			if decoded.Error != "" {
				em.fail(fmt.Errorf("ollama: %s", decoded.Error))
				return
			}
			if c := decoded.Message.Content; c != "" {
				full.WriteString(c)
				if !em.send(StreamEvent{Type: EventToken, Content: c}) {
					return
				}
			}
			if decoded.Done {
				var usage *Usage
				if decoded.PromptEvalCount > 0 || decoded.EvalCount > 0 {
					usage = &Usage{PromptTokens: decoded.PromptEvalCount, CompletionTokens: decoded.EvalCount}
				}
				em.send(doneEvent(full.String(), req.Message, "", usage))
				return
			}
		}
		if err := sc.Err(); err != nil && ctx.Err() == nil {
			em.fail(fmt.Errorf("ollama: %w", err))
			return
		}
		if ctx.Err() == nil {
			em.fail(errors.New("ollama: stream ended before done"))
		}
	}()

	return out
}

// statusError reads a short prefix of a non-2xx body for the error text.
func statusError(provider string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return fmt.Errorf("%s: status %d: %s", provider, resp.StatusCode, msg)
}

var _ Relay = (*OllamaRelay)(nil)
