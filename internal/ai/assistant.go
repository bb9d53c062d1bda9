package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// AssistantRelay talks to a hosted assistant through the Assistants API.
// Threads and messages go through go-openai; the run itself is streamed
// over raw SSE because the client library does not expose run events.
type AssistantRelay struct {
	client  *openai.Client
	http    *http.Client
	baseURL string
	apiKey  string
}

func NewAssistantRelay(apiKey, baseURL string) *AssistantRelay {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &AssistantRelay{
		client:  openai.NewClientWithConfig(cfg),
		http:    &http.Client{},
		baseURL: cfg.BaseURL,
		apiKey:  apiKey,
	}
}

// RetrieveAssistant checks that the configured assistant exists.
func (p *AssistantRelay) RetrieveAssistant(ctx context.Context, id string) (openai.Assistant, error) {
	if strings.TrimSpace(id) == "" {
		return openai.Assistant{}, errors.New("assistant: assistant id is required")
	}
	return p.client.RetrieveAssistant(ctx, id)
}

type runRequest struct {
	AssistantID            string `json:"assistant_id"`
	Stream                 bool   `json:"stream"`
	AdditionalInstructions string `json:"additional_instructions,omitempty"`
}

type messageDelta struct {
	Delta struct {
		Content []struct {
			Type string `json:"type"`
			Text struct {
				Value string `json:"value"`
			} `json:"text"`
		} `json:"content"`
	} `json:"delta"`
}

type runObject struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Usage  *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	LastError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error"`
}

type errorObject struct {
	Message string `json:"message"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *AssistantRelay) Stream(ctx context.Context, req RelayRequest) <-chan StreamEvent {
	out := make(chan StreamEvent, 16)

	go func() {
		defer close(out)
		em := emitter{ctx: ctx, out: out}

		if strings.TrimSpace(req.AssistantID) == "" {
			em.fail(errors.New("assistant: assistant id is required"))
			return
		}

		threadID := req.ThreadID
		if threadID == "" {
			th, err := p.client.CreateThread(ctx, openai.ThreadRequest{})
			if err != nil {
				em.fail(fmt.Errorf("assistant: create thread: %w", err))
				return
			}
			threadID = th.ID
		}

		if _, err := p.client.CreateMessage(ctx, threadID, openai.MessageRequest{Role: "user", Content: req.Message}); err != nil {
			em.fail(fmt.Errorf("assistant: add message: %w", err))
			return
		}

		resp, err := p.startRun(ctx, threadID, runRequest{
			AssistantID:            req.AssistantID,
			Stream:                 true,
			AdditionalInstructions: req.SystemPrompt,
		})
		if err != nil {
			em.fail(err)
			return
		}
		defer resp.Body.Close()

		var (
			full     strings.Builder
			finished bool
		)
		err = streamSSE(resp.Body, func(event, data string) error {
			switch event {
			case "thread.message.delta":
				var d messageDelta
				if err := json.Unmarshal([]byte(data), &d); err != nil {
					return fmt.Errorf("assistant: decode delta: %w", err)
				}
				for _, c := range d.Delta.Content {
					if c.Type != "text" || c.Text.Value == "" {
						continue
					}
					full.WriteString(c.Text.Value)
					if !em.send(StreamEvent{Type: EventToken, Content: c.Text.Value}) {
						return ctx.Err()
					}
				}
			case "thread.run.completed":
				var run runObject
				if err := json.Unmarshal([]byte(data), &run); err != nil {
					return fmt.Errorf("assistant: decode run: %w", err)
				}
				var usage *Usage
				if run.Usage != nil {
					usage = &Usage{PromptTokens: run.Usage.PromptTokens, CompletionTokens: run.Usage.CompletionTokens}
				}
				finished = true
				em.send(doneEvent(full.String(), req.Message, threadID, usage))
				return errStopStream
			case "thread.run.failed", "thread.run.cancelled", "thread.run.expired", "thread.run.incomplete":
				var run runObject
				_ = json.Unmarshal([]byte(data), &run)
				msg := strings.TrimPrefix(event, "thread.run.")
				if run.LastError != nil && run.LastError.Message != "" {
					msg += ": " + run.LastError.Message
				}
				return fmt.Errorf("assistant: run %s", msg)
			case "thread.run.requires_action":
				return errors.New("assistant: run requires tool action, which is not supported")
			case "error":
				var e errorObject
				_ = json.Unmarshal([]byte(data), &e)
				msg := e.Message
				if e.Error != nil && e.Error.Message != "" {
					msg = e.Error.Message
				}
				if msg == "" {
					msg = data
				}
				return fmt.Errorf("assistant: %s", msg)
			case "done":
				return errStopStream
			}
			return nil
		})

		switch {
		case finished:
		case ctx.Err() != nil:
		case err != nil:
			em.fail(err)
		default:
			em.fail(errors.New("assistant: run stream ended before completion"))
		}
	}()

	return out
}

func (p *AssistantRelay) startRun(ctx context.Context, threadID string, body runRequest) (*http.Response, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/threads/%s/runs", p.baseURL, threadID)
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Authorization", "Bearer "+p.apiKey)
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "text/event-stream")
	hreq.Header.Set("OpenAI-Beta", "assistants=v2")

	resp, err := p.http.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("assistant: start run: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, statusError("assistant", resp)
	}
	return resp, nil
}

var _ Relay = (*AssistantRelay)(nil)
