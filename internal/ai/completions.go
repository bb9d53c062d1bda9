package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// CompletionRelay streams from any OpenAI-compatible chat completions
// endpoint (OpenAI itself, OpenRouter). History comes from the caller.
type CompletionRelay struct {
	name   string
	model  string
	client *openai.Client
}

type CompletionOptions struct {
	Name    string
	APIKey  string
	BaseURL string
	Model   string
	// Extra headers sent on every request, e.g. OpenRouter's
	// HTTP-Referer and X-Title.
	Headers map[string]string
}

func NewCompletionRelay(opts CompletionOptions) *CompletionRelay {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	if len(opts.Headers) > 0 {
		cfg.HTTPClient = &http.Client{Transport: headerTransport{base: http.DefaultTransport, headers: opts.Headers}}
	}
	name := opts.Name
	if name == "" {
		name = "openai"
	}
	return &CompletionRelay{name: name, model: opts.Model, client: openai.NewClientWithConfig(cfg)}
}

func (p *CompletionRelay) Stream(ctx context.Context, req RelayRequest) <-chan StreamEvent {
	out := make(chan StreamEvent, 16)

	go func() {
		defer close(out)
		em := emitter{ctx: ctx, out: out}

		if strings.TrimSpace(p.model) == "" {
			em.fail(fmt.Errorf("%s: model is required", p.name))
			return
		}

		msgs := buildMessages(req)
		chat := make([]openai.ChatCompletionMessage, 0, len(msgs))
		for _, m := range msgs {
			chat = append(chat, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
		}

		stream, err := p.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
			Model:         p.model,
			Messages:      chat,
			Stream:        true,
			StreamOptions: &openai.StreamOptions{IncludeUsage: true},
		})
		if err != nil {
			em.fail(fmt.Errorf("%s: create stream: %w", p.name, err))
			return
		}
		defer stream.Close()

		var (
			full  strings.Builder
			usage *Usage
		)
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				em.send(doneEvent(full.String(), req.Message, "", usage))
				return
			}
			if err != nil {
				if ctx.Err() == nil {
					em.fail(fmt.Errorf("%s: stream: %w", p.name, err))
				}
				return
			}
			if resp.Usage != nil {
				usage = &Usage{PromptTokens: resp.Usage.PromptTokens, CompletionTokens: resp.Usage.CompletionTokens}
			}
			if len(resp.Choices) == 0 {
				continue
			}
			if c := resp.Choices[0].Delta.Content; c != "" {
				full.WriteString(c)
				if !em.send(StreamEvent{Type: EventToken, Content: c}) {
					return
				}
			}
		}
	}()

	return out
}

type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t headerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	for k, v := range t.headers {
		if v != "" {
			r.Header.Set(k, v)
		}
	}
	return t.base.RoundTrip(r)
}

var _ Relay = (*CompletionRelay)(nil)
