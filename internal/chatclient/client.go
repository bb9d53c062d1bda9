// Package chatclient talks to the chat HTTP API: the /chat/stream SSE
// endpoint and the session endpoints.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/suPer8Hu/companion-chat/internal/apierr"
	"github.com/suPer8Hu/companion-chat/internal/protocol"
)

const headerAnonymousToken = "X-Anonymous-Token"

type Client struct {
	BaseURL string
	HTTP    *http.Client
	// Bearer is a JWT for authenticated callers.
	Bearer string
	// AnonToken is the caller-held secret for anonymous sessions.
	AnonToken string
}

func New(baseURL string) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: &http.Client{}}
}

type Session struct {
	SessionID      string    `json:"session_id"`
	Title          *string   `json:"title"`
	IsAnonymous    bool      `json:"is_anonymous"`
	LastActivityAt time.Time `json:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at"`
}

type streamBody struct {
	SessionID      string `json:"sessionId"`
	UserMessage    string `json:"userMessage"`
	IsFirstMessage bool   `json:"isFirstMessage"`
}

// Stream posts one turn. A non-200 response is returned as an
// *apierr.Error before any event. Once open, the channel yields events
// until a terminal one; transport failures and streams that end without
// a terminal event are delivered as a final error event.
func (c *Client) Stream(ctx context.Context, sessionID, text string, isFirst bool) (<-chan protocol.Event, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/chat/stream", streamBody{
		SessionID:      sessionID,
		UserMessage:    text,
		IsFirstMessage: isFirst,
	})
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}

	out := make(chan protocol.Event, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		dec := protocol.NewDecoder(resp.Body)
		for {
			ev, err := dec.Next()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				msg := "stream ended unexpectedly"
				if !errors.Is(err, io.EOF) {
					msg = "connection lost: " + err.Error()
				}
				ev = protocol.Error(msg)
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
			if ev.Terminal() {
				return
			}
		}
	}()
	return out, nil
}

func (c *Client) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	path := "/chat/sessions"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var data struct {
		Sessions []Session `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &data); err != nil {
		return nil, err
	}
	return data.Sessions, nil
}

func (c *Client) ListMessages(ctx context.Context, sessionID string) ([]protocol.Message, error) {
	var data struct {
		Messages []protocol.Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, "/chat/sessions/"+url.PathEscape(sessionID)+"/messages", nil, &data); err != nil {
		return nil, err
	}
	return data.Messages, nil
}

func (c *Client) Rename(ctx context.Context, sessionID, title string) (*Session, error) {
	var data struct {
		Session Session `json:"session"`
	}
	body := map[string]string{"title": title}
	if err := c.do(ctx, http.MethodPatch, "/chat/sessions/"+url.PathEscape(sessionID), body, &data); err != nil {
		return nil, err
	}
	return &data.Session, nil
}

type envelope struct {
	Code  int             `json:"code"`
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, into any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	if into == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, into)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	}
	if c.AnonToken != "" {
		req.Header.Set(headerAnonymousToken, c.AnonToken)
	}
	return req, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

// decodeError maps an error response onto the apierr sentinels so callers
// can use errors.Is.
func decodeError(resp *http.Response) error {
	var env envelope
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
	_ = json.Unmarshal(b, &env)
	msg := strings.TrimSpace(env.Error)
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	code := "http_error"
	switch resp.StatusCode {
	case http.StatusBadRequest:
		code = apierr.ErrValidation.Code
	case http.StatusUnauthorized:
		code = apierr.ErrUnauthorized.Code
	case http.StatusForbidden:
		code = apierr.ErrForbidden.Code
	case http.StatusNotFound:
		code = apierr.ErrSessionNotFound.Code
	case http.StatusInternalServerError:
		code = apierr.ErrPersistence.Code
	}
	return apierr.New(resp.StatusCode, code, errors.New(msg))
}
