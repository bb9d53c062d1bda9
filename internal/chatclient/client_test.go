package chatclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/companion-chat/internal/apierr"
	"github.com/suPer8Hu/companion-chat/internal/protocol"
)

func collect(t *testing.T, ch <-chan protocol.Event) []protocol.Event {
	t.Helper()
	var out []protocol.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("stream did not finish")
		}
	}
}

func TestStream_EventsAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/stream", r.URL.Path)
		assert.Equal(t, "Bearer jwt-1", r.Header.Get("Authorization"))
		assert.Equal(t, "anon-1", r.Header.Get("X-Anonymous-Token"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"sessionId":"s1","userMessage":"hello","isFirstMessage":true}`, string(body))

		w.Header().Set("Content-Type", "text/event-stream")
		_ = protocol.Encode(w, protocol.Token("Hi"))
		_ = protocol.Heartbeat(w)
		_ = protocol.Encode(w, protocol.Done(protocol.Message{ID: "u"}, protocol.Message{ID: "a", Content: "Hi"}, 3))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.Bearer, c.AnonToken = "jwt-1", "anon-1"
	ch, err := c.Stream(context.Background(), "s1", "hello", true)
	require.NoError(t, err)

	evs := collect(t, ch)
	require.Len(t, evs, 2)
	require.Equal(t, protocol.EventToken, evs[0].Type)
	require.Equal(t, protocol.EventDone, evs[1].Type)
	require.Equal(t, 3, evs[1].Tokens())
}

func TestStream_PreStreamErrors(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusBadRequest, `{"code":40001,"error":"Missing required fields"}`, apierr.ErrValidation},
		{http.StatusUnauthorized, `{"code":40101,"error":"Unauthorized"}`, apierr.ErrUnauthorized},
		{http.StatusForbidden, `{"code":40301,"error":"Forbidden"}`, apierr.ErrForbidden},
		{http.StatusNotFound, `{"code":40401,"error":"Session not found"}`, apierr.ErrSessionNotFound},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			_, err := New(srv.URL).Stream(context.Background(), "s1", "hi", false)
			require.Error(t, err)
			require.True(t, errors.Is(err, tc.want), "got %v", err)
			require.Equal(t, tc.status, apierr.StatusOf(err))
		})
	}
}

func TestStream_TruncatedBecomesError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_ = protocol.Encode(w, protocol.Token("one"))
	}))
	defer srv.Close()

	ch, err := New(srv.URL).Stream(context.Background(), "s1", "hi", false)
	require.NoError(t, err)
	evs := collect(t, ch)
	require.Len(t, evs, 2)
	require.Equal(t, protocol.EventError, evs[1].Type)
	require.True(t, strings.Contains(evs[1].Error, "ended"))
}

func TestSessionEndpoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/chat/sessions":
			assert.Equal(t, "5", r.URL.Query().Get("limit"))
			_, _ = io.WriteString(w, `{"code":0,"data":{"sessions":[{"session_id":"s1","title":"Hello"}]}}`)
		case r.Method == http.MethodGet && r.URL.Path == "/chat/sessions/s1/messages":
			_, _ = io.WriteString(w, `{"code":0,"data":{"messages":[{"id":"m1","role":"user","content":"hi"}]}}`)
		case r.Method == http.MethodPatch && r.URL.Path == "/chat/sessions/s1":
			_, _ = io.WriteString(w, `{"code":0,"data":{"session":{"session_id":"s1","title":"Renamed"}}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	ctx := context.Background()

	sessions, err := c.ListSessions(ctx, 5)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, "Hello", *sessions[0].Title)

	msgs, err := c.ListMessages(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "hi", msgs[0].Content)

	sess, err := c.Rename(ctx, "s1", "Renamed")
	require.NoError(t, err)
	require.Equal(t, "Renamed", *sess.Title)

	_, err = c.ListMessages(ctx, "missing")
	require.True(t, errors.Is(err, apierr.ErrSessionNotFound))
}
