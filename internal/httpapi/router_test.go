package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/suPer8Hu/companion-chat/internal/ai"
	"github.com/suPer8Hu/companion-chat/internal/ai/aitest"
	"github.com/suPer8Hu/companion-chat/internal/auth"
	"github.com/suPer8Hu/companion-chat/internal/chat"
	"github.com/suPer8Hu/companion-chat/internal/common"
	"github.com/suPer8Hu/companion-chat/internal/db"
	"github.com/suPer8Hu/companion-chat/internal/httpapi/handlers"
	"github.com/suPer8Hu/companion-chat/internal/logger"
	"github.com/suPer8Hu/companion-chat/internal/protocol"
)

const secret = "router-test-secret"

type testServer struct {
	engine *gin.Engine
	db     *gorm.DB
}

func newTestServer(t *testing.T, relay ai.Relay) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb, err := db.Open("sqlite:file:" + common.MustULID() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := chat.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	log := logger.Nop()
	repo := chat.NewRepo(gdb)
	hasher := auth.NewTokenHasher("salt")
	resolver := chat.NewResolver(auth.NewVerifier(secret, "authenticated"), hasher, repo, log)
	svc := chat.NewService(chat.Deps{
		Repo:      repo,
		Resolver:  resolver,
		Registrar: chat.NewRegistrar(repo, hasher, log, chat.RegistrarOptions{}),
		Writer:    chat.NewWriter(repo, nil, chat.NewDBUsageSink(repo), log),
		Relay:     relay,
		Log:       log,
	}, chat.ServiceOptions{AssistantID: "asst_test"})

	engine := NewRouter(RouterConfig{
		Handler:     handlers.NewHandler(svc, log, time.Second),
		Resolver:    resolver,
		Log:         log,
		CORSOrigins: []string{"http://localhost:3000"},
	})
	return &testServer{engine: engine, db: gdb}
}

func (s *testServer) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func decodeEvents(t *testing.T, body string) []protocol.Event {
	t.Helper()
	dec := protocol.NewDecoder(strings.NewReader(body))
	var out []protocol.Event
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("decode stream: %v\n%s", err, body)
		}
		out = append(out, ev)
	}
}

func bearer(t *testing.T, userID string) string {
	t.Helper()
	tok, err := auth.SignJWT(userID, secret, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return "Bearer " + tok
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return body.Error
}

func TestPing(t *testing.T) {
	s := newTestServer(t, &aitest.Relay{})
	w := s.do(t, http.MethodGet, "/ping", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "pong") {
		t.Fatalf("unexpected ping response %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestChatStream_MissingFields(t *testing.T) {
	s := newTestServer(t, &aitest.Relay{})
	for _, body := range []string{`{}`, `{"sessionId":"s1"}`, `{"userMessage":"hi"}`, `not json`} {
		w := s.do(t, http.MethodPost, "/chat/stream", body, nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, w.Code)
		}
	}
}

func TestChatStream_AnonymousFirstMessage(t *testing.T) {
	s := newTestServer(t, &aitest.Relay{Tokens: []string{"Hi", ", I'm", " here."}})

	w := s.do(t, http.MethodPost, "/chat/stream", `{"sessionId":"s1","userMessage":"hello","isFirstMessage":true}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	evs := decodeEvents(t, w.Body.String())
	done := evs[len(evs)-1]
	if done.Type != protocol.EventDone || done.UserMessage.Content != "hello" || done.AssistantMessage.Content != "Hi, I'm here." {
		t.Fatalf("unexpected done event %+v", done)
	}
	var n int64
	s.db.Model(&chat.AnonymousSessionToken{}).Where("session_id = ?", "s1").Count(&n)
	if n != 0 {
		t.Fatalf("no token row expected without the header, got %d", n)
	}

	// with the header a token row is stored and later turns need it
	w = s.do(t, http.MethodPost, "/chat/stream", `{"sessionId":"s2","userMessage":"hello","isFirstMessage":true}`,
		map[string]string{"X-Anonymous-Token": "device-secret"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	s.db.Model(&chat.AnonymousSessionToken{}).Where("session_id = ?", "s2").Count(&n)
	if n != 1 {
		t.Fatalf("expected one token row, got %d", n)
	}

	w = s.do(t, http.MethodPost, "/chat/stream", `{"sessionId":"s2","userMessage":"again"}`, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	w = s.do(t, http.MethodPost, "/chat/stream", `{"sessionId":"s2","userMessage":"again"}`,
		map[string]string{"X-Anonymous-Token": "device-secret"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", w.Code)
	}

	w = s.do(t, http.MethodGet, "/chat/sessions/s2/messages", "", map[string]string{"X-Anonymous-Token": "device-secret"})
	if w.Code != http.StatusOK || strings.Count(w.Body.String(), `"role":`) != 4 {
		t.Fatalf("unexpected messages response %d %s", w.Code, w.Body.String())
	}
}

func TestChatStream_OwnerMismatch(t *testing.T) {
	s := newTestServer(t, &aitest.Relay{Tokens: []string{"ok"}})
	w := s.do(t, http.MethodPost, "/chat/stream", `{"sessionId":"owned","userMessage":"hi","isFirstMessage":true}`,
		map[string]string{"Authorization": bearer(t, "U2")})
	if w.Code != http.StatusOK {
		t.Fatalf("seed turn failed: %d", w.Code)
	}

	w = s.do(t, http.MethodPost, "/chat/stream", `{"sessionId":"owned","userMessage":"hi","isFirstMessage":false}`,
		map[string]string{"Authorization": bearer(t, "U1")})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "data:") {
		t.Fatalf("no stream may be opened: %s", w.Body.String())
	}
}

func TestChatStream_SessionNotFound(t *testing.T) {
	s := newTestServer(t, &aitest.Relay{})
	w := s.do(t, http.MethodPost, "/chat/stream", `{"sessionId":"does-not-exist","userMessage":"hi","isFirstMessage":false}`, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if msg := errorBody(t, w); msg != "Session not found" {
		t.Fatalf("unexpected error body %q", msg)
	}
}

func TestChatStream_ProviderFailureMidStream(t *testing.T) {
	s := newTestServer(t, &aitest.Relay{Tokens: []string{"one", "two"}, Err: errors.New("provider exploded")})
	w := s.do(t, http.MethodPost, "/chat/stream", `{"sessionId":"pf","userMessage":"hi","isFirstMessage":true}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stream should open, got %d", w.Code)
	}
	evs := decodeEvents(t, w.Body.String())
	if len(evs) != 3 || evs[0].Content != "one" || evs[1].Content != "two" || evs[2].Type != protocol.EventError {
		t.Fatalf("unexpected events %+v", evs)
	}
	for _, ev := range evs {
		if ev.Type == protocol.EventDone {
			t.Fatalf("no done event expected")
		}
	}
	var n int64
	s.db.Model(&chat.Message{}).Count(&n)
	if n != 0 {
		t.Fatalf("expected no stored messages, got %d", n)
	}
}

func TestListSessions_RequiresBearer(t *testing.T) {
	s := newTestServer(t, &aitest.Relay{Tokens: []string{"ok"}})
	if w := s.do(t, http.MethodGet, "/chat/sessions", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	hdr := map[string]string{"Authorization": bearer(t, "U1")}
	s.do(t, http.MethodPost, "/chat/stream", `{"sessionId":"mine","userMessage":"hi","isFirstMessage":true}`, hdr)
	w := s.do(t, http.MethodGet, "/chat/sessions", "", hdr)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"session_id":"mine"`) {
		t.Fatalf("unexpected sessions response %d %s", w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodPatch, "/chat/sessions/mine", `{"title":"Renamed"}`, hdr)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Renamed") {
		t.Fatalf("rename failed %d %s", w.Code, w.Body.String())
	}
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t, &aitest.Relay{})
	if w := s.do(t, http.MethodGet, "/nope", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
