package chat

import (
	"context"
	"strings"
	"testing"

	"gorm.io/gorm"

	"github.com/suPer8Hu/companion-chat/internal/ai"
	"github.com/suPer8Hu/companion-chat/internal/auth"
	"github.com/suPer8Hu/companion-chat/internal/common"
	"github.com/suPer8Hu/companion-chat/internal/db"
	"github.com/suPer8Hu/companion-chat/internal/logger"
	"github.com/suPer8Hu/companion-chat/internal/protocol"
)

const testJWTSecret = "test-jwt-secret"

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.Open("sqlite:file:" + common.MustULID() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return gdb
}

type fixture struct {
	db        *gorm.DB
	repo      *Repo
	hasher    *auth.TokenHasher
	resolver  *Resolver
	registrar *Registrar
	writer    *Writer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb := openTestDB(t)
	repo := NewRepo(gdb)
	hasher := auth.NewTokenHasher("test-salt")
	log := logger.Nop()
	return &fixture{
		db:        gdb,
		repo:      repo,
		hasher:    hasher,
		resolver:  NewResolver(auth.NewVerifier(testJWTSecret, "authenticated"), hasher, repo, log),
		registrar: NewRegistrar(repo, hasher, log, RegistrarOptions{}),
		writer:    NewWriter(repo, nil, NewDBUsageSink(repo), log),
	}
}

func (f *fixture) service(relay ai.Relay, opts ServiceOptions) *Service {
	return NewService(Deps{
		Repo:      f.repo,
		Resolver:  f.resolver,
		Registrar: f.registrar,
		Writer:    f.writer,
		Relay:     relay,
		Log:       logger.Nop(),
	}, opts)
}

func (f *fixture) countMessages(t *testing.T, sessionID string) int64 {
	t.Helper()
	var n int64
	if err := f.db.Model(&Message{}).Where("session_id = ?", sessionID).Count(&n).Error; err != nil {
		t.Fatalf("count messages: %v", err)
	}
	return n
}

func (f *fixture) createSession(t *testing.T, id string, owner string) *Session {
	t.Helper()
	s, _, err := f.registrar.GetOrCreate(context.Background(), RegisterRequest{
		SessionID:      id,
		IsFirstMessage: true,
		Identity:       Identity{UserID: owner},
	})
	if err != nil {
		t.Fatalf("create session %s: %v", id, err)
	}
	return s
}

func drain(ch <-chan protocol.Event) []protocol.Event {
	var out []protocol.Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func types(evs []protocol.Event) string {
	parts := make([]string, 0, len(evs))
	for _, ev := range evs {
		parts = append(parts, string(ev.Type))
	}
	return strings.Join(parts, ",")
}
