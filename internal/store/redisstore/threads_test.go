package redisstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/suPer8Hu/companion-chat/internal/common"
)

// Runs against a real server: REDIS_ADDR=127.0.0.1:6379 go test ./internal/store/redisstore
func TestThreadStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	s, err := NewThreadStore(ctx, Options{Addr: addr, TTL: time.Minute})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Close()

	sid := "test-" + common.MustULID()
	got, err := s.Get(ctx, sid)
	if err != nil || got != "" {
		t.Fatalf("expected empty thread for new session, got %q err=%v", got, err)
	}
	if err := s.Put(ctx, sid, "thread_abc"); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err = s.Get(ctx, sid)
	if err != nil || got != "thread_abc" {
		t.Fatalf("expected thread_abc, got %q err=%v", got, err)
	}
	ttl, err := s.rdb.TTL(ctx, threadKeyPrefix+sid).Result()
	if err != nil || ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected ttl %s err=%v", ttl, err)
	}
}

func TestNewThreadStoreRequiresAddr(t *testing.T) {
	if _, err := NewThreadStore(context.Background(), Options{}); err == nil {
		t.Fatalf("expected error without addr")
	}
}
