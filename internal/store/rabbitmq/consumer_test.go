package rabbitmq

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/suPer8Hu/companion-chat/internal/chat"
	"github.com/suPer8Hu/companion-chat/internal/common"
	"github.com/suPer8Hu/companion-chat/internal/db"
)

type failingSink struct{ err error }

func (f failingSink) RecordUsage(context.Context, chat.UsageEvent) error { return f.err }

func TestProcess_WritesAndDedupes(t *testing.T) {
	gdb, err := db.Open("sqlite:file:" + common.MustULID() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := chat.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	sink := chat.NewDBUsageSink(chat.NewRepo(gdb))

	ev := chat.UsageEvent{MessageID: "m1", SessionID: "s1", TokensUsed: 10, ResponseTimeMs: 250}
	body, err := Encode(&ev)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	for i := 0; i < 2; i++ {
		out, err := Process(context.Background(), sink, body)
		if err != nil || out != Ack {
			t.Fatalf("delivery %d: outcome=%v err=%v", i, out, err)
		}
	}
	var n int64
	gdb.Model(&chat.PromptUsageLog{}).Count(&n)
	if n != 1 {
		t.Fatalf("expected one usage row after redelivery, got %d", n)
	}
}

func TestProcess_BadMessageRejected(t *testing.T) {
	for _, body := range [][]byte{[]byte("{"), []byte(`{"id":"x"}`)} {
		out, err := Process(context.Background(), failingSink{}, body)
		if out != Reject || !errors.Is(err, ErrBadMessage) {
			t.Fatalf("body %s: outcome=%v err=%v", body, out, err)
		}
	}
}

func TestProcess_SinkFailureRetries(t *testing.T) {
	ev := chat.UsageEvent{MessageID: "m1", SessionID: "s1"}
	body, _ := Encode(&ev)
	out, err := Process(context.Background(), failingSink{err: errors.New("db down")}, body)
	if out != Retry || err == nil {
		t.Fatalf("expected retry, got %v %v", out, err)
	}
}

func TestRetryCount(t *testing.T) {
	if retryCount(nil) != 0 || retryCount(amqp.Table{headerRetry: int32(2)}) != 2 || retryCount(amqp.Table{headerRetry: int64(3)}) != 3 {
		t.Fatalf("retry count parsing mismatch")
	}
}
