package tracing

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"

	"github.com/suPer8Hu/companion-chat/internal/logger"
)

func TestSetup_Disabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), logger.Nop(), Options{})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSetup_ExportsSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := Setup(context.Background(), logger.Nop(), Options{Enabled: true, ServiceName: "chat-test", Writer: &buf})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	_, span := otel.Tracer("test").Start(context.Background(), "chat.commit")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "chat.commit") || !strings.Contains(out, "chat-test") {
		t.Fatalf("span not exported: %s", out)
	}
}

func TestRatio(t *testing.T) {
	for in, want := range map[float64]float64{0: 1, -2: 1, 0.25: 0.25, 3: 1} {
		if got := ratio(in); got != want {
			t.Fatalf("ratio(%v) = %v, want %v", in, got, want)
		}
	}
}
