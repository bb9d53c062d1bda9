// Package tracing installs the global OpenTelemetry tracer provider.
package tracing

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"

	"github.com/suPer8Hu/companion-chat/internal/logger"
)

type Options struct {
	Enabled     bool
	ServiceName string
	// Writer receives exported spans; defaults to stdout.
	Writer io.Writer
	// SampleRatio is clamped to [0,1]; zero means 1.
	SampleRatio float64
}

// Setup installs a tracer provider when enabled and returns its shutdown
// func. When disabled the global no-op provider stays in place.
func Setup(ctx context.Context, log *logger.Logger, opts Options) (func(context.Context) error, error) {
	if !opts.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	name := strings.TrimSpace(opts.ServiceName)
	if name == "" {
		name = "companion-chat"
	}
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String(name)))
	if err != nil {
		log.Warn("otel resource init failed (continuing)", "error", err)
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio(opts.SampleRatio)))),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	log.Info("otel tracing initialized", "service", name)
	return tp.Shutdown, nil
}

func ratio(r float64) float64 {
	switch {
	case r <= 0:
		return 1
	case r > 1:
		return 1
	}
	return r
}
