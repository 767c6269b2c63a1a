// Package logging builds the process-wide zerolog logger and helpers for
// enriching it with trace context carried on a context.Context.
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// New builds a zerolog.Logger writing JSON to stdout, honoring level and
// console-pretty-print switches from the environment.
func New(level string, pretty bool) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	w := os.Stdout
	logger := zerolog.New(w).Level(lvl).With().Timestamp().Caller().Logger()
	if pretty {
		logger = logger.Output(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen})
	}
	return logger
}

// WithTrace returns a logger enriched with trace_id/span_id from ctx, if a
// sampled span is present. Falls back to l unchanged otherwise.
func WithTrace(ctx context.Context, l zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return l
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return l
	}
	ev := l.With().Str("trace_id", sc.TraceID().String())
	if sc.HasSpanID() {
		ev = ev.Str("span_id", sc.SpanID().String())
	}
	return ev.Logger()
}

type ctxKey struct{}

// Into stores l in ctx for retrieval via From.
func Into(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From retrieves the logger stashed with Into, falling back to
// zerolog.Ctx(ctx) if none was stored, which is a disabled logger unless
// zerolog.DefaultContextLogger is set.
func From(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(zerolog.Logger); ok {
		return l
	}
	return zerolog.Ctx(ctx).With().Logger()
}
