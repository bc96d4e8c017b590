package log

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// zerologAdapter implements Logger on top of zerolog.
type zerologAdapter struct {
	logger zerolog.Logger
}

// NewZerologAdapter creates a Logger backed by zerolog, writing to
// stderr. pretty switches to the console writer for interactive use.
func NewZerologAdapter(level zerolog.Level, pretty bool) Logger {
	var zlog zerolog.Logger
	if pretty {
		zlog = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			Level(level).With().Timestamp().Logger()
	} else {
		zlog = zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	}
	return &zerologAdapter{logger: zlog}
}

// withTrace attaches trace_id and span_id when the context carries a
// valid span.
func withTrace(ctx context.Context, event *zerolog.Event) *zerolog.Event {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		event = event.
			Str("trace_id", span.SpanContext().TraceID().String()).
			Str("span_id", span.SpanContext().SpanID().String())
	}
	return event
}

func (z *zerologAdapter) emit(ctx context.Context, event *zerolog.Event, msg string, fields []map[string]any) {
	event = withTrace(ctx, event)
	for _, f := range fields {
		event = event.Fields(f)
	}
	event.Msg(msg)
}

func (z *zerologAdapter) Debug(ctx context.Context, msg string, fields ...map[string]any) {
	z.emit(ctx, z.logger.Debug(), msg, fields)
}

func (z *zerologAdapter) Info(ctx context.Context, msg string, fields ...map[string]any) {
	z.emit(ctx, z.logger.Info(), msg, fields)
}

func (z *zerologAdapter) Warn(ctx context.Context, msg string, fields ...map[string]any) {
	z.emit(ctx, z.logger.Warn(), msg, fields)
}

func (z *zerologAdapter) Error(ctx context.Context, msg string, err error, fields ...map[string]any) {
	z.emit(ctx, z.logger.Error().Err(err), msg, fields)
}

func (z *zerologAdapter) With(fields map[string]any) Logger {
	return &zerologAdapter{logger: z.logger.With().Fields(fields).Logger()}
}

// Nop returns a Logger that discards everything. Useful default for
// library constructors and tests.
func Nop() Logger {
	return &zerologAdapter{logger: zerolog.Nop()}
}
