package telemetry

import (
	"context"
	"io"
	"log/slog"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/trace"
)

// LoggerOptions configures NewLogger.
type LoggerOptions struct {
	Level string
	// Dev switches to the text handler at debug level.
	Dev bool
	// ServiceName names the otelslog instrumentation scope.
	ServiceName string
	// OTLP routes records through the global OTLP log provider instead of Out.
	OTLP bool
	Out  io.Writer
}

// NewLogger builds the process logger. Records written with a span in context carry
// trace_id and span_id.
func NewLogger(opts LoggerOptions) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}
	if opts.Dev {
		handlerOpts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	switch {
	case opts.OTLP && !opts.Dev:
		handler = otelslog.NewHandler(opts.ServiceName, otelslog.WithLoggerProvider(global.GetLoggerProvider()))
	case opts.Dev:
		handler = NewTraceHandler(slog.NewTextHandler(opts.Out, handlerOpts))
	default:
		handler = NewTraceHandler(slog.NewJSONHandler(opts.Out, handlerOpts))
	}
	return slog.New(handler)
}

// ParseLevel maps a configured level name onto slog. Unknown names map to info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// TraceHandler adds the current span's ids to every record.
type TraceHandler struct {
	slog.Handler
}

// NewTraceHandler wraps h.
func NewTraceHandler(h slog.Handler) *TraceHandler {
	return &TraceHandler{Handler: h}
}

func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.Handler.Handle(ctx, r)
}

func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *TraceHandler) WithGroup(name string) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithGroup(name)}
}
