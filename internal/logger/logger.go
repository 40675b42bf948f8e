// Package logger provides the structured logger shared by the server and
// the map service.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type contextKey string

// RequestIDKey is the context key the server stores request IDs under.
const RequestIDKey contextKey = "request_id"

// Logger wraps slog.Logger.
type Logger struct {
	*slog.Logger
}

// New returns a logger writing to stdout. format "text" selects the
// human-readable handler, anything else JSON.
func New(format string, debug bool) *Logger {
	return NewWriter(os.Stdout, format, debug)
}

// NewWriter is New with an explicit destination.
func NewWriter(w io.Writer, format string, debug bool) *Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if debug {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return &Logger{Logger: slog.New(handler)}
}

// Discard returns a logger that drops everything; used in tests.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// WithContext adds the request ID from ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}
	if id, ok := ctx.Value(RequestIDKey).(string); ok && id != "" {
		return &Logger{Logger: l.With(slog.String("request_id", id))}
	}
	return l
}

// WithRequestID stores id in ctx for WithContext.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// Upstream logs the outcome of a call to a remote map service.
func (l *Logger) Upstream(ctx context.Context, endpoint string, status int, err error) {
	log := l.WithContext(ctx)
	if err != nil {
		log.Warn("upstream_error",
			slog.String("endpoint", endpoint),
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
		return
	}
	log.Debug("upstream_ok",
		slog.String("endpoint", endpoint),
		slog.Int("status", status),
	)
}

// HTTPRequest logs a served request.
func (l *Logger) HTTPRequest(ctx context.Context, method, path string, status int, latencyMs float64) {
	l.WithContext(ctx).Info("http_request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("latency_ms", latencyMs),
	)
}
