// Package observability provides Prometheus metrics, OpenTelemetry
// tracing, and structured logging for Conductor.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
)

// ContextKey is a type for context keys to avoid collisions.
type ContextKey string

const (
	// AgentIDKey is the context key for agent ids.
	AgentIDKey ContextKey = "agent_id"
	// SessionIDKey is the context key for session ids.
	SessionIDKey ContextKey = "session_id"
	// TaskIDKey is the context key for task ids.
	TaskIDKey ContextKey = "task_id"
	// TraceIDKey is the context key for trace ids.
	TraceIDKey ContextKey = "trace_id"
	// RoleKey is the context key for agent roles.
	RoleKey ContextKey = "role"
)

// contextKeys are stamped onto every record whose context carries them,
// so each component logs with the agent and session ids in scope.
var contextKeys = []ContextKey{AgentIDKey, SessionIDKey, TaskIDKey, TraceIDKey, RoleKey}

// Logger is a slog.Logger whose handler chain stamps orchestration
// context onto records and optionally mirrors Warn+ records to Sentry.
type Logger struct {
	*slog.Logger
}

// LoggerConfig configures the structured logger.
type LoggerConfig struct {
	// Level is the minimum log level (debug, info, warn, error)
	Level string
	// Format is the log format (json, text)
	Format string
	// Output is the output destination (defaults to os.Stdout)
	Output io.Writer
	// AddSource adds source file/line to log entries
	AddSource bool
	// SentryEnabled enables Sentry integration for logs
	SentryEnabled bool
}

// NewLogger creates a new structured logger.
func NewLogger(cfg LoggerConfig) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	// Context stamping runs outermost so the Sentry bridge sees the
	// agent and session ids too.
	if cfg.SentryEnabled {
		handler = &sentryBridge{next: handler}
	}
	handler = &contextHandler{next: handler}
	return &Logger{Logger: slog.New(handler)}
}

// With returns a logger with additional attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Underlying returns the wrapped slog.Logger.
func (l *Logger) Underlying() *slog.Logger {
	return l.Logger
}

// LogDelegation logs a delegation decision with standard fields.
func (l *Logger) LogDelegation(ctx context.Context, taskID, targetRole string, confidence float64) {
	l.InfoContext(ctx, "task_delegated",
		"task_id", taskID,
		"target_role", targetRole,
		"confidence", confidence,
	)
}

// LogProviderCall logs a provider invocation with standard fields.
func (l *Logger) LogProviderCall(ctx context.Context, provider string, success bool, duration time.Duration) {
	l.InfoContext(ctx, "provider_call",
		"provider", provider,
		"success", success,
		"duration_ms", duration.Milliseconds(),
	)
}

// LogTaskExecution logs a completed task execution with standard fields.
func (l *Logger) LogTaskExecution(ctx context.Context, taskID string, success bool, duration time.Duration) {
	l.InfoContext(ctx, "task_executed",
		"task_id", taskID,
		"success", success,
		"duration_ms", duration.Milliseconds(),
	)
}

// contextHandler copies known orchestration keys from the record's
// context into the record itself, so InfoContext and friends carry
// agent identity without the call sites repeating it.
type contextHandler struct {
	next slog.Handler
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	stamped := r.Clone()
	for _, key := range contextKeys {
		if value, ok := ctx.Value(key).(string); ok && value != "" {
			stamped.AddAttrs(slog.String(string(key), value))
		}
	}
	return h.next.Handle(ctx, stamped)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{next: h.next.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{next: h.next.WithGroup(name)}
}

// sentryBridge mirrors Warn and Error records to Sentry as events,
// carrying the record attributes as extras.
type sentryBridge struct {
	next slog.Handler
}

func (b *sentryBridge) Enabled(ctx context.Context, level slog.Level) bool {
	return b.next.Enabled(ctx, level)
}

func (b *sentryBridge) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		event := sentry.NewEvent()
		event.Message = r.Message
		event.Level = sentryLevel(r.Level)
		r.Attrs(func(attr slog.Attr) bool {
			event.Extra[attr.Key] = attr.Value.Any()
			return true
		})
		sentry.CurrentHub().CaptureEvent(event)
	}
	return b.next.Handle(ctx, r)
}

func (b *sentryBridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &sentryBridge{next: b.next.WithAttrs(attrs)}
}

func (b *sentryBridge) WithGroup(name string) slog.Handler {
	return &sentryBridge{next: b.next.WithGroup(name)}
}

func sentryLevel(level slog.Level) sentry.Level {
	if level >= slog.LevelError {
		return sentry.LevelError
	}
	return sentry.LevelWarning
}
