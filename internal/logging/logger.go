// Package logging provides structured logging helpers for the server.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/sdk/log"
)

const instrumentationName = "dynamic-graphql"

const redacted = "[REDACTED]"

// sensitiveKeys are attribute keys whose values never reach an output.
// Matching is on the lowercased key suffix.
var sensitiveKeys = []string{"dsn", "token", "password", "secret"}

// Logger wraps slog.Logger with the attribute helpers the server uses.
type Logger struct {
	*slog.Logger
}

// Config holds logging configuration.
type Config struct {
	Level  string    // debug, info, warn, error
	Format string    // json, text
	Output io.Writer // defaults to os.Stdout

	// LoggerProvider, when set, also exports every record over OTLP.
	LoggerProvider *log.LoggerProvider
}

// NewLogger builds the process logger. Source locations are attached at
// error level only, and sensitive attributes are redacted locally.
func NewLogger(cfg Config) *Logger {
	level := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   level <= slog.LevelError,
		ReplaceAttr: redactSensitive,
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	if cfg.LoggerProvider != nil {
		handler = fanout(handler, otelslog.NewHandler(instrumentationName, otelslog.WithLoggerProvider(cfg.LoggerProvider)))
	}
	return &Logger{Logger: slog.New(handler)}
}

// ParseLevel maps a level name to a slog level, ignoring case. Unknown names
// map to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard returns a logger that drops every record.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func redactSensitive(_ []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	for _, suffix := range sensitiveKeys {
		if strings.HasSuffix(key, suffix) {
			return slog.String(a.Key, redacted)
		}
	}
	return a
}

// WithRequestID tags records with the request ID.
func (l *Logger) WithRequestID(requestID string) *Logger {
	return &Logger{Logger: l.With(slog.String("request_id", requestID))}
}

// WithComponent tags every record with the owning component.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.With(slog.String("component", name))}
}

// WithResolver tags records with the resolver being served.
func (l *Logger) WithResolver(name string) *Logger {
	return &Logger{Logger: l.With(slog.String("resolver", name))}
}

// WithBackend tags records with a datasource route.
func (l *Logger) WithBackend(kind, variant string) *Logger {
	return &Logger{Logger: l.With(slog.String("backend", kind), slog.String("variant", variant))}
}

func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{Logger: l.With(fields...)}
}
