// Package logging provides structured JSON logging with sanitization.
//
// All diagnostics go to stderr. The filtered display stream owns stdout;
// writing log output there would re-corrupt the terminal the classifier is
// cleaning up.
package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// sensitiveKeys are attribute keys whose values are redacted.
var sensitiveKeys = []string{
	"password",
	"secret",
	"passphrase",
	"token",
	"credential",
}

// SanitizingHandler wraps a slog.Handler to redact sensitive attributes.
type SanitizingHandler struct {
	handler  slog.Handler
	sanitize bool
}

// NewSanitizingHandler creates a sanitizing handler.
func NewSanitizingHandler(handler slog.Handler, sanitize bool) *SanitizingHandler {
	return &SanitizingHandler{handler: handler, sanitize: sanitize}
}

// Enabled implements slog.Handler.
func (h *SanitizingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *SanitizingHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.sanitize {
		return h.handler.Handle(ctx, r)
	}

	clean := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		clean.AddAttrs(sanitizeAttr(a))
		return true
	})
	return h.handler.Handle(ctx, clean)
}

// WithAttrs implements slog.Handler.
func (h *SanitizingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if h.sanitize {
		clean := make([]slog.Attr, len(attrs))
		for i, a := range attrs {
			clean[i] = sanitizeAttr(a)
		}
		attrs = clean
	}
	return &SanitizingHandler{handler: h.handler.WithAttrs(attrs), sanitize: h.sanitize}
}

// WithGroup implements slog.Handler.
func (h *SanitizingHandler) WithGroup(name string) slog.Handler {
	return &SanitizingHandler{handler: h.handler.WithGroup(name), sanitize: h.sanitize}
}

func sanitizeAttr(a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	for _, sensitive := range sensitiveKeys {
		if strings.Contains(key, sensitive) {
			return slog.String(a.Key, "[REDACTED]")
		}
	}

	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		clean := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			clean[i] = sanitizeAttr(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(clean...)}
	}
	return a
}

// ParseLevel maps a config/env level string to a slog.Level. Unknown
// strings default to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup builds the logger writing JSON diagnostics to w. The returned
// LevelVar can retune verbosity at runtime (config hot reload).
func Setup(w io.Writer, level string, sanitize bool) (*slog.Logger, *slog.LevelVar) {
	levelVar := new(slog.LevelVar)
	levelVar.Set(ParseLevel(level))

	jsonHandler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: levelVar})
	return slog.New(NewSanitizingHandler(jsonHandler, sanitize)), levelVar
}

// nopWriter swallows output; used when diagnostics are disabled entirely.
type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

var nopOnce sync.Once
var nopLogger *slog.Logger

// Discard returns a logger that drops everything. Handy default for
// library constructors given a nil logger in tests.
func Discard() *slog.Logger {
	nopOnce.Do(func() {
		nopLogger = slog.New(slog.NewTextHandler(nopWriter{}, &slog.HandlerOptions{
			Level: slog.LevelError + 1,
		}))
	})
	return nopLogger
}
