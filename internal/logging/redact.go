package logging

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
)

// Keys whose values are always dropped.
var sensitiveKeyPatterns = []string{
	"password",
	"secret",
	"api_key",
	"apikey",
	"bot_token",
	"authorization",
	"signature",
}

// Session tokens handed out by the gateway.
var sessionTokenPattern = regexp.MustCompile(`\bks_[A-Za-z0-9]{16,}`)

// Telegram bot tokens: "<digits>:<35 url-safe chars>".
var botTokenPattern = regexp.MustCompile(`\d{6,}:[A-Za-z0-9_-]{30,}`)

// OpenAI and x.ai style API keys.
var providerKeyPattern = regexp.MustCompile(`\b(sk|xai)-[A-Za-z0-9_-]{16,}`)

// RedactingHandler wraps an slog.Handler and scrubs secrets before the inner
// handler sees them.
type RedactingHandler struct {
	inner slog.Handler
}

func NewRedactingHandler(inner slog.Handler) *RedactingHandler {
	return &RedactingHandler{inner: inner}
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	var redacted []slog.Attr
	r.Attrs(func(a slog.Attr) bool {
		redacted = append(redacted, redactAttr(a))
		return true
	})

	newRecord := slog.NewRecord(r.Time, r.Level, redactString(r.Message), r.PC)
	newRecord.AddAttrs(redacted...)
	return h.inner.Handle(ctx, newRecord)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = redactAttr(a)
	}
	return &RedactingHandler{inner: h.inner.WithAttrs(redacted)}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{inner: h.inner.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(key, pattern) {
			return slog.String(a.Key, "[REDACTED]")
		}
	}

	if a.Value.Kind() == slog.KindGroup {
		group := a.Value.Group()
		out := make([]any, 0, len(group))
		for _, ga := range group {
			out = append(out, redactAttr(ga))
		}
		return slog.Group(a.Key, out...)
	}

	if a.Value.Kind() == slog.KindString {
		val := a.Value.String()
		if r := redactString(val); r != val {
			return slog.String(a.Key, r)
		}
	}
	return a
}

// redactString masks every known secret shape, keeping a short prefix so log
// lines remain correlatable.
func redactString(val string) string {
	val = sessionTokenPattern.ReplaceAllStringFunc(val, func(m string) string {
		return m[:7] + "..."
	})
	val = botTokenPattern.ReplaceAllStringFunc(val, func(m string) string {
		idx := strings.IndexByte(m, ':')
		return m[:idx] + ":[REDACTED]"
	})
	val = providerKeyPattern.ReplaceAllStringFunc(val, func(m string) string {
		idx := strings.IndexByte(m, '-')
		return m[:idx+1] + "[REDACTED]"
	})
	return val
}

// EnableRedaction wraps the current global logger with a RedactingHandler.
func EnableRedaction() {
	mu.Lock()
	defer mu.Unlock()

	handler := defaultLogger.Handler()
	if _, ok := handler.(*RedactingHandler); ok {
		return
	}
	defaultLogger = slog.New(NewRedactingHandler(handler))
}

// NewRedactingLogger creates a new slog.Logger with redaction enabled.
func NewRedactingLogger(inner slog.Handler) *slog.Logger {
	return slog.New(NewRedactingHandler(inner))
}
