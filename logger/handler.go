package logger

import (
	"context"
	"log/slog"
)

// errorKey attributes are passed through RedactSensitiveData. Upstream dial
// errors can carry listen URLs with credentials in the query string.
const errorKey = "error"

// sessionHandler decorates records with the session fields carried by the
// context and scrubs credentials from error attributes.
type sessionHandler struct {
	next slog.Handler
}

func newSessionHandler(next slog.Handler) *sessionHandler {
	return &sessionHandler{next: next}
}

func (h *sessionHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

//nolint:gocritic // slog.Handler takes the record by value
func (h *sessionHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	if ctx != nil {
		for _, key := range allContextKeys {
			if v, ok := ctx.Value(key).(string); ok && v != "" {
				out.AddAttrs(slog.String(string(key), v))
			}
		}
	}
	// record attributes go last so an explicit key wins over the context
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(scrub(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *sessionHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	scrubbed := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		scrubbed[i] = scrub(a)
	}
	return &sessionHandler{next: h.next.WithAttrs(scrubbed)}
}

func (h *sessionHandler) WithGroup(name string) slog.Handler {
	return &sessionHandler{next: h.next.WithGroup(name)}
}

func scrub(a slog.Attr) slog.Attr {
	if a.Key != errorKey {
		return a
	}
	v := a.Value.Resolve()
	var text string
	switch v.Kind() {
	case slog.KindString:
		text = v.String()
	case slog.KindAny:
		err, ok := v.Any().(error)
		if !ok || err == nil {
			return a
		}
		text = err.Error()
	default:
		return a
	}
	return slog.String(a.Key, RedactSensitiveData(text))
}
