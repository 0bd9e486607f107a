package logbuf

import (
	"context"
	"log/slog"
)

// Handler is an slog.Handler that captures entries into a Buffer
// and delegates to an inner handler. Captured attrs are flattened into
// dotted keys ("group.key") so Filter can match them.
type Handler struct {
	inner   slog.Handler
	buf     *Buffer
	capture slog.Leveler
	bound   map[string]any // WithAttrs attrs, keys already prefixed
	prefix  string         // open groups, each followed by "."
}

// NewHandler creates a handler that writes to both buf and inner. The
// buffer captures every level, regardless of the inner handler's filter.
func NewHandler(inner slog.Handler, buf *Buffer) *Handler {
	return &Handler{inner: inner, buf: buf, capture: slog.LevelDebug}
}

// WithCaptureLevel returns a copy of h that buffers only records at or
// above level.
func (h *Handler) WithCaptureLevel(level slog.Leveler) *Handler {
	c := *h
	c.capture = level
	return &c
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.capture.Level() || h.inner.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.capture.Level() {
		attrs := make(map[string]any, len(h.bound)+r.NumAttrs())
		for k, v := range h.bound {
			attrs[k] = v
		}
		r.Attrs(func(a slog.Attr) bool {
			flatten(attrs, h.prefix, a)
			return true
		})
		if len(attrs) == 0 {
			attrs = nil
		}
		h.buf.Write(Entry{
			Time:    r.Time,
			Level:   r.Level.String(),
			Message: r.Message,
			Attrs:   attrs,
		})
	}

	// Only delegate to inner if it would handle this level
	// (so stdout respects its configured level filter).
	if h.inner.Enabled(ctx, r.Level) {
		return h.inner.Handle(ctx, r)
	}
	return nil
}

// flatten stores a under prefix+key, descending into groups. Groups with
// an empty key are inlined and empty attrs are dropped, as slog does.
func flatten(dst map[string]any, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p += a.Key + "."
		}
		for _, sub := range v.Group() {
			flatten(dst, p, sub)
		}
		return
	}
	if a.Key == "" && v.Any() == nil {
		return
	}
	dst[prefix+a.Key] = jsonValue(v)
}

// jsonValue converts resolved slog values to JSON-friendly types: errors
// become their message and durations their String form, so neither
// serializes to {} or a bare nanosecond count.
func jsonValue(v slog.Value) any {
	switch v.Kind() {
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().UTC()
	}
	raw := v.Any()
	if err, ok := raw.(error); ok {
		return err.Error()
	}
	return raw
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	bound := make(map[string]any, len(h.bound)+len(attrs))
	for k, v := range h.bound {
		bound[k] = v
	}
	for _, a := range attrs {
		flatten(bound, h.prefix, a)
	}
	c := *h
	c.inner = h.inner.WithAttrs(attrs)
	c.bound = bound
	return &c
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.inner = h.inner.WithGroup(name)
	c.prefix = h.prefix + name + "."
	return &c
}
