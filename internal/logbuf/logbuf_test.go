package logbuf

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

func TestBufferWriteAndQuery(t *testing.T) {
	buf := New(5)
	now := time.Now()

	for i := 0; i < 3; i++ {
		buf.Write(Entry{
			Time:    now.Add(time.Duration(i) * time.Second),
			Level:   "INFO",
			Message: "msg",
		})
	}

	entries := buf.Query(Filter{MinLevel: slog.LevelDebug})
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
}

func TestBufferRingOverwrite(t *testing.T) {
	buf := New(3)
	now := time.Now()

	for i := 0; i < 5; i++ {
		buf.Write(Entry{
			Time:    now.Add(time.Duration(i) * time.Second),
			Level:   "INFO",
			Message: "msg",
			Attrs:   map[string]any{"i": i},
		})
	}

	entries := buf.Query(Filter{MinLevel: slog.LevelDebug})
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries (ring buffer size), got %d", len(entries))
	}
	// Should be entries 2, 3, 4 (oldest first)
	if entries[0].Attrs["i"] != 2 {
		t.Fatalf("expected first entry i=2, got %v", entries[0].Attrs["i"])
	}
	if entries[2].Attrs["i"] != 4 {
		t.Fatalf("expected last entry i=4, got %v", entries[2].Attrs["i"])
	}
}

func TestBufferQuerySince(t *testing.T) {
	buf := New(10)
	now := time.Now()

	for i := 0; i < 5; i++ {
		buf.Write(Entry{
			Time:    now.Add(time.Duration(i) * time.Second),
			Level:   "INFO",
			Message: "msg",
		})
	}

	since := now.Add(3 * time.Second)
	entries := buf.Query(Filter{Since: since, MinLevel: slog.LevelDebug})
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries since t+3s, got %d", len(entries))
	}
}

func TestBufferQueryLevel(t *testing.T) {
	buf := New(10)
	now := time.Now()

	buf.Write(Entry{Time: now, Level: "DEBUG", Message: "debug"})
	buf.Write(Entry{Time: now, Level: "INFO", Message: "info"})
	buf.Write(Entry{Time: now, Level: "WARN", Message: "warn"})
	buf.Write(Entry{Time: now, Level: "ERROR", Message: "error"})

	entries := buf.Query(Filter{MinLevel: slog.LevelWarn})
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries at WARN+, got %d", len(entries))
	}
	if entries[0].Message != "warn" || entries[1].Message != "error" {
		t.Fatalf("unexpected entries: %v", entries)
	}
}

func TestBufferQueryLimit(t *testing.T) {
	buf := New(10)
	now := time.Now()

	for i := 0; i < 8; i++ {
		buf.Write(Entry{Time: now.Add(time.Duration(i) * time.Second), Level: "INFO", Message: "msg"})
	}

	entries := buf.Query(Filter{MinLevel: slog.LevelDebug, Limit: 3})
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries with limit, got %d", len(entries))
	}
}

func TestHandlerCaptures(t *testing.T) {
	buf := New(10)
	inner := slog.NewTextHandler(&discardWriter{}, nil)
	handler := NewHandler(inner, buf)
	logger := slog.New(handler)

	logger.Info("hello", "key", "value")
	logger.Warn("warning")

	entries := buf.Query(Filter{MinLevel: slog.LevelDebug})
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Message != "hello" {
		t.Fatalf("expected 'hello', got %q", entries[0].Message)
	}
	if entries[0].Attrs["key"] != "value" {
		t.Fatalf("expected attr key=value, got %v", entries[0].Attrs)
	}
	if entries[1].Level != "WARN" {
		t.Fatalf("expected WARN level, got %q", entries[1].Level)
	}
}

func TestHandlerWithAttrs(t *testing.T) {
	buf := New(10)
	inner := slog.NewTextHandler(&discardWriter{}, nil)
	handler := NewHandler(inner, buf)
	logger := slog.New(handler).With("component", "test")

	logger.Info("msg")

	entries := buf.Query(Filter{MinLevel: slog.LevelDebug})
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Attrs["component"] != "test" {
		t.Fatalf("expected component=test, got %v", entries[0].Attrs)
	}
}

func TestHandlerEnabled(t *testing.T) {
	buf := New(10)
	inner := slog.NewTextHandler(&discardWriter{}, &slog.HandlerOptions{Level: slog.LevelWarn})
	handler := NewHandler(inner, buf)
	ctx := context.Background()

	// The buffer captures every level by default
	if !handler.Enabled(ctx, slog.LevelDebug) {
		t.Fatal("expected DEBUG to be enabled (buffer captures all)")
	}

	quiet := handler.WithCaptureLevel(slog.LevelInfo)
	if quiet.Enabled(ctx, slog.LevelDebug) {
		t.Error("DEBUG enabled below both capture and inner level")
	}
	if !quiet.Enabled(ctx, slog.LevelInfo) {
		t.Error("expected INFO to be enabled for capture")
	}
	slog.New(quiet).Debug("dropped")
	slog.New(quiet).Info("kept")
	if entries := buf.Query(Filter{MinLevel: slog.LevelDebug}); len(entries) != 1 || entries[0].Message != "kept" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestHandlerFlattensGroups(t *testing.T) {
	buf := New(10)
	logger := slog.New(NewHandler(slog.NewTextHandler(&discardWriter{}, nil), buf))

	logger.WithGroup("slack").With("team", "T1").Info("call",
		slog.Group("req", "method", "chat.postMessage", "took", 1500*time.Millisecond),
		slog.Group("", "inline", true),
	)

	entries := buf.Query(Filter{})
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	want := map[string]any{
		"slack.team":       "T1",
		"slack.req.method": "chat.postMessage",
		"slack.req.took":   "1.5s",
		"slack.inline":     true,
	}
	for k, v := range want {
		if entries[0].Attrs[k] != v {
			t.Errorf("attr %s = %v, want %v", k, entries[0].Attrs[k], v)
		}
	}
	if len(entries[0].Attrs) != len(want) {
		t.Errorf("attrs = %v", entries[0].Attrs)
	}
}

func TestHandlerCapturesAllLevels(t *testing.T) {
	buf := New(10)
	// Inner handler only allows WARN+
	inner := slog.NewTextHandler(&discardWriter{}, &slog.HandlerOptions{Level: slog.LevelWarn})
	handler := NewHandler(inner, buf)
	logger := slog.New(handler)

	logger.Debug("debug msg")
	logger.Info("info msg")
	logger.Warn("warn msg")

	// Buffer should have all 3 even though inner only allows WARN+
	entries := buf.Query(Filter{MinLevel: slog.LevelDebug})
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries in buffer, got %d", len(entries))
	}
}

func TestBufferQueryEvent(t *testing.T) {
	buf := New(10)
	logger := slog.New(NewHandler(slog.NewTextHandler(&discardWriter{}, nil), buf)).With("component", "workflow")

	logger.Info("activation received", "event", "ev-1")
	logger.Info("activation received", "event", "ev-2")
	logger.Warn("reply failed", "event", "ev-1", "error", errors.New("boom"))
	slog.New(NewHandler(slog.NewTextHandler(&discardWriter{}, nil), buf)).Info("other")

	entries := buf.Query(Filter{Event: "ev-1"})
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries for ev-1, got %d", len(entries))
	}
	if entries[1].Attrs["error"] != "boom" {
		t.Errorf("error attr = %v", entries[1].Attrs["error"])
	}
	if n := len(buf.Query(Filter{Component: "workflow"})); n != 3 {
		t.Errorf("expected 3 workflow entries, got %d", n)
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{"debug": slog.LevelDebug, "WARN": slog.LevelWarn, "error": slog.LevelError} {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("expected error")
	}
}

type discardWriter struct{}

func (d *discardWriter) Write(p []byte) (int, error) { return len(p), nil }
