package log

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"loud":    slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLoggerTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelDebug, Component: ComponentApp, Format: "json", Output: &buf})

	logger.WithComponent(ComponentImport).Info("hello", FieldChannel, "Alipay")

	out := buf.String()
	if !strings.Contains(out, `"component":"import"`) {
		t.Fatalf("expected component in output, got %s", out)
	}
	if !strings.Contains(out, `"channel":"Alipay"`) {
		t.Fatalf("expected channel in output, got %s", out)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelWarn, Component: ComponentApp, Output: &buf})

	logger.Info("quiet")
	logger.Warn("loud")

	if strings.Contains(buf.String(), "quiet") {
		t.Fatal("info record should have been filtered")
	}
	if !strings.Contains(buf.String(), "loud") {
		t.Fatal("warn record missing")
	}
}

func TestContextCarriesRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelInfo, Component: ComponentHTTP, Format: "json", Output: &buf})

	ctx := NewContext(context.Background(), logger.With(NewFields().WithRequestID("req-1").ToSlice()...))
	FromContext(ctx).InfoContext(ctx, "inside")

	if !strings.Contains(buf.String(), `"request_id":"req-1"`) {
		t.Fatalf("request id not propagated: %s", buf.String())
	}
}

func TestFromContextFallsBack(t *testing.T) {
	if FromContext(context.Background()).Component() != "unknown" {
		t.Fatal("expected fallback logger")
	}
}

func TestStructuredLoggerError(t *testing.T) {
	var buf bytes.Buffer
	sl := NewStructuredLogger(New(Config{Level: slog.LevelInfo, Component: ComponentApp, Format: "json", Output: &buf}))

	sl.LogError(context.Background(), "boom", errors.New("disk full"), ComponentStorage, OpImport, nil)

	out := buf.String()
	for _, want := range []string{`"error":"disk full"`, `"operation":"import"`, `"level":"ERROR"`} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %s in %s", want, out)
		}
	}
}
