package observability

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestRateLimitedLogger_SuppressesRepeats(t *testing.T) {
	buf := captureLogs(t)
	rl := NewRateLimitedLogger(time.Hour)

	for i := 0; i < 5; i++ {
		rl.Warn("sample failed", "attempt", i)
	}
	rl.Error("apply failed")

	out := buf.String()
	if got := strings.Count(out, "sample failed"); got != 1 {
		t.Errorf("sample failed logged %d times, want 1:\n%s", got, out)
	}
	if !strings.Contains(out, "apply failed") {
		t.Errorf("distinct message was suppressed:\n%s", out)
	}
}

func TestRateLimitedLogger_DisabledLevelDoesNotConsumeToken(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	rl := NewRateLimitedLogger(time.Hour)
	rl.Debug("tick")
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	rl.Debug("tick")

	if got := strings.Count(buf.String(), "tick"); got != 1 {
		t.Errorf("tick logged %d times, want 1", got)
	}
}
