package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitedLogger forwards to slog no more than once per interval per
// message. It guards log sites on the polling path.
type RateLimitedLogger struct {
	every time.Duration

	mu     sync.Mutex
	limits map[string]*rate.Limiter
}

// NewRateLimitedLogger returns a logger allowing one record per message
// every interval.
func NewRateLimitedLogger(every time.Duration) *RateLimitedLogger {
	return &RateLimitedLogger{every: every, limits: make(map[string]*rate.Limiter)}
}

func (rl *RateLimitedLogger) allow(msg string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.limits[msg]
	if !ok {
		l = rate.NewLimiter(rate.Every(rl.every), 1)
		rl.limits[msg] = l
	}
	return l.Allow()
}

func (rl *RateLimitedLogger) log(level slog.Level, msg string, args ...any) {
	if !slog.Default().Enabled(context.Background(), level) {
		return
	}
	if rl.allow(msg) {
		slog.Log(context.Background(), level, msg, args...)
	}
}

// Warn logs at warn level.
func (rl *RateLimitedLogger) Warn(msg string, args ...any) { rl.log(slog.LevelWarn, msg, args...) }

// Error logs at error level.
func (rl *RateLimitedLogger) Error(msg string, args ...any) { rl.log(slog.LevelError, msg, args...) }

// Debug logs at debug level.
func (rl *RateLimitedLogger) Debug(msg string, args ...any) { rl.log(slog.LevelDebug, msg, args...) }
