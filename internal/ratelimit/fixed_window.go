package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

type FixedWindowLimiter struct {
	store  Counter
	window time.Duration
	logger *slog.Logger
	now    func() time.Time

	// OnFailOpen is called whenever a check is allowed because the store failed.
	OnFailOpen func(err error)
}

func NewFixedWindow(store Counter, window time.Duration, logger *slog.Logger) *FixedWindowLimiter {
	if window < time.Second {
		window = time.Minute
	}
	return &FixedWindowLimiter{
		store:  store,
		window: window, // Window of time duration
		logger: logger,
		now:    time.Now,
	}
}

// Check increments the window counter before deciding, so the request that
// brings the count to exactly limit is allowed and the next one is not.
// The expiry is set once, by the request that created the counter.
func (f *FixedWindowLimiter) Check(ctx context.Context, key string, limit int) Result {
	windowSeconds := int64(f.window.Seconds())
	currentWindow := f.now().Unix() / windowSeconds
	resetAt := time.Unix((currentWindow+1)*windowSeconds, 0)
	redisKey := fmt.Sprintf("ratelimit:fixed:%s:%d", key, currentWindow)

	count, err := f.store.Incr(ctx, redisKey)
	if err != nil {
		f.logger.Warn("rate limiter store unavailable, allowing request",
			slog.String("key", key),
			slog.Any("error", err),
		)
		if f.OnFailOpen != nil {
			f.OnFailOpen(err)
		}
		return Result{
			Allowed:    true,
			Limit:      limit,
			Remaining:  limit,
			ResetAt:    resetAt,
			FailedOpen: true,
		}
	}

	if count == 1 {
		if err := f.store.Expire(ctx, redisKey, f.window); err != nil {
			f.logger.Warn("failed to set rate limit window expiry",
				slog.String("key", key),
				slog.Any("error", err),
			)
		}
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:   count <= int64(limit),
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

func (f *FixedWindowLimiter) Window() time.Duration {
	return f.window
}
