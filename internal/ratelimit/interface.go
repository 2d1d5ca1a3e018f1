package ratelimit

import (
	"context"
	"time"
)

// Result is the outcome of one rate-limit check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// FailedOpen is set when the counter store was unreachable.
	FailedOpen bool
}

type Limiter interface {
	// Check counts one request for key against limit.
	Check(ctx context.Context, key string, limit int) Result

	Window() time.Duration
}

// Counter is the atomic counter store the limiter relies on.
type Counter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}
