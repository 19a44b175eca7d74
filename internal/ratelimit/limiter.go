package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   time.Time
}

// Limiter is a fixed-window counter shared through redis.
type Limiter struct {
	client redis.Cmdable
	limit  int64
	window time.Duration
	now    func() time.Time
	logger *slog.Logger
}

func NewLimiter(client redis.Cmdable, limit int64, window time.Duration, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		client: client,
		limit:  limit,
		window: window,
		now:    time.Now,
		logger: logger,
	}
}

// WithClock swaps the time source.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

func Key(actor string, windowStart time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%d", actor, windowStart.Unix())
}

// Allow counts one request for actor. Redis errors are returned with an
// allowing decision so callers fail open.
func (l *Limiter) Allow(ctx context.Context, actor string) (Decision, error) {
	start := l.now().UTC().Truncate(l.window)
	decision := Decision{Allowed: true, Limit: l.limit, Remaining: l.limit, ResetAt: start.Add(l.window)}

	key := Key(actor, start)
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return decision, fmt.Errorf("incr %s: %w", key, err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			l.logger.Warn("failed to set rate limit expiry", "key", key, "error", err)
		}
	}

	decision.Remaining = l.limit - count
	if decision.Remaining < 0 {
		decision.Remaining = 0
	}
	decision.Allowed = count <= l.limit
	return decision, nil
}

// NewClient connects to redis and pings it once; nil means rate limiting stays off.
func NewClient(ctx context.Context, addr, password string, db int, logger *slog.Logger) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis connection failed, continuing without rate limiting", "addr", addr, "error", err)
		_ = rdb.Close()
		return nil
	}
	logger.Info("redis connection established", "addr", addr)
	return rdb
}
