package server

import (
	"context"
	"fmt"
	"time"

	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// NewMemoryLimiter allows at most requests in any span of window for each
// client. The bucket holds requests tokens and regains one per window, so
// less than one token accrues inside a window. State is per process.
func NewMemoryLimiter(requests int, window time.Duration) middleware.RateLimiterStore {
	return middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Every(window),
		Burst:     requests,
		ExpiresIn: window,
	})
}

// RedisLimiter is a fixed-window counter shared by every replica
type RedisLimiter struct {
	client   redis.UniversalClient
	prefix   string
	requests int
	window   time.Duration
	timeout  time.Duration
	now      func() time.Time
}

// NewRedisLimiter allows requests per window for each client
func NewRedisLimiter(client redis.UniversalClient, requests int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client:   client,
		prefix:   "inkchat:ratelimit:",
		requests: requests,
		window:   window,
		timeout:  2 * time.Second,
		now:      time.Now,
	}
}

// Allow counts one request for identifier in the current window
func (l *RedisLimiter) Allow(identifier string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	slot := l.now().UnixNano() / int64(l.window)
	key := fmt.Sprintf("%s%s:%d", l.prefix, identifier, slot)

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, l.window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("rate limit counter failed: %w", err)
	}
	return incr.Val() <= int64(l.requests), nil
}

var _ middleware.RateLimiterStore = (*RedisLimiter)(nil)
