package redis

import (
	"context"
	"fmt"
	"time"
)

type counter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, expiration time.Duration) error
}

// RateLimiter is a fixed-window counter.
type RateLimiter struct {
	client counter
	limit  int
	window time.Duration
}

func NewRateLimiter(client counter, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{client: client, limit: limit, window: window}
}

func (r *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	count, err := r.client.Incr(ctx, key)
	if err != nil {
		return false, err
	}

	if count == 1 {
		err = r.client.Expire(ctx, key, r.window)
		if err != nil {
			return false, err
		}
	}

	if count > int64(r.limit) {
		return false, nil
	}

	return true, nil
}

func SubmitKey(chatID string) string {
	return fmt.Sprintf("relay:rate_limit:submit:%s", chatID)
}
