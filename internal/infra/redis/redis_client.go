package redis

import (
	"context"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"agent-relay/internal/config"
)

type RedisClient interface {
	Ping(ctx context.Context) error
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, expiration time.Duration) error
	Close() error
}

var _ RedisClient = (*Client)(nil)

type Client struct {
	cli *redis.Client
}

// NewClient accepts either a redis:// URL or a bare host:port address.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	var opts *redis.Options
	if strings.Contains(cfg.URL, "://") {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, err
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: cfg.URL, DB: cfg.DB}
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	c := redis.NewClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return &Client{cli: c}, nil
}

func (c *Client) Ping(ctx context.Context) error { return c.cli.Ping(ctx).Err() }

func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	return c.cli.Incr(ctx, key).Result()
}

func (c *Client) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return c.cli.Expire(ctx, key, expiration).Err()
}

func (c *Client) Close() error { return c.cli.Close() }
