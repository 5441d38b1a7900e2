package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"agent-relay/internal/domain/ports/repository"
)

const lockKeyPrefix = "relay:lock:conversation:"

// ConversationLock serialises conversation writers across processes that
// share one Redis and one store. TTL must exceed the longest append.
type ConversationLock struct {
	cli   *redis.Client
	ttl   time.Duration
	retry time.Duration
	log   zerolog.Logger
}

var _ repository.ConversationLocker = (*ConversationLock)(nil)

func NewConversationLock(c *Client, ttl time.Duration, logger zerolog.Logger) *ConversationLock {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &ConversationLock{
		cli:   c.cli,
		ttl:   ttl,
		retry: 25 * time.Millisecond,
		log:   logger.With().Str("component", "redis_lock").Logger(),
	}
}

// Lock polls SET NX until it wins or ctx is done.
func (l *ConversationLock) Lock(ctx context.Context, conversationID string) (func(), error) {
	key := lockKeyPrefix + conversationID
	token := uuid.NewString()
	t := time.NewTicker(l.retry)
	defer t.Stop()
	for {
		ok, err := l.cli.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil && ctx.Err() == nil {
			l.log.Warn().Err(err).Str("chat_id", conversationID).Msg("lock attempt failed")
		}
		if ok {
			return func() { l.unlock(key, token) }, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

var luaUnlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

func (l *ConversationLock) unlock(key, token string) {
	// The caller's context may already be cancelled; unlock regardless.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := luaUnlock.Run(ctx, l.cli, []string{key}, token).Result(); err != nil {
		l.log.Warn().Err(err).Str("key", key).Msg("unlock failed; lock will expire")
	}
}
