//go:build integration

package redis

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"agent-relay/internal/config"
)

func TestConversationLock_Integration(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx := context.Background()
	cli, err := NewClient(ctx, config.RedisConfig{URL: url})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer cli.Close()

	lk := NewConversationLock(cli, 5*time.Second, zerolog.Nop())
	var inside, overlap int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := lk.Lock(ctx, "it-chat")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			if atomic.AddInt32(&inside, 1) > 1 {
				atomic.StoreInt32(&overlap, 1)
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()
	if overlap != 0 {
		t.Fatal("two holders at once")
	}

	release, _ := lk.Lock(ctx, "held")
	defer release()
	short, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if _, err := lk.Lock(short, "held"); err == nil {
		t.Fatal("expected timeout while held")
	}
}
