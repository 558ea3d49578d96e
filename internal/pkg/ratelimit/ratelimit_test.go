package ratelimit

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestLimiter_AllowConsumesToken(t *testing.T) {
	rdb := newMiniRedis(t)
	defer closeRedis(t, rdb)

	limiter := NewRedisLimiter(rdb, "test:ratelimit:", 10, 2)
	allowed, _, err := limiter.Allow(context.Background(), "client-a")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !allowed {
		t.Fatalf("expected first request to pass")
	}

	tokensStr, err := rdb.HGet(context.Background(), "test:ratelimit:client-a", "tokens").Result()
	if err != nil {
		t.Fatalf("hget tokens: %v", err)
	}
	tokens, err := strconv.ParseFloat(tokensStr, 64)
	if err != nil {
		t.Fatalf("parse tokens: %v", err)
	}
	if tokens > 1.1 {
		t.Fatalf("expected tokens to decrease, got %.2f", tokens)
	}
}

func TestLimiter_DeniesWhenBucketEmpty(t *testing.T) {
	rdb := newMiniRedis(t)
	defer closeRedis(t, rdb)

	limiter := NewRedisLimiter(rdb, "test:ratelimit:", 1, 1)
	allowed, _, err := limiter.Allow(context.Background(), "client-b")
	if err != nil || !allowed {
		t.Fatalf("warm allow: allowed=%v err=%v", allowed, err)
	}

	allowed, retryAfter, err := limiter.Allow(context.Background(), "client-b")
	if err != nil {
		t.Fatalf("second allow: %v", err)
	}
	if allowed {
		t.Fatalf("expected denial on empty bucket")
	}
	if retryAfter <= 0 || retryAfter > 2*time.Second {
		t.Fatalf("unexpected retry-after %v", retryAfter)
	}
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	rdb := newMiniRedis(t)
	defer closeRedis(t, rdb)

	limiter := NewRedisLimiter(rdb, "test:ratelimit:", 1, 1)
	if allowed, _, _ := limiter.Allow(context.Background(), "client-c"); !allowed {
		t.Fatalf("expected client-c to pass")
	}
	if allowed, _, _ := limiter.Allow(context.Background(), "client-d"); !allowed {
		t.Fatalf("expected client-d to have its own bucket")
	}
}

func TestLimiter_DisabledWhenUnconfigured(t *testing.T) {
	rdb := newMiniRedis(t)
	defer closeRedis(t, rdb)

	limiter := NewRedisLimiter(rdb, "test:ratelimit:", 0, 0)
	for i := 0; i < 50; i++ {
		allowed, _, err := limiter.Allow(context.Background(), "client-e")
		if err != nil || !allowed {
			t.Fatalf("expected disabled limiter to always pass, allowed=%v err=%v", allowed, err)
		}
	}
}

func TestLimiter_ConcurrentAllow(t *testing.T) {
	rdb := newMiniRedis(t)
	defer closeRedis(t, rdb)

	limiter := NewRedisLimiter(rdb, "test:ratelimit:", 5, 5)

	var wg sync.WaitGroup
	var mu sync.Mutex
	success := 0

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed, _, err := limiter.Allow(context.Background(), "client-f")
			if err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if allowed {
				success++
			}
		}()
	}

	wg.Wait()

	if success != 5 {
		t.Fatalf("expected exactly 5 immediate successes, got %d", success)
	}
}

func newMiniRedis(t *testing.T) *redis.Client {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	return redis.NewClient(&redis.Options{Addr: s.Addr()})
}

func closeRedis(t *testing.T, rdb *redis.Client) {
	t.Helper()
	if err := rdb.Close(); err != nil {
		t.Fatalf("close redis: %v", err)
	}
}
