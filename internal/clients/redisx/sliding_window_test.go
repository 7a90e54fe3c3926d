package redisx

import (
	"context"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
)

func TestNewRequiresAddr(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	if _, err := New(newTestLogger(t)); err == nil {
		t.Fatalf("expected error for missing REDIS_ADDR")
	}
}

func TestNewRejectsInvalidDB(t *testing.T) {
	t.Setenv("REDIS_ADDR", "127.0.0.1:6379")
	t.Setenv("REDIS_DB", "primary")
	if _, err := New(newTestLogger(t)); err == nil {
		t.Fatalf("expected error for invalid REDIS_DB")
	}
}

func TestAllowValidatesInput(t *testing.T) {
	l := newTestLimiter(t, unreachableRedisClient(t))

	if _, err := l.Allow(context.Background(), "  ", 10); err == nil {
		t.Fatalf("expected error for empty tenant id")
	}
	if _, err := l.Allow(context.Background(), "tenant-1", 0); err == nil {
		t.Fatalf("expected error for non-positive limit")
	}
}

func TestAllowFailsOpenWhenRedisUnreachable(t *testing.T) {
	l := newTestLimiter(t, unreachableRedisClient(t))

	d, err := l.Allow(context.Background(), "tenant-1", 5)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("unreachable redis must not deny requests")
	}
	if !d.Degraded {
		t.Fatalf("expected degraded decision")
	}
}

func TestSlidingWindowIntegration(t *testing.T) {
	if !redisIntegrationEnabled() {
		t.Skip("set REDIS_INTEGRATION=1 to run redis integration tests")
	}
	t.Setenv("RATE_LIMIT_WINDOW_SECS", "60")

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        redisIntegrationAddr(),
		DialTimeout: 2 * time.Second,
	})
	t.Cleanup(func() { rdb.Close() })
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("redis ping: %v", err)
	}

	l := newTestLimiter(t, rdb)
	tenant := "it-" + uuid.NewString()
	t.Cleanup(func() { rdb.Del(context.Background(), rateLimitKeyPrefix+tenant) })

	const limit = 3
	for i := 0; i < limit; i++ {
		d, err := l.Allow(context.Background(), tenant, limit)
		if err != nil {
			t.Fatalf("Allow %d: %v", i, err)
		}
		if !d.Allowed || d.Degraded {
			t.Fatalf("request %d: got=%#v", i, d)
		}
		if d.Remaining != limit-(i+1) {
			t.Fatalf("request %d remaining: want=%d got=%d", i, limit-(i+1), d.Remaining)
		}
	}

	d, err := l.Allow(context.Background(), tenant, limit)
	if err != nil {
		t.Fatalf("Allow over limit: %v", err)
	}
	if d.Allowed {
		t.Fatalf("expected denial past the limit")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > l.window {
		t.Fatalf("retry after out of range: %v", d.RetryAfter)
	}
}

func newTestLimiter(t *testing.T, rdb *goredis.Client) *SlidingWindowLimiter {
	t.Helper()
	l, err := NewSlidingWindowLimiter(newTestLogger(t), rdb)
	if err != nil {
		t.Fatalf("NewSlidingWindowLimiter: %v", err)
	}
	return l
}

// unreachableRedisClient points at a loopback port that was just closed, so
// every command fails with a connection error.
func unreachableRedisClient(t *testing.T) *goredis.Client {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	rdb := goredis.NewClient(&goredis.Options{Addr: addr, DialTimeout: time.Second})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func redisIntegrationEnabled() bool {
	return strings.TrimSpace(os.Getenv("REDIS_INTEGRATION")) == "1"
}

func redisIntegrationAddr() string {
	if addr := strings.TrimSpace(os.Getenv("REDIS_INTEGRATION_ADDR")); addr != "" {
		return addr
	}
	if addr := strings.TrimSpace(os.Getenv("REDIS_ADDR")); addr != "" {
		return addr
	}
	return "127.0.0.1:6379"
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(func() { log.Sync() })
	return log
}
