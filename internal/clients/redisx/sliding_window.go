package redisx

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
	"github.com/gndumbri/arbiter-ai-sub001/internal/utils"
)

const (
	rateLimitKeyPrefix     = "arb:rl:"
	defaultRateLimitWindow = 60
)

// Decision is the outcome of one rate-limit check. Degraded marks requests
// that were let through unchecked because redis was unreachable.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
	Degraded   bool
}

// SlidingWindowLimiter counts requests per tenant in a redis sorted set
// keyed arb:rl:<tenant>, scored by request nanos. Denied requests still
// occupy a slot, so hammering a saturated tenant extends the wait.
//
// Redis failures never deny a request: the limiter logs a warning and lets
// the request through (availability over enforcement).
type SlidingWindowLimiter struct {
	log    *logger.Logger
	rdb    *goredis.Client
	window time.Duration
}

func NewSlidingWindowLimiter(log *logger.Logger, rdb *goredis.Client) (*SlidingWindowLimiter, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if rdb == nil {
		return nil, fmt.Errorf("redis client required")
	}
	windowSecs := utils.GetEnvAsInt("RATE_LIMIT_WINDOW_SECS", defaultRateLimitWindow, log)
	if windowSecs <= 0 {
		windowSecs = defaultRateLimitWindow
	}
	return &SlidingWindowLimiter{
		log:    log.With("service", "SlidingWindowLimiter"),
		rdb:    rdb,
		window: time.Duration(windowSecs) * time.Second,
	}, nil
}

// Allow records one request for the tenant and reports whether it fits
// inside the tenant's limit for the current window.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, tenantID string, limit int) (*Decision, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("tenant id required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	key := rateLimitKeyPrefix + tenantID
	now := time.Now()
	floor := now.Add(-l.window).UnixNano()

	pipe := l.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(floor, 10))
	pipe.ZAdd(ctx, key, goredis.Z{Score: float64(now.UnixNano()), Member: uuid.NewString()})
	card := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, l.window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		l.log.Warn("rate limiter degraded, allowing request unchecked", "tenant_id", tenantID, "error", err)
		return &Decision{Allowed: true, Remaining: limit, Degraded: true}, nil
	}

	count := int(card.Val())
	if count <= limit {
		return &Decision{Allowed: true, Remaining: limit - count}, nil
	}
	return &Decision{Allowed: false, RetryAfter: l.retryAfter(ctx, key, now)}, nil
}

// retryAfter estimates when the oldest request in the window ages out. On
// any lookup failure the full window is a safe hint.
func (l *SlidingWindowLimiter) retryAfter(ctx context.Context, key string, now time.Time) time.Duration {
	oldest, err := l.rdb.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil || len(oldest) == 0 {
		return l.window
	}
	wait := time.Unix(0, int64(oldest[0].Score)).Add(l.window).Sub(now)
	if wait < time.Second {
		wait = time.Second
	}
	return wait
}
