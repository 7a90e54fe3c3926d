package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/gndumbri/arbiter-ai-sub001/internal/clients/redisx"
	"github.com/gndumbri/arbiter-ai-sub001/internal/observability"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/apierr"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/ctxutil"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
	"github.com/gndumbri/arbiter-ai-sub001/internal/utils"
)

const (
	TierFree = "free"
	TierPro  = "pro"

	defaultFreeRPM = 30
	defaultProRPM  = 120
)

// RateLimiter is the slice of redisx.SlidingWindowLimiter the entitlement
// check needs.
type RateLimiter interface {
	Allow(ctx context.Context, tenantID string, limit int) (*redisx.Decision, error)
}

// Entitlements answers what a tenant is allowed to do right now. Tiers are
// static env-configured limits; the sliding window in redis does the
// counting.
type Entitlements interface {
	TierFor(session *ctxutil.SessionData) string
	LimitFor(tier string) int
	// Check records one adjudication request and errors with RATE_LIMITED
	// (Retry-After attached) when the tenant is over its window.
	Check(ctx context.Context, session *ctxutil.SessionData) (*redisx.Decision, error)
}

type entitlementService struct {
	log     *logger.Logger
	limiter RateLimiter
	freeRPM int
	proRPM  int
}

func NewEntitlements(log *logger.Logger, limiter RateLimiter) (Entitlements, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter required")
	}
	freeRPM := utils.GetEnvAsInt("RATE_LIMIT_FREE_RPM", defaultFreeRPM, log)
	if freeRPM < 1 {
		freeRPM = defaultFreeRPM
	}
	proRPM := utils.GetEnvAsInt("RATE_LIMIT_PRO_RPM", defaultProRPM, log)
	if proRPM < 1 {
		proRPM = defaultProRPM
	}
	return &entitlementService{
		log:     log.With("service", "Entitlements"),
		limiter: limiter,
		freeRPM: freeRPM,
		proRPM:  proRPM,
	}, nil
}

// TierFor reads the tier off the session; anything unrecognized is free.
func (e *entitlementService) TierFor(session *ctxutil.SessionData) string {
	if session == nil {
		return TierFree
	}
	if strings.EqualFold(strings.TrimSpace(session.Tier), TierPro) {
		return TierPro
	}
	return TierFree
}

func (e *entitlementService) LimitFor(tier string) int {
	if tier == TierPro {
		return e.proRPM
	}
	return e.freeRPM
}

func (e *entitlementService) Check(ctx context.Context, session *ctxutil.SessionData) (*redisx.Decision, error) {
	if session == nil {
		return nil, apierr.Validation(fmt.Errorf("session required"))
	}
	tier := e.TierFor(session)
	decision, err := e.limiter.Allow(ctx, session.TenantID.String(), e.LimitFor(tier))
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("rate limit check: %w", err))
	}
	if !decision.Allowed {
		if metrics := observability.Current(); metrics != nil {
			metrics.IncRateLimited(tier)
		}
		e.log.Info("adjudication rate limited",
			"tenant_id", session.TenantID,
			"tier", tier,
			"retry_after", decision.RetryAfter)
		return decision, apierr.RateLimited(decision.RetryAfter)
	}
	return decision, nil
}
