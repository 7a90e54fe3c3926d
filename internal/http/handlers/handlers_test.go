package handlers

import (
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/ctxutil"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
	"github.com/gndumbri/arbiter-ai-sub001/internal/services"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(func() { log.Sync() })
	return log
}

func testSession(t *testing.T) *ctxutil.SessionData {
	t.Helper()
	return &ctxutil.SessionData{
		TenantID:           uuid.MustParse("22222222-2222-4222-8222-222222222222"),
		SessionID:          uuid.MustParse("33333333-3333-4333-8333-333333333333"),
		GameSlug:           "root",
		OfficialNamespaces: []string{"off_root"},
		Tier:               services.TierFree,
	}
}

// withSession stands in for the auth middleware.
func withSession(sd *ctxutil.SessionData) gin.HandlerFunc {
	return func(c *gin.Context) {
		if sd != nil {
			c.Request = c.Request.WithContext(ctxutil.WithSessionData(c.Request.Context(), sd))
		}
		c.Next()
	}
}
