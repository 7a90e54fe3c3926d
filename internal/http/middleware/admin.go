package middleware

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/gndumbri/arbiter-ai-sub001/internal/http/response"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/apierr"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
	"github.com/gndumbri/arbiter-ai-sub001/internal/utils"
)

const adminKeyHeader = "X-Admin-Key"

// AdminMiddleware guards the admin surface with a bcrypt-hashed API key.
// With no hash configured the surface stays closed.
type AdminMiddleware struct {
	log     *logger.Logger
	keyHash []byte
}

func NewAdminMiddleware(log *logger.Logger) *AdminMiddleware {
	mwLog := log.With("middleware", "AdminMiddleware")
	hash := strings.TrimSpace(utils.GetEnv("ADMIN_API_KEY_HASH", "", mwLog))
	if hash == "" {
		mwLog.Warn("ADMIN_API_KEY_HASH not set; admin endpoints will refuse all requests")
	}
	return &AdminMiddleware{log: mwLog, keyHash: []byte(hash)}
}

func (am *AdminMiddleware) Require() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(am.keyHash) == 0 {
			response.RespondAPIError(c, apierr.Unauthorized(fmt.Errorf("admin surface disabled")))
			c.Abort()
			return
		}
		key := strings.TrimSpace(c.GetHeader(adminKeyHeader))
		if key == "" {
			response.RespondAPIError(c, apierr.Unauthorized(fmt.Errorf("missing admin key")))
			c.Abort()
			return
		}
		if err := bcrypt.CompareHashAndPassword(am.keyHash, []byte(key)); err != nil {
			am.log.Warn("admin key rejected", "remote", c.ClientIP())
			response.RespondAPIError(c, apierr.Unauthorized(fmt.Errorf("invalid admin key")))
			c.Abort()
			return
		}
		c.Next()
	}
}
