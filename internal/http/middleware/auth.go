package middleware

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/gndumbri/arbiter-ai-sub001/internal/http/response"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/apierr"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/ctxutil"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
	"github.com/gndumbri/arbiter-ai-sub001/internal/services"
)

type SessionMiddleware struct {
	log      *logger.Logger
	sessions services.SessionDirectory
}

func NewSessionMiddleware(log *logger.Logger, sessions services.SessionDirectory) *SessionMiddleware {
	return &SessionMiddleware{
		log:      log.With("middleware", "SessionMiddleware"),
		sessions: sessions,
	}
}

// Require resolves the bearer token into table context and attaches it to
// the request. Expired tokens keep their SESSION_EXPIRED code so clients can
// tell re-auth from rejection.
func (sm *SessionMiddleware) Require() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			response.RespondAPIError(c, apierr.Unauthorized(fmt.Errorf("missing bearer token")))
			c.Abort()
			return
		}
		session, err := sm.sessions.Resolve(c.Request.Context(), token)
		if err != nil {
			response.RespondAPIError(c, err)
			c.Abort()
			return
		}
		if session == nil || session.TenantID == uuid.Nil {
			response.RespondAPIError(c, apierr.Unauthorized(fmt.Errorf("session has no tenant")))
			c.Abort()
			return
		}
		c.Request = c.Request.WithContext(ctxutil.WithSessionData(c.Request.Context(), session))
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}
