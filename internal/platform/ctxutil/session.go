package ctxutil

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type sessionDataKey struct{}

// SessionData is what the session directory resolved for this request. The
// auth middleware attaches it; everything downstream reads it from context.
type SessionData struct {
	TenantID           uuid.UUID
	SessionID          uuid.UUID
	GameSlug           string
	RulesetIDs         []uuid.UUID
	OfficialNamespaces []string
	Tier               string
	ExpiresAt          time.Time
}

func WithSessionData(ctx context.Context, sd *SessionData) context.Context {
	return context.WithValue(ctx, sessionDataKey{}, sd)
}

func GetSessionData(ctx context.Context) *SessionData {
	val := ctx.Value(sessionDataKey{})
	if sd, ok := val.(*SessionData); ok {
		return sd
	}
	return nil
}
