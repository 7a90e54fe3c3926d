package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/apierr"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/ctxutil"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
	"github.com/gndumbri/arbiter-ai-sub001/internal/utils"
)

const defaultSessionTTLSecs = 24 * 60 * 60

// SessionDirectory turns bearer tokens into table context: who is asking,
// which game the table is playing, and which rulesets are in scope. The
// default directory is stateless HS256 JWTs, so sessions survive restarts
// without a session table.
type SessionDirectory interface {
	Issue(session *ctxutil.SessionData) (string, error)
	Resolve(ctx context.Context, token string) (*ctxutil.SessionData, error)
}

type sessionClaims struct {
	jwt.RegisteredClaims
	TenantID           string   `json:"tenant_id"`
	GameSlug           string   `json:"game_slug"`
	RulesetIDs         []string `json:"ruleset_ids,omitempty"`
	OfficialNamespaces []string `json:"official_namespaces,omitempty"`
	Tier               string   `json:"tier,omitempty"`
}

type sessionDirectory struct {
	log    *logger.Logger
	secret []byte
	ttl    time.Duration
}

func NewSessionDirectory(log *logger.Logger) (SessionDirectory, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	secret := utils.GetEnv("SESSION_JWT_SECRET", "", log)
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("SESSION_JWT_SECRET required")
	}
	ttlSecs := utils.GetEnvAsInt("SESSION_TTL_SECS", defaultSessionTTLSecs, log)
	if ttlSecs < 1 {
		ttlSecs = defaultSessionTTLSecs
	}
	return &sessionDirectory{
		log:    log.With("service", "SessionDirectory"),
		secret: []byte(secret),
		ttl:    time.Duration(ttlSecs) * time.Second,
	}, nil
}

func (sd *sessionDirectory) Issue(session *ctxutil.SessionData) (string, error) {
	if session == nil || session.TenantID == uuid.Nil {
		return "", apierr.Validation(fmt.Errorf("session tenant required"))
	}
	sessionID := session.SessionID
	if sessionID == uuid.Nil {
		sessionID = uuid.New()
	}
	expiresAt := session.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(sd.ttl)
	}

	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.TenantID.String(),
			ID:        sessionID.String(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		TenantID:           session.TenantID.String(),
		GameSlug:           session.GameSlug,
		OfficialNamespaces: session.OfficialNamespaces,
		Tier:               session.Tier,
	}
	for _, id := range session.RulesetIDs {
		claims.RulesetIDs = append(claims.RulesetIDs, id.String())
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(sd.secret)
	if err != nil {
		return "", apierr.Internal(fmt.Errorf("sign session token: %w", err))
	}
	return signed, nil
}

func (sd *sessionDirectory) Resolve(_ context.Context, token string) (*ctxutil.SessionData, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apierr.Unauthorized(fmt.Errorf("missing session token"))
	}

	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return sd.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apierr.SessionExpired(fmt.Errorf("session token expired"))
		}
		return nil, apierr.Unauthorized(fmt.Errorf("parse session token: %w", err))
	}
	if !parsed.Valid {
		return nil, apierr.Unauthorized(fmt.Errorf("invalid session token"))
	}

	tenantID, err := uuid.Parse(claims.TenantID)
	if err != nil || tenantID == uuid.Nil {
		return nil, apierr.Unauthorized(fmt.Errorf("session token carries no tenant"))
	}
	sessionID, err := uuid.Parse(claims.ID)
	if err != nil {
		sessionID = uuid.Nil
	}

	sdata := &ctxutil.SessionData{
		TenantID:           tenantID,
		SessionID:          sessionID,
		GameSlug:           claims.GameSlug,
		OfficialNamespaces: claims.OfficialNamespaces,
		Tier:               claims.Tier,
	}
	if claims.ExpiresAt != nil {
		sdata.ExpiresAt = claims.ExpiresAt.Time
	}
	for _, raw := range claims.RulesetIDs {
		id, perr := uuid.Parse(raw)
		if perr != nil {
			continue
		}
		sdata.RulesetIDs = append(sdata.RulesetIDs, id)
	}
	return sdata, nil
}
