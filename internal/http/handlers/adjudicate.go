package handlers

import (
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/gndumbri/arbiter-ai-sub001/internal/adjudication"
	"github.com/gndumbri/arbiter-ai-sub001/internal/http/response"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/apierr"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/ctxutil"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
	"github.com/gndumbri/arbiter-ai-sub001/internal/services"
)

type AdjudicateHandler struct {
	log          *logger.Logger
	entitlements services.Entitlements
	arbiter      services.Adjudicator
}

func NewAdjudicateHandler(log *logger.Logger, entitlements services.Entitlements, arbiter services.Adjudicator) *AdjudicateHandler {
	return &AdjudicateHandler{
		log:          log.With("handler", "AdjudicateHandler"),
		entitlements: entitlements,
		arbiter:      arbiter,
	}
}

type adjudicateRequest struct {
	Question string `json:"question"`
}

type feedbackRequest struct {
	AuditID uuid.UUID `json:"audit_id"`
	Signal  string    `json:"signal"`
}

// Adjudicate answers one rules question. The rate limiter runs before the
// pipeline; a refused request is still audited so the tenant's history shows
// it was asked.
func (h *AdjudicateHandler) Adjudicate(c *gin.Context) {
	sd := ctxutil.GetSessionData(c.Request.Context())
	if sd == nil {
		response.RespondAPIError(c, apierr.Unauthorized(fmt.Errorf("session required")))
		return
	}
	var req adjudicateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, apierr.Validation(fmt.Errorf("invalid request body: %w", err)))
		return
	}

	decision, err := h.entitlements.Check(c.Request.Context(), sd)
	if decision != nil {
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	}
	if err != nil {
		if apierr.CodeOf(err) == apierr.CodeRateLimited {
			h.arbiter.RecordRefusal(sd, req.Question, adjudication.OutcomeRateLimited)
		}
		response.RespondAPIError(c, err)
		return
	}

	ruling, err := h.arbiter.Adjudicate(c.Request.Context(), sd, req.Question)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, ruling)
}

func (h *AdjudicateHandler) Feedback(c *gin.Context) {
	sd := ctxutil.GetSessionData(c.Request.Context())
	if sd == nil {
		response.RespondAPIError(c, apierr.Unauthorized(fmt.Errorf("session required")))
		return
	}
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, apierr.Validation(fmt.Errorf("invalid request body: %w", err)))
		return
	}
	if err := h.arbiter.Feedback(c.Request.Context(), sd.TenantID, req.AuditID, req.Signal); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"audit_id": req.AuditID, "signal": req.Signal})
}
