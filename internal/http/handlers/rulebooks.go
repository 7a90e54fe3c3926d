package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/gndumbri/arbiter-ai-sub001/internal/http/response"
	"github.com/gndumbri/arbiter-ai-sub001/internal/ingestion/gatekeeper"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/apierr"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/ctxutil"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
	"github.com/gndumbri/arbiter-ai-sub001/internal/services"
	"github.com/gndumbri/arbiter-ai-sub001/internal/types"
)

// uploadFormLimit bounds the in-memory part of multipart parsing; anything
// bigger spools to disk. The gatekeeper enforces the real size ceiling while
// it streams.
const uploadFormLimit = 32 << 20

type RulebookHandler struct {
	log       *logger.Logger
	keeper    gatekeeper.Gatekeeper
	directory services.RulebookDirectory
}

func NewRulebookHandler(log *logger.Logger, keeper gatekeeper.Gatekeeper, directory services.RulebookDirectory) *RulebookHandler {
	return &RulebookHandler{
		log:       log.With("handler", "RulebookHandler"),
		keeper:    keeper,
		directory: directory,
	}
}

type uploadResponse struct {
	DocumentID  uuid.UUID `json:"document_id"`
	JobID       uuid.UUID `json:"job_id,omitempty"`
	ContentHash string    `json:"content_hash"`
	Status      string    `json:"status"`
	Reused      bool      `json:"reused,omitempty"`
}

// Upload admits one rulebook PDF. The file streams straight through the
// gatekeeper; a duplicate of an already-indexed hash returns 200 with the
// existing document instead of enqueueing a second job.
func (h *RulebookHandler) Upload(c *gin.Context) {
	sd := ctxutil.GetSessionData(c.Request.Context())
	if sd == nil {
		response.RespondAPIError(c, apierr.Unauthorized(fmt.Errorf("session required")))
		return
	}
	if err := c.Request.ParseMultipartForm(uploadFormLimit); err != nil {
		response.RespondAPIError(c, apierr.Validation(fmt.Errorf("invalid multipart form: %w", err)))
		return
	}
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		response.RespondAPIError(c, apierr.Validation(fmt.Errorf("file field required")))
		return
	}
	defer file.Close()

	priority := 0
	if raw := strings.TrimSpace(c.PostForm("source_priority")); raw != "" {
		priority, err = strconv.Atoi(raw)
		if err != nil || priority < 0 {
			response.RespondAPIError(c, apierr.Validation(fmt.Errorf("source_priority must be a non-negative integer")))
			return
		}
	}

	req := gatekeeper.Request{
		TenantID:         sd.TenantID,
		GameName:         c.PostForm("game_name"),
		SourceType:       c.PostForm("source_type"),
		SourcePriority:   priority,
		OriginalFilename: header.Filename,
		Body:             file,
	}
	// Player uploads live as long as the table does.
	if !sd.ExpiresAt.IsZero() {
		expires := sd.ExpiresAt
		req.ExpiresAt = &expires
	}

	acc, err := h.keeper.Admit(c.Request.Context(), req)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}

	body := uploadResponse{
		DocumentID:  acc.DocumentID,
		JobID:       acc.JobID,
		ContentHash: acc.ContentHash,
		Status:      acc.Status,
		Reused:      acc.Reused,
	}
	if acc.JobID == uuid.Nil {
		response.RespondOK(c, body)
		return
	}
	response.RespondAccepted(c, body)
}

func (h *RulebookHandler) Status(c *gin.Context) {
	sd := ctxutil.GetSessionData(c.Request.Context())
	if sd == nil {
		response.RespondAPIError(c, apierr.Unauthorized(fmt.Errorf("session required")))
		return
	}
	documentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondAPIError(c, apierr.Validation(fmt.Errorf("invalid document id")))
		return
	}
	status, err := h.directory.Status(c.Request.Context(), sd.TenantID, documentID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, status)
}

func (h *RulebookHandler) Expire(c *gin.Context) {
	sd := ctxutil.GetSessionData(c.Request.Context())
	if sd == nil {
		response.RespondAPIError(c, apierr.Unauthorized(fmt.Errorf("session required")))
		return
	}
	documentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondAPIError(c, apierr.Validation(fmt.Errorf("invalid document id")))
		return
	}
	if err := h.directory.Expire(c.Request.Context(), sd.TenantID, documentID); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"document_id": documentID,
		"status":      types.DocumentStatusExpired,
		"expired_at":  time.Now().UTC().Format(time.RFC3339),
	})
}
