package handlers

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/gndumbri/arbiter-ai-sub001/internal/http/response"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/apierr"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/ctxutil"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
	"github.com/gndumbri/arbiter-ai-sub001/internal/repos"
	"github.com/gndumbri/arbiter-ai-sub001/internal/services"
	"github.com/gndumbri/arbiter-ai-sub001/internal/types"
	"github.com/gndumbri/arbiter-ai-sub001/internal/utils"
)

const reporterAdmin = "admin"

var sha256Hex = regexp.MustCompile(`^[a-f0-9]{64}$`)

type AdminHandler struct {
	log       *logger.Logger
	blocklist repos.BlocklistRepo
	directory services.RulebookDirectory
	sessions  services.SessionDirectory
}

func NewAdminHandler(log *logger.Logger, blocklist repos.BlocklistRepo, directory services.RulebookDirectory, sessions services.SessionDirectory) *AdminHandler {
	return &AdminHandler{
		log:       log.With("handler", "AdminHandler"),
		blocklist: blocklist,
		directory: directory,
		sessions:  sessions,
	}
}

type blocklistRequest struct {
	ContentHash string `json:"content_hash"`
	Reason      string `json:"reason"`
}

// AddBlocklist appends a hash so future uploads of the same bytes are
// refused at the gate. Already-ingested documents are untouched; expire them
// separately if needed.
func (h *AdminHandler) AddBlocklist(c *gin.Context) {
	var req blocklistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, apierr.Validation(fmt.Errorf("invalid request body: %w", err)))
		return
	}
	hash := strings.ToLower(strings.TrimSpace(req.ContentHash))
	if !sha256Hex.MatchString(hash) {
		response.RespondAPIError(c, apierr.Validation(fmt.Errorf("content_hash must be 64 hex characters")))
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		response.RespondAPIError(c, apierr.Validation(fmt.Errorf("reason required")))
		return
	}
	entry := &types.BlocklistEntry{
		ContentHash: hash,
		Reason:      reason,
		Reporter:    reporterAdmin,
	}
	if err := h.blocklist.Add(c.Request.Context(), nil, entry); err != nil {
		response.RespondAPIError(c, apierr.Internal(fmt.Errorf("blocklist append: %w", err)))
		return
	}
	h.log.Info("hash blocklisted", "content_hash", hash, "reason", reason)
	response.RespondOK(c, entry)
}

type officialIngestRequest struct {
	GameName       string `json:"game_name"`
	SourceType     string `json:"source_type"`
	SourcePriority int    `json:"source_priority"`
	GCSURI         string `json:"gcs_uri"`
}

// IngestOfficial publishes a rulebook into the game's shared namespace.
// Accepts either a direct multipart upload or a JSON body naming a gs://
// object to pull.
func (h *AdminHandler) IngestOfficial(c *gin.Context) {
	req := services.OfficialIngest{}

	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
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
		req.GameName = c.PostForm("game_name")
		req.SourceType = c.PostForm("source_type")
		req.Filename = header.Filename
		req.Body = file
		if raw := strings.TrimSpace(c.PostForm("source_priority")); raw != "" {
			priority, convErr := strconv.Atoi(raw)
			if convErr != nil || priority < 0 {
				response.RespondAPIError(c, apierr.Validation(fmt.Errorf("source_priority must be a non-negative integer")))
				return
			}
			req.SourcePriority = priority
		}
	} else {
		var body officialIngestRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			response.RespondAPIError(c, apierr.Validation(fmt.Errorf("invalid request body: %w", err)))
			return
		}
		req.GameName = body.GameName
		req.SourceType = body.SourceType
		req.SourcePriority = body.SourcePriority
		req.GCSURI = body.GCSURI
	}

	acc, err := h.directory.IngestOfficial(c.Request.Context(), req)
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

func (h *AdminHandler) IndexStats(c *gin.Context) {
	stats, err := h.directory.Stats(c.Request.Context(), c.Query("namespace"))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, stats)
}

type issueSessionRequest struct {
	TenantID   uuid.UUID   `json:"tenant_id"`
	GameName   string      `json:"game_name"`
	RulesetIDs []uuid.UUID `json:"ruleset_ids"`
	Tier       string      `json:"tier"`
	TTLSecs    int         `json:"ttl_secs"`
}

// IssueSession mints a table session token. The session's game decides which
// official namespace the table reads alongside its own uploads.
func (h *AdminHandler) IssueSession(c *gin.Context) {
	var req issueSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, apierr.Validation(fmt.Errorf("invalid request body: %w", err)))
		return
	}
	gameSlug := utils.Slugify(req.GameName)
	if gameSlug == "" {
		response.RespondAPIError(c, apierr.Validation(fmt.Errorf("game_name required")))
		return
	}

	session := &ctxutil.SessionData{
		TenantID:           req.TenantID,
		SessionID:          uuid.New(),
		GameSlug:           gameSlug,
		RulesetIDs:         req.RulesetIDs,
		OfficialNamespaces: []string{types.OfficialNamespace(gameSlug)},
		Tier:               req.Tier,
	}
	if req.TTLSecs > 0 {
		session.ExpiresAt = time.Now().Add(time.Duration(req.TTLSecs) * time.Second)
	}

	token, err := h.sessions.Issue(session)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	payload := gin.H{
		"token":      token,
		"session_id": session.SessionID,
		"game_slug":  gameSlug,
	}
	if !session.ExpiresAt.IsZero() {
		payload["expires_at"] = session.ExpiresAt.UTC().Format(time.RFC3339)
	}
	response.RespondOK(c, payload)
}
