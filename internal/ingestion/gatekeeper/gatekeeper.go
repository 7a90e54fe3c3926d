package gatekeeper

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gndumbri/arbiter-ai-sub001/internal/ingestion/staging"
	"github.com/gndumbri/arbiter-ai-sub001/internal/observability"
	"github.com/gndumbri/arbiter-ai-sub001/internal/parse"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/apierr"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
	"github.com/gndumbri/arbiter-ai-sub001/internal/repos"
	"github.com/gndumbri/arbiter-ai-sub001/internal/scan"
	"github.com/gndumbri/arbiter-ai-sub001/internal/types"
	"github.com/gndumbri/arbiter-ai-sub001/internal/utils"
)

const (
	defaultMaxUploadBytes = int64(50) << 20
	defaultMaxPDFPages    = 500

	pdfMagic               = "%PDF-"
	reporterMalwareScanner = "malware_scanner"
)

// Request is one upload to admit. Body is consumed exactly once and never
// fully buffered.
type Request struct {
	TenantID         uuid.UUID
	GameName         string
	SourceType       string
	SourcePriority   int
	OriginalFilename string
	Official         bool
	ExpiresAt        *time.Time
	Body             io.Reader
}

// Acceptance reports where the upload landed. Reused is true when an earlier
// upload of the same content already owns the document row; JobID is zero
// when no new job was enqueued.
type Acceptance struct {
	DocumentID  uuid.UUID
	JobID       uuid.UUID
	ContentHash string
	Status      string
	Reused      bool
}

// Gatekeeper runs the inline upload checks, stages the file, and enqueues
// the ingestion job. Order is fixed: size ceiling and magic bytes while
// streaming, hash, blocklist, malware scan, page ceiling, idempotency.
type Gatekeeper interface {
	Admit(ctx context.Context, req Request) (*Acceptance, error)
}

type gatekeeper struct {
	log       *logger.Logger
	db        *gorm.DB
	docs      repos.RulesetDocumentRepo
	jobs      repos.IngestionJobRepo
	blocklist repos.BlocklistRepo
	scanner   scan.Scanner
	parser    parse.Parser
	area      *staging.Area
	maxBytes  int64
	maxPages  int
}

func New(
	log *logger.Logger,
	db *gorm.DB,
	docs repos.RulesetDocumentRepo,
	jobs repos.IngestionJobRepo,
	blocklist repos.BlocklistRepo,
	scanner scan.Scanner,
	parser parse.Parser,
	area *staging.Area,
) (Gatekeeper, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if db == nil || docs == nil || jobs == nil || blocklist == nil {
		return nil, fmt.Errorf("db and repos required")
	}
	if scanner == nil || parser == nil || area == nil {
		return nil, fmt.Errorf("scanner, parser and staging area required")
	}
	maxBytes := int64(utils.GetEnvAsInt("MAX_UPLOAD_BYTES", int(defaultMaxUploadBytes), log))
	if maxBytes <= 0 {
		maxBytes = defaultMaxUploadBytes
	}
	maxPages := utils.GetEnvAsInt("MAX_PDF_PAGES", defaultMaxPDFPages, log)
	if maxPages <= 0 {
		maxPages = defaultMaxPDFPages
	}
	return &gatekeeper{
		log:       log.With("service", "UploadGatekeeper"),
		db:        db,
		docs:      docs,
		jobs:      jobs,
		blocklist: blocklist,
		scanner:   scanner,
		parser:    parser,
		area:      area,
		maxBytes:  maxBytes,
		maxPages:  maxPages,
	}, nil
}

func (g *gatekeeper) Admit(ctx context.Context, req Request) (*Acceptance, error) {
	acc, err := g.admit(ctx, req)
	if metrics := observability.Current(); metrics != nil {
		if err != nil {
			code := apierr.CodeOf(err)
			metrics.IncUploadRejected(code)
			switch code {
			case apierr.CodeBlockedFile:
				metrics.IncSecurityEvent("blocked_file")
			case apierr.CodeMalwareDetected:
				metrics.IncSecurityEvent("malware_detected")
			}
		} else {
			metrics.IncUploadAccepted()
		}
	}
	return acc, err
}

func (g *gatekeeper) admit(ctx context.Context, req Request) (*Acceptance, error) {
	if req.TenantID == uuid.Nil {
		return nil, apierr.Validation(fmt.Errorf("tenant id required"))
	}
	if req.Body == nil {
		return nil, apierr.Validation(fmt.Errorf("upload body required"))
	}
	gameName := strings.TrimSpace(req.GameName)
	gameSlug := utils.Slugify(gameName)
	if gameSlug == "" {
		return nil, apierr.Validation(fmt.Errorf("game name required"))
	}
	sourceType, err := normalizeSourceType(req.SourceType)
	if err != nil {
		return nil, apierr.Validation(err)
	}

	// The provisional id becomes the job id if admission enqueues one; the
	// staging dir is keyed by it either way.
	provisional := uuid.New()
	path, err := g.area.Create(provisional)
	if err != nil {
		return nil, apierr.Internal(err)
	}
	keepStaged := false
	defer func() {
		if !keepStaged {
			if rmErr := g.area.Remove(provisional); rmErr != nil {
				g.log.Warn("staging cleanup failed", "job_id", provisional, "error", rmErr)
			}
		}
	}()

	contentHash, size, err := g.stream(req.Body, path)
	if err != nil {
		return nil, err
	}

	blocked, err := g.blocklist.Contains(ctx, nil, contentHash)
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("blocklist lookup: %w", err))
	}
	if blocked {
		g.log.Warn("upload rejected by blocklist", "tenant_id", req.TenantID, "content_hash", contentHash)
		return nil, apierr.Security(apierr.CodeBlockedFile, fmt.Errorf("file content is blocked"))
	}

	scanRes, err := g.scanner.Scan(ctx, path)
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("malware scan: %w", err))
	}
	if !scanRes.Clean {
		if addErr := g.blocklist.Add(ctx, nil, &types.BlocklistEntry{
			ContentHash: contentHash,
			Reason:      scanRes.Signature,
			Reporter:    reporterMalwareScanner,
		}); addErr != nil {
			g.log.Error("blocklist append after detection failed", "content_hash", contentHash, "error", addErr)
		}
		keepStaged = true
		if shredErr := g.area.Shred(provisional); shredErr != nil {
			g.log.Warn("staged malware shred failed", "job_id", provisional, "error", shredErr)
		}
		g.log.Warn("malware detected in upload",
			"tenant_id", req.TenantID,
			"content_hash", contentHash,
			"signature", scanRes.Signature)
		return nil, apierr.Security(apierr.CodeMalwareDetected, fmt.Errorf("malware detected"))
	}

	pages, err := g.parser.PageCount(ctx, path)
	if err != nil {
		return nil, apierr.Parsing(fmt.Errorf("page count: %w", err))
	}
	if pages <= 0 {
		return nil, apierr.Parsing(fmt.Errorf("document has no readable pages"))
	}
	if pages > g.maxPages {
		return nil, apierr.Security(apierr.CodeTooManyPages,
			fmt.Errorf("document has %d pages, limit is %d", pages, g.maxPages))
	}

	return g.admitHashed(ctx, req, admission{
		provisional: provisional,
		gameName:    gameName,
		gameSlug:    gameSlug,
		sourceType:  sourceType,
		contentHash: contentHash,
		sizeBytes:   size,
		pageCount:   pages,
	}, &keepStaged)
}

type admission struct {
	provisional uuid.UUID
	gameName    string
	gameSlug    string
	sourceType  string
	contentHash string
	sizeBytes   int64
	pageCount   int
}

// admitHashed is step 7: resolve the (tenant, game, hash) identity to a
// document row and decide whether a new job is needed.
func (g *gatekeeper) admitHashed(ctx context.Context, req Request, adm admission, keepStaged *bool) (*Acceptance, error) {
	existing, err := g.docs.GetByHash(ctx, nil, req.TenantID, adm.gameSlug, adm.contentHash)
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("document lookup: %w", err))
	}

	if existing != nil {
		switch existing.Status {
		case types.DocumentStatusIndexed:
			g.log.Info("duplicate upload short-circuited to indexed document",
				"document_id", existing.ID, "content_hash", adm.contentHash)
			return &Acceptance{
				DocumentID:  existing.ID,
				ContentHash: adm.contentHash,
				Status:      existing.Status,
				Reused:      true,
			}, nil
		case types.DocumentStatusProcessing:
			acc := &Acceptance{
				DocumentID:  existing.ID,
				ContentHash: adm.contentHash,
				Status:      existing.Status,
				Reused:      true,
			}
			if job, jobErr := g.jobs.GetLatestByDocument(ctx, nil, existing.ID); jobErr == nil && job != nil {
				acc.JobID = job.ID
			}
			return acc, nil
		default:
			// FAILED or EXPIRED: resubmission reuses the row with a fresh job.
			return g.resubmit(ctx, req, adm, existing, keepStaged)
		}
	}

	doc := &types.RulesetDocument{
		TenantID:         req.TenantID,
		GameName:         adm.gameName,
		GameSlug:         adm.gameSlug,
		SourceType:       adm.sourceType,
		SourcePriority:   resolvePriority(req.SourcePriority, adm.sourceType),
		ContentHash:      adm.contentHash,
		Status:           types.DocumentStatusProcessing,
		Namespace:        namespaceFor(req, adm.gameSlug),
		Official:         req.Official,
		OriginalFilename: strings.TrimSpace(req.OriginalFilename),
		SizeBytes:        adm.sizeBytes,
		PageCount:        adm.pageCount,
		ExpiresAt:        req.ExpiresAt,
	}

	var job *types.IngestionJob
	created := false
	txErr := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var createErr error
		doc, created, createErr = g.docs.Create(ctx, tx, doc)
		if createErr != nil {
			return createErr
		}
		if !created {
			// Lost a same-hash race; the winner's job is already queued.
			return nil
		}
		job = newIngestJob(adm.provisional, doc, req.TenantID)
		job, createErr = g.jobs.Create(ctx, tx, job)
		return createErr
	})
	if txErr != nil {
		return nil, apierr.Internal(fmt.Errorf("admit upload: %w", txErr))
	}
	if !created {
		return &Acceptance{
			DocumentID:  doc.ID,
			ContentHash: adm.contentHash,
			Status:      doc.Status,
			Reused:      true,
		}, nil
	}

	*keepStaged = true
	g.log.Info("upload admitted",
		"document_id", doc.ID,
		"job_id", job.ID,
		"game_slug", adm.gameSlug,
		"pages", adm.pageCount,
		"size_bytes", adm.sizeBytes)
	return &Acceptance{
		DocumentID:  doc.ID,
		JobID:       job.ID,
		ContentHash: adm.contentHash,
		Status:      doc.Status,
	}, nil
}

func (g *gatekeeper) resubmit(ctx context.Context, req Request, adm admission, doc *types.RulesetDocument, keepStaged *bool) (*Acceptance, error) {
	var job *types.IngestionJob
	txErr := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := g.docs.UpdateFields(ctx, tx, doc.ID, map[string]interface{}{
			"status":         types.DocumentStatusProcessing,
			"failure_code":   "",
			"failure_detail": "",
			"chunk_count":    0,
			"page_count":     adm.pageCount,
			"size_bytes":     adm.sizeBytes,
			"expires_at":     req.ExpiresAt,
		}); err != nil {
			return err
		}
		var createErr error
		job = newIngestJob(adm.provisional, doc, req.TenantID)
		job, createErr = g.jobs.Create(ctx, tx, job)
		return createErr
	})
	if txErr != nil {
		return nil, apierr.Internal(fmt.Errorf("resubmit upload: %w", txErr))
	}

	*keepStaged = true
	g.log.Info("failed document resubmitted", "document_id", doc.ID, "job_id", job.ID)
	return &Acceptance{
		DocumentID:  doc.ID,
		JobID:       job.ID,
		ContentHash: adm.contentHash,
		Status:      types.DocumentStatusProcessing,
	}, nil
}

// stream copies the body to the staging file, enforcing the size ceiling
// mid-stream and requiring the %PDF- magic, while hashing what it writes.
func (g *gatekeeper) stream(body io.Reader, path string) (string, int64, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return "", 0, apierr.Internal(fmt.Errorf("open staging file: %w", err))
	}
	defer f.Close()

	magic := make([]byte, len(pdfMagic))
	if _, err := io.ReadFull(body, magic); err != nil {
		return "", 0, apierr.Security(apierr.CodeInvalidFileType, fmt.Errorf("upload too short to be a PDF"))
	}
	if string(magic) != pdfMagic {
		return "", 0, apierr.Security(apierr.CodeInvalidFileType, fmt.Errorf("upload is not a PDF"))
	}

	h := sha256.New()
	out := io.MultiWriter(f, h)
	if _, err := out.Write(magic); err != nil {
		return "", 0, apierr.Internal(fmt.Errorf("write staging file: %w", err))
	}

	// Read at most one byte past the ceiling so oversize uploads stop
	// streaming instead of filling the disk.
	rest := io.LimitReader(body, g.maxBytes-int64(len(magic))+1)
	n, err := io.Copy(out, rest)
	if err != nil {
		return "", 0, apierr.Internal(fmt.Errorf("stream upload: %w", err))
	}
	size := n + int64(len(magic))
	if size > g.maxBytes {
		return "", 0, apierr.Security(apierr.CodeFileTooLarge,
			fmt.Errorf("upload exceeds %d bytes", g.maxBytes))
	}
	if err := f.Close(); err != nil {
		return "", 0, apierr.Internal(fmt.Errorf("close staging file: %w", err))
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

func newIngestJob(id uuid.UUID, doc *types.RulesetDocument, tenantID uuid.UUID) *types.IngestionJob {
	return &types.IngestionJob{
		ID:         id,
		DocumentID: doc.ID,
		TenantID:   tenantID,
		JobType:    types.JobTypeRulebookIngest,
		Stage:      types.JobStageClassifier,
		Status:     types.JobStatusQueued,
	}
}

func normalizeSourceType(raw string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "", types.SourceTypeBase:
		return types.SourceTypeBase, nil
	case types.SourceTypeExpansion:
		return types.SourceTypeExpansion, nil
	case types.SourceTypeErrata:
		return types.SourceTypeErrata, nil
	default:
		return "", fmt.Errorf("unknown source type %q", raw)
	}
}

func resolvePriority(requested int, sourceType string) int {
	if requested > 0 {
		return requested
	}
	return types.DefaultSourcePriority(sourceType)
}

func namespaceFor(req Request, gameSlug string) string {
	if req.Official {
		return types.OfficialNamespace(gameSlug)
	}
	return types.TenantNamespace(req.TenantID)
}
