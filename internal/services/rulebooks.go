package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gndumbri/arbiter-ai-sub001/internal/clients/gcp"
	"github.com/gndumbri/arbiter-ai-sub001/internal/clients/pinecone"
	"github.com/gndumbri/arbiter-ai-sub001/internal/ingestion/gatekeeper"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/apierr"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
	"github.com/gndumbri/arbiter-ai-sub001/internal/repos"
	"github.com/gndumbri/arbiter-ai-sub001/internal/types"
	"github.com/gndumbri/arbiter-ai-sub001/internal/utils"
)

// defaultOfficialTenantID owns publisher rulebook rows. Official documents
// are shared through their namespace, not their tenant.
const defaultOfficialTenantID = "00000000-0000-0000-0000-000000000001"

// RulebookStatus is the lifecycle view a tenant polls while ingestion runs.
type RulebookStatus struct {
	DocumentID    uuid.UUID  `json:"document_id"`
	GameName      string     `json:"game_name"`
	GameSlug      string     `json:"game_slug"`
	SourceType    string     `json:"source_type"`
	Status        string     `json:"status"`
	FailureCode   string     `json:"failure_code,omitempty"`
	FailureDetail string     `json:"failure_detail,omitempty"`
	ChunkCount    int        `json:"chunk_count"`
	PageCount     int        `json:"page_count,omitempty"`
	Official      bool       `json:"official"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	JobID         uuid.UUID  `json:"job_id,omitempty"`
	JobStage      string     `json:"job_stage,omitempty"`
	JobStatus     string     `json:"job_status,omitempty"`
	JobAttempts   int        `json:"job_attempts,omitempty"`
}

// OfficialIngest registers a publisher rulebook. Exactly one of Body
// (multipart upload) or GCSURI must be set.
type OfficialIngest struct {
	GameName       string
	SourceType     string
	SourcePriority int
	Filename       string
	GCSURI         string
	Body           io.Reader
}

type IndexStats struct {
	Namespace string `json:"namespace"`
	Vectors   int64  `json:"vectors"`
}

// RulebookDirectory covers the document lifecycle outside the pipeline:
// status polling, tenant-requested expiry, official registration, and the
// admin index stats.
type RulebookDirectory interface {
	Status(ctx context.Context, tenantID, documentID uuid.UUID) (*RulebookStatus, error)
	Expire(ctx context.Context, tenantID, documentID uuid.UUID) error
	IngestOfficial(ctx context.Context, req OfficialIngest) (*gatekeeper.Acceptance, error)
	Stats(ctx context.Context, namespace string) (*IndexStats, error)
}

type rulebookDirectory struct {
	log            *logger.Logger
	docs           repos.RulesetDocumentRepo
	jobs           repos.IngestionJobRepo
	store          pinecone.VectorStore
	bucket         gcp.Bucket
	keeper         gatekeeper.Gatekeeper
	officialTenant uuid.UUID
}

func NewRulebookDirectory(
	log *logger.Logger,
	docs repos.RulesetDocumentRepo,
	jobs repos.IngestionJobRepo,
	store pinecone.VectorStore,
	bucket gcp.Bucket,
	keeper gatekeeper.Gatekeeper,
) (RulebookDirectory, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if docs == nil || jobs == nil {
		return nil, fmt.Errorf("document and job repos required")
	}
	if store == nil {
		return nil, fmt.Errorf("vector store required")
	}
	if keeper == nil {
		return nil, fmt.Errorf("gatekeeper required")
	}
	raw := utils.GetEnv("OFFICIAL_TENANT_ID", defaultOfficialTenantID, log)
	officialTenant, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid OFFICIAL_TENANT_ID %q: %w", raw, err)
	}
	return &rulebookDirectory{
		log:            log.With("service", "RulebookDirectory"),
		docs:           docs,
		jobs:           jobs,
		store:          store,
		bucket:         bucket,
		keeper:         keeper,
		officialTenant: officialTenant,
	}, nil
}

func (rd *rulebookDirectory) Status(ctx context.Context, tenantID, documentID uuid.UUID) (*RulebookStatus, error) {
	if tenantID == uuid.Nil || documentID == uuid.Nil {
		return nil, apierr.Validation(fmt.Errorf("tenant and document id required"))
	}
	doc, err := rd.docs.GetByID(ctx, nil, documentID)
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("load document: %w", err))
	}
	// Official documents are shared, so any tenant may poll them. Other
	// tenants' uploads stay invisible.
	if doc == nil || (doc.TenantID != tenantID && !doc.Official) {
		return nil, apierr.NotFound(fmt.Errorf("document %s not found", documentID))
	}
	status := &RulebookStatus{
		DocumentID:    doc.ID,
		GameName:      doc.GameName,
		GameSlug:      doc.GameSlug,
		SourceType:    doc.SourceType,
		Status:        doc.Status,
		FailureCode:   doc.FailureCode,
		FailureDetail: doc.FailureDetail,
		ChunkCount:    doc.ChunkCount,
		PageCount:     doc.PageCount,
		Official:      doc.Official,
		ExpiresAt:     doc.ExpiresAt,
	}
	job, err := rd.jobs.GetLatestByDocument(ctx, nil, documentID)
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("load job: %w", err))
	}
	if job != nil {
		status.JobID = job.ID
		status.JobStage = job.Stage
		status.JobStatus = job.Status
		status.JobAttempts = job.Attempts
	}
	return status, nil
}

// Expire removes a tenant's document from retrieval. Vectors go first so a
// storage failure leaves the document queryable and the call retryable; the
// chunk rows stay behind for audit snippets.
func (rd *rulebookDirectory) Expire(ctx context.Context, tenantID, documentID uuid.UUID) error {
	if tenantID == uuid.Nil || documentID == uuid.Nil {
		return apierr.Validation(fmt.Errorf("tenant and document id required"))
	}
	doc, err := rd.docs.GetByID(ctx, nil, documentID)
	if err != nil {
		return apierr.Internal(fmt.Errorf("load document: %w", err))
	}
	if doc == nil || doc.TenantID != tenantID {
		return apierr.NotFound(fmt.Errorf("document %s not found", documentID))
	}
	if doc.Status == types.DocumentStatusExpired {
		return nil
	}
	if err := rd.store.DeleteByDocument(ctx, doc.Namespace, doc.ID.String()); err != nil {
		return apierr.Internal(fmt.Errorf("delete vectors for %s: %w", doc.ID, err))
	}
	if err := rd.docs.UpdateFields(ctx, nil, doc.ID, map[string]interface{}{
		"status":     types.DocumentStatusExpired,
		"updated_at": time.Now().UTC(),
	}); err != nil {
		return apierr.Internal(fmt.Errorf("expire document %s: %w", doc.ID, err))
	}
	rd.log.Info("document expired", "document_id", doc.ID, "tenant_id", tenantID, "namespace", doc.Namespace)
	return nil
}

func (rd *rulebookDirectory) IngestOfficial(ctx context.Context, req OfficialIngest) (*gatekeeper.Acceptance, error) {
	if strings.TrimSpace(req.GameName) == "" {
		return nil, apierr.Validation(fmt.Errorf("game_name required"))
	}
	body := req.Body
	filename := req.Filename
	if body == nil {
		uri := strings.TrimSpace(req.GCSURI)
		if uri == "" {
			return nil, apierr.Validation(fmt.Errorf("either a file or gcs_uri required"))
		}
		if rd.bucket == nil {
			return nil, apierr.New(http.StatusServiceUnavailable, apierr.CodeProviderDisabled, fmt.Errorf("object storage not configured"))
		}
		rc, err := rd.bucket.Download(ctx, uri)
		if err != nil {
			return nil, apierr.Validation(fmt.Errorf("fetch %s: %w", uri, err))
		}
		defer rc.Close()
		body = rc
		if filename == "" {
			filename = uri[strings.LastIndex(uri, "/")+1:]
		}
	}
	acc, err := rd.keeper.Admit(ctx, gatekeeper.Request{
		TenantID:         rd.officialTenant,
		GameName:         req.GameName,
		SourceType:       req.SourceType,
		SourcePriority:   req.SourcePriority,
		OriginalFilename: filename,
		Official:         true,
		Body:             body,
	})
	if err != nil {
		return nil, err
	}
	rd.log.Info("official rulebook admitted",
		"document_id", acc.DocumentID, "game", req.GameName, "reused", acc.Reused)
	return acc, nil
}

func (rd *rulebookDirectory) Stats(ctx context.Context, namespace string) (*IndexStats, error) {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		return nil, apierr.Validation(fmt.Errorf("namespace required"))
	}
	n, err := rd.store.CountNamespace(ctx, namespace)
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("count namespace %s: %w", namespace, err))
	}
	return &IndexStats{Namespace: namespace, Vectors: n}, nil
}
