package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	JobTypeRulebookIngest = "rulebook_ingest"

	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"

	JobStageGatekeeper = "gatekeeper"
	JobStageClassifier = "classifier"
	JobStageParser     = "parser"
	JobStageIndexer    = "indexer"

	// Terminal result codes. INDEXED is the only success.
	JobResultIndexed          = "INDEXED"
	JobResultNotARulebook     = "NOT_A_RULEBOOK"
	JobResultProcessingFailed = "PROCESSING_FAILED"
	JobResultStalled          = "STALLED"
)

// IngestionJob tracks one file's trip through the pipeline. Stages only move
// forward; a failed job is never retried in place — the caller resubmits,
// which produces a new job against the same document row.
type IngestionJob struct {
	ID          uuid.UUID        `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	DocumentID  uuid.UUID        `gorm:"type:uuid;not null;index" json:"document_id"`
	Document    *RulesetDocument `gorm:"constraint:OnDelete:CASCADE;foreignKey:DocumentID;references:ID" json:"document,omitempty"`
	TenantID    uuid.UUID        `gorm:"type:uuid;not null;index" json:"tenant_id"`
	JobType     string           `gorm:"column:job_type;not null;default:'rulebook_ingest'" json:"job_type"`
	Stage       string           `gorm:"column:stage;not null;default:'gatekeeper'" json:"stage"`
	Status      string           `gorm:"column:status;not null;default:'queued';index" json:"status"`
	ResultCode  string           `gorm:"column:result_code" json:"result_code,omitempty"`
	ErrorDetail string           `gorm:"column:error_detail" json:"error_detail,omitempty"`
	Attempts    int              `gorm:"column:attempts;not null;default:0" json:"attempts"`
	Payload     datatypes.JSON   `gorm:"type:jsonb;column:payload" json:"payload,omitempty"`
	LockedAt    *time.Time       `gorm:"column:locked_at" json:"locked_at,omitempty"`
	HeartbeatAt *time.Time       `gorm:"column:heartbeat_at" json:"heartbeat_at,omitempty"`
	LastErrorAt *time.Time       `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
	ExpiresAt   *time.Time       `gorm:"column:expires_at" json:"expires_at,omitempty"`
	CreatedAt   time.Time        `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt   time.Time        `gorm:"not null;default:now()" json:"updated_at"`
}

func (IngestionJob) TableName() string { return "ingestion_job" }
