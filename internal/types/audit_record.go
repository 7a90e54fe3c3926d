package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	FeedbackUp   = "up"
	FeedbackDown = "down"
)

// AuditRecord captures one adjudication end to end, including degraded and
// rejected outcomes. Append-only except for feedback attachment.
type AuditRecord struct {
	ID             uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	TenantID       uuid.UUID      `gorm:"type:uuid;not null;index" json:"tenant_id"`
	SessionID      uuid.UUID      `gorm:"type:uuid;index" json:"session_id"`
	QueryText      string         `gorm:"column:query_text;not null" json:"query_text"`
	ExpandedQuery  datatypes.JSON `gorm:"type:jsonb;column:expanded_query" json:"expanded_query,omitempty"`
	VerdictSummary string         `gorm:"column:verdict_summary" json:"verdict_summary"`
	ReasoningChain string         `gorm:"column:reasoning_chain" json:"reasoning_chain"`
	Confidence     float64        `gorm:"column:confidence" json:"confidence"`
	CitationIDs    datatypes.JSON `gorm:"type:jsonb;column:citation_ids" json:"citation_ids,omitempty"`
	ConflictCount  int            `gorm:"column:conflict_count;not null;default:0" json:"conflict_count"`
	Outcome        string         `gorm:"column:outcome;not null;default:'answered'" json:"outcome"`
	DegradedPaths  datatypes.JSON `gorm:"type:jsonb;column:degraded_paths" json:"degraded_paths,omitempty"`
	LatencyMS      int64          `gorm:"column:latency_ms" json:"latency_ms"`
	Feedback       *string        `gorm:"column:feedback" json:"feedback,omitempty"`
	FeedbackAt     *time.Time     `gorm:"column:feedback_at" json:"feedback_at,omitempty"`
	CreatedAt      time.Time      `gorm:"not null;default:now()" json:"created_at"`
}

func (AuditRecord) TableName() string { return "audit_record" }
