package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	DocumentStatusProcessing = "PROCESSING"
	DocumentStatusIndexed    = "INDEXED"
	DocumentStatusFailed     = "FAILED"
	DocumentStatusExpired    = "EXPIRED"
)

const (
	SourceTypeBase      = "BASE"
	SourceTypeExpansion = "EXPANSION"
	SourceTypeErrata    = "ERRATA"
)

// DefaultSourcePriority orders BASE < EXPANSION < ERRATA when the uploader
// does not pass an explicit priority.
func DefaultSourcePriority(sourceType string) int {
	switch sourceType {
	case SourceTypeErrata:
		return 100
	case SourceTypeExpansion:
		return 50
	default:
		return 0
	}
}

// TenantNamespace is the vector namespace for a tenant's own uploads.
func TenantNamespace(tenantID uuid.UUID) string {
	return "t_" + tenantID.String()
}

// OfficialNamespace is the shared vector namespace for publisher rulebooks
// of one game. Every session for that game searches it alongside the
// tenant namespace.
func OfficialNamespace(gameSlug string) string {
	return "off_" + gameSlug
}

// RulesetDocument is one uploaded or published rulebook. The row is the
// per-(tenant, game, hash) anchor: repeat uploads of the same content resolve
// to the same row instead of creating a second one.
type RulesetDocument struct {
	ID               uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	TenantID         uuid.UUID  `gorm:"type:uuid;not null;index;uniqueIndex:idx_ruleset_document_hash" json:"tenant_id"`
	GameName         string     `gorm:"column:game_name;not null" json:"game_name"`
	GameSlug         string     `gorm:"column:game_slug;not null;uniqueIndex:idx_ruleset_document_hash" json:"game_slug"`
	SourceType       string     `gorm:"column:source_type;not null;default:'BASE'" json:"source_type"`
	SourcePriority   int        `gorm:"column:source_priority;not null;default:0" json:"source_priority"`
	ContentHash      string     `gorm:"column:content_hash;not null;uniqueIndex:idx_ruleset_document_hash" json:"content_hash"`
	Status           string     `gorm:"column:status;not null;default:'PROCESSING'" json:"status"`
	FailureCode      string     `gorm:"column:failure_code" json:"failure_code,omitempty"`
	FailureDetail    string     `gorm:"column:failure_detail" json:"failure_detail,omitempty"`
	ChunkCount       int        `gorm:"column:chunk_count;not null;default:0" json:"chunk_count"`
	Namespace        string     `gorm:"column:namespace;not null;index" json:"namespace"`
	Official         bool       `gorm:"column:official;not null;default:false" json:"official"`
	OriginalFilename string     `gorm:"column:original_filename" json:"original_filename"`
	SizeBytes        int64      `gorm:"column:size_bytes" json:"size_bytes"`
	PageCount        int        `gorm:"column:page_count" json:"page_count"`
	ExpiresAt        *time.Time `gorm:"column:expires_at;index" json:"expires_at,omitempty"`
	CreatedAt        time.Time  `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"not null;default:now()" json:"updated_at"`
}

func (RulesetDocument) TableName() string { return "ruleset_document" }
