package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	ChunkTypeText  = "text"
	ChunkTypeTable = "table"
)

// RuleChunk keeps the citable text and its layout metadata. The embedding
// itself lives only in the vector store, keyed by this row's id.
type RuleChunk struct {
	ID            uuid.UUID        `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	DocumentID    uuid.UUID        `gorm:"type:uuid;not null;index" json:"document_id"`
	Document      *RulesetDocument `gorm:"constraint:OnDelete:CASCADE;foreignKey:DocumentID;references:ID" json:"document,omitempty"`
	Ordinal       int              `gorm:"column:ordinal;not null" json:"ordinal"`
	Text          string           `gorm:"column:text;not null" json:"text"`
	SectionHeader string           `gorm:"column:section_header" json:"section_header,omitempty"`
	SectionPath   string           `gorm:"column:section_path" json:"section_path,omitempty"`
	PageNumber    *int             `gorm:"column:page_number" json:"page_number,omitempty"`
	ChunkType     string           `gorm:"column:chunk_type;not null;default:'text'" json:"chunk_type"`
	TokenCount    int              `gorm:"column:token_count;not null;default:0" json:"token_count"`
	CrossRefs     datatypes.JSON   `gorm:"type:jsonb;column:cross_refs" json:"cross_refs,omitempty"`
	CreatedAt     time.Time        `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt     time.Time        `gorm:"not null;default:now()" json:"updated_at"`
}

func (RuleChunk) TableName() string { return "rule_chunk" }
