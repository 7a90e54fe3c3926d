package types

import (
	"time"

	"github.com/google/uuid"
)

// BlocklistEntry is append-only: once a hash lands here it stays rejected.
type BlocklistEntry struct {
	ID          uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ContentHash string    `gorm:"column:content_hash;not null;uniqueIndex" json:"content_hash"`
	Reason      string    `gorm:"column:reason;not null" json:"reason"`
	Reporter    string    `gorm:"column:reporter" json:"reporter"`
	CreatedAt   time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (BlocklistEntry) TableName() string { return "file_blocklist" }
