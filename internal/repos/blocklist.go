package repos

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
	"github.com/gndumbri/arbiter-ai-sub001/internal/types"
)

type BlocklistRepo interface {
	Add(ctx context.Context, tx *gorm.DB, entry *types.BlocklistEntry) error
	Contains(ctx context.Context, tx *gorm.DB, contentHash string) (bool, error)
}

type blocklistRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewBlocklistRepo(db *gorm.DB, baseLog *logger.Logger) BlocklistRepo {
	return &blocklistRepo{
		db:  db,
		log: baseLog.With("repo", "BlocklistRepo"),
	}
}

// Add is idempotent: re-reporting a hash keeps the original entry.
func (r *blocklistRepo) Add(ctx context.Context, tx *gorm.DB, entry *types.BlocklistEntry) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if entry == nil || strings.TrimSpace(entry.ContentHash) == "" {
		return nil
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "content_hash"}},
			DoNothing: true,
		}).
		Create(entry).Error
}

func (r *blocklistRepo) Contains(ctx context.Context, tx *gorm.DB, contentHash string) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	contentHash = strings.TrimSpace(contentHash)
	if contentHash == "" {
		return false, nil
	}
	var n int64
	err := transaction.WithContext(ctx).
		Model(&types.BlocklistEntry{}).
		Where("content_hash = ?", contentHash).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
