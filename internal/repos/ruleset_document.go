package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
	"github.com/gndumbri/arbiter-ai-sub001/internal/types"
)

type RulesetDocumentRepo interface {
	Create(ctx context.Context, tx *gorm.DB, doc *types.RulesetDocument) (*types.RulesetDocument, bool, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.RulesetDocument, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.RulesetDocument, error)
	GetByHash(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, gameSlug, contentHash string) (*types.RulesetDocument, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	ListExpired(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]*types.RulesetDocument, error)
}

type rulesetDocumentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRulesetDocumentRepo(db *gorm.DB, baseLog *logger.Logger) RulesetDocumentRepo {
	return &rulesetDocumentRepo{
		db:  db,
		log: baseLog.With("repo", "RulesetDocumentRepo"),
	}
}

// Create inserts the document row. When another upload already holds the
// (tenant, game, hash) slot the existing row is returned with created=false,
// so concurrent duplicate uploads resolve to one document.
func (r *rulesetDocumentRepo) Create(ctx context.Context, tx *gorm.DB, doc *types.RulesetDocument) (*types.RulesetDocument, bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if doc == nil {
		return nil, false, nil
	}
	if err := transaction.WithContext(ctx).Create(doc).Error; err != nil {
		if isUniqueViolation(err) {
			existing, getErr := r.GetByHash(ctx, tx, doc.TenantID, doc.GameSlug, doc.ContentHash)
			if getErr != nil {
				return nil, false, getErr
			}
			if existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}
	return doc, true, nil
}

func (r *rulesetDocumentRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.RulesetDocument, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var doc types.RulesetDocument
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&doc).Error
	if err != nil {
		return nil, err
	}
	if doc.ID == uuid.Nil {
		return nil, nil
	}
	return &doc, nil
}

func (r *rulesetDocumentRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.RulesetDocument, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.RulesetDocument
	if len(ids) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *rulesetDocumentRepo) GetByHash(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, gameSlug, contentHash string) (*types.RulesetDocument, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if tenantID == uuid.Nil || gameSlug == "" || contentHash == "" {
		return nil, nil
	}
	var doc types.RulesetDocument
	err := transaction.WithContext(ctx).
		Where("tenant_id = ? AND game_slug = ? AND content_hash = ?", tenantID, gameSlug, contentHash).
		Limit(1).
		Find(&doc).Error
	if err != nil {
		return nil, err
	}
	if doc.ID == uuid.Nil {
		return nil, nil
	}
	return &doc, nil
}

func (r *rulesetDocumentRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.RulesetDocument{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *rulesetDocumentRepo) ListExpired(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]*types.RulesetDocument, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 100
	}
	var out []*types.RulesetDocument
	err := transaction.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at < ? AND status <> ?", now, types.DocumentStatusExpired).
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
