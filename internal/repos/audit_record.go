package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
	"github.com/gndumbri/arbiter-ai-sub001/internal/types"
)

type AuditRecordRepo interface {
	Create(ctx context.Context, tx *gorm.DB, rec *types.AuditRecord) (*types.AuditRecord, error)
	GetByID(ctx context.Context, tx *gorm.DB, tenantID, id uuid.UUID) (*types.AuditRecord, error)
	AttachFeedback(ctx context.Context, tx *gorm.DB, tenantID, id uuid.UUID, signal string) error
}

type auditRecordRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAuditRecordRepo(db *gorm.DB, baseLog *logger.Logger) AuditRecordRepo {
	return &auditRecordRepo{
		db:  db,
		log: baseLog.With("repo", "AuditRecordRepo"),
	}
}

func (r *auditRecordRepo) Create(ctx context.Context, tx *gorm.DB, rec *types.AuditRecord) (*types.AuditRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if rec == nil {
		return nil, nil
	}
	if err := transaction.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *auditRecordRepo) GetByID(ctx context.Context, tx *gorm.DB, tenantID, id uuid.UUID) (*types.AuditRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if tenantID == uuid.Nil || id == uuid.Nil {
		return nil, nil
	}
	var rec types.AuditRecord
	err := transaction.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Limit(1).
		Find(&rec).Error
	if err != nil {
		return nil, err
	}
	if rec.ID == uuid.Nil {
		return nil, nil
	}
	return &rec, nil
}

func (r *auditRecordRepo) AttachFeedback(ctx context.Context, tx *gorm.DB, tenantID, id uuid.UUID, signal string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if tenantID == uuid.Nil || id == uuid.Nil {
		return nil
	}
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&types.AuditRecord{}).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Updates(map[string]interface{}{
			"feedback":    signal,
			"feedback_at": now,
		}).Error
}
