package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
	"github.com/gndumbri/arbiter-ai-sub001/internal/types"
)

type IngestionJobRepo interface {
	Create(ctx context.Context, tx *gorm.DB, job *types.IngestionJob) (*types.IngestionJob, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.IngestionJob, error)
	GetLatestByDocument(ctx context.Context, tx *gorm.DB, documentID uuid.UUID) (*types.IngestionJob, error)
	ClaimNextRunnable(ctx context.Context, tx *gorm.DB) (*types.IngestionJob, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	FailStalled(ctx context.Context, tx *gorm.DB, staleRunning time.Duration) ([]*types.IngestionJob, error)
}

type ingestionJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewIngestionJobRepo(db *gorm.DB, baseLog *logger.Logger) IngestionJobRepo {
	return &ingestionJobRepo{
		db:  db,
		log: baseLog.With("repo", "IngestionJobRepo"),
	}
}

func (r *ingestionJobRepo) Create(ctx context.Context, tx *gorm.DB, job *types.IngestionJob) (*types.IngestionJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if job == nil {
		return nil, nil
	}
	if err := transaction.WithContext(ctx).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

func (r *ingestionJobRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.IngestionJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var job types.IngestionJob
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *ingestionJobRepo) GetLatestByDocument(ctx context.Context, tx *gorm.DB, documentID uuid.UUID) (*types.IngestionJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if documentID == uuid.Nil {
		return nil, nil
	}
	var job types.IngestionJob
	err := transaction.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("created_at DESC").
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

// ClaimNextRunnable picks one queued job and marks it running. Only queued
// rows are claimable: jobs never re-run across stage boundaries, so a crashed
// run is settled by FailStalled, not reclaimed.
func (r *ingestionJobRepo) ClaimNextRunnable(ctx context.Context, tx *gorm.DB) (*types.IngestionJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	var claimed *types.IngestionJob
	err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		var job types.IngestionJob
		q := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", types.JobStatusQueued).
			Order("created_at ASC")
		qErr := q.First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := txx.Model(&types.IngestionJob{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"status":       types.JobStatusRunning,
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *ingestionJobRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.IngestionJob{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *ingestionJobRepo) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&types.IngestionJob{}).
		Where("id = ? AND status = ?", id, types.JobStatusRunning).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
}

// FailStalled settles running jobs whose heartbeat went quiet, returning the
// rows it terminated so the caller can fail their documents too.
func (r *ingestionJobRepo) FailStalled(ctx context.Context, tx *gorm.DB, staleRunning time.Duration) ([]*types.IngestionJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	staleCutoff := now.Add(-staleRunning)

	var stalled []*types.IngestionJob
	err := transaction.WithContext(ctx).
		Where("status = ? AND heartbeat_at IS NOT NULL AND heartbeat_at < ?", types.JobStatusRunning, staleCutoff).
		Find(&stalled).Error
	if err != nil {
		return nil, err
	}
	if len(stalled) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(stalled))
	for _, j := range stalled {
		if j != nil && j.ID != uuid.Nil {
			ids = append(ids, j.ID)
		}
	}
	if err := transaction.WithContext(ctx).
		Model(&types.IngestionJob{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"status":        types.JobStatusFailed,
			"result_code":   types.JobResultStalled,
			"error_detail":  "worker heartbeat lost",
			"last_error_at": now,
			"updated_at":    now,
		}).Error; err != nil {
		return nil, err
	}
	return stalled, nil
}
