package repos

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
	"github.com/gndumbri/arbiter-ai-sub001/internal/types"
)

// LexicalHit pairs a chunk with its full-text rank for the sparse leg.
type LexicalHit struct {
	Chunk *types.RuleChunk
	Rank  float64
}

type RuleChunkRepo interface {
	CreateInBatches(ctx context.Context, tx *gorm.DB, chunks []*types.RuleChunk) ([]*types.RuleChunk, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.RuleChunk, error)
	SearchLexical(ctx context.Context, tx *gorm.DB, namespaces []string, query string, limit int) ([]LexicalHit, error)
	GetBySectionRef(ctx context.Context, tx *gorm.DB, namespaces []string, ref string, limit int) ([]*types.RuleChunk, error)
	CountByDocument(ctx context.Context, tx *gorm.DB, documentID uuid.UUID) (int64, error)
	DeleteByDocument(ctx context.Context, tx *gorm.DB, documentID uuid.UUID) error
}

type ruleChunkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRuleChunkRepo(db *gorm.DB, baseLog *logger.Logger) RuleChunkRepo {
	return &ruleChunkRepo{
		db:  db,
		log: baseLog.With("repo", "RuleChunkRepo"),
	}
}

func (r *ruleChunkRepo) CreateInBatches(ctx context.Context, tx *gorm.DB, chunks []*types.RuleChunk) ([]*types.RuleChunk, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(chunks) == 0 {
		return []*types.RuleChunk{}, nil
	}
	if err := transaction.WithContext(ctx).CreateInBatches(&chunks, 100).Error; err != nil {
		return nil, err
	}
	return chunks, nil
}

func (r *ruleChunkRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.RuleChunk, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.RuleChunk
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

// SearchLexical is the sparse retrieval leg: Postgres full-text rank over the
// chunk text, scoped to the given namespaces and to indexed documents only.
func (r *ruleChunkRepo) SearchLexical(ctx context.Context, tx *gorm.DB, namespaces []string, query string, limit int) ([]LexicalHit, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(namespaces) == 0 || strings.TrimSpace(query) == "" || limit <= 0 {
		return nil, nil
	}

	sql := fmt.Sprintf(`
		SELECT rule_chunk.*,
		       ts_rank(to_tsvector('english', rule_chunk.text), plainto_tsquery('english', ?)) AS rank
		FROM rule_chunk
		JOIN ruleset_document ON rule_chunk.document_id = ruleset_document.id
		WHERE ruleset_document.namespace IN ?
			AND ruleset_document.status = ?
			AND to_tsvector('english', rule_chunk.text) @@ plainto_tsquery('english', ?)
		ORDER BY rank DESC, rule_chunk.id ASC
		LIMIT %d;
	`, limit)

	type row struct {
		types.RuleChunk
		Rank float64 `gorm:"column:rank"`
	}
	var rows []row
	if err := transaction.WithContext(ctx).
		Raw(sql, query, namespaces, types.DocumentStatusIndexed, query).
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]LexicalHit, 0, len(rows))
	for i := range rows {
		if rows[i].ID == uuid.Nil {
			continue
		}
		ch := rows[i].RuleChunk
		out = append(out, LexicalHit{Chunk: &ch, Rank: rows[i].Rank})
	}
	return out, nil
}

// GetBySectionRef resolves a cross-reference label ("Line of Sight", "12.3")
// against section headers and paths. Used by the one-hop expansion pass.
func (r *ruleChunkRepo) GetBySectionRef(ctx context.Context, tx *gorm.DB, namespaces []string, ref string, limit int) ([]*types.RuleChunk, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	ref = strings.TrimSpace(ref)
	if len(namespaces) == 0 || ref == "" || limit <= 0 {
		return nil, nil
	}

	var out []*types.RuleChunk
	err := transaction.WithContext(ctx).
		Model(&types.RuleChunk{}).
		Joins("JOIN ruleset_document ON rule_chunk.document_id = ruleset_document.id").
		Where("ruleset_document.namespace IN ? AND ruleset_document.status = ?", namespaces, types.DocumentStatusIndexed).
		Where("rule_chunk.section_header ILIKE ? OR rule_chunk.section_path ILIKE ?", ref, "%"+ref+"%").
		Order("rule_chunk.ordinal ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ruleChunkRepo) CountByDocument(ctx context.Context, tx *gorm.DB, documentID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if documentID == uuid.Nil {
		return 0, nil
	}
	var n int64
	err := transaction.WithContext(ctx).
		Model(&types.RuleChunk{}).
		Where("document_id = ?", documentID).
		Count(&n).Error
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r *ruleChunkRepo) DeleteByDocument(ctx context.Context, tx *gorm.DB, documentID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if documentID == uuid.Nil {
		return nil
	}
	return transaction.WithContext(ctx).
		Where("document_id = ?", documentID).
		Delete(&types.RuleChunk{}).Error
}
