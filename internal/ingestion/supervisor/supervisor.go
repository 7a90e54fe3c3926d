package supervisor

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/gndumbri/arbiter-ai-sub001/internal/ingestion/chunker"
	"github.com/gndumbri/arbiter-ai-sub001/internal/ingestion/classifier"
	"github.com/gndumbri/arbiter-ai-sub001/internal/ingestion/indexer"
	"github.com/gndumbri/arbiter-ai-sub001/internal/jobs"
	"github.com/gndumbri/arbiter-ai-sub001/internal/observability"
	"github.com/gndumbri/arbiter-ai-sub001/internal/parse"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/apierr"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
	"github.com/gndumbri/arbiter-ai-sub001/internal/repos"
	"github.com/gndumbri/arbiter-ai-sub001/internal/types"
)

// handler walks one admitted upload through the pipeline: relevance check,
// parse and chunk, embed and index. Stages only ever move forward; any error
// is returned for the worker to settle, and a resubmitted document starts
// over from the beginning with a fresh job.
type handler struct {
	log        *logger.Logger
	parser     parse.Parser
	classifier classifier.Classifier
	chunker    chunker.Chunker
	indexer    indexer.Indexer
	chunks     repos.RuleChunkRepo
}

func NewHandler(baseLog *logger.Logger, parser parse.Parser, cls classifier.Classifier, chk chunker.Chunker, ix indexer.Indexer, chunkRepo repos.RuleChunkRepo) (jobs.Handler, error) {
	if baseLog == nil {
		return nil, fmt.Errorf("missing logger")
	}
	if parser == nil {
		return nil, fmt.Errorf("missing parser")
	}
	if cls == nil {
		return nil, fmt.Errorf("missing classifier")
	}
	if chk == nil {
		return nil, fmt.Errorf("missing chunker")
	}
	if ix == nil {
		return nil, fmt.Errorf("missing indexer")
	}
	if chunkRepo == nil {
		return nil, fmt.Errorf("missing rule chunk repo")
	}
	return &handler{
		log:        baseLog.With("service", "IngestionSupervisor"),
		parser:     parser,
		classifier: cls,
		chunker:    chk,
		indexer:    ix,
		chunks:     chunkRepo,
	}, nil
}

func (h *handler) Type() string { return types.JobTypeRulebookIngest }

func (h *handler) Run(jc *jobs.Context) error {
	doc, err := jc.Docs.GetByID(jc.Ctx, nil, jc.Job.DocumentID)
	if err != nil {
		return apierr.Internal(fmt.Errorf("load document: %w", err))
	}
	if doc == nil {
		return apierr.Internal(fmt.Errorf("document %s not found", jc.Job.DocumentID))
	}
	path := jc.SourcePath()

	if err := jc.Advance(types.JobStageClassifier); err != nil {
		return apierr.Internal(err)
	}
	stageStart := time.Now()
	verdict, err := h.classifier.Classify(jc.Ctx, path, doc.GameName)
	if err != nil {
		observeStage(types.JobStageClassifier, "failed", stageStart)
		return err
	}
	if !verdict.IsRulebook {
		observeStage(types.JobStageClassifier, "rejected", stageStart)
		reason := verdict.Reason
		if reason == "" {
			reason = "document is not a rulebook"
		}
		h.log.Info("Upload rejected as not a rulebook",
			"document_id", doc.ID,
			"game_guess", verdict.GameGuess,
			"reason", reason,
		)
		return apierr.Relevance(fmt.Errorf("%s", reason))
	}
	observeStage(types.JobStageClassifier, "succeeded", stageStart)
	h.log.Info("Relevance check passed", "document_id", doc.ID, "game_guess", verdict.GameGuess)

	if err := jc.Advance(types.JobStageParser); err != nil {
		return apierr.Internal(err)
	}
	stageStart = time.Now()
	parsed, err := h.parser.Parse(jc.Ctx, path)
	if err != nil {
		observeStage(types.JobStageParser, "failed", stageStart)
		return apierr.Parsing(fmt.Errorf("parse with %s: %w", h.parser.Name(), err))
	}
	if err := jc.Heartbeat(); err != nil {
		h.log.Warn("Heartbeat failed after parse", "job_id", jc.Job.ID, "error", err)
	}

	pieces, err := h.chunker.Chunk(parsed)
	if err != nil {
		observeStage(types.JobStageParser, "failed", stageStart)
		return err
	}
	rows, err := chunkRows(doc.ID, pieces)
	if err != nil {
		observeStage(types.JobStageParser, "failed", stageStart)
		return apierr.Internal(fmt.Errorf("encode chunks: %w", err))
	}

	// A resubmission replaces whatever chunks the previous attempt left
	// behind; the swap is atomic so readers never see a half-written set.
	err = jc.DB.WithContext(jc.Ctx).Transaction(func(tx *gorm.DB) error {
		if err := h.chunks.DeleteByDocument(jc.Ctx, tx, doc.ID); err != nil {
			return err
		}
		_, err := h.chunks.CreateInBatches(jc.Ctx, tx, rows)
		return err
	})
	if err != nil {
		observeStage(types.JobStageParser, "failed", stageStart)
		return apierr.Internal(fmt.Errorf("persist chunks: %w", err))
	}
	observeStage(types.JobStageParser, "succeeded", stageStart)

	if err := jc.Advance(types.JobStageIndexer); err != nil {
		return apierr.Internal(err)
	}
	stageStart = time.Now()
	if err := h.indexer.Index(jc.Ctx, doc, rows); err != nil {
		observeStage(types.JobStageIndexer, "failed", stageStart)
		return err
	}

	updates := map[string]interface{}{
		"status":         types.DocumentStatusIndexed,
		"chunk_count":    len(rows),
		"page_count":     parsed.Pages,
		"failure_code":   "",
		"failure_detail": "",
	}
	if err := jc.Docs.UpdateFields(jc.Ctx, nil, doc.ID, updates); err != nil {
		observeStage(types.JobStageIndexer, "failed", stageStart)
		return apierr.Internal(fmt.Errorf("finish document: %w", err))
	}
	observeStage(types.JobStageIndexer, "succeeded", stageStart)
	if metrics := observability.Current(); metrics != nil {
		metrics.IncDocumentIndexed(len(rows))
	}
	h.log.Info("Document indexed",
		"document_id", doc.ID,
		"namespace", doc.Namespace,
		"chunks", len(rows),
		"pages", parsed.Pages,
	)
	return nil
}

func observeStage(stage, status string, started time.Time) {
	if metrics := observability.Current(); metrics != nil {
		metrics.ObserveIngestStage(stage, status, time.Since(started))
	}
}

// chunkRows materializes chunker output as rows. IDs are assigned here, not
// by the database, because the vector ids in the index must match them.
func chunkRows(documentID uuid.UUID, pieces []chunker.Chunk) ([]*types.RuleChunk, error) {
	rows := make([]*types.RuleChunk, 0, len(pieces))
	for i, p := range pieces {
		row := &types.RuleChunk{
			ID:            uuid.New(),
			DocumentID:    documentID,
			Ordinal:       i,
			Text:          p.Text,
			SectionHeader: p.SectionHeader,
			SectionPath:   p.SectionPath,
			ChunkType:     p.Type,
			TokenCount:    p.TokenCount,
		}
		if p.Page > 0 {
			page := p.Page
			row.PageNumber = &page
		}
		if len(p.CrossRefs) > 0 {
			raw, err := json.Marshal(p.CrossRefs)
			if err != nil {
				return nil, err
			}
			row.CrossRefs = datatypes.JSON(raw)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
