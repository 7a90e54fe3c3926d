package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/gndumbri/arbiter-ai-sub001/internal/clients/openai"
	"github.com/gndumbri/arbiter-ai-sub001/internal/clients/pinecone"
	"github.com/gndumbri/arbiter-ai-sub001/internal/ingestion/chunker"
	"github.com/gndumbri/arbiter-ai-sub001/internal/observability"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/apierr"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
	"github.com/gndumbri/arbiter-ai-sub001/internal/types"
	"github.com/gndumbri/arbiter-ai-sub001/internal/utils"
)

const (
	defaultEmbedBatchSize  = 100
	defaultVerifyDelaySecs = 2
)

// Indexer embeds persisted chunks and upserts them to the document's
// namespace. A document is only ever fully indexed or not indexed at all:
// on verification mismatch the document's vectors are removed before the
// error surfaces.
type Indexer interface {
	Index(ctx context.Context, doc *types.RulesetDocument, chunks []*types.RuleChunk) error
}

type indexer struct {
	log         *logger.Logger
	llm         openai.Client
	store       pinecone.VectorStore
	batchSize   int
	verifyDelay time.Duration
}

func New(log *logger.Logger, llm openai.Client, store pinecone.VectorStore) (Indexer, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if llm == nil || store == nil {
		return nil, fmt.Errorf("llm client and vector store required")
	}
	batch := utils.GetEnvAsInt("EMBED_BATCH_SIZE", defaultEmbedBatchSize, log)
	if batch <= 0 {
		batch = defaultEmbedBatchSize
	}
	delaySecs := utils.GetEnvAsInt("INDEX_VERIFY_DELAY_SECS", defaultVerifyDelaySecs, log)
	if delaySecs < 0 {
		delaySecs = defaultVerifyDelaySecs
	}
	return &indexer{
		log:         log.With("service", "EmbeddingIndexer"),
		llm:         llm,
		store:       store,
		batchSize:   batch,
		verifyDelay: time.Duration(delaySecs) * time.Second,
	}, nil
}

func (ix *indexer) Index(ctx context.Context, doc *types.RulesetDocument, chunks []*types.RuleChunk) error {
	if doc == nil || doc.Namespace == "" {
		return apierr.Internal(fmt.Errorf("document with namespace required"))
	}
	if len(chunks) == 0 {
		return apierr.Parsing(fmt.Errorf("nothing to index"))
	}

	// Resubmissions re-chunk under fresh ids; vectors from an earlier
	// attempt would otherwise linger unreferenced.
	if err := ix.store.DeleteByDocument(ctx, doc.Namespace, doc.ID.String()); err != nil {
		return apierr.ProviderTransient(fmt.Errorf("clear stale vectors: %w", err))
	}

	dim := 0
	for start := 0; start < len(chunks); start += ix.batchSize {
		end := start + ix.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		inputs := make([]string, 0, len(batch))
		for _, ch := range batch {
			inputs = append(inputs, chunker.EmbedText(ch.SectionPath, ch.Text))
		}
		embeddings, err := ix.llm.Embed(ctx, inputs)
		if err != nil {
			return apierr.ProviderTransient(fmt.Errorf("embed batch at %d: %w", start, err))
		}
		if len(embeddings) != len(batch) {
			return apierr.ProviderTransient(fmt.Errorf(
				"embed batch at %d returned %d vectors for %d inputs", start, len(embeddings), len(batch)))
		}

		vectors := make([]pinecone.Vector, 0, len(batch))
		for i, ch := range batch {
			if dim == 0 {
				dim = len(embeddings[i])
			}
			if len(embeddings[i]) != dim || dim == 0 {
				return apierr.Internal(fmt.Errorf(
					"embedding dimension drifted: expected %d got %d", dim, len(embeddings[i])))
			}
			vectors = append(vectors, pinecone.Vector{
				ID:     ch.ID.String(),
				Values: embeddings[i],
				Metadata: map[string]any{
					"document_id": doc.ID.String(),
					"chunk_id":    ch.ID.String(),
					"tenant_id":   doc.TenantID.String(),
					"section":     ch.SectionPath,
					"page":        pageOf(ch),
					"chunk_type":  ch.ChunkType,
				},
			})
		}
		if err := ix.store.Upsert(ctx, doc.Namespace, vectors); err != nil {
			return apierr.ProviderTransient(fmt.Errorf("upsert batch at %d: %w", start, err))
		}
	}

	if err := ix.verify(ctx, doc, int64(len(chunks))); err != nil {
		return err
	}

	ix.log.Info("document indexed",
		"document_id", doc.ID,
		"namespace", doc.Namespace,
		"chunks", len(chunks),
		"dimension", dim)
	return nil
}

// verify confirms the store holds exactly the expected vector count for the
// document. One re-check after a short delay absorbs eventually-consistent
// counts; a persistent mismatch tears the document's vectors down so a
// partial index is never served.
func (ix *indexer) verify(ctx context.Context, doc *types.RulesetDocument, want int64) error {
	count, err := ix.store.CountByDocument(ctx, doc.Namespace, doc.ID.String())
	if err != nil {
		return apierr.ProviderTransient(fmt.Errorf("verify count: %w", err))
	}
	if count == want {
		return nil
	}

	ix.log.Warn("index verification mismatch, re-checking",
		"document_id", doc.ID, "want", want, "got", count, "delay", ix.verifyDelay)
	select {
	case <-ctx.Done():
		return apierr.Internal(ctx.Err())
	case <-time.After(ix.verifyDelay):
	}

	count, err = ix.store.CountByDocument(ctx, doc.Namespace, doc.ID.String())
	if err != nil {
		return apierr.ProviderTransient(fmt.Errorf("verify recount: %w", err))
	}
	if count == want {
		return nil
	}

	if metrics := observability.Current(); metrics != nil {
		metrics.IncIndexMismatch()
	}
	if delErr := ix.store.DeleteByDocument(ctx, doc.Namespace, doc.ID.String()); delErr != nil {
		ix.log.Error("failed to remove partial index",
			"document_id", doc.ID, "namespace", doc.Namespace, "error", delErr)
	}
	return apierr.IndexMismatch(fmt.Errorf("indexed %d of %d vectors", count, want))
}

func pageOf(ch *types.RuleChunk) int {
	if ch.PageNumber == nil {
		return 0
	}
	return *ch.PageNumber
}
