package adjudication

import (
	"context"
	"fmt"

	"github.com/gndumbri/arbiter-ai-sub001/internal/clients/rerank"
	"github.com/gndumbri/arbiter-ai-sub001/internal/ingestion/chunker"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
	"github.com/gndumbri/arbiter-ai-sub001/internal/utils"
)

const (
	defaultRerankMaxCandidates = 50
	defaultRerankTopN          = 10
)

// RerankStep narrows the fused pool to the chunks the verdict will actually
// read. Provider trouble degrades to fusion order; reranking never fails a
// request.
type RerankStep interface {
	Order(ctx context.Context, question string, cands []Candidate) ([]Candidate, bool)
}

type rerankStep struct {
	log           *logger.Logger
	rr            rerank.Reranker
	maxCandidates int
	topN          int
}

func NewRerankStep(log *logger.Logger, rr rerank.Reranker) (RerankStep, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if rr == nil {
		return nil, fmt.Errorf("reranker required")
	}
	maxCandidates := utils.GetEnvAsInt("RERANK_MAX_CANDIDATES", defaultRerankMaxCandidates, log)
	if maxCandidates <= 0 {
		maxCandidates = defaultRerankMaxCandidates
	}
	topN := utils.GetEnvAsInt("RERANK_TOP_N", defaultRerankTopN, log)
	if topN <= 0 {
		topN = defaultRerankTopN
	}
	return &rerankStep{
		log:           log.With("service", "RerankStep"),
		rr:            rr,
		maxCandidates: maxCandidates,
		topN:          topN,
	}, nil
}

func (s *rerankStep) Order(ctx context.Context, question string, cands []Candidate) ([]Candidate, bool) {
	if len(cands) == 0 {
		return nil, false
	}
	pool := cands
	if len(pool) > s.maxCandidates {
		pool = pool[:s.maxCandidates]
	}

	texts := make([]string, len(pool))
	for i, c := range pool {
		texts[i] = chunker.EmbedText(c.Chunk.SectionPath, c.Chunk.Text)
	}

	results, err := s.rr.Rerank(ctx, question, texts, s.topN)
	if err != nil || len(results) == 0 {
		s.log.Warn("reranker degraded to fusion order",
			"provider", s.rr.Name(),
			"error", err)
		return s.fusionOrder(pool), true
	}

	out := make([]Candidate, 0, s.topN)
	for _, res := range results {
		if res.Index < 0 || res.Index >= len(pool) {
			continue
		}
		c := pool[res.Index]
		c.RerankScore = res.Score
		out = append(out, c)
		if len(out) == s.topN {
			break
		}
	}
	if len(out) == 0 {
		s.log.Warn("reranker returned no usable indices, using fusion order",
			"provider", s.rr.Name())
		return s.fusionOrder(pool), true
	}
	return out, false
}

func (s *rerankStep) fusionOrder(pool []Candidate) []Candidate {
	if len(pool) > s.topN {
		pool = pool[:s.topN]
	}
	out := make([]Candidate, len(pool))
	copy(out, pool)
	return out
}
