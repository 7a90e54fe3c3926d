package rerank

import (
	"context"
	"sort"
	"strings"

	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
)

const (
	lexicalMinKeywordLength = 3
	lexicalMatchWeight      = 0.1
	lexicalPositionWeight   = 0.1
	lexicalFrequencyWeight  = 0.05
	lexicalFrequencyCap     = 0.2
)

// lexicalReranker scores candidates by term overlap with the query. It runs
// in-process, so it keeps answering when no cross-encoder is reachable.
// Scores are normalized to [0,1]; ties keep the caller's fusion order.
type lexicalReranker struct {
	log *logger.Logger
}

func newLexicalReranker(log *logger.Logger) (Reranker, error) {
	return &lexicalReranker{log: log.With("client", "lexical_rerank")}, nil
}

func (l *lexicalReranker) Name() string { return ProviderLexical }

func (l *lexicalReranker) Rerank(ctx context.Context, query string, documents []string, topN int) ([]Result, error) {
	if len(documents) == 0 {
		return nil, nil
	}
	if topN <= 0 || topN > len(documents) {
		topN = len(documents)
	}

	keywords := extractKeywords(query)
	out := make([]Result, 0, len(documents))
	for i, doc := range documents {
		out = append(out, Result{Index: i, Score: scoreDocument(doc, keywords)})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topN {
		out = out[:topN]
	}
	return out, nil
}

func extractKeywords(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	keywords := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, word := range fields {
		word = strings.Trim(word, ".,;:!?\"'()[]")
		if len(word) <= lexicalMinKeywordLength {
			continue
		}
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		keywords = append(keywords, word)
	}
	return keywords
}

func scoreDocument(doc string, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	text := strings.ToLower(doc)
	if text == "" {
		return 0
	}

	score := 0.0
	for _, keyword := range keywords {
		first := strings.Index(text, keyword)
		if first < 0 {
			continue
		}
		score += lexicalMatchWeight
		if first < len(text)/4 {
			score += lexicalPositionWeight
		}
		frequency := float64(strings.Count(text, keyword))
		bonus := lexicalFrequencyWeight * frequency
		if bonus > lexicalFrequencyCap {
			bonus = lexicalFrequencyCap
		}
		score += bonus
	}

	// Normalize by the best attainable score so results stay in [0,1]
	// regardless of query length.
	max := float64(len(keywords)) * (lexicalMatchWeight + lexicalPositionWeight + lexicalFrequencyCap)
	if max <= 0 {
		return 0
	}
	return score / max
}
