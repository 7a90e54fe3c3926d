package rerank

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
)

const (
	ProviderCohere  = "cohere"
	ProviderLexical = "lexical"
	ProviderNone    = "none"
)

// Result points back into the candidate slice handed to Rerank. Higher
// scores come first; ties keep the input order.
type Result struct {
	Index int
	Score float64
}

// Reranker scores candidate passages against a query. Name identifies the
// provider for audit records.
type Reranker interface {
	Name() string
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]Result, error)
}

type BootstrapErrorCode string

const (
	BootstrapErrorUnknownProvider BootstrapErrorCode = "unknown_provider"
	BootstrapErrorMissingAPIKey   BootstrapErrorCode = "missing_api_key"
	BootstrapErrorInvalidTimeout  BootstrapErrorCode = "invalid_timeout"
)

type BootstrapError struct {
	Code    BootstrapErrorCode
	Message string
}

func (e *BootstrapError) Error() string {
	return fmt.Sprintf("rerank bootstrap failed: code=%s message=%s", e.Code, e.Message)
}

// New selects the reranker from RERANK_PROVIDER. Lexical is the default so
// local setups work without a Cohere key.
func New(log *logger.Logger) (Reranker, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	provider := strings.ToLower(strings.TrimSpace(os.Getenv("RERANK_PROVIDER")))
	if provider == "" {
		provider = ProviderLexical
	}
	switch provider {
	case ProviderCohere:
		return newCohereReranker(log)
	case ProviderLexical:
		return newLexicalReranker(log)
	case ProviderNone:
		return &noopReranker{}, nil
	default:
		return nil, &BootstrapError{
			Code:    BootstrapErrorUnknownProvider,
			Message: fmt.Sprintf("unknown RERANK_PROVIDER %q", provider),
		}
	}
}

// noopReranker keeps the caller's ordering. Scores stay zero so downstream
// confidence falls back to fusion-derived signals.
type noopReranker struct{}

func (n *noopReranker) Name() string { return ProviderNone }

func (n *noopReranker) Rerank(ctx context.Context, query string, documents []string, topN int) ([]Result, error) {
	if len(documents) == 0 {
		return nil, nil
	}
	limit := len(documents)
	if topN > 0 && topN < limit {
		limit = topN
	}
	out := make([]Result, 0, limit)
	for i := 0; i < limit; i++ {
		out = append(out, Result{Index: i})
	}
	return out, nil
}
