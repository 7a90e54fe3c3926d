package adjudication

import (
	"github.com/google/uuid"

	"github.com/gndumbri/arbiter-ai-sub001/internal/types"
)

// Degradation markers recorded on audit trails. A degraded stage kept the
// request alive on a weaker path instead of failing it.
const (
	DegradedExpander = "expander"
	DegradedDense    = "dense"
	DegradedSparse   = "sparse"
	DegradedReranker = "reranker"
)

// Candidate is one retrieved chunk moving through the engine. FusedScore
// comes out of retrieval fusion; RerankScore out of the cross-encoder and
// stays zero when the reranker degraded. Conflicts holds counterpart chunk
// ids when the hierarchy resolver found overlapping rules from different
// source tiers.
type Candidate struct {
	Chunk       *types.RuleChunk
	Source      *types.RulesetDocument
	FusedScore  float64
	RerankScore float64
	Hop         bool
	Conflicts   []uuid.UUID
	Demoted     bool
}
