package adjudication

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/gndumbri/arbiter-ai-sub001/internal/clients/openai"
	"github.com/gndumbri/arbiter-ai-sub001/internal/clients/pinecone"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/apierr"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
	"github.com/gndumbri/arbiter-ai-sub001/internal/repos"
	"github.com/gndumbri/arbiter-ai-sub001/internal/types"
	"github.com/gndumbri/arbiter-ai-sub001/internal/utils"
)

const (
	defaultRetrieveTopK = 50
	defaultRRFK         = 60
	defaultMultiHopMax  = 5
)

// Retrieval is the fused candidate list plus any degradation markers picked
// up along the way.
type Retrieval struct {
	Candidates []Candidate
	Degraded   []string
}

// Retriever runs the hybrid search: a dense leg and a sparse leg per
// namespace, fused with reciprocal ranks, plus one bounded hop across
// cross-references. An empty result is not an error; both legs failing is.
type Retriever interface {
	Retrieve(ctx context.Context, namespaces []string, exp *Expansion) (*Retrieval, error)
}

type retriever struct {
	log    *logger.Logger
	llm    openai.Client
	store  pinecone.VectorStore
	chunks repos.RuleChunkRepo
	docs   repos.RulesetDocumentRepo
	topK   int
	rrfK   int
	hopMax int
}

func NewRetriever(log *logger.Logger, llm openai.Client, store pinecone.VectorStore, chunkRepo repos.RuleChunkRepo, docRepo repos.RulesetDocumentRepo) (Retriever, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if llm == nil || store == nil || chunkRepo == nil || docRepo == nil {
		return nil, fmt.Errorf("llm, store and repos required")
	}
	topK := utils.GetEnvAsInt("RETRIEVE_TOP_K", defaultRetrieveTopK, log)
	if topK <= 0 {
		topK = defaultRetrieveTopK
	}
	rrfK := utils.GetEnvAsInt("RRF_K", defaultRRFK, log)
	if rrfK <= 0 {
		rrfK = defaultRRFK
	}
	hopMax := utils.GetEnvAsInt("MULTI_HOP_MAX", defaultMultiHopMax, log)
	if hopMax < 0 {
		hopMax = defaultMultiHopMax
	}
	return &retriever{
		log:    log.With("service", "HybridRetriever"),
		llm:    llm,
		store:  store,
		chunks: chunkRepo,
		docs:   docRepo,
		topK:   topK,
		rrfK:   rrfK,
		hopMax: hopMax,
	}, nil
}

func (r *retriever) Retrieve(ctx context.Context, namespaces []string, exp *Expansion) (*Retrieval, error) {
	if exp == nil || strings.TrimSpace(exp.Rewritten) == "" {
		return nil, apierr.Validation(fmt.Errorf("empty query"))
	}
	namespaces = dedupeStrings(namespaces)
	if len(namespaces) == 0 {
		return nil, apierr.Validation(fmt.Errorf("no namespaces to search"))
	}

	var degraded []string

	// One embedding call covers the rewritten query and every sub-query.
	denseQueries := append([]string{exp.Rewritten}, exp.SubQueries...)
	vectors, err := r.llm.Embed(ctx, denseQueries)
	if err != nil || len(vectors) != len(denseQueries) {
		r.log.Warn("dense retrieval unavailable, falling back to sparse", "error", err)
		vectors = nil
		degraded = append(degraded, DegradedDense)
	}

	lexicalQuery := exp.Rewritten
	if len(exp.GameTerms) > 0 {
		lexicalQuery += " " + strings.Join(exp.GameTerms, " ")
	}

	// One slot per leg, written by exactly one goroutine. The sparse legs
	// also stash their chunk rows so dense-only ids are the only ones that
	// need a later lookup.
	legsPerNS := len(vectors) + 1
	legIDs := make([][]uuid.UUID, len(namespaces)*legsPerNS)
	legErrs := make([]error, len(namespaces)*legsPerNS)
	rows := make(map[uuid.UUID]*types.RuleChunk)
	var rowsMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for ni, ns := range namespaces {
		ni, ns := ni, ns
		for qi := range vectors {
			qi := qi
			vec := vectors[qi]
			g.Go(func() error {
				slot := ni*legsPerNS + qi
				matches, err := r.store.QueryMatches(gctx, ns, vec, r.topK, nil)
				if err != nil {
					legErrs[slot] = err
					return nil
				}
				ids := make([]uuid.UUID, 0, len(matches))
				for _, m := range matches {
					id, perr := uuid.Parse(m.ID)
					if perr != nil {
						continue
					}
					ids = append(ids, id)
				}
				legIDs[slot] = ids
				return nil
			})
		}
		g.Go(func() error {
			slot := ni*legsPerNS + legsPerNS - 1
			hits, err := r.chunks.SearchLexical(gctx, nil, []string{ns}, lexicalQuery, r.topK)
			if err != nil {
				legErrs[slot] = err
				return nil
			}
			ids := make([]uuid.UUID, 0, len(hits))
			rowsMu.Lock()
			for _, h := range hits {
				if h.Chunk == nil {
					continue
				}
				ids = append(ids, h.Chunk.ID)
				rows[h.Chunk.ID] = h.Chunk
			}
			rowsMu.Unlock()
			legIDs[slot] = ids
			return nil
		})
	}
	// Legs record their own errors; Wait only synchronizes.
	_ = g.Wait()

	denseOK := false
	sparseOK := false
	for slot, err := range legErrs {
		isSparse := slot%legsPerNS == legsPerNS-1
		if err != nil {
			r.log.Warn("retrieval leg failed",
				"namespace", namespaces[slot/legsPerNS],
				"sparse", isSparse,
				"error", err)
			continue
		}
		if isSparse {
			sparseOK = true
		} else if len(vectors) > 0 {
			denseOK = true
		}
	}
	if len(vectors) == 0 {
		denseOK = false
	}
	if !denseOK && !sparseOK {
		return nil, apierr.RetrievalFailed(fmt.Errorf("all retrieval legs failed"))
	}
	if !denseOK && len(vectors) > 0 {
		degraded = append(degraded, DegradedDense)
	}
	if !sparseOK {
		degraded = append(degraded, DegradedSparse)
	}

	// Per-namespace reciprocal rank fusion, then concatenate and keep the
	// best score per chunk.
	best := make(map[uuid.UUID]float64)
	for ni := range namespaces {
		fused := make(map[uuid.UUID]float64)
		for qi := 0; qi < legsPerNS; qi++ {
			ids := legIDs[ni*legsPerNS+qi]
			for rank, id := range ids {
				fused[id] += 1.0 / float64(r.rrfK+rank+1)
			}
		}
		for id, score := range fused {
			if score > best[id] {
				best[id] = score
			}
		}
	}

	ordered := make([]uuid.UUID, 0, len(best))
	for id := range best {
		ordered = append(ordered, id)
	}
	sort.Slice(ordered, func(i, j int) bool {
		si, sj := best[ordered[i]], best[ordered[j]]
		if si != sj {
			return si > sj
		}
		return ordered[i].String() < ordered[j].String()
	})

	if err := r.loadMissingRows(ctx, ordered, rows, &rowsMu); err != nil {
		return nil, err
	}

	seen := make(map[uuid.UUID]bool, len(ordered))
	candidates := make([]Candidate, 0, len(ordered))
	for _, id := range ordered {
		row, ok := rows[id]
		if !ok {
			// A vector can outlive its chunk row briefly during re-ingest.
			continue
		}
		seen[id] = true
		candidates = append(candidates, Candidate{Chunk: row, FusedScore: best[id]})
	}

	candidates = append(candidates, r.multiHop(ctx, namespaces, candidates, seen)...)

	candidates, err = r.attachSources(ctx, candidates)
	if err != nil {
		return nil, err
	}

	r.log.Info("retrieval complete",
		"namespaces", len(namespaces),
		"candidates", len(candidates),
		"degraded", degraded)
	return &Retrieval{Candidates: candidates, Degraded: degraded}, nil
}

// loadMissingRows fetches chunk rows the dense legs referenced by id only.
func (r *retriever) loadMissingRows(ctx context.Context, ids []uuid.UUID, rows map[uuid.UUID]*types.RuleChunk, mu *sync.Mutex) error {
	mu.Lock()
	missing := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := rows[id]; !ok {
			missing = append(missing, id)
		}
	}
	mu.Unlock()
	if len(missing) == 0 {
		return nil
	}
	fetched, err := r.chunks.GetByIDs(ctx, nil, missing)
	if err != nil {
		return apierr.Internal(fmt.Errorf("load chunks: %w", err))
	}
	mu.Lock()
	for _, row := range fetched {
		rows[row.ID] = row
	}
	mu.Unlock()
	return nil
}

// multiHop follows cross-references of the fused candidates one hop out.
// Page references are informational only; section references resolve through
// the header index. Hop chunks score below anything organic so they never
// displace a direct hit.
func (r *retriever) multiHop(ctx context.Context, namespaces []string, organic []Candidate, seen map[uuid.UUID]bool) []Candidate {
	if r.hopMax == 0 {
		return nil
	}
	hopScore := 1.0 / float64(2*(r.rrfK+r.topK))

	var hops []Candidate
	lookups := 0
	for _, cand := range organic {
		if len(hops) >= r.hopMax || lookups >= r.hopMax {
			break
		}
		for _, ref := range decodeRefs(cand.Chunk.CrossRefs) {
			if len(hops) >= r.hopMax || lookups >= r.hopMax {
				break
			}
			ref = strings.TrimSpace(ref)
			if ref == "" || strings.HasPrefix(strings.ToLower(ref), "page ") {
				continue
			}
			ref = strings.TrimPrefix(ref, "§")
			lookups++
			found, err := r.chunks.GetBySectionRef(ctx, nil, namespaces, ref, r.hopMax-len(hops))
			if err != nil {
				r.log.Warn("cross-reference lookup failed", "ref", ref, "error", err)
				continue
			}
			for _, row := range found {
				if seen[row.ID] {
					continue
				}
				seen[row.ID] = true
				hops = append(hops, Candidate{Chunk: row, FusedScore: hopScore, Hop: true})
				if len(hops) >= r.hopMax {
					break
				}
			}
		}
	}
	return hops
}

// attachSources resolves each candidate's document so downstream stages can
// see source tier and priority. Candidates whose document vanished are
// dropped rather than guessed at.
func (r *retriever) attachSources(ctx context.Context, candidates []Candidate) ([]Candidate, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}
	docSeen := make(map[uuid.UUID]bool)
	docIDs := make([]uuid.UUID, 0, len(candidates))
	for _, c := range candidates {
		if !docSeen[c.Chunk.DocumentID] {
			docSeen[c.Chunk.DocumentID] = true
			docIDs = append(docIDs, c.Chunk.DocumentID)
		}
	}
	docs, err := r.docs.GetByIDs(ctx, nil, docIDs)
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("load documents: %w", err))
	}
	byID := make(map[uuid.UUID]*types.RulesetDocument, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}
	out := candidates[:0]
	for _, c := range candidates {
		doc, ok := byID[c.Chunk.DocumentID]
		if !ok {
			continue
		}
		c.Source = doc
		out = append(out, c)
	}
	return out, nil
}

func decodeRefs(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var refs []string
	if err := json.Unmarshal(raw, &refs); err != nil {
		return nil
	}
	return refs
}

func dedupeStrings(in []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
