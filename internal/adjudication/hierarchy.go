package adjudication

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
	"github.com/gndumbri/arbiter-ai-sub001/internal/utils"
)

const defaultConflictOverlapThreshold = 0.35

// Resolution is the hierarchy-adjusted ordering plus the number of conflict
// pairs found, for the audit trail.
type Resolution struct {
	Candidates []Candidate
	Conflicts  int
}

// Resolver detects candidates from different source tiers covering the same
// topic and lets the higher tier win the ordering: errata over expansion
// over base. The losing chunk is demoted directly after its winner, never
// dropped, so the verdict can present both readings.
type Resolver interface {
	Resolve(cands []Candidate) Resolution
}

type resolver struct {
	log       *logger.Logger
	threshold float64
}

func NewResolver(log *logger.Logger) (Resolver, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	threshold := defaultConflictOverlapThreshold
	if raw := utils.GetEnv("CONFLICT_OVERLAP_THRESHOLD", "", log); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed <= 0 || parsed > 1 {
			log.Warn("invalid CONFLICT_OVERLAP_THRESHOLD, using default",
				"value", raw,
				"default", defaultConflictOverlapThreshold)
		} else {
			threshold = parsed
		}
	}
	return &resolver{
		log:       log.With("service", "HierarchyResolver"),
		threshold: threshold,
	}, nil
}

type conflictPair struct {
	winner  uuid.UUID
	loser   uuid.UUID
	overlap float64
}

func (r *resolver) Resolve(cands []Candidate) Resolution {
	out := make([]Candidate, len(cands))
	copy(out, cands)
	if len(out) < 2 {
		return Resolution{Candidates: out}
	}

	sets := make([]map[string]struct{}, len(out))
	for i, c := range out {
		sets[i] = tokenSet(c)
	}

	var pairs []conflictPair
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			a, b := out[i], out[j]
			if a.Source == nil || b.Source == nil {
				continue
			}
			if a.Source.SourcePriority == b.Source.SourcePriority {
				continue
			}
			overlap := jaccard(sets[i], sets[j])
			if overlap < r.threshold {
				continue
			}
			p := conflictPair{winner: a.Chunk.ID, loser: b.Chunk.ID, overlap: overlap}
			if b.Source.SourcePriority > a.Source.SourcePriority {
				p.winner, p.loser = b.Chunk.ID, a.Chunk.ID
			}
			pairs = append(pairs, p)
		}
	}
	if len(pairs) == 0 {
		return Resolution{Candidates: out}
	}

	// Flag first, then reorder: the flags ride along as values move.
	for _, p := range pairs {
		wi, li := indexOf(out, p.winner), indexOf(out, p.loser)
		if wi < 0 || li < 0 {
			continue
		}
		out[wi].Conflicts = appendConflict(out[wi].Conflicts, p.loser)
		out[li].Conflicts = appendConflict(out[li].Conflicts, p.winner)
		out[li].Demoted = true
		r.log.Info("rule conflict detected",
			"winner", p.winner,
			"loser", p.loser,
			"overlap", p.overlap)
	}

	// Deterministic processing order keeps chained conflicts stable.
	sort.SliceStable(pairs, func(i, j int) bool {
		if pairs[i].winner != pairs[j].winner {
			return pairs[i].winner.String() < pairs[j].winner.String()
		}
		return pairs[i].loser.String() < pairs[j].loser.String()
	})
	for _, p := range pairs {
		wi, li := indexOf(out, p.winner), indexOf(out, p.loser)
		if wi < 0 || li < 0 {
			continue
		}
		if wi > li {
			// The winner sits below the loser: lift it into the loser's
			// slot, which leaves the loser directly after it.
			winner := out[wi]
			out = append(out[:wi], out[wi+1:]...)
			out = append(out[:li], append([]Candidate{winner}, out[li:]...)...)
		} else if li != wi+1 {
			loser := out[li]
			out = append(out[:li], out[li+1:]...)
			out = append(out[:wi+1], append([]Candidate{loser}, out[wi+1:]...)...)
		}
	}

	return Resolution{Candidates: out, Conflicts: len(pairs)}
}

func indexOf(cands []Candidate, id uuid.UUID) int {
	for i, c := range cands {
		if c.Chunk.ID == id {
			return i
		}
	}
	return -1
}

func appendConflict(list []uuid.UUID, id uuid.UUID) []uuid.UUID {
	for _, existing := range list {
		if existing == id {
			return list
		}
	}
	return append(list, id)
}

// tokenSet normalizes section path plus text into a bag of lowercase word
// tokens for overlap comparison.
func tokenSet(c Candidate) map[string]struct{} {
	text := strings.ToLower(c.Chunk.SectionPath + " " + c.Chunk.Text)
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		set[f] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
