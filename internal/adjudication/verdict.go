package adjudication

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/gndumbri/arbiter-ai-sub001/internal/clients/openai"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/apierr"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
	"github.com/gndumbri/arbiter-ai-sub001/internal/prompts"
	"github.com/gndumbri/arbiter-ai-sub001/internal/utils"
)

const (
	maxSnippetRunes = 300

	// Confidence bands. At or above the upper bound the answer stands as
	// given; between the bounds it carries an ambiguity caveat; below the
	// lower bound it carries a low-confidence disclaimer.
	confidenceBandHigh = 0.70
	confidenceBandLow  = 0.50

	ambiguityCaveat         = "The rules are not fully explicit here, so this reading may be open to interpretation."
	lowConfidenceDisclaimer = "Low confidence: the indexed rules may not directly settle this question, so treat this ruling as a best guess."
)

// Citation points a verdict back at one chunk of rulebook text.
type Citation struct {
	ChunkID     uuid.UUID `json:"chunk_id"`
	DocumentID  uuid.UUID `json:"document_id"`
	SourceType  string    `json:"source_type"`
	SectionPath string    `json:"section_path,omitempty"`
	Page        *int      `json:"page,omitempty"`
	Snippet     string    `json:"snippet"`
}

// Verdict is the adjudicated answer. Summary already carries any band caveat
// or conflict note the generator had to enforce.
type Verdict struct {
	Summary             string     `json:"verdict_summary"`
	Reasoning           string     `json:"reasoning"`
	Confidence          float64    `json:"confidence"`
	ConfidenceRationale string     `json:"confidence_rationale,omitempty"`
	Citations           []Citation `json:"citations"`
}

// Generator produces the final ruling over the ordered candidate block. It
// answers strictly from the passages; when they are silent it says so
// instead of inventing rules.
type Generator interface {
	Generate(ctx context.Context, gameName, question string, cands []Candidate) (*Verdict, error)
}

type generator struct {
	log *logger.Logger
	llm openai.Client
}

func NewGenerator(log *logger.Logger, llm openai.Client) (Generator, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if llm == nil {
		return nil, fmt.Errorf("llm client required")
	}
	if model := utils.GetEnv("VERDICT_MODEL", "", log); model != "" {
		llm = openai.WithModel(llm, model)
	}
	return &generator{
		log: log.With("service", "VerdictGenerator"),
		llm: llm,
	}, nil
}

var rulingSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"verdict_summary":      map[string]any{"type": "string"},
		"reasoning":            map[string]any{"type": "string"},
		"citation_ids":         map[string]any{"type": "array", "items": map[string]any{"type": "integer"}},
		"confidence":           map[string]any{"type": "number"},
		"confidence_rationale": map[string]any{"type": "string"},
	},
	"required":             []string{"verdict_summary", "reasoning", "citation_ids", "confidence", "confidence_rationale"},
	"additionalProperties": false,
}

func (g *generator) Generate(ctx context.Context, gameName, question string, cands []Candidate) (*Verdict, error) {
	if strings.TrimSpace(question) == "" {
		return nil, apierr.Validation(fmt.Errorf("empty question"))
	}
	if len(cands) == 0 {
		// Nothing indexed speaks to the question; say so plainly.
		return &Verdict{
			Summary:    "The indexed rulebooks do not appear to cover this question. " + lowConfidenceDisclaimer,
			Reasoning:  "No relevant passages were retrieved from the selected rulebooks.",
			Confidence: 0,
		}, nil
	}

	prompt, err := prompts.Verdict(g.log)
	if err != nil {
		return nil, apierr.Internal(err)
	}
	user := prompt.RenderUser(map[string]string{
		"game":      gameName,
		"query":     question,
		"context":   passageBlock(cands),
		"conflicts": conflictNotes(cands),
	})

	out, err := g.llm.GenerateJSON(ctx, prompt.System, user, "rules_verdict", rulingSchema)
	if err != nil {
		return nil, apierr.VerdictFailed(fmt.Errorf("verdict generation: %w", err))
	}
	v, err := rulingFrom(out)
	if err != nil {
		return nil, apierr.VerdictFailed(err)
	}

	v.Citations = citationsFor(out["citation_ids"], cands)
	enforceConflictMention(v, cands)
	enforceConfidenceBand(v)

	g.log.Info("verdict generated",
		"confidence", v.Confidence,
		"citations", len(v.Citations))
	return v, nil
}

func rulingFrom(out map[string]any) (*Verdict, error) {
	summary, _ := out["verdict_summary"].(string)
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return nil, fmt.Errorf("verdict response missing verdict_summary")
	}
	confidence, ok := out["confidence"].(float64)
	if !ok {
		return nil, fmt.Errorf("verdict response missing confidence")
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	v := &Verdict{Summary: summary, Confidence: confidence}
	if s, ok := out["reasoning"].(string); ok {
		v.Reasoning = strings.TrimSpace(s)
	}
	if s, ok := out["confidence_rationale"].(string); ok {
		v.ConfidenceRationale = strings.TrimSpace(s)
	}
	return v, nil
}

// passageBlock labels each candidate the way the prompt expects:
// [n] (SOURCE_TYPE "Section", p.X) followed by the chunk text.
func passageBlock(cands []Candidate) string {
	var b strings.Builder
	for i, c := range cands {
		section := c.Chunk.SectionHeader
		if section == "" {
			section = c.Chunk.SectionPath
		}
		if section == "" {
			section = "Untitled"
		}
		fmt.Fprintf(&b, "[%d] (%s %q", i+1, c.Source.SourceType, section)
		if c.Chunk.PageNumber != nil {
			fmt.Fprintf(&b, ", p.%d", *c.Chunk.PageNumber)
		}
		b.WriteString(")\n")
		b.WriteString(c.Chunk.Text)
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// conflictNotes tells the model which passages collide and which tier wins.
// Notes are emitted from the winning side only, so each pair appears once.
func conflictNotes(cands []Candidate) string {
	var notes []string
	for i, c := range cands {
		for _, counterpart := range c.Conflicts {
			j := indexOf(cands, counterpart)
			if j < 0 {
				continue
			}
			if c.Source.SourcePriority <= cands[j].Source.SourcePriority {
				continue
			}
			notes = append(notes, fmt.Sprintf(
				"Passage [%d] (%s) overrides passage [%d] (%s) on the same topic.",
				i+1, c.Source.SourceType, j+1, cands[j].Source.SourceType))
		}
	}
	if len(notes) == 0 {
		return "None."
	}
	return strings.Join(notes, "\n")
}

// citationsFor maps the model's passage ids back to chunks. An unusable
// citation list falls back to citing every passage rather than none.
func citationsFor(raw any, cands []Candidate) []Citation {
	picked := make([]int, 0, len(cands))
	if items, ok := raw.([]any); ok {
		seen := map[int]bool{}
		for _, item := range items {
			n, ok := item.(float64)
			if !ok {
				continue
			}
			idx := int(n) - 1
			if idx < 0 || idx >= len(cands) || seen[idx] {
				continue
			}
			seen[idx] = true
			picked = append(picked, idx)
		}
	}
	if len(picked) == 0 {
		for i := range cands {
			picked = append(picked, i)
		}
	}
	sort.Ints(picked)

	out := make([]Citation, 0, len(picked))
	for _, idx := range picked {
		c := cands[idx]
		out = append(out, Citation{
			ChunkID:     c.Chunk.ID,
			DocumentID:  c.Chunk.DocumentID,
			SourceType:  c.Source.SourceType,
			SectionPath: c.Chunk.SectionPath,
			Page:        c.Chunk.PageNumber,
			Snippet:     snippet(c.Chunk.Text),
		})
	}
	return out
}

// enforceConflictMention appends a precedence note when conflicting tiers
// exist but the model's text names at most one of them.
func enforceConflictMention(v *Verdict, cands []Candidate) {
	var winner, loser *Candidate
	for i := range cands {
		c := &cands[i]
		if len(c.Conflicts) == 0 {
			continue
		}
		if c.Demoted {
			if loser == nil {
				loser = c
			}
		} else if winner == nil {
			winner = c
		}
	}
	if winner == nil || loser == nil {
		return
	}
	text := strings.ToLower(v.Summary + " " + v.Reasoning)
	mentioned := 0
	for _, tier := range []string{"errata", "expansion", "base"} {
		if strings.Contains(text, tier) {
			mentioned++
		}
	}
	if mentioned >= 2 {
		return
	}
	v.Summary += fmt.Sprintf(
		" Note: %s and %s passages both address this point; the %s text takes precedence.",
		strings.ToLower(winner.Source.SourceType),
		strings.ToLower(loser.Source.SourceType),
		strings.ToLower(winner.Source.SourceType))
}

// enforceConfidenceBand appends the band caveat the summary is missing.
func enforceConfidenceBand(v *Verdict) {
	lower := strings.ToLower(v.Summary)
	switch {
	case v.Confidence >= confidenceBandHigh:
		return
	case v.Confidence >= confidenceBandLow:
		for _, marker := range []string{"ambiguous", "unclear", "not explicit", "interpretation", "uncertain"} {
			if strings.Contains(lower, marker) {
				return
			}
		}
		v.Summary += " " + ambiguityCaveat
	default:
		if strings.Contains(lower, "low confidence") || strings.Contains(lower, "best guess") {
			return
		}
		v.Summary += " " + lowConfidenceDisclaimer
	}
}

// snippet truncates chunk text to the citation budget on a rune boundary.
func snippet(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= maxSnippetRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxSnippetRunes-1]) + "…"
}
