package adjudication

import (
	"context"
	"fmt"
	"strings"

	"github.com/gndumbri/arbiter-ai-sub001/internal/clients/openai"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
	"github.com/gndumbri/arbiter-ai-sub001/internal/prompts"
	"github.com/gndumbri/arbiter-ai-sub001/internal/utils"
)

const (
	maxSubQueries = 3
	maxGameTerms  = 8
)

// Expansion is the retrieval-ready form of a player question. Degraded means
// expansion fell back to the raw question and the audit record should say so.
type Expansion struct {
	Rewritten  string   `json:"rewritten"`
	SubQueries []string `json:"sub_queries,omitempty"`
	GameTerms  []string `json:"game_terms,omitempty"`
	Degraded   bool     `json:"degraded,omitempty"`
}

// Expander rewrites a question for retrieval. It never fails the request:
// any provider trouble degrades to the raw question.
type Expander interface {
	Expand(ctx context.Context, gameName, question string) *Expansion
}

type expander struct {
	log *logger.Logger
	llm openai.Client
}

func NewExpander(log *logger.Logger, llm openai.Client) (Expander, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if llm == nil {
		return nil, fmt.Errorf("llm client required")
	}
	llm = openai.WithModel(llm, utils.GetEnv("EXPANDER_MODEL", "gpt-4o-mini", log))
	return &expander{
		log: log.With("service", "QueryExpander"),
		llm: llm,
	}, nil
}

var expansionSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"rewritten":   map[string]any{"type": "string"},
		"sub_queries": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"game_terms":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	},
	"required":             []string{"rewritten", "sub_queries", "game_terms"},
	"additionalProperties": false,
}

func (e *expander) Expand(ctx context.Context, gameName, question string) *Expansion {
	raw := &Expansion{Rewritten: question, Degraded: true}

	prompt, err := prompts.Expander(e.log)
	if err != nil {
		e.log.Error("expander prompt unavailable", "error", err)
		return raw
	}
	user := prompt.RenderUser(map[string]string{
		"game":  gameName,
		"query": question,
	})

	out, err := e.llm.GenerateJSON(ctx, prompt.System, user, "query_expansion", expansionSchema)
	if err != nil {
		e.log.Warn("query expansion degraded to raw question", "error", err)
		return raw
	}
	exp := expansionFrom(out)
	if exp == nil {
		e.log.Warn("query expansion returned no usable rewrite")
		return raw
	}
	e.log.Info("query expanded",
		"sub_queries", len(exp.SubQueries),
		"game_terms", len(exp.GameTerms))
	return exp
}

func expansionFrom(out map[string]any) *Expansion {
	rewritten, _ := out["rewritten"].(string)
	rewritten = strings.TrimSpace(rewritten)
	if rewritten == "" {
		return nil
	}
	return &Expansion{
		Rewritten:  rewritten,
		SubQueries: stringList(out["sub_queries"], maxSubQueries),
		GameTerms:  stringList(out["game_terms"], maxGameTerms),
	}
}

// stringList pulls a capped, deduplicated list of non-empty strings out of a
// decoded JSON array.
func stringList(v any, limit int) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	seen := map[string]bool{}
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
		if len(out) == limit {
			break
		}
	}
	return out
}
