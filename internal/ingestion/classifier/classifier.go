package classifier

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gndumbri/arbiter-ai-sub001/internal/clients/openai"
	"github.com/gndumbri/arbiter-ai-sub001/internal/parse"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/apierr"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
	"github.com/gndumbri/arbiter-ai-sub001/internal/prompts"
	"github.com/gndumbri/arbiter-ai-sub001/internal/utils"
)

const (
	defaultClassifierPages = 3

	// Excerpt ceiling keeps the classification call cheap even when the
	// first pages are dense.
	maxExcerptChars = 12000

	// ReasonNoText marks files whose first pages yielded no extractable
	// text at all. The decision is made locally, without an LLM call.
	ReasonNoText = "no_text_content"
)

// Verdict is the classifier's judgment on one staged file.
type Verdict struct {
	IsRulebook bool   `json:"is_rulebook"`
	GameGuess  string `json:"game_guess"`
	Reason     string `json:"reason"`
}

// Classifier decides whether a staged file is a rulebook before the
// expensive parse runs. Rejections are terminal for the file.
type Classifier interface {
	Classify(ctx context.Context, path string, gameName string) (*Verdict, error)
}

type classifier struct {
	log    *logger.Logger
	parser parse.Parser
	llm    openai.Client
	pages  int
}

func New(log *logger.Logger, parser parse.Parser, llm openai.Client) (Classifier, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if parser == nil || llm == nil {
		return nil, fmt.Errorf("parser and llm client required")
	}
	pages := utils.GetEnvAsInt("CLASSIFIER_PAGES", defaultClassifierPages, log)
	if pages <= 0 {
		pages = defaultClassifierPages
	}
	llm = openai.WithModel(llm, utils.GetEnv("CLASSIFIER_MODEL", "gpt-4o-mini", log))
	return &classifier{
		log:    log.With("service", "RelevanceClassifier"),
		parser: parser,
		llm:    llm,
		pages:  pages,
	}, nil
}

var verdictSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"is_rulebook": map[string]any{"type": "boolean"},
		"game_guess":  map[string]any{"type": "string"},
		"reason":      map[string]any{"type": "string"},
	},
	"required":             []string{"is_rulebook", "game_guess", "reason"},
	"additionalProperties": false,
}

func (c *classifier) Classify(ctx context.Context, path string, gameName string) (*Verdict, error) {
	text, err := c.parser.FirstPagesText(ctx, path, c.pages)
	if err != nil {
		return nil, apierr.Parsing(fmt.Errorf("extract first pages: %w", err))
	}
	text = strings.TrimSpace(text)
	if text == "" {
		c.log.Info("no extractable text in first pages", "path", path)
		return &Verdict{IsRulebook: false, Reason: ReasonNoText}, nil
	}

	prompt, err := prompts.Classifier(c.log)
	if err != nil {
		return nil, apierr.Internal(err)
	}
	user := prompt.RenderUser(map[string]string{
		"game":    gameName,
		"excerpt": truncateRunes(text, maxExcerptChars),
	})

	out, err := c.llm.GenerateJSON(ctx, prompt.System, user, "relevance_check", verdictSchema)
	if err != nil {
		return nil, apierr.ProviderTransient(fmt.Errorf("relevance check: %w", err))
	}
	verdict, err := verdictFrom(out)
	if err != nil {
		return nil, apierr.ProviderTransient(err)
	}

	c.log.Info("relevance verdict",
		"is_rulebook", verdict.IsRulebook,
		"game_guess", verdict.GameGuess,
		"reason", verdict.Reason)
	return verdict, nil
}

func verdictFrom(out map[string]any) (*Verdict, error) {
	isRulebook, ok := out["is_rulebook"].(bool)
	if !ok {
		return nil, fmt.Errorf("relevance response missing is_rulebook")
	}
	v := &Verdict{IsRulebook: isRulebook}
	if s, ok := out["game_guess"].(string); ok {
		v.GameGuess = strings.TrimSpace(s)
	}
	if s, ok := out["reason"].(string); ok {
		v.Reason = strings.TrimSpace(s)
	}
	return v, nil
}

func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
