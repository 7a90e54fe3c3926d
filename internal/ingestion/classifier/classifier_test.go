package classifier

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/gndumbri/arbiter-ai-sub001/internal/parse"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/apierr"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
)

type fakeTextParser struct {
	text  string
	err   error
	calls int
	gotN  int
}

func (f *fakeTextParser) Name() string { return "fake" }

func (f *fakeTextParser) Parse(_ context.Context, _ string) (*parse.Document, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeTextParser) PageCount(_ context.Context, _ string) (int, error) {
	return 0, errors.New("not implemented")
}

func (f *fakeTextParser) FirstPagesText(_ context.Context, _ string, n int) (string, error) {
	f.calls++
	f.gotN = n
	return f.text, f.err
}

type fakeLLM struct {
	out       map[string]any
	err       error
	calls     int
	gotSystem string
	gotUser   string
}

func (f *fakeLLM) Embed(_ context.Context, _ []string) ([][]float32, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeLLM) GenerateJSON(_ context.Context, system, user, _ string, _ map[string]any) (map[string]any, error) {
	f.calls++
	f.gotSystem = system
	f.gotUser = user
	return f.out, f.err
}

func (f *fakeLLM) GenerateText(_ context.Context, _, _ string) (string, error) {
	return "", errors.New("not implemented")
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log := logger.New("development")
	t.Cleanup(func() { log.Sync() })
	return log
}

func newTestClassifier(t *testing.T, parser *fakeTextParser, llm *fakeLLM) Classifier {
	t.Helper()
	c, err := New(newTestLogger(t), parser, llm)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestClassifyNoTextShortCircuits(t *testing.T) {
	parser := &fakeTextParser{text: "   \n\t "}
	llm := &fakeLLM{}
	c := newTestClassifier(t, parser, llm)

	v, err := c.Classify(context.Background(), "/staged/source.pdf", "Catan")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if v.IsRulebook {
		t.Fatalf("empty text must not pass as a rulebook")
	}
	if v.Reason != ReasonNoText {
		t.Fatalf("reason: want=%q got=%q", ReasonNoText, v.Reason)
	}
	if llm.calls != 0 {
		t.Fatalf("no-text decision must not call the llm")
	}
}

func TestClassifyReadsConfiguredPageCount(t *testing.T) {
	t.Setenv("CLASSIFIER_PAGES", "5")
	parser := &fakeTextParser{text: ""}
	c := newTestClassifier(t, parser, &fakeLLM{})

	if _, err := c.Classify(context.Background(), "/staged/source.pdf", "Catan"); err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if parser.gotN != 5 {
		t.Fatalf("pages: want=5 got=%d", parser.gotN)
	}
}

func TestClassifyRulebook(t *testing.T) {
	parser := &fakeTextParser{text: "Setup: each player takes five settlements and four cities."}
	llm := &fakeLLM{out: map[string]any{
		"is_rulebook": true,
		"game_guess":  "Catan",
		"reason":      "describes setup and components",
	}}
	c := newTestClassifier(t, parser, llm)

	v, err := c.Classify(context.Background(), "/staged/source.pdf", "Catan")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !v.IsRulebook || v.GameGuess != "Catan" {
		t.Fatalf("verdict: %+v", v)
	}
	if llm.calls != 1 {
		t.Fatalf("llm calls: want=1 got=%d", llm.calls)
	}
	if !strings.Contains(llm.gotUser, "Catan") {
		t.Fatalf("user prompt should carry the claimed game name: %q", llm.gotUser)
	}
	if !strings.Contains(llm.gotUser, "five settlements") {
		t.Fatalf("user prompt should carry the excerpt: %q", llm.gotUser)
	}
	if llm.gotSystem == "" {
		t.Fatalf("system prompt missing")
	}
}

func TestClassifyNotARulebook(t *testing.T) {
	parser := &fakeTextParser{text: "Buy now! The ultimate strategy game experience awaits."}
	llm := &fakeLLM{out: map[string]any{
		"is_rulebook": false,
		"game_guess":  "",
		"reason":      "marketing brochure",
	}}
	c := newTestClassifier(t, parser, llm)

	v, err := c.Classify(context.Background(), "/staged/source.pdf", "Catan")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if v.IsRulebook {
		t.Fatalf("marketing copy classified as rulebook")
	}
	if v.Reason != "marketing brochure" {
		t.Fatalf("reason: got %q", v.Reason)
	}
}

func TestClassifyLLMFailure(t *testing.T) {
	parser := &fakeTextParser{text: "some rules text"}
	llm := &fakeLLM{err: errors.New("rate limited")}
	c := newTestClassifier(t, parser, llm)

	_, err := c.Classify(context.Background(), "/staged/source.pdf", "Catan")
	if apierr.CodeOf(err) != apierr.CodeProviderFailure {
		t.Fatalf("want PROVIDER_TRANSIENT got %v", err)
	}
}

func TestClassifyMalformedResponse(t *testing.T) {
	parser := &fakeTextParser{text: "some rules text"}
	llm := &fakeLLM{out: map[string]any{"game_guess": "Catan"}}
	c := newTestClassifier(t, parser, llm)

	_, err := c.Classify(context.Background(), "/staged/source.pdf", "Catan")
	if apierr.CodeOf(err) != apierr.CodeProviderFailure {
		t.Fatalf("want PROVIDER_TRANSIENT got %v", err)
	}
}

func TestClassifyParserFailure(t *testing.T) {
	parser := &fakeTextParser{err: errors.New("file vanished")}
	c := newTestClassifier(t, parser, &fakeLLM{})

	_, err := c.Classify(context.Background(), "/staged/source.pdf", "Catan")
	if apierr.CodeOf(err) != apierr.CodeParsingFailure {
		t.Fatalf("want PARSING_FAILURE got %v", err)
	}
}

func TestTruncateRunesKeepsBoundaries(t *testing.T) {
	s := strings.Repeat("é", 10) // 2 bytes per rune
	got := truncateRunes(s, 5)
	if got != strings.Repeat("é", 2) {
		t.Fatalf("truncate: want 2 runes got %q", got)
	}
	if truncateRunes("short", 100) != "short" {
		t.Fatalf("under-limit string must pass through")
	}
}
