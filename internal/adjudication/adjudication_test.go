package adjudication

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
	"github.com/gndumbri/arbiter-ai-sub001/internal/types"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log := logger.New("development")
	t.Cleanup(func() { log.Sync() })
	return log
}

type fakeLLM struct {
	embedErr   error
	embedCalls int
	gotInputs  []string

	out       map[string]any
	genErr    error
	genCalls  int
	gotSystem string
	gotUser   string
}

func (f *fakeLLM) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	f.embedCalls++
	f.gotInputs = inputs
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	out := make([][]float32, len(inputs))
	for i := range out {
		out[i] = []float32{float32(i) + 0.5}
	}
	return out, nil
}

func (f *fakeLLM) GenerateJSON(_ context.Context, system, user, _ string, _ map[string]any) (map[string]any, error) {
	f.genCalls++
	f.gotSystem = system
	f.gotUser = user
	if f.genErr != nil {
		return nil, f.genErr
	}
	return f.out, nil
}

func (f *fakeLLM) GenerateText(_ context.Context, _, _ string) (string, error) {
	return "", errors.New("not implemented")
}

// chunkID derives a stable uuid from a small ordinal so ordering assertions
// stay readable.
func chunkID(n int) uuid.UUID {
	return uuid.MustParse(fmt.Sprintf("00000000-0000-4000-8000-%012d", n))
}

func documentID(n int) uuid.UUID {
	return uuid.MustParse(fmt.Sprintf("11111111-0000-4000-8000-%012d", n))
}

func testChunk(n int, doc uuid.UUID, section, text string) *types.RuleChunk {
	return &types.RuleChunk{
		ID:          chunkID(n),
		DocumentID:  doc,
		SectionPath: section,
		Text:        text,
		ChunkType:   types.ChunkTypeText,
	}
}

func testSource(n int, sourceType string) *types.RulesetDocument {
	return &types.RulesetDocument{
		ID:             documentID(n),
		SourceType:     sourceType,
		SourcePriority: types.DefaultSourcePriority(sourceType),
		Namespace:      "usr_root_1",
	}
}
