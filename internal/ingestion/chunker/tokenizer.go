package chunker

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer abstracts token accounting so tests can run without the BPE
// tables (the real encoder fetches them on first use).
type Tokenizer interface {
	Count(text string) int
	SplitByTokens(text string, maxTokens int) []string
}

type tiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewTokenizer loads cl100k_base, the encoding of the embedding models this
// pipeline targets.
func NewTokenizer() (Tokenizer, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("load cl100k_base encoding: %w", err)
	}
	return &tiktokenTokenizer{enc: enc}, nil
}

func (t *tiktokenTokenizer) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// SplitByTokens cuts text into decoded windows of at most maxTokens. Used
// only for degenerate single sentences that exceed the chunk ceiling on
// their own.
func (t *tiktokenTokenizer) SplitByTokens(text string, maxTokens int) []string {
	if maxTokens <= 0 {
		return []string{text}
	}
	ids := t.enc.Encode(text, nil, nil)
	if len(ids) <= maxTokens {
		return []string{text}
	}
	var parts []string
	for start := 0; start < len(ids); start += maxTokens {
		end := start + maxTokens
		if end > len(ids) {
			end = len(ids)
		}
		parts = append(parts, t.enc.Decode(ids[start:end]))
	}
	return parts
}
