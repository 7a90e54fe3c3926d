package chunker

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/gndumbri/arbiter-ai-sub001/internal/parse"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/apierr"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
	"github.com/gndumbri/arbiter-ai-sub001/internal/types"
	"github.com/gndumbri/arbiter-ai-sub001/internal/utils"
)

const (
	defaultMinTokens = 200
	defaultMaxTokens = 800

	sectionSep = " > "
)

// Chunk is one retrieval unit before it is persisted. Text is the citable
// content; the section path is prepended only in the embedded form.
type Chunk struct {
	Text          string
	SectionHeader string
	SectionPath   string
	Page          int
	Type          string
	TokenCount    int
	CrossRefs     []string
}

// EmbedText is what goes to the embedding model. The header prefix keeps
// "it" and "this phase" resolvable out of context.
func (c Chunk) EmbedText() string { return EmbedText(c.SectionPath, c.Text) }

// EmbedText builds the embedded form of a chunk. The stored citation text
// stays unprefixed; only the vector sees the section path.
func EmbedText(sectionPath, text string) string {
	if sectionPath == "" {
		return text
	}
	return sectionPath + "\n\n" + text
}

type Chunker interface {
	Chunk(doc *parse.Document) ([]Chunk, error)
}

type chunker struct {
	log       *logger.Logger
	tok       Tokenizer
	minTokens int
	maxTokens int
}

func New(log *logger.Logger, tok Tokenizer) (Chunker, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if tok == nil {
		return nil, fmt.Errorf("tokenizer required")
	}
	minTokens := utils.GetEnvAsInt("CHUNK_MIN_TOKENS", defaultMinTokens, log)
	maxTokens := utils.GetEnvAsInt("CHUNK_MAX_TOKENS", defaultMaxTokens, log)
	if minTokens <= 0 || maxTokens <= minTokens {
		return nil, fmt.Errorf("chunk token bounds invalid: min=%d max=%d", minTokens, maxTokens)
	}
	return &chunker{
		log:       log.With("service", "Chunker"),
		tok:       tok,
		minTokens: minTokens,
		maxTokens: maxTokens,
	}, nil
}

type piece struct {
	text      string
	header    string
	path      string
	page      int
	chunkType string
	tokens    int
}

func (c *chunker) Chunk(doc *parse.Document) ([]Chunk, error) {
	if doc == nil || len(doc.Blocks) == 0 {
		return nil, apierr.Parsing(fmt.Errorf("parsed document is empty"))
	}

	pieces := c.collect(doc.Blocks)
	pieces = c.mergeSmall(pieces)
	pieces = c.splitLarge(pieces)
	if len(pieces) == 0 {
		return nil, apierr.Parsing(fmt.Errorf("document produced no chunks"))
	}

	out := make([]Chunk, 0, len(pieces))
	for _, p := range pieces {
		out = append(out, Chunk{
			Text:          p.text,
			SectionHeader: p.header,
			SectionPath:   p.path,
			Page:          p.page,
			Type:          p.chunkType,
			TokenCount:    p.tokens,
			CrossRefs:     extractCrossRefs(p.text),
		})
	}
	c.log.Info("document chunked", "blocks", len(doc.Blocks), "chunks", len(out))
	return out, nil
}

// collect walks blocks in reading order, tracking the open H1/H2/H3 headers.
// Headers never become chunks themselves; they name the chunks below them.
func (c *chunker) collect(blocks []parse.Block) []piece {
	var stack [3]string
	var pieces []piece
	for _, b := range blocks {
		text := strings.TrimSpace(b.Text)
		if text == "" {
			continue
		}
		switch b.Kind {
		case parse.BlockHeader:
			lvl := b.Level
			if lvl < 1 {
				lvl = 1
			}
			if lvl > 3 {
				lvl = 3
			}
			stack[lvl-1] = text
			for i := lvl; i < 3; i++ {
				stack[i] = ""
			}
		case parse.BlockTable:
			pieces = append(pieces, piece{
				text:      text,
				header:    innermost(stack),
				path:      sectionPath(stack),
				page:      b.Page,
				chunkType: types.ChunkTypeTable,
				tokens:    c.tok.Count(text),
			})
		default:
			pieces = append(pieces, piece{
				text:      text,
				header:    innermost(stack),
				path:      sectionPath(stack),
				page:      b.Page,
				chunkType: types.ChunkTypeText,
				tokens:    c.tok.Count(text),
			})
		}
	}
	return pieces
}

// mergeSmall folds under-minimum text pieces into their neighbor within the
// same section. Tables are atomic and also act as merge barriers.
func (c *chunker) mergeSmall(pieces []piece) []piece {
	var out []piece
	for _, p := range pieces {
		if p.chunkType == types.ChunkTypeTable {
			out = append(out, p)
			continue
		}
		if len(out) > 0 {
			last := &out[len(out)-1]
			if last.chunkType == types.ChunkTypeText && last.path == p.path &&
				(last.tokens < c.minTokens || p.tokens < c.minTokens) {
				last.text = last.text + "\n\n" + p.text
				last.tokens = c.tok.Count(last.text)
				continue
			}
		}
		out = append(out, p)
	}
	return out
}

func (c *chunker) splitLarge(pieces []piece) []piece {
	var out []piece
	for _, p := range pieces {
		if p.chunkType == types.ChunkTypeTable || p.tokens <= c.maxTokens {
			out = append(out, p)
			continue
		}
		for _, part := range c.packSentences(p.text) {
			np := p
			np.text = part
			np.tokens = c.tok.Count(part)
			out = append(out, np)
		}
	}
	return out
}

// packSentences greedily fills parts up to the token ceiling, cutting only
// at sentence boundaries. A single sentence beyond the ceiling is token-split
// as a last resort.
func (c *chunker) packSentences(text string) []string {
	var parts []string
	var cur strings.Builder
	curTokens := 0

	flush := func() {
		if cur.Len() > 0 {
			parts = append(parts, cur.String())
			cur.Reset()
			curTokens = 0
		}
	}

	for _, s := range splitSentences(text) {
		st := c.tok.Count(s)
		if st > c.maxTokens {
			flush()
			parts = append(parts, c.tok.SplitByTokens(s, c.maxTokens)...)
			continue
		}
		if curTokens+st > c.maxTokens {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString(" ")
		}
		cur.WriteString(s)
		curTokens += st
	}
	flush()
	return parts
}

var abbreviations = map[string]bool{
	"e.g": true, "i.e": true, "etc": true, "vs": true,
	"no": true, "fig": true, "sec": true, "pg": true,
}

func splitSentences(text string) []string {
	var sentences []string
	runes := []rune(text)
	start := 0
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			// Mid-token punctuation: "7.2", "p.14".
			continue
		}
		if r == '.' && isAbbreviation(runes[start:i]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			sentences = append(sentences, s)
		}
		start = i + 1
	}
	if rest := strings.TrimSpace(string(runes[start:])); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}

func isAbbreviation(tail []rune) bool {
	s := string(tail)
	idx := strings.LastIndexFunc(s, unicode.IsSpace)
	word := strings.ToLower(strings.Trim(s[idx+1:], "(\"'"))
	return abbreviations[word]
}

func sectionPath(stack [3]string) string {
	var parts []string
	for _, s := range stack {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, sectionSep)
}

func innermost(stack [3]string) string {
	for i := 2; i >= 0; i-- {
		if stack[i] != "" {
			return stack[i]
		}
	}
	return ""
}

var (
	refSectionRe = regexp.MustCompile(`(?i)\bsee\s+(?:§\s*|(?:section|rule)\s+)([0-9][0-9a-z.]*)`)
	refPageRe    = regexp.MustCompile(`(?i)\bsee\s+page\s+([0-9]+)`)
	refTitleRe   = regexp.MustCompile(`(?i)\bsee\s+"([^"]{2,80})"`)
)

// extractCrossRefs records "see §7.2", "see page 14" and `see "Combat"`
// style references. Section refs normalize to "§<number>".
func extractCrossRefs(text string) []string {
	var refs []string
	seen := map[string]bool{}
	add := func(r string) {
		r = strings.TrimSpace(r)
		if r == "" || seen[r] {
			return
		}
		seen[r] = true
		refs = append(refs, r)
	}
	for _, m := range refSectionRe.FindAllStringSubmatch(text, -1) {
		add("§" + strings.TrimRight(m[1], "."))
	}
	for _, m := range refPageRe.FindAllStringSubmatch(text, -1) {
		add("page " + m[1])
	}
	for _, m := range refTitleRe.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	return refs
}
