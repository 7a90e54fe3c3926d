package parse

import (
	"context"
	"fmt"
	"strings"

	pdflib "github.com/ledongthuc/pdf"

	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
)

type localParser struct {
	log *logger.Logger
}

func newLocalParser(log *logger.Logger) *localParser {
	return &localParser{log: log.With("parser", "local")}
}

func (l *localParser) Name() string { return ProviderLocal }

func (l *localParser) Parse(ctx context.Context, path string) (doc *Document, err error) {
	// ledongthuc/pdf panics on some malformed files; uploads are hostile
	// input, so turn that into an error here.
	defer recoverParsePanic(&err)

	f, reader, err := pdflib.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	doc = &Document{Pages: reader.NumPage()}
	for i := 1; i <= doc.Pages; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		doc.Blocks = append(doc.Blocks, blocksFromLines(pageLines(page), i)...)
	}
	return doc, nil
}

func (l *localParser) PageCount(ctx context.Context, path string) (n int, err error) {
	defer recoverParsePanic(&err)

	f, reader, err := pdflib.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()
	return reader.NumPage(), nil
}

func (l *localParser) FirstPagesText(ctx context.Context, path string, n int) (text string, err error) {
	defer recoverParsePanic(&err)

	f, reader, err := pdflib.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	limit := reader.NumPage()
	if n > 0 && n < limit {
		limit = n
	}
	var b strings.Builder
	for i := 1; i <= limit; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		for _, line := range pageLines(page) {
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String()), nil
}

func recoverParsePanic(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("pdf parse panic: %v", r)
	}
}

// pageLines reconstructs visual lines. Row extraction keeps enough layout
// to run the header heuristics; plain text is the fallback when the page
// has no positional data.
func pageLines(page pdflib.Page) []string {
	rows, err := page.GetTextByRow()
	if err == nil && len(rows) > 0 {
		lines := make([]string, 0, len(rows))
		for _, row := range rows {
			var b strings.Builder
			for _, word := range row.Content {
				b.WriteString(word.S)
				b.WriteString(" ")
			}
			line := strings.Join(strings.Fields(b.String()), " ")
			if line != "" {
				lines = append(lines, line)
			}
		}
		return lines
	}

	text, err := page.GetPlainText(nil)
	if err != nil {
		return nil
	}
	lines := make([]string, 0, 8)
	for _, raw := range strings.Split(text, "\n") {
		line := strings.Join(strings.Fields(raw), " ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func blocksFromLines(lines []string, page int) []Block {
	blocks := make([]Block, 0, 4)
	var para []string
	flush := func() {
		if len(para) == 0 {
			return
		}
		text := strings.TrimSpace(strings.Join(para, " "))
		para = para[:0]
		if text == "" {
			return
		}
		blocks = append(blocks, Block{Kind: BlockParagraph, Text: text, Page: page})
	}

	for _, line := range lines {
		if level := headerLevel(line); level > 0 {
			flush()
			blocks = append(blocks, Block{Kind: BlockHeader, Level: level, Text: strings.TrimSpace(line), Page: page})
			continue
		}
		para = append(para, line)
	}
	flush()
	return blocks
}
