package parse

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/gndumbri/arbiter-ai-sub001/internal/clients/gcp"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
)

const (
	docaiH1Ratio     = 1.5
	docaiH2Ratio     = 1.3
	docaiH3Ratio     = 1.15
	tableDedupeChars = 6
)

// docaiParser lets Document AI do the layout work and maps its output onto
// blocks. Headers come from font size relative to the document median, with
// the local line heuristics as backstop when the processor returned no
/// style info. Page counting and first-pages text stay on the local reader:
// both run before a document has earned a full layout parse.
type docaiParser struct {
	log   *logger.Logger
	doc   gcp.Document
	local *localParser
}

func newDocAIParser(log *logger.Logger, doc gcp.Document, local *localParser) *docaiParser {
	return &docaiParser{
		log:   log.With("parser", "docai"),
		doc:   doc,
		local: local,
	}
}

func (d *docaiParser) Name() string { return ProviderDocAI }

func (d *docaiParser) Parse(ctx context.Context, path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read staged pdf: %w", err)
	}
	result, err := d.doc.ProcessBytes(ctx, data, "application/pdf")
	if err != nil {
		return nil, err
	}
	if result == nil || len(result.Pages) == 0 {
		return nil, fmt.Errorf("document ai returned no pages")
	}
	return docAIToDocument(result), nil
}

func (d *docaiParser) PageCount(ctx context.Context, path string) (int, error) {
	return d.local.PageCount(ctx, path)
}

func (d *docaiParser) FirstPagesText(ctx context.Context, path string, n int) (string, error) {
	text, err := d.local.FirstPagesText(ctx, path, n)
	if err == nil && strings.TrimSpace(text) != "" {
		return text, nil
	}
	if err != nil {
		d.log.Warn("local text extraction failed, using Document AI", "path", path, "error", err)
	}

	// Scanned rulebooks have no extractable text; OCR the document and keep
	// the first n pages.
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read staged pdf: %w", err)
	}
	result, err := d.doc.ProcessBytes(ctx, data, "application/pdf")
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, page := range result.Pages {
		if n > 0 && page.Number > n {
			continue
		}
		for _, para := range page.Paragraphs {
			b.WriteString(para.Text)
			b.WriteString("\n")
		}
	}
	return strings.TrimSpace(b.String()), nil
}

func docAIToDocument(result *gcp.DocAIResult) *Document {
	median := medianFontSize(result)
	doc := &Document{}

	for _, page := range result.Pages {
		if page.Number > doc.Pages {
			doc.Pages = page.Number
		}

		tableText := collapsedTableText(page.Tables)
		tableBlocks := make([]Block, 0, len(page.Tables))
		for _, t := range page.Tables {
			md := strings.TrimSpace(t.Markdown)
			if md == "" {
				continue
			}
			tableBlocks = append(tableBlocks, Block{Kind: BlockTable, Text: md, Page: page.Number})
		}

		// Layout processors report table cell text a second time inside the
		// page paragraphs. The first paragraph that collides with a table
		// marks where the table sits in reading order.
		tablesEmitted := false
		for _, para := range page.Paragraphs {
			text := strings.TrimSpace(para.Text)
			if text == "" {
				continue
			}
			if isTableContent(text, tableText) {
				if !tablesEmitted {
					doc.Blocks = append(doc.Blocks, tableBlocks...)
					tablesEmitted = true
				}
				continue
			}
			if level := docaiHeaderLevel(para, median); level > 0 {
				doc.Blocks = append(doc.Blocks, Block{Kind: BlockHeader, Level: level, Text: text, Page: page.Number})
				continue
			}
			doc.Blocks = append(doc.Blocks, Block{Kind: BlockParagraph, Text: text, Page: page.Number})
		}
		if !tablesEmitted {
			doc.Blocks = append(doc.Blocks, tableBlocks...)
		}
	}
	return doc
}

func docaiHeaderLevel(p gcp.DocAIParagraph, median float64) int {
	text := strings.TrimSpace(p.Text)
	if text == "" || len(text) > headerMaxChars {
		return 0
	}
	words := strings.Fields(text)
	if len(words) == 0 || len(words) > headerMaxWords {
		return 0
	}
	if median <= 0 || p.FontSize <= 0 {
		return headerLevel(text)
	}
	if sentenceTerminated(text, words) {
		return 0
	}

	ratio := p.FontSize / median
	switch {
	case ratio >= docaiH1Ratio:
		return 1
	case ratio >= docaiH2Ratio:
		return 2
	case ratio >= docaiH3Ratio:
		return 3
	case p.Bold && ratio >= 1.0:
		return 3
	}
	return 0
}

func medianFontSize(result *gcp.DocAIResult) float64 {
	sizes := make([]float64, 0, 64)
	for _, page := range result.Pages {
		for _, para := range page.Paragraphs {
			if para.FontSize > 0 {
				sizes = append(sizes, para.FontSize)
			}
		}
	}
	if len(sizes) == 0 {
		return 0
	}
	sort.Float64s(sizes)
	mid := len(sizes) / 2
	if len(sizes)%2 == 0 {
		return (sizes[mid-1] + sizes[mid]) / 2
	}
	return sizes[mid]
}

func collapsedTableText(tables []gcp.DocAITable) string {
	if len(tables) == 0 {
		return ""
	}
	var b strings.Builder
	for _, t := range tables {
		cleaned := strings.NewReplacer("|", " ", "---", " ", "\\", " ").Replace(t.Markdown)
		b.WriteString(strings.ToLower(strings.Join(strings.Fields(cleaned), " ")))
		b.WriteString(" ")
	}
	return b.String()
}

func isTableContent(text, tableText string) bool {
	if tableText == "" || len(text) < tableDedupeChars {
		return false
	}
	collapsed := strings.ToLower(strings.Join(strings.Fields(text), " "))
	if len(collapsed) < tableDedupeChars {
		return false
	}
	return strings.Contains(tableText, collapsed)
}
