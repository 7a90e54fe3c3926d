package gcp

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/types/known/fieldmaskpb"

	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/ctxutil"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
)

// Document runs a PDF through a Document AI layout processor and returns the
// page structure the chunker needs: paragraphs with font style, tables
// already in markdown.
type Document interface {
	ProcessBytes(ctx context.Context, data []byte, mimeType string) (*DocAIResult, error)
	Close() error
}

type DocAIResult struct {
	Provider    string
	Processor   string
	MimeType    string
	PrimaryText string
	Pages       []DocAIPage
}

type DocAIPage struct {
	Number     int
	Paragraphs []DocAIParagraph
	Tables     []DocAITable
}

// FontSize is the mean token size in points, 0 when the processor returned
// no style info. Bold means most tokens in the paragraph were bold.
type DocAIParagraph struct {
	Text     string
	FontSize float64
	Bold     bool
}

type DocAITable struct {
	Markdown string
}

type documentService struct {
	log       *logger.Logger
	docClient *documentai.DocumentProcessorClient
	processor string
}

func NewDocument(log *logger.Logger) (Document, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	slog := log.With("client", "gcp.Document")

	projectID := strings.TrimSpace(os.Getenv("DOCUMENTAI_PROJECT_ID"))
	processorID := strings.TrimSpace(os.Getenv("DOCUMENTAI_PROCESSOR_ID"))
	location := strings.TrimSpace(os.Getenv("DOCUMENTAI_LOCATION"))
	if location == "" {
		location = "us"
	}
	version := strings.TrimSpace(os.Getenv("DOCUMENTAI_PROCESSOR_VERSION"))

	processor := processorName(projectID, location, processorID, version)
	if processor == "" {
		return nil, fmt.Errorf("DOCUMENTAI_PROJECT_ID and DOCUMENTAI_PROCESSOR_ID are required")
	}

	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", location)
	docOpts := append([]option.ClientOption{option.WithEndpoint(endpoint)}, ClientOptionsFromEnv()...)
	c, err := documentai.NewDocumentProcessorClient(context.Background(), docOpts...)
	if err != nil {
		return nil, fmt.Errorf("documentai client: %w", err)
	}

	slog.Info("Document AI initialized", "endpoint", endpoint, "processor", processor)

	return &documentService{
		log:       slog,
		docClient: c,
		processor: processor,
	}, nil
}

func (s *documentService) Close() error {
	if s == nil || s.docClient == nil {
		return nil
	}
	return s.docClient.Close()
}

func (s *documentService) ProcessBytes(ctx context.Context, data []byte, mimeType string) (*DocAIResult, error) {
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	if len(data) == 0 {
		return &DocAIResult{Provider: "gcp_documentai", Processor: s.processor, MimeType: mimeType}, nil
	}
	if mimeType == "" {
		mimeType = "application/pdf"
	}

	r := &documentaipb.ProcessRequest{
		Name: s.processor,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  data,
				MimeType: mimeType,
			},
		},
		FieldMask: &fieldmaskpb.FieldMask{Paths: []string{"text", "pages"}},
	}

	resp, err := s.docClient.ProcessDocument(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("documentai ProcessDocument: %w", err)
	}
	if resp == nil || resp.Document == nil {
		return &DocAIResult{Provider: "gcp_documentai", Processor: s.processor, MimeType: mimeType}, nil
	}

	return buildDocAIResult(resp.Document, s.processor, mimeType), nil
}

// ---------- parsing into pages ----------

func buildDocAIResult(doc *documentaipb.Document, processor string, mimeType string) *DocAIResult {
	out := &DocAIResult{
		Provider:  "gcp_documentai",
		Processor: processor,
		MimeType:  mimeType,
	}
	if doc == nil {
		return out
	}

	out.PrimaryText = strings.TrimSpace(doc.Text)

	for _, p := range doc.Pages {
		if p == nil {
			continue
		}
		page := DocAIPage{Number: int(p.PageNumber)}
		styles := tokenStyles(p)

		for _, para := range p.Paragraphs {
			if para == nil || para.Layout == nil || para.Layout.TextAnchor == nil {
				continue
			}
			t := strings.TrimSpace(textFromAnchor(doc.Text, para.Layout.TextAnchor))
			if t == "" {
				continue
			}
			size, bold := paragraphStyle(para.Layout.TextAnchor, styles)
			page.Paragraphs = append(page.Paragraphs, DocAIParagraph{
				Text:     t,
				FontSize: size,
				Bold:     bold,
			})
		}

		for _, table := range p.Tables {
			md := strings.TrimSpace(tableToMarkdown(doc.Text, table))
			if md == "" {
				continue
			}
			page.Tables = append(page.Tables, DocAITable{Markdown: md})
		}

		if len(page.Paragraphs) > 0 || len(page.Tables) > 0 {
			out.Pages = append(out.Pages, page)
		}
	}

	// Some processors populate doc.Text but omit structured page paragraphs.
	// Callers still get usable text in that case.
	if len(out.Pages) == 0 && out.PrimaryText != "" {
		out.Pages = append(out.Pages, DocAIPage{
			Number:     1,
			Paragraphs: []DocAIParagraph{{Text: out.PrimaryText}},
		})
	}
	return out
}

type tokenStyle struct {
	start int
	end   int
	size  float64
	bold  bool
}

func tokenStyles(p *documentaipb.Document_Page) []tokenStyle {
	if p == nil {
		return nil
	}
	out := make([]tokenStyle, 0, len(p.Tokens))
	for _, tok := range p.Tokens {
		if tok == nil || tok.Layout == nil || tok.Layout.TextAnchor == nil || tok.StyleInfo == nil {
			continue
		}
		segs := tok.Layout.TextAnchor.TextSegments
		if len(segs) == 0 || segs[0] == nil {
			continue
		}
		size := float64(tok.StyleInfo.FontSize)
		if size == 0 {
			size = tok.StyleInfo.PixelFontSize
		}
		if size == 0 && !tok.StyleInfo.Bold {
			continue
		}
		out = append(out, tokenStyle{
			start: int(segs[0].StartIndex),
			end:   int(segs[0].EndIndex),
			size:  size,
			bold:  tok.StyleInfo.Bold,
		})
	}
	return out
}

func paragraphStyle(anchor *documentaipb.Document_TextAnchor, styles []tokenStyle) (float64, bool) {
	if anchor == nil || len(styles) == 0 {
		return 0, false
	}
	var sizeSum float64
	var sized, boldCount, total int
	for _, seg := range anchor.TextSegments {
		if seg == nil {
			continue
		}
		start := int(seg.StartIndex)
		end := int(seg.EndIndex)
		for _, ts := range styles {
			if ts.start < start || ts.start >= end {
				continue
			}
			total++
			if ts.size > 0 {
				sizeSum += ts.size
				sized++
			}
			if ts.bold {
				boldCount++
			}
		}
	}
	if total == 0 {
		return 0, false
	}
	var mean float64
	if sized > 0 {
		mean = sizeSum / float64(sized)
	}
	return mean, boldCount*2 > total
}

func textFromAnchor(full string, anchor *documentaipb.Document_TextAnchor) string {
	if anchor == nil || len(anchor.TextSegments) == 0 || full == "" {
		return ""
	}
	var b strings.Builder
	for _, seg := range anchor.TextSegments {
		if seg == nil {
			continue
		}
		start := int(seg.StartIndex)
		end := int(seg.EndIndex)
		if start < 0 {
			start = 0
		}
		if end > len(full) {
			end = len(full)
		}
		if start >= end {
			continue
		}
		b.WriteString(full[start:end])
	}
	return b.String()
}

func tableToMarkdown(full string, t *documentaipb.Document_Page_Table) string {
	if t == nil {
		return ""
	}

	rows := [][]string{}
	header := []string{}
	if len(t.HeaderRows) > 0 && t.HeaderRows[0] != nil {
		header = tableRowToCells(full, t.HeaderRows[0])
	}
	bodyRows := append([]*documentaipb.Document_Page_Table_TableRow{}, t.BodyRows...)

	if len(header) == 0 && len(bodyRows) > 0 && bodyRows[0] != nil {
		header = tableRowToCells(full, bodyRows[0])
		bodyRows = bodyRows[1:]
	}
	if len(header) == 0 {
		return ""
	}

	rows = append(rows, header)
	for _, r := range bodyRows {
		if r == nil {
			continue
		}
		rows = append(rows, tableRowToCells(full, r))
	}
	if len(rows) == 0 {
		return ""
	}

	maxCols := 0
	for _, r := range rows {
		if len(r) > maxCols {
			maxCols = len(r)
		}
	}
	if maxCols == 0 {
		return ""
	}
	for i := range rows {
		for len(rows[i]) < maxCols {
			rows[i] = append(rows[i], "")
		}
	}

	var out strings.Builder
	out.WriteString("| ")
	out.WriteString(strings.Join(escapePipes(rows[0]), " | "))
	out.WriteString(" |\n| ")
	sep := make([]string, maxCols)
	for i := 0; i < maxCols; i++ {
		sep[i] = "---"
	}
	out.WriteString(strings.Join(sep, " | "))
	out.WriteString(" |\n")

	for i := 1; i < len(rows); i++ {
		out.WriteString("| ")
		out.WriteString(strings.Join(escapePipes(rows[i]), " | "))
		out.WriteString(" |\n")
	}
	return out.String()
}

func tableRowToCells(full string, r *documentaipb.Document_Page_Table_TableRow) []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.Cells))
	for _, c := range r.Cells {
		if c == nil || c.Layout == nil || c.Layout.TextAnchor == nil {
			out = append(out, "")
			continue
		}
		out = append(out, strings.TrimSpace(textFromAnchor(full, c.Layout.TextAnchor)))
	}
	return out
}

func escapePipes(row []string) []string {
	out := make([]string, len(row))
	for i, s := range row {
		out[i] = strings.ReplaceAll(s, "|", "\\|")
	}
	return out
}

func processorName(project, location, processorID, version string) string {
	project = strings.TrimSpace(project)
	location = strings.TrimSpace(location)
	processorID = strings.TrimSpace(processorID)
	version = strings.TrimSpace(version)

	if project == "" || location == "" || processorID == "" {
		return ""
	}
	base := fmt.Sprintf("projects/%s/locations/%s/processors/%s", project, location, processorID)
	if version != "" {
		return base + "/processorVersions/" + version
	}
	return base
}
