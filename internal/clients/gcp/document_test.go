package gcp

import (
	"strings"
	"testing"

	"cloud.google.com/go/documentai/apiv1/documentaipb"
)

func anchorFor(full, fragment string) *documentaipb.Document_TextAnchor {
	start := strings.Index(full, fragment)
	if start < 0 {
		panic("fragment not in text: " + fragment)
	}
	return &documentaipb.Document_TextAnchor{
		TextSegments: []*documentaipb.Document_TextAnchor_TextSegment{
			{StartIndex: int64(start), EndIndex: int64(start + len(fragment))},
		},
	}
}

func tokenFor(full, fragment string, fontSize int32, bold bool) *documentaipb.Document_Page_Token {
	return &documentaipb.Document_Page_Token{
		Layout: &documentaipb.Document_Page_Layout{
			TextAnchor: anchorFor(full, fragment),
		},
		StyleInfo: &documentaipb.Document_Page_Token_StyleInfo{
			FontSize: fontSize,
			Bold:     bold,
		},
	}
}

func TestBuildDocAIResultParagraphsAndStyle(t *testing.T) {
	text := "Combat Phase\nAttackers are declared before blockers.\n"
	doc := &documentaipb.Document{
		Text: text,
		Pages: []*documentaipb.Document_Page{
			{
				PageNumber: 1,
				Paragraphs: []*documentaipb.Document_Page_Paragraph{
					{Layout: &documentaipb.Document_Page_Layout{TextAnchor: anchorFor(text, "Combat Phase\n")}},
					{Layout: &documentaipb.Document_Page_Layout{TextAnchor: anchorFor(text, "Attackers are declared before blockers.\n")}},
				},
				Tokens: []*documentaipb.Document_Page_Token{
					tokenFor(text, "Combat", 18, true),
					tokenFor(text, "Phase", 18, true),
					tokenFor(text, "Attackers", 10, false),
					tokenFor(text, "declared", 10, false),
				},
			},
		},
	}

	out := buildDocAIResult(doc, "projects/p/locations/us/processors/x", "application/pdf")
	if len(out.Pages) != 1 {
		t.Fatalf("pages: want=1 got=%d", len(out.Pages))
	}
	page := out.Pages[0]
	if page.Number != 1 {
		t.Fatalf("page number: want=1 got=%d", page.Number)
	}
	if len(page.Paragraphs) != 2 {
		t.Fatalf("paragraphs: want=2 got=%d", len(page.Paragraphs))
	}

	header := page.Paragraphs[0]
	if header.Text != "Combat Phase" {
		t.Fatalf("header text: got=%q", header.Text)
	}
	if header.FontSize != 18 {
		t.Fatalf("header font size: want=18 got=%f", header.FontSize)
	}
	if !header.Bold {
		t.Fatalf("header should be bold")
	}

	body := page.Paragraphs[1]
	if body.FontSize != 10 {
		t.Fatalf("body font size: want=10 got=%f", body.FontSize)
	}
	if body.Bold {
		t.Fatalf("body should not be bold")
	}
}

func TestBuildDocAIResultFallsBackToPrimaryText(t *testing.T) {
	doc := &documentaipb.Document{Text: "Unstructured output only."}

	out := buildDocAIResult(doc, "proc", "application/pdf")
	if len(out.Pages) != 1 {
		t.Fatalf("pages: want=1 got=%d", len(out.Pages))
	}
	if len(out.Pages[0].Paragraphs) != 1 {
		t.Fatalf("paragraphs: want=1 got=%d", len(out.Pages[0].Paragraphs))
	}
	if out.Pages[0].Paragraphs[0].Text != "Unstructured output only." {
		t.Fatalf("fallback text: got=%q", out.Pages[0].Paragraphs[0].Text)
	}
}

func TestTableToMarkdownEscapesPipes(t *testing.T) {
	text := "Die Roll Result 1-2 Lose | discard 3-6 Draw a card "
	table := &documentaipb.Document_Page_Table{
		HeaderRows: []*documentaipb.Document_Page_Table_TableRow{
			{
				Cells: []*documentaipb.Document_Page_Table_TableCell{
					{Layout: &documentaipb.Document_Page_Layout{TextAnchor: anchorFor(text, "Die Roll")}},
					{Layout: &documentaipb.Document_Page_Layout{TextAnchor: anchorFor(text, "Result")}},
				},
			},
		},
		BodyRows: []*documentaipb.Document_Page_Table_TableRow{
			{
				Cells: []*documentaipb.Document_Page_Table_TableCell{
					{Layout: &documentaipb.Document_Page_Layout{TextAnchor: anchorFor(text, "1-2")}},
					{Layout: &documentaipb.Document_Page_Layout{TextAnchor: anchorFor(text, "Lose | discard")}},
				},
			},
			{
				Cells: []*documentaipb.Document_Page_Table_TableCell{
					{Layout: &documentaipb.Document_Page_Layout{TextAnchor: anchorFor(text, "3-6")}},
					{Layout: &documentaipb.Document_Page_Layout{TextAnchor: anchorFor(text, "Draw a card")}},
				},
			},
		},
	}

	md := tableToMarkdown(text, table)
	lines := strings.Split(strings.TrimSpace(md), "\n")
	if len(lines) != 4 {
		t.Fatalf("markdown lines: want=4 got=%d\n%s", len(lines), md)
	}
	if lines[0] != "| Die Roll | Result |" {
		t.Fatalf("header row: got=%q", lines[0])
	}
	if lines[1] != "| --- | --- |" {
		t.Fatalf("separator row: got=%q", lines[1])
	}
	if !strings.Contains(lines[2], "Lose \\| discard") {
		t.Fatalf("pipe not escaped: got=%q", lines[2])
	}
}

func TestTableToMarkdownPromotesFirstBodyRow(t *testing.T) {
	text := "Phase Order Untap First Draw Second "
	table := &documentaipb.Document_Page_Table{
		BodyRows: []*documentaipb.Document_Page_Table_TableRow{
			{
				Cells: []*documentaipb.Document_Page_Table_TableCell{
					{Layout: &documentaipb.Document_Page_Layout{TextAnchor: anchorFor(text, "Phase")}},
					{Layout: &documentaipb.Document_Page_Layout{TextAnchor: anchorFor(text, "Order")}},
				},
			},
			{
				Cells: []*documentaipb.Document_Page_Table_TableCell{
					{Layout: &documentaipb.Document_Page_Layout{TextAnchor: anchorFor(text, "Untap")}},
					{Layout: &documentaipb.Document_Page_Layout{TextAnchor: anchorFor(text, "First")}},
				},
			},
		},
	}

	md := tableToMarkdown(text, table)
	lines := strings.Split(strings.TrimSpace(md), "\n")
	if len(lines) != 3 {
		t.Fatalf("markdown lines: want=3 got=%d\n%s", len(lines), md)
	}
	if lines[0] != "| Phase | Order |" {
		t.Fatalf("promoted header row: got=%q", lines[0])
	}
}
