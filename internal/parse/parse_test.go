package parse

import (
	"context"
	"errors"
	"testing"
)

type stubParser struct {
	name       string
	doc        *Document
	err        error
	parseCalls int
}

func (s *stubParser) Name() string { return s.name }

func (s *stubParser) Parse(ctx context.Context, path string) (*Document, error) {
	s.parseCalls++
	return s.doc, s.err
}

func (s *stubParser) PageCount(ctx context.Context, path string) (int, error) {
	if s.doc == nil {
		return 0, s.err
	}
	return s.doc.Pages, s.err
}

func (s *stubParser) FirstPagesText(ctx context.Context, path string, n int) (string, error) {
	return "", s.err
}

func TestNewDefaultsToLocal(t *testing.T) {
	t.Setenv("PARSER_PROVIDER", "")
	log := newTestLogger(t)

	p, err := New(log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Name() != ProviderLocal {
		t.Fatalf("provider: want=%q got=%q", ProviderLocal, p.Name())
	}
}

func TestNewNormalizesProviderName(t *testing.T) {
	t.Setenv("PARSER_PROVIDER", "  Local ")
	log := newTestLogger(t)

	p, err := New(log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Name() != ProviderLocal {
		t.Fatalf("provider: want=%q got=%q", ProviderLocal, p.Name())
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	t.Setenv("PARSER_PROVIDER", "tesseract")
	log := newTestLogger(t)

	_, err := New(log)
	if err == nil {
		t.Fatalf("expected error for unknown provider")
	}
	var bootErr *BootstrapError
	if !errors.As(err, &bootErr) {
		t.Fatalf("expected *BootstrapError, got %T", err)
	}
	if bootErr.Code != BootstrapErrorUnknownProvider {
		t.Fatalf("code: want=%q got=%q", BootstrapErrorUnknownProvider, bootErr.Code)
	}
}

func TestNewDocAIRequiresProcessorConfig(t *testing.T) {
	t.Setenv("PARSER_PROVIDER", "docai")
	t.Setenv("DOCUMENTAI_PROJECT_ID", "")
	t.Setenv("DOCUMENTAI_PROCESSOR_ID", "")
	log := newTestLogger(t)

	_, err := New(log)
	if err == nil {
		t.Fatalf("expected error for unconfigured Document AI")
	}
	var bootErr *BootstrapError
	if !errors.As(err, &bootErr) {
		t.Fatalf("expected *BootstrapError, got %T", err)
	}
	if bootErr.Code != BootstrapErrorDocAIUnavailable {
		t.Fatalf("code: want=%q got=%q", BootstrapErrorDocAIUnavailable, bootErr.Code)
	}
	if bootErr.Unwrap() == nil {
		t.Fatalf("expected wrapped cause")
	}
}

func TestFallbackParserUsesBackupOnParseFailure(t *testing.T) {
	log := newTestLogger(t)
	primary := &stubParser{name: ProviderDocAI, err: errors.New("layout processor rejected document")}
	backup := &stubParser{name: ProviderLocal, doc: &Document{Pages: 3}}
	f := &fallbackParser{log: log, primary: primary, backup: backup}

	doc, err := f.Parse(context.Background(), "/tmp/rulebook.pdf")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if doc.Pages != 3 {
		t.Fatalf("pages: want=3 got=%d", doc.Pages)
	}
	if primary.parseCalls != 1 || backup.parseCalls != 1 {
		t.Fatalf("calls: primary=%d backup=%d", primary.parseCalls, backup.parseCalls)
	}
	if f.Name() != ProviderDocAI {
		t.Fatalf("name should report the primary provider, got=%q", f.Name())
	}
}

func TestFallbackParserPrefersPrimary(t *testing.T) {
	log := newTestLogger(t)
	primary := &stubParser{name: ProviderDocAI, doc: &Document{Pages: 12}}
	backup := &stubParser{name: ProviderLocal, doc: &Document{Pages: 1}}
	f := &fallbackParser{log: log, primary: primary, backup: backup}

	doc, err := f.Parse(context.Background(), "/tmp/rulebook.pdf")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if doc.Pages != 12 {
		t.Fatalf("pages: want=12 got=%d", doc.Pages)
	}
	if backup.parseCalls != 0 {
		t.Fatalf("backup should not run when primary succeeds, calls=%d", backup.parseCalls)
	}
}
