package rerank

import (
	"context"
	"errors"
	"testing"
)

func TestNewDefaultsToLexical(t *testing.T) {
	t.Setenv("RERANK_PROVIDER", "")

	r, err := New(newTestLogger(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if r.Name() != ProviderLexical {
		t.Fatalf("provider: want=%q got=%q", ProviderLexical, r.Name())
	}
}

func TestNewCohereRequiresAPIKey(t *testing.T) {
	t.Setenv("RERANK_PROVIDER", "cohere")
	t.Setenv("COHERE_API_KEY", "")

	_, err := New(newTestLogger(t))
	if err == nil {
		t.Fatalf("New: expected error, got nil")
	}
	var bootErr *BootstrapError
	if !errors.As(err, &bootErr) {
		t.Fatalf("expected *BootstrapError, got=%T", err)
	}
	if bootErr.Code != BootstrapErrorMissingAPIKey {
		t.Fatalf("code: want=%q got=%q", BootstrapErrorMissingAPIKey, bootErr.Code)
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	t.Setenv("RERANK_PROVIDER", "bge")

	_, err := New(newTestLogger(t))
	if err == nil {
		t.Fatalf("New: expected error, got nil")
	}
	var bootErr *BootstrapError
	if !errors.As(err, &bootErr) {
		t.Fatalf("expected *BootstrapError, got=%T", err)
	}
	if bootErr.Code != BootstrapErrorUnknownProvider {
		t.Fatalf("code: want=%q got=%q", BootstrapErrorUnknownProvider, bootErr.Code)
	}
}

func TestNewCohereInvalidTimeout(t *testing.T) {
	t.Setenv("RERANK_PROVIDER", "cohere")
	t.Setenv("COHERE_API_KEY", "test-key")
	t.Setenv("COHERE_TIMEOUT_SECONDS", "zero")

	_, err := New(newTestLogger(t))
	if err == nil {
		t.Fatalf("New: expected error, got nil")
	}
	var bootErr *BootstrapError
	if !errors.As(err, &bootErr) {
		t.Fatalf("expected *BootstrapError, got=%T", err)
	}
	if bootErr.Code != BootstrapErrorInvalidTimeout {
		t.Fatalf("code: want=%q got=%q", BootstrapErrorInvalidTimeout, bootErr.Code)
	}
}

func TestNoopRerankerKeepsInputOrder(t *testing.T) {
	t.Setenv("RERANK_PROVIDER", "none")

	r, err := New(newTestLogger(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if r.Name() != ProviderNone {
		t.Fatalf("provider: want=%q got=%q", ProviderNone, r.Name())
	}

	results, err := r.Rerank(context.Background(), "question", []string{"a", "b", "c"}, 2)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results length: want=2 got=%d", len(results))
	}
	if results[0].Index != 0 || results[1].Index != 1 {
		t.Fatalf("order changed: got=%v", results)
	}
	if results[0].Score != 0 || results[1].Score != 0 {
		t.Fatalf("expected zero scores, got=%v", results)
	}
}
