package jobs

import (
	"strings"
	"testing"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	h := &stubHandler{typ: "rulebook_ingest"}
	if err := r.Register(h); err != nil {
		t.Fatalf("Register: %v", err)
	}
	got, ok := r.Get("rulebook_ingest")
	if !ok || got != h {
		t.Fatalf("Get returned wrong handler: ok=%v got=%v", ok, got)
	}
	if _, ok := r.Get("unknown"); ok {
		t.Fatalf("Get must miss for unregistered job_type")
	}
}

func TestRegistryRejectsBadHandlers(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(nil); err == nil {
		t.Fatalf("nil handler must be rejected")
	}
	if err := r.Register(&stubHandler{typ: ""}); err == nil {
		t.Fatalf("empty job_type must be rejected")
	}
	if err := r.Register(&stubHandler{typ: "rulebook_ingest"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	err := r.Register(&stubHandler{typ: "rulebook_ingest"})
	if err == nil || !strings.Contains(err.Error(), "already registered") {
		t.Fatalf("duplicate registration: want already-registered error, got %v", err)
	}
}
