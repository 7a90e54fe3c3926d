package staging

import (
	"bytes"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
)

func newTestArea(t *testing.T) *Area {
	t.Helper()
	t.Setenv("STAGING_DIR", t.TempDir())
	a, err := New(newTestLogger(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestCreateAndRemove(t *testing.T) {
	a := newTestArea(t)
	jobID := uuid.New()

	path, err := a.Create(jobID)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if path != a.SourcePath(jobID) {
		t.Fatalf("path: want=%q got=%q", a.SourcePath(jobID), path)
	}
	if err := os.WriteFile(path, []byte("%PDF-1.4 body"), 0o600); err != nil {
		t.Fatalf("write source: %v", err)
	}

	info, err := os.Stat(a.Dir(jobID))
	if err != nil {
		t.Fatalf("stat dir: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o700 {
		t.Fatalf("dir perm: want=0700 got=%o", perm)
	}

	if err := a.Remove(jobID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(a.Dir(jobID)); !os.IsNotExist(err) {
		t.Fatalf("dir should be gone, stat err=%v", err)
	}
}

func TestRemoveMissingDirIsNil(t *testing.T) {
	a := newTestArea(t)
	if err := a.Remove(uuid.New()); err != nil {
		t.Fatalf("Remove: %v", err)
	}
}

func TestZeroFileOverwritesContent(t *testing.T) {
	a := newTestArea(t)
	jobID := uuid.New()
	path, err := a.Create(jobID)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	secret := bytes.Repeat([]byte("confidential rulebook text "), 5000)
	if err := os.WriteFile(path, secret, 0o600); err != nil {
		t.Fatalf("write source: %v", err)
	}

	if err := zeroFile(path); err != nil {
		t.Fatalf("zeroFile: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(got) != len(secret) {
		t.Fatalf("size changed: want=%d got=%d", len(secret), len(got))
	}
	for i, b := range got {
		if b != 0 {
			t.Fatalf("byte %d not zeroed: %x", i, b)
		}
	}
}

func TestShredRemovesDirEvenWithoutSource(t *testing.T) {
	a := newTestArea(t)
	jobID := uuid.New()
	if _, err := a.Create(jobID); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := a.Shred(jobID); err != nil {
		t.Fatalf("Shred: %v", err)
	}
	if _, err := os.Stat(a.Dir(jobID)); !os.IsNotExist(err) {
		t.Fatalf("dir should be gone, stat err=%v", err)
	}
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(func() { log.Sync() })
	return log
}
