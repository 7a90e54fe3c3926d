package staging

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
	"github.com/gndumbri/arbiter-ai-sub001/internal/utils"
)

const sourceFilename = "source.pdf"

// Area owns the on-disk staging tree: one 0700 directory per ingestion job,
// holding exactly the uploaded source file. Every terminal job state removes
// its directory; successful ingestion shreds the source first.
type Area struct {
	log  *logger.Logger
	root string
}

func New(log *logger.Logger) (*Area, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	root := utils.GetEnv("STAGING_DIR", filepath.Join(os.TempDir(), "arbiter-staging"), log)
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("create staging root %s: %w", root, err)
	}
	return &Area{log: log.With("service", "StagingArea"), root: root}, nil
}

func (a *Area) Dir(jobID uuid.UUID) string {
	return filepath.Join(a.root, jobID.String())
}

func (a *Area) SourcePath(jobID uuid.UUID) string {
	return filepath.Join(a.Dir(jobID), sourceFilename)
}

// Create makes the job directory and returns the path the source file must
// be written to.
func (a *Area) Create(jobID uuid.UUID) (string, error) {
	dir := a.Dir(jobID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create staging dir %s: %w", dir, err)
	}
	return filepath.Join(dir, sourceFilename), nil
}

// Remove deletes the job directory. Used on failure paths, where the source
// content is not sensitive beyond being unwanted.
func (a *Area) Remove(jobID uuid.UUID) error {
	return os.RemoveAll(a.Dir(jobID))
}

// Shred overwrites the source with zeros, syncs, then removes the job
// directory. Used after successful indexing and on malware detections, so
// uploaded rulebook content does not linger on disk.
func (a *Area) Shred(jobID uuid.UUID) error {
	path := a.SourcePath(jobID)
	if err := zeroFile(path); err != nil && !os.IsNotExist(err) {
		a.log.Warn("staged file zero overwrite failed, removing anyway", "path", path, "error", err)
	}
	return os.RemoveAll(a.Dir(jobID))
}

func zeroFile(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	zeros := make([]byte, 64*1024)
	remaining := info.Size()
	for remaining > 0 {
		n := int64(len(zeros))
		if remaining < n {
			n = remaining
		}
		if _, err := f.Write(zeros[:n]); err != nil {
			return err
		}
		remaining -= n
	}
	return f.Sync()
}
