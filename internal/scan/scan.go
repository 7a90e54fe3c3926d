package scan

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
)

const (
	ProviderClamAV = "clamav"
	ProviderOff    = "off"
)

// Result is the outcome of scanning one staged file. Signature is the
// detection name and is empty when Clean.
type Result struct {
	Clean     bool
	Signature string
}

// Scanner checks a staged upload for malware before it enters the pipeline.
// A non-nil error means the file could not be scanned at all; callers must
// treat that as a processing failure, not as a pass.
type Scanner interface {
	Name() string
	Scan(ctx context.Context, path string) (*Result, error)
}

type BootstrapErrorCode string

const (
	BootstrapErrorUnknownProvider BootstrapErrorCode = "unknown_provider"
	BootstrapErrorInvalidAddress  BootstrapErrorCode = "invalid_address"
	BootstrapErrorInvalidTimeout  BootstrapErrorCode = "invalid_timeout"
)

type BootstrapError struct {
	Code    BootstrapErrorCode
	Message string
}

func (e *BootstrapError) Error() string {
	return fmt.Sprintf("scanner bootstrap failed: code=%s message=%s", e.Code, e.Message)
}

// New selects the scanner from SCAN_PROVIDER (default clamav). Turning
// scanning off is allowed for local development only and is logged loudly so
// it cannot hide in a production config.
func New(log *logger.Logger) (Scanner, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	provider := strings.ToLower(strings.TrimSpace(os.Getenv("SCAN_PROVIDER")))
	if provider == "" {
		provider = ProviderClamAV
	}
	switch provider {
	case ProviderClamAV:
		return newClamAVScanner(log)
	case ProviderOff:
		log.Warn("malware scanning is DISABLED; every upload will be accepted unscanned", "provider", ProviderOff)
		return &offScanner{}, nil
	default:
		return nil, &BootstrapError{
			Code:    BootstrapErrorUnknownProvider,
			Message: fmt.Sprintf("unknown SCAN_PROVIDER %q", provider),
		}
	}
}

type offScanner struct{}

func (o *offScanner) Name() string { return ProviderOff }

func (o *offScanner) Scan(ctx context.Context, path string) (*Result, error) {
	return &Result{Clean: true}, nil
}
