package app

import (
	"errors"
	"fmt"
	"net"
	neturl "net/url"
	"os"
	"strings"

	"github.com/gndumbri/arbiter-ai-sub001/internal/clients/gcp"
	"github.com/gndumbri/arbiter-ai-sub001/internal/observability"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
)

var newBucket = gcp.NewBucket

type StorageBootstrapErrorCode string

const (
	StorageBootstrapErrorInvalidMode         StorageBootstrapErrorCode = "invalid_mode"
	StorageBootstrapErrorMissingEmulatorHost StorageBootstrapErrorCode = "missing_emulator_host"
	StorageBootstrapErrorInvalidEmulatorHost StorageBootstrapErrorCode = "invalid_emulator_host"
	StorageBootstrapErrorConnectFailed       StorageBootstrapErrorCode = "connect_failed"
	StorageBootstrapErrorClientInitFailed    StorageBootstrapErrorCode = "client_init_failed"

	// Not an error code: recorded on the bootstrap counter when object
	// storage is skipped because nothing configured it.
	storageBootstrapCodeDisabledNoCredentials = "disabled_no_credentials"
)

type StorageBootstrapError struct {
	Code  StorageBootstrapErrorCode
	Mode  string
	Cause error
}

func (e *StorageBootstrapError) Error() string {
	if e == nil {
		return "object storage bootstrap failed"
	}
	return fmt.Sprintf("object storage bootstrap failed (code=%s mode=%q): %v", e.Code, e.Mode, e.Cause)
}

func (e *StorageBootstrapError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// resolveBucket opens object storage for official-rulebook ingestion. In gcs
// mode with neither credentials nor an explicit OBJECT_STORAGE_MODE, storage
// is left unconfigured: uploads still work through the staging area, and
// gs:// ingestion reports object storage as unavailable. Explicit
// configuration that fails is a boot error.
func resolveBucket(log *logger.Logger, cfg Config) (gcp.Bucket, error) {
	mode := strings.TrimSpace(strings.ToLower(cfg.ObjectStorageMode))
	metrics := observability.Current()

	if mode == string(gcp.ObjectStorageModeGCS) && !storageExplicitlyConfigured() {
		log.Warn(
			"Object storage not configured; gs:// ingestion disabled",
			"mode", mode,
		)
		if metrics != nil {
			metrics.SetObjectStorageModeActive("disabled")
			metrics.ObserveObjectStorageBootstrap(mode, "degraded", storageBootstrapCodeDisabledNoCredentials)
		}
		return nil, nil
	}

	bucket, err := newBucket(log)
	if err != nil {
		classified := classifyStorageBootstrapError(mode, err)
		code := storageBootstrapErrorCode(classified)
		if metrics != nil {
			metrics.ObserveObjectStorageBootstrap(mode, "error", string(code))
		}
		log.Error(
			"Object storage bootstrap failed",
			"mode", mode,
			"emulator_host", cfg.StorageEmulatorHost,
			"error_code", code,
			"error", classified,
		)
		return nil, classified
	}

	if metrics != nil {
		metrics.SetObjectStorageModeActive(mode)
		metrics.ObserveObjectStorageBootstrap(mode, "success", "none")
	}
	return bucket, nil
}

// storageExplicitlyConfigured reports whether the operator opted into object
// storage: credentials for real GCS, or an explicit mode/emulator setting.
func storageExplicitlyConfigured() bool {
	for _, key := range []string{
		"GOOGLE_APPLICATION_CREDENTIALS_JSON",
		"GOOGLE_APPLICATION_CREDENTIALS",
		"OBJECT_STORAGE_MODE",
		"STORAGE_EMULATOR_HOST",
	} {
		if strings.TrimSpace(os.Getenv(key)) != "" {
			return true
		}
	}
	return false
}

func classifyStorageBootstrapError(mode string, err error) error {
	var cfgErr *gcp.ObjectStorageConfigError
	if errors.As(err, &cfgErr) {
		switch cfgErr.Code {
		case gcp.ObjectStorageConfigErrorInvalidMode:
			return &StorageBootstrapError{Code: StorageBootstrapErrorInvalidMode, Mode: mode, Cause: err}
		case gcp.ObjectStorageConfigErrorMissingEmulatorHost:
			return &StorageBootstrapError{Code: StorageBootstrapErrorMissingEmulatorHost, Mode: mode, Cause: err}
		case gcp.ObjectStorageConfigErrorInvalidEmulatorHost:
			return &StorageBootstrapError{Code: StorageBootstrapErrorInvalidEmulatorHost, Mode: mode, Cause: err}
		}
	}

	var urlErr *neturl.Error
	if errors.As(err, &urlErr) {
		return &StorageBootstrapError{Code: StorageBootstrapErrorConnectFailed, Mode: mode, Cause: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &StorageBootstrapError{Code: StorageBootstrapErrorConnectFailed, Mode: mode, Cause: err}
	}
	if strings.Contains(strings.ToLower(err.Error()), "connection refused") {
		return &StorageBootstrapError{Code: StorageBootstrapErrorConnectFailed, Mode: mode, Cause: err}
	}

	return &StorageBootstrapError{Code: StorageBootstrapErrorClientInitFailed, Mode: mode, Cause: err}
}

func storageBootstrapErrorCode(err error) StorageBootstrapErrorCode {
	var bootstrapErr *StorageBootstrapError
	if errors.As(err, &bootstrapErr) {
		if bootstrapErr.Code != "" {
			return bootstrapErr.Code
		}
	}
	return StorageBootstrapErrorClientInitFailed
}
