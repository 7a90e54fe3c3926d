package gcp

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
)

type ObjectStorageMode string

const (
	ObjectStorageModeGCS         ObjectStorageMode = "gcs"
	ObjectStorageModeGCSEmulator ObjectStorageMode = "gcs_emulator"
)

type ObjectStorageConfigErrorCode string

const (
	ObjectStorageConfigErrorInvalidMode         ObjectStorageConfigErrorCode = "invalid_mode"
	ObjectStorageConfigErrorMissingEmulatorHost ObjectStorageConfigErrorCode = "missing_emulator_host"
	ObjectStorageConfigErrorInvalidEmulatorHost ObjectStorageConfigErrorCode = "invalid_emulator_host"
)

type ObjectStorageConfigError struct {
	Code         ObjectStorageConfigErrorCode
	Mode         string
	EmulatorHost string
	Cause        error
}

func (e *ObjectStorageConfigError) Error() string {
	if e == nil {
		return "invalid object storage config"
	}
	switch e.Code {
	case ObjectStorageConfigErrorInvalidMode:
		return fmt.Sprintf("invalid OBJECT_STORAGE_MODE=%q (allowed: %q, %q)", e.Mode, ObjectStorageModeGCS, ObjectStorageModeGCSEmulator)
	case ObjectStorageConfigErrorMissingEmulatorHost:
		return fmt.Sprintf("OBJECT_STORAGE_MODE=%q requires STORAGE_EMULATOR_HOST to be set", ObjectStorageModeGCSEmulator)
	case ObjectStorageConfigErrorInvalidEmulatorHost:
		return fmt.Sprintf("invalid STORAGE_EMULATOR_HOST=%q; expected absolute URL like http://fake-gcs:4443", e.EmulatorHost)
	default:
		return "invalid object storage config"
	}
}

func (e *ObjectStorageConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Bucket reads publisher-registered objects from GCS. Official rulebooks are
// ingested by gs:// URI; the object is downloaded into the staging area and
// then goes through the same gatekeeping as a direct upload.
type Bucket interface {
	Download(ctx context.Context, uri string) (io.ReadCloser, error)
	ObjectAttrs(ctx context.Context, uri string) (*ObjectAttrs, error)
	Close() error
}

type ObjectAttrs struct {
	Size        int64
	ContentType string
	Updated     time.Time
	ETag        string
}

type bucketService struct {
	log           *logger.Logger
	storageClient *storage.Client
	mode          ObjectStorageMode
}

func NewBucket(log *logger.Logger) (Bucket, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	serviceLog := log.With("client", "gcp.Bucket")

	mode, emulatorHost, err := resolveStorageMode()
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	var stClient *storage.Client
	switch mode {
	case ObjectStorageModeGCS:
		opts := append(ClientOptionsFromEnv(), option.WithScopes(storage.ScopeReadOnly))
		stClient, err = storage.NewClient(ctx, opts...)
	case ObjectStorageModeGCSEmulator:
		_ = os.Setenv("STORAGE_EMULATOR_HOST", emulatorHost)
		stClient, err = storage.NewClient(ctx, option.WithoutAuthentication())
	}
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	serviceLog.Info("Object storage initialized", "mode", mode, "emulator_host", emulatorHost)

	return &bucketService{
		log:           serviceLog,
		storageClient: stClient,
		mode:          mode,
	}, nil
}

// ModeFromEnv reports the storage mode the next NewBucket call will resolve
// to, without opening a client. The app bootstrap uses it to pick the vector
// provider default and to decide whether object storage is configured at all.
func ModeFromEnv() (ObjectStorageMode, string, error) {
	return resolveStorageMode()
}

// Empty OBJECT_STORAGE_MODE with STORAGE_EMULATOR_HOST set means emulator,
// so docker-compose setups work without the explicit mode var.
func resolveStorageMode() (ObjectStorageMode, string, error) {
	emulatorHost := strings.TrimRight(strings.TrimSpace(os.Getenv("STORAGE_EMULATOR_HOST")), "/")
	rawMode := strings.TrimSpace(os.Getenv("OBJECT_STORAGE_MODE"))

	var mode ObjectStorageMode
	switch ObjectStorageMode(strings.ToLower(rawMode)) {
	case "":
		if emulatorHost != "" {
			mode = ObjectStorageModeGCSEmulator
		} else {
			mode = ObjectStorageModeGCS
		}
	case ObjectStorageModeGCS:
		mode = ObjectStorageModeGCS
	case ObjectStorageModeGCSEmulator:
		mode = ObjectStorageModeGCSEmulator
	default:
		return "", "", &ObjectStorageConfigError{Code: ObjectStorageConfigErrorInvalidMode, Mode: rawMode}
	}

	if mode == ObjectStorageModeGCSEmulator {
		if emulatorHost == "" {
			return "", "", &ObjectStorageConfigError{Code: ObjectStorageConfigErrorMissingEmulatorHost, Mode: string(mode)}
		}
		u, err := url.Parse(emulatorHost)
		if err != nil || strings.TrimSpace(u.Scheme) == "" || strings.TrimSpace(u.Host) == "" {
			return "", "", &ObjectStorageConfigError{
				Code:         ObjectStorageConfigErrorInvalidEmulatorHost,
				Mode:         string(mode),
				EmulatorHost: emulatorHost,
				Cause:        err,
			}
		}
	}
	return mode, emulatorHost, nil
}

func (b *bucketService) Close() error {
	if b == nil || b.storageClient == nil {
		return nil
	}
	return b.storageClient.Close()
}

func (b *bucketService) Download(ctx context.Context, uri string) (io.ReadCloser, error) {
	bucket, key, err := parseGCSURI(uri)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return nil, fmt.Errorf("gs uri %q has no object key", uri)
	}
	rc, err := b.storageClient.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open gs://%s/%s: %w", bucket, key, err)
	}
	return rc, nil
}

func (b *bucketService) ObjectAttrs(ctx context.Context, uri string) (*ObjectAttrs, error) {
	bucket, key, err := parseGCSURI(uri)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return nil, fmt.Errorf("gs uri %q has no object key", uri)
	}
	attrs, err := b.storageClient.Bucket(bucket).Object(key).Attrs(ctx)
	if err != nil {
		return nil, fmt.Errorf("stat gs://%s/%s: %w", bucket, key, err)
	}
	return &ObjectAttrs{
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
		Updated:     attrs.Updated,
		ETag:        attrs.Etag,
	}, nil
}

func parseGCSURI(uri string) (bucket, key string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid gs uri: %q", uri)
	}
	trim := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trim, "/", 2)
	if len(parts) == 0 || parts[0] == "" {
		return "", "", fmt.Errorf("invalid gs uri: %q", uri)
	}
	bucket = parts[0]
	if len(parts) == 1 {
		return bucket, "", nil
	}
	key = parts[1]
	return bucket, key, nil
}
