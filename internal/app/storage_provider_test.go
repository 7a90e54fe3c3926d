package app

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/gndumbri/arbiter-ai-sub001/internal/clients/gcp"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
)

func clearStorageEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"GOOGLE_APPLICATION_CREDENTIALS_JSON",
		"GOOGLE_APPLICATION_CREDENTIALS",
		"OBJECT_STORAGE_MODE",
		"STORAGE_EMULATOR_HOST",
	} {
		t.Setenv(key, "")
	}
}

func TestClassifyStorageBootstrapErrorInvalidMode(t *testing.T) {
	err := classifyStorageBootstrapError("bad-mode", &gcp.ObjectStorageConfigError{
		Code: gcp.ObjectStorageConfigErrorInvalidMode,
		Mode: "bad-mode",
	})

	var got *StorageBootstrapError
	if !errors.As(err, &got) {
		t.Fatalf("expected StorageBootstrapError, got=%T", err)
	}
	if got.Code != StorageBootstrapErrorInvalidMode {
		t.Fatalf("code: want=%q got=%q", StorageBootstrapErrorInvalidMode, got.Code)
	}
}

func TestClassifyStorageBootstrapErrorMissingEmulatorHost(t *testing.T) {
	err := classifyStorageBootstrapError(string(gcp.ObjectStorageModeGCSEmulator), &gcp.ObjectStorageConfigError{
		Code: gcp.ObjectStorageConfigErrorMissingEmulatorHost,
		Mode: string(gcp.ObjectStorageModeGCSEmulator),
	})

	var got *StorageBootstrapError
	if !errors.As(err, &got) {
		t.Fatalf("expected StorageBootstrapError, got=%T", err)
	}
	if got.Code != StorageBootstrapErrorMissingEmulatorHost {
		t.Fatalf("code: want=%q got=%q", StorageBootstrapErrorMissingEmulatorHost, got.Code)
	}
}

func TestClassifyStorageBootstrapErrorInvalidEmulatorHost(t *testing.T) {
	err := classifyStorageBootstrapError(string(gcp.ObjectStorageModeGCSEmulator), &gcp.ObjectStorageConfigError{
		Code:         gcp.ObjectStorageConfigErrorInvalidEmulatorHost,
		Mode:         string(gcp.ObjectStorageModeGCSEmulator),
		EmulatorHost: "fake-gcs:4443",
	})

	var got *StorageBootstrapError
	if !errors.As(err, &got) {
		t.Fatalf("expected StorageBootstrapError, got=%T", err)
	}
	if got.Code != StorageBootstrapErrorInvalidEmulatorHost {
		t.Fatalf("code: want=%q got=%q", StorageBootstrapErrorInvalidEmulatorHost, got.Code)
	}
}

func TestClassifyStorageBootstrapErrorConnectFailed(t *testing.T) {
	err := classifyStorageBootstrapError(string(gcp.ObjectStorageModeGCS), errors.New("dial tcp: connection refused"))

	var got *StorageBootstrapError
	if !errors.As(err, &got) {
		t.Fatalf("expected StorageBootstrapError, got=%T", err)
	}
	if got.Code != StorageBootstrapErrorConnectFailed {
		t.Fatalf("code: want=%q got=%q", StorageBootstrapErrorConnectFailed, got.Code)
	}
}

func TestResolveBucketSkipsWhenNothingConfigured(t *testing.T) {
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	defer log.Sync()

	clearStorageEnv(t)

	orig := newBucket
	t.Cleanup(func() {
		newBucket = orig
	})

	calls := 0
	newBucket = func(_ *logger.Logger) (gcp.Bucket, error) {
		calls++
		return &testBucket{}, nil
	}

	bucket, err := resolveBucket(log, Config{
		ObjectStorageMode: string(gcp.ObjectStorageModeGCS),
	})
	if err != nil {
		t.Fatalf("resolveBucket: %v", err)
	}
	if bucket != nil {
		t.Fatalf("bucket: expected nil when storage unconfigured")
	}
	if calls != 0 {
		t.Fatalf("bucket init should be skipped when storage unconfigured; calls=%d", calls)
	}
}

func TestResolveBucketGCSWithCredentials(t *testing.T) {
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	defer log.Sync()

	clearStorageEnv(t)
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS_JSON", `{"type":"service_account"}`)

	orig := newBucket
	t.Cleanup(func() {
		newBucket = orig
	})

	expected := &testBucket{}
	newBucket = func(_ *logger.Logger) (gcp.Bucket, error) {
		return expected, nil
	}

	bucket, err := resolveBucket(log, Config{
		ObjectStorageMode: string(gcp.ObjectStorageModeGCS),
	})
	if err != nil {
		t.Fatalf("resolveBucket: %v", err)
	}
	if bucket != expected {
		t.Fatalf("bucket: expected stub bucket instance")
	}
}

func TestResolveBucketEmulatorMode(t *testing.T) {
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	defer log.Sync()

	clearStorageEnv(t)
	t.Setenv("OBJECT_STORAGE_MODE", string(gcp.ObjectStorageModeGCSEmulator))
	t.Setenv("STORAGE_EMULATOR_HOST", "http://fake-gcs:4443")

	orig := newBucket
	t.Cleanup(func() {
		newBucket = orig
	})

	expected := &testBucket{}
	newBucket = func(_ *logger.Logger) (gcp.Bucket, error) {
		return expected, nil
	}

	bucket, err := resolveBucket(log, Config{
		ObjectStorageMode:   string(gcp.ObjectStorageModeGCSEmulator),
		StorageEmulatorHost: "http://fake-gcs:4443",
	})
	if err != nil {
		t.Fatalf("resolveBucket: %v", err)
	}
	if bucket != expected {
		t.Fatalf("bucket: expected stub bucket instance")
	}
}

func TestResolveBucketClassifiesInitFailure(t *testing.T) {
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	defer log.Sync()

	clearStorageEnv(t)
	t.Setenv("OBJECT_STORAGE_MODE", string(gcp.ObjectStorageModeGCSEmulator))

	orig := newBucket
	t.Cleanup(func() {
		newBucket = orig
	})

	newBucket = func(_ *logger.Logger) (gcp.Bucket, error) {
		return nil, &gcp.ObjectStorageConfigError{
			Code: gcp.ObjectStorageConfigErrorMissingEmulatorHost,
			Mode: string(gcp.ObjectStorageModeGCSEmulator),
		}
	}

	_, err = resolveBucket(log, Config{
		ObjectStorageMode: string(gcp.ObjectStorageModeGCSEmulator),
	})
	if err == nil {
		t.Fatalf("resolveBucket: expected error, got nil")
	}

	var got *StorageBootstrapError
	if !errors.As(err, &got) {
		t.Fatalf("expected StorageBootstrapError, got=%T", err)
	}
	if got.Code != StorageBootstrapErrorMissingEmulatorHost {
		t.Fatalf("code: want=%q got=%q", StorageBootstrapErrorMissingEmulatorHost, got.Code)
	}
}

type testBucket struct{}

func (t *testBucket) Download(ctx context.Context, uri string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func (t *testBucket) ObjectAttrs(ctx context.Context, uri string) (*gcp.ObjectAttrs, error) {
	return &gcp.ObjectAttrs{}, nil
}

func (t *testBucket) Close() error {
	return nil
}
