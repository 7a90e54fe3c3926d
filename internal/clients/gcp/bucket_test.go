package gcp

import (
	"errors"
	"testing"
)

func TestResolveStorageModeDefaultsToGCS(t *testing.T) {
	t.Setenv("OBJECT_STORAGE_MODE", "")
	t.Setenv("STORAGE_EMULATOR_HOST", "")

	mode, host, err := resolveStorageMode()
	if err != nil {
		t.Fatalf("resolveStorageMode: %v", err)
	}
	if mode != ObjectStorageModeGCS {
		t.Fatalf("mode: want=%q got=%q", ObjectStorageModeGCS, mode)
	}
	if host != "" {
		t.Fatalf("host: want empty got=%q", host)
	}
}

func TestResolveStorageModeEmulatorFallback(t *testing.T) {
	t.Setenv("OBJECT_STORAGE_MODE", "")
	t.Setenv("STORAGE_EMULATOR_HOST", "http://fake-gcs:4443/")

	mode, host, err := resolveStorageMode()
	if err != nil {
		t.Fatalf("resolveStorageMode: %v", err)
	}
	if mode != ObjectStorageModeGCSEmulator {
		t.Fatalf("mode: want=%q got=%q", ObjectStorageModeGCSEmulator, mode)
	}
	if host != "http://fake-gcs:4443" {
		t.Fatalf("host: want=%q got=%q", "http://fake-gcs:4443", host)
	}
}

func TestResolveStorageModeEmulatorRequiresHost(t *testing.T) {
	t.Setenv("OBJECT_STORAGE_MODE", "gcs_emulator")
	t.Setenv("STORAGE_EMULATOR_HOST", "")

	_, _, err := resolveStorageMode()
	if err == nil {
		t.Fatalf("resolveStorageMode: expected error, got nil")
	}
	var cfgErr *ObjectStorageConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ObjectStorageConfigError, got=%T", err)
	}
	if cfgErr.Code != ObjectStorageConfigErrorMissingEmulatorHost {
		t.Fatalf("code: want=%q got=%q", ObjectStorageConfigErrorMissingEmulatorHost, cfgErr.Code)
	}
}

func TestResolveStorageModeInvalidEmulatorHost(t *testing.T) {
	t.Setenv("OBJECT_STORAGE_MODE", "gcs_emulator")
	t.Setenv("STORAGE_EMULATOR_HOST", "fake-gcs-without-scheme")

	_, _, err := resolveStorageMode()
	if err == nil {
		t.Fatalf("resolveStorageMode: expected error, got nil")
	}
	var cfgErr *ObjectStorageConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ObjectStorageConfigError, got=%T", err)
	}
	if cfgErr.Code != ObjectStorageConfigErrorInvalidEmulatorHost {
		t.Fatalf("code: want=%q got=%q", ObjectStorageConfigErrorInvalidEmulatorHost, cfgErr.Code)
	}
}

func TestResolveStorageModeInvalidMode(t *testing.T) {
	t.Setenv("OBJECT_STORAGE_MODE", "s3")

	_, _, err := resolveStorageMode()
	if err == nil {
		t.Fatalf("resolveStorageMode: expected error, got nil")
	}
	var cfgErr *ObjectStorageConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ObjectStorageConfigError, got=%T", err)
	}
	if cfgErr.Code != ObjectStorageConfigErrorInvalidMode {
		t.Fatalf("code: want=%q got=%q", ObjectStorageConfigErrorInvalidMode, cfgErr.Code)
	}
}

func TestParseGCSURI(t *testing.T) {
	tests := []struct {
		uri        string
		wantBucket string
		wantKey    string
		wantErr    bool
	}{
		{uri: "gs://rulebooks/official/catan.pdf", wantBucket: "rulebooks", wantKey: "official/catan.pdf"},
		{uri: "gs://rulebooks", wantBucket: "rulebooks", wantKey: ""},
		{uri: "gs://", wantErr: true},
		{uri: "https://rulebooks/catan.pdf", wantErr: true},
		{uri: "", wantErr: true},
	}
	for _, tc := range tests {
		bucket, key, err := parseGCSURI(tc.uri)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("parseGCSURI(%q): expected error, got nil", tc.uri)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseGCSURI(%q): %v", tc.uri, err)
		}
		if bucket != tc.wantBucket || key != tc.wantKey {
			t.Fatalf("parseGCSURI(%q): want=(%q,%q) got=(%q,%q)", tc.uri, tc.wantBucket, tc.wantKey, bucket, key)
		}
	}
}
