package app

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/oauth2"

	"github.com/yungbote/neurobridge-ingest/internal/platform/gcp"
	"github.com/yungbote/neurobridge-ingest/internal/platform/gcp/gcptest"
	"github.com/yungbote/neurobridge-ingest/internal/platform/logger"
)

func TestClassifyStorageProviderBootstrapErrorInvalidMode(t *testing.T) {
	storageCfg := gcp.ObjectStorageConfig{
		Mode: gcp.ObjectStorageMode("bad-mode"),
	}
	srcErr := &gcp.ObjectStorageConfigError{
		Code: gcp.ObjectStorageConfigErrorInvalidMode,
		Mode: "bad-mode",
	}

	err := classifyStorageProviderBootstrapError(storageCfg, srcErr)

	var got *StorageProviderBootstrapError
	if !errors.As(err, &got) {
		t.Fatalf("expected StorageProviderBootstrapError, got=%T", err)
	}
	if got.Code != StorageProviderBootstrapErrorInvalidMode {
		t.Fatalf("code: want=%q got=%q", StorageProviderBootstrapErrorInvalidMode, got.Code)
	}
}

func TestClassifyStorageProviderBootstrapErrorMissingEmulatorHost(t *testing.T) {
	storageCfg := gcp.ObjectStorageConfig{
		Mode: gcp.ObjectStorageModeGCSEmulator,
	}
	srcErr := &gcp.ObjectStorageConfigError{
		Code: gcp.ObjectStorageConfigErrorMissingEmulatorHost,
		Mode: string(gcp.ObjectStorageModeGCSEmulator),
	}

	err := classifyStorageProviderBootstrapError(storageCfg, srcErr)

	var got *StorageProviderBootstrapError
	if !errors.As(err, &got) {
		t.Fatalf("expected StorageProviderBootstrapError, got=%T", err)
	}
	if got.Code != StorageProviderBootstrapErrorMissingEmulatorHost {
		t.Fatalf("code: want=%q got=%q", StorageProviderBootstrapErrorMissingEmulatorHost, got.Code)
	}
}

func TestClassifyStorageProviderBootstrapErrorInvalidEmulatorHost(t *testing.T) {
	storageCfg := gcp.ObjectStorageConfig{
		Mode:         gcp.ObjectStorageModeGCSEmulator,
		EmulatorHost: "fake-gcs:4443",
	}
	srcErr := &gcp.ObjectStorageConfigError{
		Code:         gcp.ObjectStorageConfigErrorInvalidEmulatorHost,
		Mode:         string(gcp.ObjectStorageModeGCSEmulator),
		EmulatorHost: "fake-gcs:4443",
	}

	err := classifyStorageProviderBootstrapError(storageCfg, srcErr)

	var got *StorageProviderBootstrapError
	if !errors.As(err, &got) {
		t.Fatalf("expected StorageProviderBootstrapError, got=%T", err)
	}
	if got.Code != StorageProviderBootstrapErrorInvalidEmulatorHost {
		t.Fatalf("code: want=%q got=%q", StorageProviderBootstrapErrorInvalidEmulatorHost, got.Code)
	}
}

func TestClassifyStorageProviderBootstrapErrorConnectFailed(t *testing.T) {
	storageCfg := gcp.ObjectStorageConfig{
		Mode: gcp.ObjectStorageModeGCS,
	}
	srcErr := errors.New("dial tcp: connection refused")

	err := classifyStorageProviderBootstrapError(storageCfg, srcErr)

	var got *StorageProviderBootstrapError
	if !errors.As(err, &got) {
		t.Fatalf("expected StorageProviderBootstrapError, got=%T", err)
	}
	if got.Code != StorageProviderBootstrapErrorConnectFailed {
		t.Fatalf("code: want=%q got=%q", StorageProviderBootstrapErrorConnectFailed, got.Code)
	}
}

func TestClassifyStorageProviderBootstrapErrorMissingProject(t *testing.T) {
	storageCfg := gcp.ObjectStorageConfig{Mode: gcp.ObjectStorageModeGCS}
	srcErr := &gcp.ObjectStorageConfigError{
		Code: gcp.ObjectStorageConfigErrorMissingProject,
		Mode: string(gcp.ObjectStorageModeGCS),
	}

	err := classifyStorageProviderBootstrapError(storageCfg, srcErr)

	if got := storageProviderBootstrapErrorCode(err); got != StorageProviderBootstrapErrorMissingProject {
		t.Fatalf("code: want=%q got=%q", StorageProviderBootstrapErrorMissingProject, got)
	}
}

type stubGateway struct {
	*gcptest.Store
	closed bool
}

func (g *stubGateway) Close() error {
	g.closed = true
	return nil
}

func stubStorage(t *testing.T) (*gcp.ObjectStorageConfig, *gcp.StoreOptions, *stubGateway) {
	t.Helper()
	origGateway, origSource := newGateway, defaultTokenSource
	t.Cleanup(func() {
		newGateway = origGateway
		defaultTokenSource = origSource
	})

	var (
		captured     gcp.ObjectStorageConfig
		capturedOpts gcp.StoreOptions
	)
	gw := &stubGateway{Store: gcptest.NewStore()}
	newGateway = func(_ context.Context, _ *logger.Logger, cfg gcp.ObjectStorageConfig, opts gcp.StoreOptions) (gcp.Gateway, error) {
		captured = cfg
		capturedOpts = opts
		return gw, nil
	}
	defaultTokenSource = func(context.Context) (oauth2.TokenSource, error) {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test"}), nil
	}
	return &captured, &capturedOpts, gw
}

func bootstrapCode(t *testing.T, err error) StorageProviderBootstrapErrorCode {
	t.Helper()
	if err == nil {
		t.Fatalf("resolveObjectStore: expected error, got nil")
	}
	var got *StorageProviderBootstrapError
	if !errors.As(err, &got) {
		t.Fatalf("expected StorageProviderBootstrapError, got=%T", err)
	}
	return got.Code
}

func TestResolveObjectStoreInvalidMode(t *testing.T) {
	stubStorage(t)
	_, err := resolveObjectStore(context.Background(), logger.Nop(), Config{
		ObjectStorageMode: "invalid",
		BucketPrefix:      gcp.DefaultBucketPrefix,
	})
	if code := bootstrapCode(t, err); code != StorageProviderBootstrapErrorInvalidMode {
		t.Fatalf("code: want=%q got=%q", StorageProviderBootstrapErrorInvalidMode, code)
	}
}

func TestResolveObjectStoreGCSMode(t *testing.T) {
	captured, opts, gw := stubStorage(t)

	got, err := resolveObjectStore(context.Background(), logger.Nop(), Config{
		ObjectStorageMode:     string(gcp.ObjectStorageModeGCS),
		GCPProjectID:          "proj-1",
		BucketPrefix:          "nb-ns",
		BucketLocation:        "EU",
		ObjectStoreMaxRetries: 2,
	})
	if err != nil {
		t.Fatalf("resolveObjectStore: %v", err)
	}
	if got != gw {
		t.Fatalf("gateway: expected stub gateway instance")
	}
	if captured.Mode != gcp.ObjectStorageModeGCS || captured.ProjectID != "proj-1" || captured.Location != "EU" {
		t.Fatalf("config not passed through: %+v", *captured)
	}
	if _, ok := opts.TokenSource.(*gcp.CredentialCache); !ok {
		t.Fatalf("token source: want *gcp.CredentialCache got=%T", opts.TokenSource)
	}
	if opts.Observe == nil {
		t.Fatalf("observe hook not wired")
	}
	if opts.MaxRetries != 2 {
		t.Fatalf("max retries: want=2 got=%d", opts.MaxRetries)
	}
}

func TestResolveObjectStoreGCSEmulatorMode(t *testing.T) {
	captured, opts, gw := stubStorage(t)

	got, err := resolveObjectStore(context.Background(), logger.Nop(), Config{
		ObjectStorageMode:   string(gcp.ObjectStorageModeGCSEmulator),
		StorageEmulatorHost: "http://fake-gcs:4443",
		BucketPrefix:        "nb-ns",
	})
	if err != nil {
		t.Fatalf("resolveObjectStore: %v", err)
	}
	if got != gw {
		t.Fatalf("gateway: expected stub gateway instance")
	}
	if captured.EmulatorHost != "http://fake-gcs:4443" {
		t.Fatalf("emulator host: want=%q got=%q", "http://fake-gcs:4443", captured.EmulatorHost)
	}
	if opts.TokenSource != nil {
		t.Fatalf("emulator mode must not authenticate")
	}
}

func TestResolveObjectStoreConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want StorageProviderBootstrapErrorCode
	}{
		{
			name: "missing emulator host",
			cfg:  Config{ObjectStorageMode: string(gcp.ObjectStorageModeGCSEmulator), BucketPrefix: "nb-ns"},
			want: StorageProviderBootstrapErrorMissingEmulatorHost,
		},
		{
			name: "invalid emulator host",
			cfg: Config{
				ObjectStorageMode:   string(gcp.ObjectStorageModeGCSEmulator),
				StorageEmulatorHost: "not-a-url",
				BucketPrefix:        "nb-ns",
			},
			want: StorageProviderBootstrapErrorInvalidEmulatorHost,
		},
		{
			name: "missing project",
			cfg:  Config{ObjectStorageMode: string(gcp.ObjectStorageModeGCS), BucketPrefix: "nb-ns"},
			want: StorageProviderBootstrapErrorMissingProject,
		},
		{
			name: "invalid prefix",
			cfg: Config{
				ObjectStorageMode: string(gcp.ObjectStorageModeGCS),
				GCPProjectID:      "proj-1",
				BucketPrefix:      "Bad_Prefix",
			},
			want: StorageProviderBootstrapErrorInvalidPrefix,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stubStorage(t)
			_, err := resolveObjectStore(context.Background(), logger.Nop(), tt.cfg)
			if code := bootstrapCode(t, err); code != tt.want {
				t.Fatalf("code: want=%q got=%q", tt.want, code)
			}
		})
	}
}

func TestResolveObjectStoreCredentialFailure(t *testing.T) {
	stubStorage(t)
	defaultTokenSource = func(context.Context) (oauth2.TokenSource, error) {
		return nil, gcp.ErrCredentials
	}
	_, err := resolveObjectStore(context.Background(), logger.Nop(), Config{
		ObjectStorageMode: string(gcp.ObjectStorageModeGCS),
		GCPProjectID:      "proj-1",
		BucketPrefix:      "nb-ns",
	})
	if code := bootstrapCode(t, err); code != StorageProviderBootstrapErrorConnectFailed {
		t.Fatalf("code: want=%q got=%q", StorageProviderBootstrapErrorConnectFailed, code)
	}
	if !errors.Is(err, gcp.ErrCredentials) {
		t.Fatalf("cause lost: %v", err)
	}
}
