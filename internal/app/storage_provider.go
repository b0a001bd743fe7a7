package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yungbote/neurobridge-ingest/internal/observability"
	"github.com/yungbote/neurobridge-ingest/internal/platform/gcp"
	"github.com/yungbote/neurobridge-ingest/internal/platform/logger"
)

var (
	newGateway         = gcp.NewGateway
	defaultTokenSource = gcp.DefaultTokenSource
)

type StorageProviderBootstrapErrorCode string

const (
	StorageProviderBootstrapErrorInvalidMode         StorageProviderBootstrapErrorCode = "invalid_mode"
	StorageProviderBootstrapErrorMissingEmulatorHost StorageProviderBootstrapErrorCode = "missing_emulator_host"
	StorageProviderBootstrapErrorInvalidEmulatorHost StorageProviderBootstrapErrorCode = "invalid_emulator_host"
	StorageProviderBootstrapErrorMissingProject      StorageProviderBootstrapErrorCode = "missing_project"
	StorageProviderBootstrapErrorInvalidPrefix       StorageProviderBootstrapErrorCode = "invalid_bucket_prefix"
	StorageProviderBootstrapErrorConnectFailed       StorageProviderBootstrapErrorCode = "connect_failed"
)

type StorageProviderBootstrapError struct {
	Code         StorageProviderBootstrapErrorCode
	Mode         string
	EmulatorHost string
	Cause        error
}

func (e *StorageProviderBootstrapError) Error() string {
	if e == nil {
		return "object storage bootstrap failed"
	}
	return fmt.Sprintf(
		"object storage bootstrap failed (code=%s mode=%q emulator_host=%q): %v",
		e.Code,
		e.Mode,
		e.EmulatorHost,
		e.Cause,
	)
}

func (e *StorageProviderBootstrapError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func objectStorageConfig(cfg Config) gcp.ObjectStorageConfig {
	return gcp.ObjectStorageConfig{
		Mode:                  gcp.ObjectStorageMode(strings.TrimSpace(cfg.ObjectStorageMode)),
		EmulatorHost:          strings.TrimSpace(cfg.StorageEmulatorHost),
		CompatibilityFallback: cfg.StorageModeCompatFallback,
		ProjectID:             strings.TrimSpace(cfg.GCPProjectID),
		BucketPrefix:          strings.TrimSpace(cfg.BucketPrefix),
		Location:              strings.TrimSpace(cfg.BucketLocation),
	}
}

// resolveObjectStore validates the storage config and opens the gateway.
// Outside emulator mode the gateway authenticates through a CredentialCache.
func resolveObjectStore(ctx context.Context, log *logger.Logger, cfg Config) (gcp.Gateway, error) {
	storageCfg := objectStorageConfig(cfg)
	modeSource := storageCfg.ModeSource()

	if !gcp.IsSupportedObjectStorageMode(storageCfg.Mode) {
		err := &StorageProviderBootstrapError{
			Code:         StorageProviderBootstrapErrorInvalidMode,
			Mode:         string(storageCfg.Mode),
			EmulatorHost: storageCfg.EmulatorHost,
			Cause:        fmt.Errorf("unsupported object storage mode %q", storageCfg.Mode),
		}
		log.Error(
			"Object storage provider selection failed",
			"mode", storageCfg.Mode,
			"mode_source", modeSource,
			"compatibility_fallback", storageCfg.CompatibilityFallback,
			"emulator_host", storageCfg.EmulatorHost,
			"error_code", err.Code,
			"error", err,
		)
		return nil, err
	}

	log.Info(
		"Selecting object storage provider",
		"mode", storageCfg.Mode,
		"mode_source", modeSource,
		"compatibility_fallback", storageCfg.CompatibilityFallback,
		"emulator_host", storageCfg.EmulatorHost,
		"project", storageCfg.ProjectID,
	)

	opts := gcp.StoreOptions{
		AttemptTimeout: cfg.ObjectStoreTimeout,
		MaxRetries:     cfg.ObjectStoreMaxRetries,
		Observe:        observability.ObserveObjectStoreOp,
	}

	if err := gcp.ValidateObjectStorageConfig(storageCfg); err != nil {
		return nil, bootstrapFailed(log, storageCfg, err)
	}
	if !storageCfg.IsEmulatorMode() {
		src, err := defaultTokenSource(ctx)
		if err != nil {
			return nil, bootstrapFailed(log, storageCfg, err)
		}
		opts.TokenSource = gcp.NewCredentialCache(log, src, cfg.CredentialExpirySkew, cfg.ObjectStoreMaxRetries)
	}

	gw, err := newGateway(ctx, log, storageCfg, opts)
	if err != nil {
		return nil, bootstrapFailed(log, storageCfg, err)
	}
	return gw, nil
}

func bootstrapFailed(log *logger.Logger, storageCfg gcp.ObjectStorageConfig, err error) error {
	classified := classifyStorageProviderBootstrapError(storageCfg, err)
	log.Error(
		"Object storage provider bootstrap failed",
		"mode", storageCfg.Mode,
		"mode_source", storageCfg.ModeSource(),
		"compatibility_fallback", storageCfg.CompatibilityFallback,
		"emulator_host", storageCfg.EmulatorHost,
		"error_code", storageProviderBootstrapErrorCode(classified),
		"error", classified,
	)
	return classified
}

var configErrorCodes = map[gcp.ObjectStorageConfigErrorCode]StorageProviderBootstrapErrorCode{
	gcp.ObjectStorageConfigErrorInvalidMode:         StorageProviderBootstrapErrorInvalidMode,
	gcp.ObjectStorageConfigErrorMissingEmulatorHost: StorageProviderBootstrapErrorMissingEmulatorHost,
	gcp.ObjectStorageConfigErrorInvalidEmulatorHost: StorageProviderBootstrapErrorInvalidEmulatorHost,
	gcp.ObjectStorageConfigErrorMissingProject:      StorageProviderBootstrapErrorMissingProject,
	gcp.ObjectStorageConfigErrorInvalidPrefix:       StorageProviderBootstrapErrorInvalidPrefix,
}

func classifyStorageProviderBootstrapError(storageCfg gcp.ObjectStorageConfig, err error) error {
	code := StorageProviderBootstrapErrorConnectFailed
	var cfgErr *gcp.ObjectStorageConfigError
	if errors.As(err, &cfgErr) {
		if mapped, ok := configErrorCodes[cfgErr.Code]; ok {
			code = mapped
		}
	}
	return &StorageProviderBootstrapError{
		Code:         code,
		Mode:         string(storageCfg.Mode),
		EmulatorHost: storageCfg.EmulatorHost,
		Cause:        err,
	}
}

func storageProviderBootstrapErrorCode(err error) StorageProviderBootstrapErrorCode {
	var bootstrapErr *StorageProviderBootstrapError
	if errors.As(err, &bootstrapErr) {
		if bootstrapErr.Code != "" {
			return bootstrapErr.Code
		}
	}
	return StorageProviderBootstrapErrorConnectFailed
}
