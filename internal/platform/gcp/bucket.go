package gcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/yungbote/neurobridge-ingest/internal/platform/httpx"
	"github.com/yungbote/neurobridge-ingest/internal/platform/logger"
)

var (
	ErrNamespaceExists   = errors.New("namespace already exists")
	ErrNamespaceNotFound = errors.New("namespace not found")
	ErrObjectNotFound    = errors.New("object not found")
	// ErrNamespaceForeign means the bucket name is taken by a project this
	// service cannot read.
	ErrNamespaceForeign = errors.New("namespace owned by another project")
)

// ObjectStore reads and writes objects inside a namespace (one bucket per user).
type ObjectStore interface {
	Put(ctx context.Context, namespace, key string, data []byte, contentType string) error
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	Delete(ctx context.Context, namespace, key string) error
	List(ctx context.Context, namespace, prefix string) ([]ObjectInfo, error)
}

// NamespaceProvisioner checks for and creates namespaces.
type NamespaceProvisioner interface {
	NamespaceExists(ctx context.Context, name string) (bool, error)
	CreateNamespace(ctx context.Context, name string) error
}

type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
	Created     time.Time
}

// OpObserver receives one call per finished gateway operation.
type OpObserver func(op string, err error)

type StoreOptions struct {
	AttemptTimeout time.Duration
	MaxRetries     int
	// TokenSource overrides ambient credentials outside emulator mode.
	TokenSource oauth2.TokenSource
	Observe     OpObserver
}

type gcsStore struct {
	log     *logger.Logger
	client  *storage.Client
	cfg     ObjectStorageConfig
	policy  httpx.RetryPolicy
	observe OpObserver
}

// Gateway is both halves of the object store surface backed by one client.
type Gateway interface {
	ObjectStore
	NamespaceProvisioner
	Close() error
}

func NewGateway(ctx context.Context, log *logger.Logger, cfg ObjectStorageConfig, opts StoreOptions) (Gateway, error) {
	if err := ValidateObjectStorageConfig(cfg); err != nil {
		return nil, fmt.Errorf("validate object storage config: %w", err)
	}
	serviceLog := log.With("service", "ObjectStoreGateway")

	client, err := newStorageClientForMode(ctx, cfg, opts.TokenSource)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	serviceLog.Info(
		"Object storage initialized",
		"mode", cfg.Mode,
		"mode_source", cfg.ModeSource(),
		"emulator_host", cfg.EmulatorHost,
		"project", cfg.ProjectID,
		"bucket_prefix", cfg.BucketPrefix,
		"location", cfg.Location,
	)
	return newGateway(serviceLog, client, cfg, opts), nil
}

func newGateway(log *logger.Logger, client *storage.Client, cfg ObjectStorageConfig, opts StoreOptions) *gcsStore {
	timeout := opts.AttemptTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retries := opts.MaxRetries
	if retries < 0 {
		retries = 0
	}
	s := &gcsStore{
		log:     log,
		client:  client,
		cfg:     cfg,
		observe: opts.Observe,
	}
	s.policy = httpx.RetryPolicy{
		AttemptTimeout: timeout,
		MaxRetries:     retries,
		BaseBackoff:    250 * time.Millisecond,
		MaxBackoff:     4 * time.Second,
		Retryable:      isRetryableStorageError,
		OnRetry: func(attempt int, sleep time.Duration, err error) {
			s.log.Warn("Object store call failed; retrying", "attempt", attempt, "sleep", sleep, "error", err)
		},
	}
	return s
}

func newStorageClientForMode(ctx context.Context, cfg ObjectStorageConfig, ts oauth2.TokenSource) (*storage.Client, error) {
	switch cfg.Mode {
	case ObjectStorageModeGCS:
		opts := []option.ClientOption{option.WithScopes(storage.ScopeFullControl)}
		if ts != nil {
			opts = append(opts, option.WithTokenSource(ts))
		}
		return storage.NewClient(ctx, opts...)
	case ObjectStorageModeGCSEmulator:
		endpoint := strings.TrimRight(strings.TrimSpace(cfg.EmulatorHost), "/")
		_ = os.Setenv("STORAGE_EMULATOR_HOST", endpoint)
		return storage.NewClient(ctx, option.WithoutAuthentication())
	default:
		return nil, &ObjectStorageConfigError{
			Code: ObjectStorageConfigErrorInvalidMode,
			Mode: string(cfg.Mode),
		}
	}
}

// isRetryableStorageError retries transient API statuses, network trouble and
// credential fetch failures. Missing buckets and objects are final.
func isRetryableStorageError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return false
	}
	if errors.Is(err, ErrCredentials) {
		return true
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return httpx.IsRetryableHTTPStatus(gerr.Code)
	}
	return httpx.IsRetryableError(err)
}

func (s *gcsStore) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := httpx.Do(ctx, s.policy, fn)
	if s.observe != nil {
		s.observe(op, err)
	}
	return err
}

func (s *gcsStore) Put(ctx context.Context, namespace, key string, data []byte, contentType string) error {
	if namespace == "" || key == "" {
		return fmt.Errorf("put object: namespace and key required")
	}
	err := s.do(ctx, "put", func(ctx context.Context) error {
		w := s.client.Bucket(namespace).Object(key).NewWriter(ctx)
		// A single-request upload can be replayed safely from the byte slice.
		w.ChunkSize = 0
		w.ContentType = contentType
		if w.ContentType == "" {
			w.ContentType = "application/octet-stream"
		}
		if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
			_ = w.Close()
			return err
		}
		return w.Close()
	})
	if err != nil {
		return s.wrap("put", namespace, key, err)
	}
	return nil
}

func (s *gcsStore) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	var out []byte
	err := s.do(ctx, "get", func(ctx context.Context) error {
		r, err := s.client.Bucket(namespace).Object(key).NewReader(ctx)
		if err != nil {
			return err
		}
		defer r.Close()
		b, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, s.wrap("get", namespace, key, err)
	}
	return out, nil
}

func (s *gcsStore) Delete(ctx context.Context, namespace, key string) error {
	err := s.do(ctx, "delete", func(ctx context.Context) error {
		return s.client.Bucket(namespace).Object(key).Delete(ctx)
	})
	if err != nil {
		return s.wrap("delete", namespace, key, err)
	}
	return nil
}

func (s *gcsStore) List(ctx context.Context, namespace, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	err := s.do(ctx, "list", func(ctx context.Context) error {
		out = out[:0]
		it := s.client.Bucket(namespace).Objects(ctx, &storage.Query{Prefix: prefix})
		for {
			attrs, err := it.Next()
			if err == iterator.Done {
				return nil
			}
			if err != nil {
				return err
			}
			out = append(out, ObjectInfo{
				Key:         attrs.Name,
				Size:        attrs.Size,
				ContentType: attrs.ContentType,
				Created:     attrs.Created,
			})
		}
	})
	if err != nil {
		return nil, s.wrap("list", namespace, prefix, err)
	}
	return out, nil
}

func (s *gcsStore) NamespaceExists(ctx context.Context, name string) (bool, error) {
	exists := false
	err := s.do(ctx, "namespace_exists", func(ctx context.Context) error {
		_, err := s.client.Bucket(name).Attrs(ctx)
		if errors.Is(err, storage.ErrBucketNotExist) {
			exists = false
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	if isForbidden(err) {
		return false, fmt.Errorf("check namespace %q: %w", name, ErrNamespaceForeign)
	}
	if err != nil {
		return false, fmt.Errorf("check namespace %q: %w", name, err)
	}
	return exists, nil
}

func (s *gcsStore) CreateNamespace(ctx context.Context, name string) error {
	err := s.do(ctx, "create_namespace", func(ctx context.Context) error {
		return s.client.Bucket(name).Create(ctx, s.projectID(), &storage.BucketAttrs{
			Location: s.cfg.Location,
			UniformBucketLevelAccess: storage.UniformBucketLevelAccess{
				Enabled: true,
			},
		})
	})
	if err == nil {
		s.log.Info("Namespace created", "namespace", name)
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusConflict {
		// Bucket names are global; a conflict is only ours if we can read it.
		if _, aerr := s.client.Bucket(name).Attrs(ctx); isForbidden(aerr) {
			return fmt.Errorf("create namespace %q: %w", name, ErrNamespaceForeign)
		} else if aerr != nil && !errors.Is(aerr, storage.ErrBucketNotExist) {
			return fmt.Errorf("create namespace %q: verify owner: %w", name, aerr)
		}
		return ErrNamespaceExists
	}
	if isForbidden(err) {
		return fmt.Errorf("create namespace %q: %w", name, ErrNamespaceForeign)
	}
	return fmt.Errorf("create namespace %q: %w", name, err)
}

func isForbidden(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusForbidden
}

func (s *gcsStore) projectID() string {
	if s.cfg.ProjectID != "" {
		return s.cfg.ProjectID
	}
	// fake-gcs-server ignores the project.
	return "local"
}

func (s *gcsStore) wrap(op, namespace, key string, err error) error {
	switch {
	case errors.Is(err, storage.ErrObjectNotExist):
		return fmt.Errorf("%s %s/%s: %w", op, namespace, key, ErrObjectNotFound)
	case errors.Is(err, storage.ErrBucketNotExist):
		return fmt.Errorf("%s %s/%s: %w", op, namespace, key, ErrNamespaceNotFound)
	default:
		return fmt.Errorf("%s %s/%s: %w", op, namespace, key, err)
	}
}

func (s *gcsStore) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}
