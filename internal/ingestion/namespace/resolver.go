package namespace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/yungbote/neurobridge-ingest/internal/data/repos"
	"github.com/yungbote/neurobridge-ingest/internal/observability"
	"github.com/yungbote/neurobridge-ingest/internal/platform/apierr"
	"github.com/yungbote/neurobridge-ingest/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-ingest/internal/platform/gcp"
	"github.com/yungbote/neurobridge-ingest/internal/platform/logger"
)

const (
	DefaultCacheSize = 10_000

	resolveTimeout = 60 * time.Second
	hashChars      = 32
	// foreignAttempts bounds re-derivation when names are held elsewhere.
	foreignAttempts = 4
)

// DeriveName maps a user id to a stable, bucket-safe namespace name.
func DeriveName(prefix, userID string) string {
	return deriveName(prefix, userID, 0)
}

// deriveName salts the hash from attempt 1 on, so a name owned by another
// project moves to a fresh one that is still deterministic per user.
func deriveName(prefix, userID string, attempt int) string {
	seed := userID
	if attempt > 0 {
		seed = fmt.Sprintf("%s#%d", userID, attempt)
	}
	sum := sha256.Sum256([]byte(seed))
	prefix = strings.Trim(strings.ToLower(strings.TrimSpace(prefix)), "-")
	if prefix == "" {
		prefix = gcp.DefaultBucketPrefix
	}
	return prefix + "-" + hex.EncodeToString(sum[:])[:hashChars]
}

type Resolver struct {
	log      *logger.Logger
	mappings repos.NamespaceMappingRepo
	prov     gcp.NamespaceProvisioner
	prefix   string
	cache    *lru.Cache[string, string]
	group    singleflight.Group
}

func NewResolver(log *logger.Logger, mappings repos.NamespaceMappingRepo, prov gcp.NamespaceProvisioner, prefix string, cacheSize int) (*Resolver, error) {
	if mappings == nil || prov == nil {
		return nil, fmt.Errorf("namespace resolver: mapping repo and provisioner required")
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("namespace cache: %w", err)
	}
	return &Resolver{
		log:      log.With("service", "NamespaceResolver"),
		mappings: mappings,
		prov:     prov,
		prefix:   prefix,
		cache:    cache,
	}, nil
}

// Resolve returns the user's namespace, provisioning it on first use. Safe
// for concurrent callers: in-process callers share one resolution and a
// concurrent creator elsewhere yields gcp.ErrNamespaceExists, which counts
// as success.
func (r *Resolver) Resolve(ctx context.Context, userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", apierr.Input("missing_user_id", errors.New("user id required"))
	}
	if name, ok := r.cache.Get(userID); ok {
		observability.IncNamespaceResolve("cache")
		return name, nil
	}

	v, err, _ := r.group.Do(userID, func() (any, error) {
		// Shared by every waiter, so one caller's cancellation must not fail the rest.
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resolveTimeout)
		defer cancel()
		return r.resolveSlow(sctx, userID)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *Resolver) resolveSlow(ctx context.Context, userID string) (string, error) {
	ctx, span := observability.StartSpan(ctx, "namespace.resolve")
	defer span.End()
	dbc := dbctx.Background(ctx)

	existing, err := r.mappings.GetByUserID(dbc, userID)
	switch {
	case err == nil:
		r.cache.Add(userID, existing.NamespaceName)
		observability.IncNamespaceResolve("mapping")
		span.SetAttributes(attribute.String("resolve.path", "mapping"))
		return existing.NamespaceName, nil
	case !errors.Is(err, apierr.ErrNotFound):
		return "", apierr.Infra("metadata_unavailable", fmt.Errorf("load namespace mapping: %w", err))
	}

	var name, path string
	for attempt := 0; ; attempt++ {
		name = deriveName(r.prefix, userID, attempt)
		path, err = r.provision(ctx, name)
		if !errors.Is(err, gcp.ErrNamespaceForeign) {
			break
		}
		observability.IncNamespaceResolve("foreign")
		r.log.Warn("Derived namespace held by another project", "user_id", userID, "namespace", name, "attempt", attempt)
		if attempt+1 >= foreignAttempts {
			return "", apierr.Infra("namespace_foreign", fmt.Errorf("no usable namespace after %d names: %w", foreignAttempts, err))
		}
	}
	if err != nil {
		return "", apierr.Infra("namespace_unavailable", err)
	}
	span.SetAttributes(attribute.String("resolve.namespace", name))

	stored, err := r.mappings.Ensure(dbc, userID, name)
	if err != nil {
		return "", apierr.Infra("metadata_unavailable", fmt.Errorf("persist namespace mapping: %w", err))
	}
	r.cache.Add(userID, stored.NamespaceName)
	observability.IncNamespaceResolve(path)
	span.SetAttributes(attribute.String("resolve.path", path))
	r.log.Info("Namespace resolved", "user_id", userID, "namespace", stored.NamespaceName, "path", path)
	return stored.NamespaceName, nil
}

// provision makes sure name exists and reports how it got there.
func (r *Resolver) provision(ctx context.Context, name string) (string, error) {
	exists, err := r.prov.NamespaceExists(ctx, name)
	if err != nil {
		return "", err
	}
	if exists {
		return "existing", nil
	}
	err = r.prov.CreateNamespace(ctx, name)
	switch {
	case err == nil:
		return "created", nil
	case errors.Is(err, gcp.ErrNamespaceExists):
		return "create_raced", nil
	default:
		return "", err
	}
}
