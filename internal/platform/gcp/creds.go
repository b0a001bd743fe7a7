package gcp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/yungbote/neurobridge-ingest/internal/platform/httpx"
	"github.com/yungbote/neurobridge-ingest/internal/platform/logger"
)

// ErrCredentials marks a failed short-lived credential fetch. It is an
// infrastructure failure and worth retrying.
var ErrCredentials = errors.New("object store credentials unavailable")

const DefaultCredentialExpirySkew = 60 * time.Second

// CredentialCache hands out a cached access token until it is within skew of
// its expiry, then fetches a new one from the underlying source.
type CredentialCache struct {
	src    oauth2.TokenSource
	skew   time.Duration
	policy httpx.RetryPolicy
	log    *logger.Logger
	now    func() time.Time

	mu  sync.RWMutex
	tok *oauth2.Token
}

func NewCredentialCache(log *logger.Logger, src oauth2.TokenSource, skew time.Duration, maxRetries int) *CredentialCache {
	if skew <= 0 {
		skew = DefaultCredentialExpirySkew
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &CredentialCache{
		src:  src,
		skew: skew,
		policy: httpx.RetryPolicy{
			MaxRetries:  maxRetries,
			BaseBackoff: 200 * time.Millisecond,
			MaxBackoff:  2 * time.Second,
			// Token endpoints fail in many shapes; every failure short of
			// cancellation gets the bounded retry.
			Retryable: func(err error) bool { return !errors.Is(err, context.Canceled) },
		},
		log: log.With("client", "CredentialCache"),
		now: time.Now,
	}
}

func (c *CredentialCache) Token() (*oauth2.Token, error) {
	c.mu.RLock()
	tok := c.tok
	c.mu.RUnlock()
	if c.fresh(tok) {
		return tok, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fresh(c.tok) {
		return c.tok, nil
	}

	var fetched *oauth2.Token
	err := httpx.Do(context.Background(), c.policy, func(context.Context) error {
		t, err := c.src.Token()
		if err != nil {
			return err
		}
		if t == nil || strings.TrimSpace(t.AccessToken) == "" {
			return errors.New("empty access token")
		}
		fetched = t
		return nil
	})
	if err != nil {
		c.log.Warn("Credential refresh failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrCredentials, err)
	}
	c.tok = fetched
	return fetched, nil
}

func (c *CredentialCache) fresh(tok *oauth2.Token) bool {
	if tok == nil || tok.AccessToken == "" {
		return false
	}
	if tok.Expiry.IsZero() {
		return true
	}
	return c.now().Add(c.skew).Before(tok.Expiry)
}

// DefaultTokenSource builds the underlying source from
// GOOGLE_APPLICATION_CREDENTIALS_JSON, GOOGLE_APPLICATION_CREDENTIALS or the
// ambient application default credentials.
func DefaultTokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	var raw []byte
	switch {
	case creds == "":
		found, err := google.FindDefaultCredentials(ctx, storage.ScopeFullControl)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCredentials, err)
		}
		return found.TokenSource, nil
	case strings.HasPrefix(creds, "{"):
		raw = []byte(creds)
	default:
		b, err := os.ReadFile(creds)
		if err != nil {
			return nil, fmt.Errorf("%w: read credentials file: %v", ErrCredentials, err)
		}
		raw = b
	}
	parsed, err := google.CredentialsFromJSON(ctx, raw, storage.ScopeFullControl)
	if err != nil {
		return nil, fmt.Errorf("%w: parse credentials: %v", ErrCredentials, err)
	}
	return parsed.TokenSource, nil
}
