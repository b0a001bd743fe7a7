package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/yungbote/neurobridge-ingest/internal/platform/httpx"
	"github.com/yungbote/neurobridge-ingest/internal/platform/logger"
)

// Notification tells the downstream indexing service that an object is ready.
type Notification struct {
	UserID      string         `json:"user_id"`
	Namespace   string         `json:"namespace"`
	ObjectKey   string         `json:"object_key"`
	LogicalType string         `json:"logical_type"`
	Size        int64          `json:"size"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type Client interface {
	Notify(ctx context.Context, n Notification) error
}

type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
	// RPS caps outbound calls; zero means unlimited.
	RPS   float64
	Burst int
	// MaxRetries covers 408, 429 and 5xx answers and transport failures.
	MaxRetries int
}

type HTTPError struct {
	StatusCode int
	Body       string
	// Wait is the server's Retry-After, zero when it sent none.
	Wait time.Duration
}

func (e *HTTPError) RetryAfter() time.Duration { return e.Wait }

func (e *HTTPError) Error() string {
	return fmt.Sprintf("indexer http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

func (e *HTTPError) HTTPStatusCode() int { return e.StatusCode }

type httpClient struct {
	log        *logger.Logger
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	policy     httpx.RetryPolicy
}

// New returns an HTTP client, or a NoopClient when no URL is configured.
func New(log *logger.Logger, cfg Config) Client {
	cfg.URL = strings.TrimSpace(cfg.URL)
	if cfg.URL == "" {
		return NewNoopClient(log)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	clientLog := log.With("client", "IndexerClient")
	return &httpClient{
		log:        clientLog,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, burst),
		policy: httpx.RetryPolicy{
			MaxRetries:  cfg.MaxRetries,
			BaseBackoff: 500 * time.Millisecond,
			MaxBackoff:  10 * time.Second,
			OnRetry: func(attempt int, sleep time.Duration, err error) {
				clientLog.Warn("Indexer notify retrying", "attempt", attempt, "sleep", sleep.String(), "error", err)
			},
		},
	}
}

func (c *httpClient) Notify(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	return httpx.Do(ctx, c.policy, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("indexer rate limit: %w", err)
		}
		return c.post(ctx, body)
	})
}

func (c *httpClient) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(raw), Wait: httpx.ParseRetryAfter(resp.Header, time.Now())}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type NoopClient struct {
	log *logger.Logger
}

func NewNoopClient(log *logger.Logger) *NoopClient {
	return &NoopClient{log: log.With("client", "IndexerNoop")}
}

func (c *NoopClient) Notify(_ context.Context, n Notification) error {
	c.log.Info("Indexer not configured; notification skipped",
		"namespace", n.Namespace,
		"object_key", n.ObjectKey,
		"logical_type", n.LogicalType,
		"size", n.Size,
	)
	return nil
}
