package twilio

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/yungbote/neurobridge-ingest/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-ingest/internal/platform/envutil"
	"github.com/yungbote/neurobridge-ingest/internal/platform/httpx"
	"github.com/yungbote/neurobridge-ingest/internal/platform/logger"
)

// Client downloads inbound message media and verifies webhook signatures.
type Client interface {
	FetchMedia(ctx context.Context, mediaURL string) (*Media, error)
	ValidateSignature(fullURL string, params url.Values, signature string) bool
	SignatureRequired() bool
}

type Config struct {
	AccountSID   string
	AuthToken    string
	APIKey       string
	APIKeySecret string
	Timeout      time.Duration
	MaxRetries   int
	MaxMediaSize int64
}

func ConfigFromEnv() Config {
	return Config{
		AccountSID:   envutil.String("TWILIO_ACCOUNT_SID", ""),
		AuthToken:    envutil.String("TWILIO_AUTH_TOKEN", ""),
		APIKey:       envutil.String("TWILIO_API_KEY", ""),
		APIKeySecret: envutil.String("TWILIO_API_KEY_SECRET", ""),
		Timeout:      envutil.Seconds("TWILIO_TIMEOUT_SECONDS", 30*time.Second),
		MaxRetries:   envutil.Int("TWILIO_MAX_RETRIES", 3),
		MaxMediaSize: envutil.Int64("TWILIO_MAX_MEDIA_BYTES", 25<<20),
	}
}

type Media struct {
	Data        []byte
	ContentType string
}

type client struct {
	log        *logger.Logger
	cfg        Config
	httpClient *http.Client
}

func New(log *logger.Logger, cfg Config) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.APIKeySecret = strings.TrimSpace(cfg.APIKeySecret)
	cfg.AuthToken = strings.TrimSpace(cfg.AuthToken)
	cfg.AccountSID = strings.TrimSpace(cfg.AccountSID)
	if cfg.APIKey != "" && cfg.APIKeySecret == "" {
		return nil, fmt.Errorf("missing TWILIO_API_KEY_SECRET (required when TWILIO_API_KEY is set)")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.MaxMediaSize <= 0 {
		cfg.MaxMediaSize = 25 << 20
	}
	return &client{
		log:        log.With("client", "TwilioClient"),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type apiError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

type HTTPError struct {
	StatusCode int
	Body       string
	APIError   *apiError
	// Wait is the Retry-After Twilio sent with a throttled answer.
	Wait time.Duration
}

func (e *HTTPError) RetryAfter() time.Duration {
	if e == nil {
		return 0
	}
	return e.Wait
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "twilio: <nil error>"
	}
	if e.APIError != nil && strings.TrimSpace(e.APIError.Message) != "" {
		if e.APIError.Code != 0 {
			return fmt.Sprintf("twilio http %d: %s (code=%d)", e.StatusCode, e.APIError.Message, e.APIError.Code)
		}
		return fmt.Sprintf("twilio http %d: %s", e.StatusCode, e.APIError.Message)
	}
	msg := strings.TrimSpace(e.Body)
	if msg == "" {
		msg = "<empty body>"
	}
	if len(msg) > 512 {
		msg = msg[:512] + "..."
	}
	return fmt.Sprintf("twilio http %d: %s", e.StatusCode, msg)
}

func (e *HTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func (c *client) basicAuth() (user, pass string, ok bool) {
	if c.cfg.APIKey != "" {
		return c.cfg.APIKey, c.cfg.APIKeySecret, true
	}
	if c.cfg.AccountSID != "" && c.cfg.AuthToken != "" {
		return c.cfg.AccountSID, c.cfg.AuthToken, true
	}
	return "", "", false
}

func (c *client) FetchMedia(ctx context.Context, mediaURL string) (*Media, error) {
	mediaURL = strings.TrimSpace(mediaURL)
	u, err := url.Parse(mediaURL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return nil, fmt.Errorf("twilio: invalid media url")
	}

	var out *Media
	policy := httpx.RetryPolicy{
		MaxRetries:  c.cfg.MaxRetries,
		BaseBackoff: time.Second,
		MaxBackoff:  10 * time.Second,
		OnRetry: func(attempt int, sleep time.Duration, err error) {
			c.log.Warn("Twilio media fetch retrying",
				"host", u.Host,
				"attempt", attempt,
				"max_retries", c.cfg.MaxRetries,
				"sleep", sleep.String(),
				"error", err.Error(),
			)
		},
	}
	err = httpx.Do(ctxutil.Default(ctx), policy, func(ctx context.Context) error {
		m, err := c.fetchOnce(ctx, mediaURL)
		if err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) fetchOnce(ctx context.Context, mediaURL string) (*Media, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, err
	}
	if user, pass, ok := c.basicAuth(); ok {
		req.SetBasicAuth(user, pass)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxMediaSize+1))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		herr := &HTTPError{StatusCode: resp.StatusCode, Body: string(raw), Wait: httpx.ParseRetryAfter(resp.Header, time.Now())}
		var ae apiError
		if json.Unmarshal(raw, &ae) == nil && strings.TrimSpace(ae.Message) != "" {
			herr.APIError = &ae
		}
		return nil, herr
	}
	if int64(len(raw)) > c.cfg.MaxMediaSize {
		return nil, fmt.Errorf("twilio: media exceeds %d bytes", c.cfg.MaxMediaSize)
	}
	return &Media{Data: raw, ContentType: resp.Header.Get("Content-Type")}, nil
}

func (c *client) SignatureRequired() bool {
	return c.cfg.AuthToken != ""
}

// ValidateSignature checks X-Twilio-Signature: base64(HMAC-SHA1(token, url +
// sorted key/value pairs)). Nothing validates without a token.
func (c *client) ValidateSignature(fullURL string, params url.Values, signature string) bool {
	if c.cfg.AuthToken == "" {
		return false
	}
	expected := ComputeSignature(c.cfg.AuthToken, fullURL, params)
	return hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature)))
}

func ComputeSignature(authToken, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		vals := append([]string(nil), params[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			b.WriteString(k)
			b.WriteString(v)
		}
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	_, _ = mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
