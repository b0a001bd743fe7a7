package app

import (
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/yungbote/neurobridge-ingest/internal/data/db"
	"github.com/yungbote/neurobridge-ingest/internal/ingestion/extractor"
	"github.com/yungbote/neurobridge-ingest/internal/ingestion/namespace"
	"github.com/yungbote/neurobridge-ingest/internal/observability"
	"github.com/yungbote/neurobridge-ingest/internal/platform/envutil"
	"github.com/yungbote/neurobridge-ingest/internal/platform/gcp"
	"github.com/yungbote/neurobridge-ingest/internal/platform/logger"
	"github.com/yungbote/neurobridge-ingest/internal/platform/twilio"
	"github.com/yungbote/neurobridge-ingest/internal/services"
)

type Config struct {
	Port    string
	LogMode string

	DB db.Config

	ObjectStorageMode         string
	StorageEmulatorHost       string
	StorageModeCompatFallback bool
	GCPProjectID              string
	BucketPrefix              string
	BucketLocation            string
	ObjectStoreTimeout        time.Duration
	ObjectStoreMaxRetries     int
	CredentialExpirySkew      time.Duration

	IndexerURL            string
	IndexerAPIKey         string
	IndexerTimeout        time.Duration
	IndexerRPS            float64
	IndexerBurst          int
	IndexerMaxRetries     int
	IndexTriggerWorkers   int
	IndexTriggerQueueSize int
	IndexTriggerSettle    time.Duration
	IndexTriggerDrain     time.Duration

	ExtractionTimeout  time.Duration
	ExtractionMaxBytes int64

	Twilio             twilio.Config
	TwilioWebhookURL   string
	DefaultCountryCode string

	JWTSecretKey    string
	TrustUserHeader bool

	NamespaceCacheSize        int
	MaxUploadBytes            int64
	CompensateOnInsertFailure bool
	CORSAllowedOrigins        []string

	MetricsEnabled bool
	Tracing        observability.TracingConfig
}

// LoadDotEnv reads .env from the working directory. A missing file is not
// fatal; callers only log the error.
func LoadDotEnv() error {
	return godotenv.Load()
}

func LoadConfig(log *logger.Logger) Config {
	mode := strings.ToLower(envutil.String("OBJECT_STORAGE_MODE", ""))
	emulatorHost := envutil.String("STORAGE_EMULATOR_HOST", "")
	compat := false
	if mode == "" {
		if emulatorHost != "" {
			mode = string(gcp.ObjectStorageModeGCSEmulator)
			compat = true
		} else {
			mode = string(gcp.ObjectStorageModeGCS)
		}
	}

	cfg := Config{
		Port:    envutil.String("PORT", "8080"),
		LogMode: envutil.String("LOG_MODE", "development"),

		DB: db.Config{
			Driver:          envutil.String("DB_DRIVER", "postgres"),
			DSN:             envutil.String("POSTGRES_DSN", ""),
			Host:            envutil.String("POSTGRES_HOST", "localhost"),
			Port:            envutil.String("POSTGRES_PORT", "5432"),
			User:            envutil.String("POSTGRES_USER", "postgres"),
			Password:        envutil.String("POSTGRES_PASSWORD", ""),
			Name:            envutil.String("POSTGRES_NAME", "neurobridge_ingest"),
			SSLMode:         envutil.String("POSTGRES_SSLMODE", "disable"),
			MaxOpenConns:    envutil.Int("POSTGRES_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envutil.Int("POSTGRES_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: envutil.Seconds("POSTGRES_CONN_MAX_LIFETIME_SECONDS", 30*time.Minute),
		},

		ObjectStorageMode:         mode,
		StorageEmulatorHost:       emulatorHost,
		StorageModeCompatFallback: compat,
		GCPProjectID:              envutil.String("GCP_PROJECT_ID", ""),
		BucketPrefix:              strings.ToLower(envutil.String("NAMESPACE_BUCKET_PREFIX", gcp.DefaultBucketPrefix)),
		BucketLocation:            envutil.String("NAMESPACE_BUCKET_LOCATION", gcp.DefaultBucketLocation),
		ObjectStoreTimeout:        envutil.Seconds("OBJECT_STORE_TIMEOUT_SECONDS", 30*time.Second),
		ObjectStoreMaxRetries:     envutil.Int("OBJECT_STORE_MAX_RETRIES", 3),
		CredentialExpirySkew:      envutil.Seconds("CREDENTIAL_EXPIRY_SKEW_SECONDS", gcp.DefaultCredentialExpirySkew),

		IndexerURL:            envutil.String("INDEXER_URL", ""),
		IndexerAPIKey:         envutil.String("INDEXER_API_KEY", ""),
		IndexerTimeout:        envutil.Seconds("INDEXER_TIMEOUT_SECONDS", 15*time.Second),
		IndexerRPS:            envutil.Float("INDEXER_RPS", 0),
		IndexerBurst:          envutil.Int("INDEXER_BURST", 10),
		IndexerMaxRetries:     envutil.Int("INDEXER_MAX_RETRIES", 2),
		IndexTriggerWorkers:   envutil.Int("INDEX_TRIGGER_WORKERS", services.DefaultIndexTriggerWorkers),
		IndexTriggerQueueSize: envutil.Int("INDEX_TRIGGER_QUEUE_SIZE", services.DefaultIndexTriggerQueueSize),
		IndexTriggerSettle:    envutil.Millis("INDEX_TRIGGER_SETTLE_MS", 0),
		IndexTriggerDrain:     envutil.Seconds("INDEX_TRIGGER_DRAIN_SECONDS", 15*time.Second),

		ExtractionTimeout:  envutil.Seconds("EXTRACTION_TIMEOUT_SECONDS", extractor.DefaultTimeout),
		ExtractionMaxBytes: envutil.Int64("EXTRACTION_MAX_BYTES", extractor.DefaultMaxBytes),

		Twilio:             twilio.ConfigFromEnv(),
		TwilioWebhookURL:   envutil.String("TWILIO_WEBHOOK_URL", ""),
		DefaultCountryCode: envutil.String("CHANNEL_DEFAULT_COUNTRY_CODE", "1"),

		JWTSecretKey:    envutil.String("JWT_SECRET_KEY", ""),
		TrustUserHeader: envutil.Bool("AUTH_TRUST_USER_HEADER", false),

		NamespaceCacheSize:        envutil.Int("NAMESPACE_CACHE_SIZE", namespace.DefaultCacheSize),
		MaxUploadBytes:            envutil.Int64("MAX_UPLOAD_BYTES", 32<<20),
		CompensateOnInsertFailure: envutil.Bool("INGEST_COMPENSATE_ON_INSERT_FAILURE", false),
		CORSAllowedOrigins:        splitList(envutil.String("CORS_ALLOWED_ORIGINS", "")),

		MetricsEnabled: envutil.Bool("METRICS_ENABLED", true),
		Tracing: observability.TracingConfig{
			Enabled:     envutil.Bool("OTEL_ENABLED", false),
			ServiceName: envutil.String("OTEL_SERVICE_NAME", observability.DefaultServiceName),
			Environment: envutil.String("OTEL_ENVIRONMENT", envutil.String("APP_ENV", "")),
			Version:     envutil.String("OTEL_SERVICE_VERSION", envutil.String("APP_VERSION", "")),
			Exporter:    envutil.String("OTEL_TRACES_EXPORTER", ""),
			Endpoint:    envutil.String("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:     observability.ParseHeaders(envutil.String("OTEL_EXPORTER_OTLP_HEADERS", "")),
			Insecure:    envutil.Bool("OTEL_EXPORTER_OTLP_INSECURE", false),
			SampleRatio: envutil.Float("OTEL_SAMPLER_RATIO", observability.DefaultSampleRatio),
		},
	}

	if log != nil {
		if cfg.JWTSecretKey == "" && !cfg.TrustUserHeader {
			log.Warn("Neither JWT_SECRET_KEY nor AUTH_TRUST_USER_HEADER is set; protected routes will reject every request")
		}
		if cfg.IndexerURL == "" {
			log.Warn("INDEXER_URL not set; index notifications are dropped")
		}
	}
	return cfg
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
