package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/neurobridge-ingest/internal/http/handlers"
	httpMW "github.com/yungbote/neurobridge-ingest/internal/http/middleware"
	"github.com/yungbote/neurobridge-ingest/internal/observability"
	"github.com/yungbote/neurobridge-ingest/internal/platform/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	ServiceName    string
	CORSOrigins    []string
	MetricsEnabled bool
	TracingEnabled bool

	AuthMiddleware *httpMW.AuthMiddleware

	FileHandler      *httpH.FileHandler
	ChannelHandler   *httpH.ChannelHandler
	NamespaceHandler *httpH.NamespaceHandler
	HealthHandler    *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.TracingEnabled {
		name := cfg.ServiceName
		if name == "" {
			name = observability.DefaultServiceName
		}
		r.Use(otelgin.Middleware(name))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.MetricsEnabled))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
		r.GET("/readyz", cfg.HealthHandler.Ready)
	}
	if cfg.MetricsEnabled {
		r.GET("/metrics", gin.WrapH(observability.Handler()))
	}

	api := r.Group("/api")
	{
		// Twilio authenticates with its webhook signature, not a user token.
		if cfg.ChannelHandler != nil {
			api.POST("/channels/twilio/webhook", cfg.ChannelHandler.TwilioWebhook)
		}
	}

	protected := api.Group("/")
	{
		if cfg.AuthMiddleware != nil {
			protected.Use(cfg.AuthMiddleware.RequireAuth())
		}

		// Files
		if cfg.FileHandler != nil {
			protected.POST("/files", cfg.FileHandler.Upload)
			protected.GET("/files", cfg.FileHandler.List)
			protected.GET("/files/:id", cfg.FileHandler.Get)
			protected.GET("/files/:id/content", cfg.FileHandler.Content)
			protected.POST("/files/:id/reextract", cfg.FileHandler.Reextract)
			protected.DELETE("/files/:id", cfg.FileHandler.Delete)
		}

		// Namespaces
		if cfg.NamespaceHandler != nil {
			protected.POST("/namespaces/resolve", cfg.NamespaceHandler.Resolve)
		}

		// Channels
		if cfg.ChannelHandler != nil {
			protected.POST("/channels/content", cfg.ChannelHandler.Content)
			protected.POST("/channels/link", cfg.ChannelHandler.LinkContact)
		}
	}

	return r
}
