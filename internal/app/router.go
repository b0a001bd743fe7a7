package app

import (
	apphttp "github.com/yungbote/neurobridge-ingest/internal/http"
	"github.com/yungbote/neurobridge-ingest/internal/platform/logger"
)

func wireServer(log *logger.Logger, cfg Config, handlers Handlers, middleware Middleware) *apphttp.Server {
	return apphttp.NewServer(apphttp.RouterConfig{
		Log:              log,
		ServiceName:      cfg.Tracing.ServiceName,
		CORSOrigins:      cfg.CORSAllowedOrigins,
		MetricsEnabled:   cfg.MetricsEnabled,
		TracingEnabled:   cfg.Tracing.Enabled,
		AuthMiddleware:   middleware.Auth,
		FileHandler:      handlers.File,
		ChannelHandler:   handlers.Channel,
		NamespaceHandler: handlers.Namespace,
		HealthHandler:    handlers.Health,
	})
}
