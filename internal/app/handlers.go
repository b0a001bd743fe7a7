package app

import (
	httpH "github.com/yungbote/neurobridge-ingest/internal/http/handlers"
	httpMW "github.com/yungbote/neurobridge-ingest/internal/http/middleware"
	"github.com/yungbote/neurobridge-ingest/internal/platform/logger"
)

type Handlers struct {
	File      *httpH.FileHandler
	Channel   *httpH.ChannelHandler
	Namespace *httpH.NamespaceHandler
	Health    *httpH.HealthHandler
}

type Middleware struct {
	Auth *httpMW.AuthMiddleware
}

func wireHandlers(log *logger.Logger, cfg Config, services Services, clients Clients, ready httpH.Pinger) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		File:      httpH.NewFileHandler(log, services.Ingestion, cfg.MaxUploadBytes),
		Channel:   httpH.NewChannelHandler(log, services.Channel, clients.Twilio, cfg.TwilioWebhookURL),
		Namespace: httpH.NewNamespaceHandler(log, services.Resolver),
		Health:    httpH.NewHealthHandler(ready),
	}
}

func wireMiddleware(log *logger.Logger, cfg Config) Middleware {
	log.Info("Wiring middleware...")
	return Middleware{
		Auth: httpMW.NewAuthMiddleware(log, httpMW.AuthConfig{
			JWTSecret:       cfg.JWTSecretKey,
			TrustUserHeader: cfg.TrustUserHeader,
		}),
	}
}
