package app

import (
	"context"
	"fmt"

	"github.com/yungbote/neurobridge-ingest/internal/platform/gcp"
	"github.com/yungbote/neurobridge-ingest/internal/platform/indexer"
	"github.com/yungbote/neurobridge-ingest/internal/platform/logger"
	"github.com/yungbote/neurobridge-ingest/internal/platform/twilio"
)

type Clients struct {
	Gateway gcp.Gateway
	Indexer indexer.Client
	Twilio  twilio.Client
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")

	gw, err := resolveObjectStore(ctx, log, cfg)
	if err != nil {
		return Clients{}, err
	}

	idx := indexer.New(log, indexer.Config{
		URL:        cfg.IndexerURL,
		APIKey:     cfg.IndexerAPIKey,
		Timeout:    cfg.IndexerTimeout,
		RPS:        cfg.IndexerRPS,
		Burst:      cfg.IndexerBurst,
		MaxRetries: cfg.IndexerMaxRetries,
	})

	tw, err := twilio.New(log, cfg.Twilio)
	if err != nil {
		_ = gw.Close()
		return Clients{}, fmt.Errorf("init twilio client: %w", err)
	}

	return Clients{
		Gateway: gw,
		Indexer: idx,
		Twilio:  tw,
	}, nil
}
