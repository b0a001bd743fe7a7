package app

import (
	"fmt"

	"github.com/yungbote/neurobridge-ingest/internal/ingestion/extractor"
	"github.com/yungbote/neurobridge-ingest/internal/ingestion/namespace"
	"github.com/yungbote/neurobridge-ingest/internal/platform/logger"
	"github.com/yungbote/neurobridge-ingest/internal/services"
)

type Services struct {
	Resolver   *namespace.Resolver
	Identifier *namespace.Identifier
	Extractor  *extractor.Extractor
	Trigger    services.IndexTrigger

	Ingestion services.IngestionService
	Channel   services.ChannelService
	Reconcile services.ReconcileService
}

func wireServices(log *logger.Logger, cfg Config, reposet Repos, clients Clients) (Services, error) {
	log.Info("Wiring services...")

	resolver, err := namespace.NewResolver(log, reposet.NamespaceMapping, clients.Gateway, cfg.BucketPrefix, cfg.NamespaceCacheSize)
	if err != nil {
		return Services{}, fmt.Errorf("init namespace resolver: %w", err)
	}
	identifier := namespace.NewIdentifier(log, reposet.ChannelUserMapping, reposet.UserProfile, cfg.DefaultCountryCode)

	ex := extractor.New(log, extractor.Config{
		Timeout:  cfg.ExtractionTimeout,
		MaxBytes: cfg.ExtractionMaxBytes,
	})

	trigger, err := services.NewIndexTrigger(log, clients.Indexer, services.IndexTriggerConfig{
		Workers:       cfg.IndexTriggerWorkers,
		QueueSize:     cfg.IndexTriggerQueueSize,
		Settle:        cfg.IndexTriggerSettle,
		OnUndelivered: services.MarkIndexPending(log, reposet.FileRecord),
	})
	if err != nil {
		return Services{}, fmt.Errorf("init index trigger: %w", err)
	}

	ingestion := services.NewIngestionService(
		log,
		resolver,
		clients.Gateway,
		reposet.FileRecord,
		ex,
		trigger,
		services.IngestionOptions{
			CompensateOnInsertFailure: cfg.CompensateOnInsertFailure,
			FinalizeTimeout:           2 * cfg.ExtractionTimeout,
		},
	)
	channel := services.NewChannelService(
		log,
		ingestion,
		identifier,
		resolver,
		clients.Gateway,
		reposet.FileRecord,
		ex,
		trigger,
	)
	reconcile := services.NewReconcileService(log, reposet.NamespaceMapping, reposet.FileRecord, clients.Gateway, trigger)

	return Services{
		Resolver:   resolver,
		Identifier: identifier,
		Extractor:  ex,
		Trigger:    trigger,
		Ingestion:  ingestion,
		Channel:    channel,
		Reconcile:  reconcile,
	}, nil
}
