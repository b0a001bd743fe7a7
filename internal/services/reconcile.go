package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yungbote/neurobridge-ingest/internal/data/repos"
	types "github.com/yungbote/neurobridge-ingest/internal/domain"
	"github.com/yungbote/neurobridge-ingest/internal/platform/apierr"
	"github.com/yungbote/neurobridge-ingest/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-ingest/internal/platform/gcp"
	"github.com/yungbote/neurobridge-ingest/internal/platform/logger"
)

const DefaultSweepOlderThan = 24 * time.Hour

type SweepOptions struct {
	// OlderThan skips objects young enough to still be mid-ingest.
	OlderThan time.Duration
	DryRun    bool
	// Limit caps how many orphans one sweep handles; zero is unbounded.
	Limit int
}

type OrphanObject struct {
	Namespace string    `json:"namespace"`
	ObjectKey string    `json:"object_key"`
	Size      int64     `json:"size"`
	Created   time.Time `json:"created"`
	Deleted   bool      `json:"deleted"`
}

type SweepReport struct {
	Namespaces int            `json:"namespaces"`
	Scanned    int            `json:"scanned"`
	Orphans    []OrphanObject `json:"orphans"`
	Errors     int            `json:"errors"`
	DryRun     bool           `json:"dry_run"`
}

type ReindexReport struct {
	Pending int  `json:"pending"`
	Queued  int  `json:"queued"`
	Errors  int  `json:"errors"`
	DryRun  bool `json:"dry_run"`
}

// ReconcileService finds uploaded objects that no file record points at and
// resends index notifications that never got through.
type ReconcileService interface {
	Sweep(ctx context.Context, opts SweepOptions) (*SweepReport, error)
	Reindex(ctx context.Context, limit int, dryRun bool) (*ReindexReport, error)
}

type reconcileService struct {
	log      *logger.Logger
	mappings repos.NamespaceMappingRepo
	records  repos.FileRecordRepo
	store    gcp.ObjectStore
	trigger  IndexTrigger
	now      func() time.Time
}

func NewReconcileService(
	baseLog *logger.Logger,
	mappings repos.NamespaceMappingRepo,
	records repos.FileRecordRepo,
	store gcp.ObjectStore,
	trigger IndexTrigger,
) ReconcileService {
	return &reconcileService{
		log:      baseLog.With("service", "ReconcileService"),
		mappings: mappings,
		records:  records,
		store:    store,
		trigger:  trigger,
		now:      time.Now,
	}
}

func (s *reconcileService) Sweep(ctx context.Context, opts SweepOptions) (*SweepReport, error) {
	if opts.OlderThan <= 0 {
		opts.OlderThan = DefaultSweepOlderThan
	}
	dbc := dbctx.Background(ctx)
	mappings, err := s.mappings.List(dbc)
	if err != nil {
		return nil, apierr.Infra("metadata_unavailable", fmt.Errorf("list namespace mappings: %w", err))
	}
	cutoff := s.now().Add(-opts.OlderThan)
	report := &SweepReport{Orphans: []OrphanObject{}, DryRun: opts.DryRun}

	for _, m := range mappings {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		objects, err := s.store.List(ctx, m.NamespaceName, gcp.ObjectKeyPrefix)
		if errors.Is(err, gcp.ErrNamespaceNotFound) {
			s.log.Warn("Mapped namespace missing remotely", "namespace", m.NamespaceName, "user_id", m.UserID)
			continue
		}
		if err != nil {
			report.Errors++
			s.log.Error("List namespace objects failed", "error", err, "namespace", m.NamespaceName)
			continue
		}
		report.Namespaces++
		tracked, err := s.records.ObjectKeysByNamespace(dbc, m.NamespaceName)
		if err != nil {
			return report, apierr.Infra("metadata_unavailable", fmt.Errorf("list tracked keys: %w", err))
		}

		for _, obj := range objects {
			report.Scanned++
			if _, ok := tracked[obj.Key]; ok || obj.Created.After(cutoff) {
				continue
			}
			orphan := OrphanObject{Namespace: m.NamespaceName, ObjectKey: obj.Key, Size: obj.Size, Created: obj.Created}
			if !opts.DryRun {
				if err := s.store.Delete(ctx, m.NamespaceName, obj.Key); err != nil && !errors.Is(err, gcp.ErrObjectNotFound) {
					report.Errors++
					s.log.Error("Orphan delete failed", "error", err, "namespace", m.NamespaceName, "object_key", obj.Key)
				} else {
					orphan.Deleted = true
				}
			}
			report.Orphans = append(report.Orphans, orphan)
			if opts.Limit > 0 && len(report.Orphans) >= opts.Limit {
				s.logReport(report)
				return report, nil
			}
		}
	}
	s.logReport(report)
	return report, nil
}

// Reindex clears each flag before resending; a notification that is dropped
// again sets it back through the trigger's undelivered hook.
func (s *reconcileService) Reindex(ctx context.Context, limit int, dryRun bool) (*ReindexReport, error) {
	dbc := dbctx.Background(ctx)
	pending, err := s.records.ListIndexPending(dbc, limit)
	if err != nil {
		return nil, apierr.Infra("metadata_unavailable", fmt.Errorf("list index pending: %w", err))
	}
	report := &ReindexReport{Pending: len(pending), DryRun: dryRun}
	if dryRun {
		return report, nil
	}
	for _, rec := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := s.records.SetIndexPending(dbc, rec.ID, false); err != nil {
			report.Errors++
			s.log.Error("Index pending flag not cleared", "error", err, "file_id", rec.ID)
			continue
		}
		rec.LogicalType = types.LogicalTypeFor(rec.DisplayName)
		if s.trigger.Notify(ctx, notificationFor(ctx, rec)) {
			report.Queued++
		}
	}
	s.log.Info("Reindex finished", "pending", report.Pending, "queued", report.Queued, "errors", report.Errors)
	return report, nil
}

func (s *reconcileService) logReport(r *SweepReport) {
	s.log.Info("Reconcile sweep finished",
		"namespaces", r.Namespaces,
		"scanned", r.Scanned,
		"orphans", len(r.Orphans),
		"errors", r.Errors,
		"dry_run", r.DryRun,
	)
}
