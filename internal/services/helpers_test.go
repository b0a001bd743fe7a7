package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-ingest/internal/data/repos"
	"github.com/yungbote/neurobridge-ingest/internal/data/repos/testutil"
	types "github.com/yungbote/neurobridge-ingest/internal/domain"
	"github.com/yungbote/neurobridge-ingest/internal/ingestion/extractor"
	"github.com/yungbote/neurobridge-ingest/internal/ingestion/namespace"
	"github.com/yungbote/neurobridge-ingest/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-ingest/internal/platform/gcp/gcptest"
	"github.com/yungbote/neurobridge-ingest/internal/platform/indexer"
)

type recordingIndexer struct {
	mu    sync.Mutex
	calls []indexer.Notification
	err   error
}

func (r *recordingIndexer) Notify(_ context.Context, n indexer.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, n)
	return r.err
}

func (r *recordingIndexer) Calls() []indexer.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]indexer.Notification(nil), r.calls...)
}

// failingRecords fails Create and delegates everything else.
type failingRecords struct {
	repos.FileRecordRepo
	err error
}

func (f failingRecords) Create(dbctx.Context, *types.FileRecord) (*types.FileRecord, error) {
	return nil, f.err
}

// cancelAfterCreate cancels the caller's context once the record exists, like
// a client hanging up mid-request.
type cancelAfterCreate struct {
	repos.FileRecordRepo
	cancel context.CancelFunc
}

func (c cancelAfterCreate) Create(dbc dbctx.Context, rec *types.FileRecord) (*types.FileRecord, error) {
	created, err := c.FileRecordRepo.Create(dbc, rec)
	c.cancel()
	return created, err
}

type env struct {
	db       *gorm.DB
	store    *gcptest.Store
	mappings repos.NamespaceMappingRepo
	records  repos.FileRecordRepo
	resolver *namespace.Resolver
	ex       *extractor.Extractor
	index    *recordingIndexer
	trigger  IndexTrigger
	ingest   IngestionService
}

type envOption func(*env, *IngestionOptions)

func withFailingInsert() envOption {
	return func(e *env, _ *IngestionOptions) {
		e.records = failingRecords{FileRecordRepo: e.records, err: errors.New("db down")}
	}
}

func withCancelAfterCreate(cancel context.CancelFunc) envOption {
	return func(e *env, _ *IngestionOptions) {
		e.records = cancelAfterCreate{FileRecordRepo: e.records, cancel: cancel}
	}
}

func withCompensation() envOption {
	return func(_ *env, o *IngestionOptions) { o.CompensateOnInsertFailure = true }
}

func withNow(now func() time.Time) envOption {
	return func(_ *env, o *IngestionOptions) { o.Now = now }
}

func newEnv(t *testing.T, opts ...envOption) *env {
	t.Helper()
	log := testutil.Logger(t)
	db := testutil.DB(t)
	e := &env{
		db:       db,
		store:    gcptest.NewStore(),
		mappings: repos.NewNamespaceMappingRepo(db, log),
		records:  repos.NewFileRecordRepo(db, log),
		ex:       extractor.New(log, extractor.Config{Timeout: 5 * time.Second}),
		index:    &recordingIndexer{},
	}
	var iopts IngestionOptions
	for _, o := range opts {
		o(e, &iopts)
	}

	resolver, err := namespace.NewResolver(log, e.mappings, e.store, "nb-ns", 64)
	require.NoError(t, err)
	e.resolver = resolver

	trigger, err := NewIndexTrigger(log, e.index, IndexTriggerConfig{
		Workers:       4,
		OnUndelivered: MarkIndexPending(log, e.records),
	})
	require.NoError(t, err)
	e.trigger = trigger
	t.Cleanup(func() { _ = trigger.Drain(time.Second) })

	e.ingest = NewIngestionService(log, e.resolver, e.store, e.records, e.ex, e.trigger, iopts)
	return e
}

// drain waits for every queued notification and returns what was sent.
func (e *env) drain(t *testing.T) []indexer.Notification {
	t.Helper()
	require.NoError(t, e.trigger.Drain(5*time.Second))
	return e.index.Calls()
}

func (e *env) countRecords(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&types.FileRecord{}).Count(&n).Error)
	return n
}
