package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/yungbote/neurobridge-ingest/internal/data/repos"
	"github.com/yungbote/neurobridge-ingest/internal/observability"
	"github.com/yungbote/neurobridge-ingest/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-ingest/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-ingest/internal/platform/indexer"
	"github.com/yungbote/neurobridge-ingest/internal/platform/logger"
)

const (
	DefaultIndexTriggerWorkers     = 64
	DefaultIndexTriggerQueueSize   = 10000
	DefaultIndexTriggerCallTimeout = 30 * time.Second
)

// Reasons passed to IndexTriggerConfig.OnUndelivered.
const (
	UndeliveredQueueFull = "queue_full"
	UndeliveredDraining  = "draining"
	UndeliveredFailed    = "failed"
)

// IndexTrigger hands notifications to the indexing service in the background.
// Notify never blocks on the downstream call and never reports its outcome;
// it only says whether the notification was queued.
type IndexTrigger interface {
	Notify(ctx context.Context, n indexer.Notification) bool
	// Drain stops accepting work and waits for queued and in-flight
	// notifications.
	Drain(timeout time.Duration) error
}

type IndexTriggerConfig struct {
	// Workers caps concurrent indexer calls.
	Workers int
	// QueueSize bounds notifications waiting for a worker. Past it Notify drops.
	QueueSize int
	// Settle delays each call so freshly written objects are readable downstream.
	Settle      time.Duration
	CallTimeout time.Duration
	// OnUndelivered sees every notification that was dropped or whose call
	// failed. It runs on the caller or worker goroutine.
	OnUndelivered func(ctx context.Context, n indexer.Notification, reason string)
}

type queuedNotification struct {
	ctx context.Context
	n   indexer.Notification
}

type indexTrigger struct {
	log           *logger.Logger
	client        indexer.Client
	pool          *ants.Pool
	settle        time.Duration
	callTimeout   time.Duration
	onUndelivered func(ctx context.Context, n indexer.Notification, reason string)

	mu         sync.RWMutex
	closed     bool
	queue      chan queuedNotification
	dispatched chan struct{}
}

func NewIndexTrigger(baseLog *logger.Logger, client indexer.Client, cfg IndexTriggerConfig) (IndexTrigger, error) {
	if client == nil {
		return nil, fmt.Errorf("index trigger: client required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultIndexTriggerWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultIndexTriggerQueueSize
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultIndexTriggerCallTimeout
	}
	triggerLog := baseLog.With("service", "IndexTrigger")
	// Blocking pool: the dispatcher waits for a free worker instead of dropping.
	pool, err := ants.NewPool(cfg.Workers,
		ants.WithPanicHandler(func(p any) {
			triggerLog.Error("Index trigger task panicked", "panic", fmt.Sprint(p))
			observability.IncIndexTrigger("error")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("index trigger pool: %w", err)
	}
	t := &indexTrigger{
		log:           triggerLog,
		client:        client,
		pool:          pool,
		settle:        cfg.Settle,
		callTimeout:   cfg.CallTimeout,
		onUndelivered: cfg.OnUndelivered,
		queue:         make(chan queuedNotification, cfg.QueueSize),
		dispatched:    make(chan struct{}),
	}
	go t.dispatch()
	return t, nil
}

func (t *indexTrigger) Notify(ctx context.Context, n indexer.Notification) bool {
	detached := ctxutil.Detached(ctx)
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		t.undelivered(detached, n, UndeliveredDraining)
		return false
	}
	select {
	case t.queue <- queuedNotification{ctx: detached, n: n}:
		t.mu.RUnlock()
		return true
	default:
		t.mu.RUnlock()
		t.undelivered(detached, n, UndeliveredQueueFull)
		return false
	}
}

func (t *indexTrigger) dispatch() {
	defer close(t.dispatched)
	for q := range t.queue {
		if err := t.pool.Submit(func() { t.run(q.ctx, q.n) }); err != nil {
			t.undelivered(q.ctx, q.n, UndeliveredDraining)
		}
	}
}

func (t *indexTrigger) run(ctx context.Context, n indexer.Notification) {
	if t.settle > 0 {
		time.Sleep(t.settle)
	}
	ctx, cancel := context.WithTimeout(ctx, t.callTimeout)
	defer cancel()
	ctx, span := observability.StartSpan(ctx, "index.trigger")
	defer span.End()

	if err := t.client.Notify(ctx, n); err != nil {
		span.RecordError(err)
		observability.IncIndexTrigger("error")
		t.log.Warn("Indexing trigger failed", "error", err, "user_id", n.UserID, "namespace", n.Namespace, "object_key", n.ObjectKey)
		t.report(ctx, n, UndeliveredFailed)
		return
	}
	observability.IncIndexTrigger("ok")
	t.log.Debug("Indexing triggered", "namespace", n.Namespace, "object_key", n.ObjectKey)
}

func (t *indexTrigger) undelivered(ctx context.Context, n indexer.Notification, reason string) {
	observability.IncIndexTrigger("dropped")
	t.log.Warn("Index notification dropped", "reason", reason, "namespace", n.Namespace, "object_key", n.ObjectKey)
	t.report(ctx, n, reason)
}

func (t *indexTrigger) report(ctx context.Context, n indexer.Notification, reason string) {
	if t.onUndelivered != nil {
		t.onUndelivered(ctx, n, reason)
	}
}

// Drain closes the queue, lets the dispatcher hand off what is left and then
// waits for the workers. Whatever misses the deadline is reported undelivered.
func (t *indexTrigger) Drain(timeout time.Duration) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.queue)
	t.mu.Unlock()

	deadline := time.Now().Add(timeout)
	select {
	case <-t.dispatched:
	case <-time.After(timeout):
		t.pool.Release()
		<-t.dispatched
		return fmt.Errorf("drain index trigger: queue not empty after %s", timeout)
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		remaining = time.Millisecond
	}
	if err := t.pool.ReleaseTimeout(remaining); err != nil {
		return fmt.Errorf("drain index trigger: %w", err)
	}
	return nil
}

// MarkIndexPending flags the record behind an undelivered notification so the
// reconcile sweep can send it again. Notifications without a file_id are for
// untracked objects and are only logged.
func MarkIndexPending(baseLog *logger.Logger, records repos.FileRecordRepo) func(context.Context, indexer.Notification, string) {
	log := baseLog.With("service", "IndexTrigger")
	return func(ctx context.Context, n indexer.Notification, reason string) {
		raw, _ := n.Metadata["file_id"].(string)
		id, err := uuid.Parse(raw)
		if err != nil {
			return
		}
		// The call context may be spent by the time a failure is reported.
		ctx, cancel := context.WithTimeout(ctxutil.Detached(ctx), 5*time.Second)
		defer cancel()
		if err := records.SetIndexPending(dbctx.Background(ctx), id, true); err != nil {
			log.Error("Index pending flag not stored", "error", err, "file_id", id, "reason", reason)
		}
	}
}
