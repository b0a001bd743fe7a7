package services

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/datatypes"

	"github.com/yungbote/neurobridge-ingest/internal/data/repos"
	types "github.com/yungbote/neurobridge-ingest/internal/domain"
	"github.com/yungbote/neurobridge-ingest/internal/ingestion/extractor"
	"github.com/yungbote/neurobridge-ingest/internal/observability"
	"github.com/yungbote/neurobridge-ingest/internal/platform/apierr"
	"github.com/yungbote/neurobridge-ingest/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-ingest/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-ingest/internal/platform/gcp"
	"github.com/yungbote/neurobridge-ingest/internal/platform/indexer"
	"github.com/yungbote/neurobridge-ingest/internal/platform/logger"
)

// NamespaceResolver is satisfied by *namespace.Resolver.
type NamespaceResolver interface {
	Resolve(ctx context.Context, userID string) (string, error)
}

// ContentExtractor is satisfied by *extractor.Extractor.
type ContentExtractor interface {
	Extract(ctx context.Context, fileName, contentType string, data []byte) extractor.Result
}

// IngestRequest carries one document. Exactly one of Data or Base64 is set;
// a non-nil empty Data is a valid zero-byte file.
type IngestRequest struct {
	UserID      string
	FileName    string
	Data        []byte
	Base64      string
	ContentType string
	Metadata    map[string]any
	Origin      string
}

type IngestionService interface {
	Ingest(ctx context.Context, req IngestRequest) (*types.FileRecord, error)
	List(ctx context.Context, userID string) ([]*types.FileRecord, error)
	Get(ctx context.Context, userID string, fileID uuid.UUID) (*types.FileRecord, error)
	Download(ctx context.Context, userID string, fileID uuid.UUID) ([]byte, *types.FileRecord, error)
	Delete(ctx context.Context, userID string, fileID uuid.UUID) error
	Reextract(ctx context.Context, userID string, fileID uuid.UUID) (*types.FileRecord, error)
}

type IngestionOptions struct {
	// CompensateOnInsertFailure deletes the written object when the record
	// insert fails. Off by default: the delete can fail too.
	CompensateOnInsertFailure bool
	// FinalizeTimeout bounds the steps after the object write. They run
	// detached from the caller so a dropped connection leaves no half-done
	// record behind.
	FinalizeTimeout time.Duration
	Now             func() time.Time
}

const DefaultFinalizeTimeout = 2 * extractor.DefaultTimeout

type ingestionService struct {
	log       *logger.Logger
	resolver  NamespaceResolver
	store     gcp.ObjectStore
	records   repos.FileRecordRepo
	extractor ContentExtractor
	trigger   IndexTrigger
	opts      IngestionOptions
}

func NewIngestionService(
	baseLog *logger.Logger,
	resolver NamespaceResolver,
	store gcp.ObjectStore,
	records repos.FileRecordRepo,
	ex ContentExtractor,
	trigger IndexTrigger,
	opts IngestionOptions,
) IngestionService {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.FinalizeTimeout <= 0 {
		opts.FinalizeTimeout = DefaultFinalizeTimeout
	}
	return &ingestionService{
		log:       baseLog.With("service", "IngestionService"),
		resolver:  resolver,
		store:     store,
		records:   records,
		extractor: ex,
		trigger:   trigger,
		opts:      opts,
	}
}

func (s *ingestionService) Ingest(ctx context.Context, req IngestRequest) (rec *types.FileRecord, err error) {
	start := s.opts.Now()
	origin, ok := types.ParseOrigin(req.Origin)
	if !ok {
		return nil, apierr.Input("invalid_origin", fmt.Errorf("unknown origin %q", req.Origin))
	}
	defer func() {
		result := "ok"
		if err != nil {
			result = string(apierr.ClassOf(err))
		}
		observability.ObserveIngest(string(origin), result, time.Since(start))
	}()

	userID := strings.TrimSpace(req.UserID)
	fileName := strings.TrimSpace(req.FileName)
	data, err := validateIngest(userID, fileName, req)
	if err != nil {
		return nil, err
	}
	meta, err := metadataBag(req.Metadata)
	if err != nil {
		return nil, err
	}
	contentType := contentTypeFor(fileName, req.ContentType, data)

	ctx, span := observability.StartSpan(ctx, "ingest",
		attribute.String("ingest.origin", string(origin)),
		attribute.Int("ingest.size", len(data)),
	)
	defer span.End()

	ns, err := s.resolver.Resolve(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	key := gcp.BuildObjectKey(start, fileName)

	if err := s.store.Put(ctx, ns, key, data, contentType); err != nil {
		span.RecordError(err)
		s.log.Error("Object write failed", "error", err, "namespace", ns, "object_key", key)
		return nil, apierr.Infra("object_store_unavailable", err)
	}

	// The object exists now; finish the record even if the caller goes away.
	fctx, cancel := s.finalizeContext(ctx)
	defer cancel()

	meta["origin"] = string(origin)
	meta["received_at"] = start.UTC().Format(time.RFC3339Nano)
	// Same bytes already uploaded by this user: keep both, point at the first.
	if dups, err := s.records.ListByContentHash(dbctx.Background(fctx), userID, hash); err != nil {
		s.log.Warn("Duplicate lookup failed; continuing", "error", err, "namespace", ns)
	} else if len(dups) > 0 {
		meta["duplicate_of"] = dups[0].ID.String()
		meta["duplicate_count"] = len(dups)
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, apierr.Input("invalid_metadata", err)
	}

	rec = &types.FileRecord{
		ID:              uuid.New(),
		UserID:          userID,
		DisplayName:     fileName,
		SizeBytes:       int64(len(data)),
		LogicalType:     types.LogicalTypeFor(fileName),
		ContentType:     contentType,
		Namespace:       ns,
		ObjectKey:       key,
		ContentHash:     hash,
		ExtractionState: types.ExtractionPending,
		Metadata:        datatypes.JSON(metaJSON),
		CreatedAt:       start.UTC(),
		UpdatedAt:       start.UTC(),
	}
	created, err := s.records.Create(dbctx.Background(fctx), rec)
	if err != nil {
		span.RecordError(err)
		return nil, s.orphaned(fctx, ns, key, err)
	}

	applyExtraction(fctx, s.log, s.extractor, s.records, created, data, s.opts.Now)
	if !s.trigger.Notify(fctx, notificationFor(fctx, created)) {
		created.IndexPending = true
	}
	s.log.Info("Document ingested",
		"file_id", created.ID,
		"user_id", userID,
		"namespace", ns,
		"object_key", key,
		"size", created.SizeBytes,
		"extraction_state", created.ExtractionState,
		"extraction_method", created.ExtractionMethod,
	)
	return created, nil
}

func (s *ingestionService) finalizeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctxutil.Detached(ctx), s.opts.FinalizeTimeout)
}

// orphaned reports an object written without a record. The object stays
// unless compensation is enabled; the reconcile sweep finds leftovers.
func (s *ingestionService) orphaned(ctx context.Context, ns, key string, cause error) error {
	observability.IncOrphanedObject()
	s.log.Error("orphaned_object: record insert failed after object write",
		"error", cause,
		"namespace", ns,
		"object_key", key,
		"compensate", s.opts.CompensateOnInsertFailure,
	)
	if s.opts.CompensateOnInsertFailure {
		if err := s.store.Delete(ctx, ns, key); err != nil && !errors.Is(err, gcp.ErrObjectNotFound) {
			s.log.Error("Compensating object delete failed", "error", err, "namespace", ns, "object_key", key)
		}
	}
	return apierr.Infra("metadata_unavailable", fmt.Errorf("insert file record: %w", cause))
}

func (s *ingestionService) List(ctx context.Context, userID string) ([]*types.FileRecord, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apierr.Input("missing_user_id", errors.New("user id required"))
	}
	rows, err := s.records.ListByUserID(dbctx.Background(ctx), userID)
	if err != nil {
		return nil, apierr.Infra("metadata_unavailable", fmt.Errorf("list file records: %w", err))
	}
	for _, r := range rows {
		r.LogicalType = types.LogicalTypeFor(r.DisplayName)
	}
	return rows, nil
}

func (s *ingestionService) Get(ctx context.Context, userID string, fileID uuid.UUID) (*types.FileRecord, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apierr.Input("missing_user_id", errors.New("user id required"))
	}
	if fileID == uuid.Nil {
		return nil, apierr.Input("missing_file_id", errors.New("file id required"))
	}
	rec, err := s.records.GetByUserAndID(dbctx.Background(ctx), userID, fileID)
	if errors.Is(err, apierr.ErrNotFound) {
		return nil, apierr.NotFound("file_not_found", err)
	}
	if err != nil {
		return nil, apierr.Infra("metadata_unavailable", fmt.Errorf("load file record: %w", err))
	}
	rec.LogicalType = types.LogicalTypeFor(rec.DisplayName)
	return rec, nil
}

func (s *ingestionService) Download(ctx context.Context, userID string, fileID uuid.UUID) ([]byte, *types.FileRecord, error) {
	rec, err := s.Get(ctx, userID, fileID)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.readObject(ctx, rec)
	if err != nil {
		return nil, nil, err
	}
	return data, rec, nil
}

// Delete removes the record. The object delete is best-effort; the record is
// gone once its row is.
func (s *ingestionService) Delete(ctx context.Context, userID string, fileID uuid.UUID) error {
	rec, err := s.Get(ctx, userID, fileID)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, rec.Namespace, rec.ObjectKey); err != nil {
		if errors.Is(err, gcp.ErrObjectNotFound) || errors.Is(err, gcp.ErrNamespaceNotFound) {
			s.log.Info("Backing object already gone", "file_id", rec.ID, "namespace", rec.Namespace, "object_key", rec.ObjectKey)
		} else {
			s.log.Warn("Backing object delete failed", "error", err, "file_id", rec.ID, "namespace", rec.Namespace, "object_key", rec.ObjectKey)
		}
	}
	if err := s.records.FullDeleteByID(dbctx.Background(ctx), rec.ID); err != nil {
		return apierr.Infra("metadata_unavailable", fmt.Errorf("delete file record: %w", err))
	}
	s.log.Info("File record deleted", "file_id", rec.ID, "user_id", rec.UserID)
	return nil
}

// Reextract reads the stored object back and overwrites the extraction fields.
func (s *ingestionService) Reextract(ctx context.Context, userID string, fileID uuid.UUID) (*types.FileRecord, error) {
	rec, err := s.Get(ctx, userID, fileID)
	if err != nil {
		return nil, err
	}
	data, err := s.readObject(ctx, rec)
	if err != nil {
		return nil, err
	}
	fctx, cancel := s.finalizeContext(ctx)
	defer cancel()
	applyExtraction(fctx, s.log, s.extractor, s.records, rec, data, s.opts.Now)
	if !s.trigger.Notify(fctx, notificationFor(fctx, rec)) {
		rec.IndexPending = true
	}
	return rec, nil
}

func (s *ingestionService) readObject(ctx context.Context, rec *types.FileRecord) ([]byte, error) {
	data, err := s.store.Get(ctx, rec.Namespace, rec.ObjectKey)
	if errors.Is(err, gcp.ErrObjectNotFound) || errors.Is(err, gcp.ErrNamespaceNotFound) {
		return nil, apierr.NotFound("object_not_found", err)
	}
	if err != nil {
		return nil, apierr.Infra("object_store_unavailable", err)
	}
	return data, nil
}

func validateIngest(userID, fileName string, req IngestRequest) ([]byte, error) {
	if userID == "" {
		return nil, apierr.Input("missing_user_id", errors.New("user id required"))
	}
	if fileName == "" {
		return nil, apierr.Input("missing_file_name", errors.New("file name required"))
	}
	hasB64 := strings.TrimSpace(req.Base64) != ""
	switch {
	case req.Data != nil && hasB64:
		return nil, apierr.Input("ambiguous_payload", errors.New("send raw bytes or base64, not both"))
	case req.Data != nil:
		return req.Data, nil
	case hasB64:
		data, err := decodeBase64(req.Base64)
		if err != nil {
			return nil, apierr.Input("invalid_base64", err)
		}
		return data, nil
	default:
		return nil, apierr.Input("missing_file", errors.New("file content required"))
	}
}

// decodeBase64 accepts standard or URL alphabets, padded or not, and data URLs.
func decodeBase64(raw string) ([]byte, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, s)
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if data, err := enc.DecodeString(s); err == nil {
			return data, nil
		}
	}
	return nil, errors.New("payload is not valid base64")
}

func metadataBag(in map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(in)+4)
	for k, v := range in {
		k = strings.TrimSpace(k)
		if k == "" {
			return nil, apierr.Input("invalid_metadata", errors.New("metadata keys must be non-empty"))
		}
		out[k] = v
	}
	if _, err := json.Marshal(out); err != nil {
		return nil, apierr.Input("invalid_metadata", err)
	}
	return out, nil
}

func contentTypeFor(fileName, declared string, data []byte) string {
	if ct := strings.TrimSpace(declared); ct != "" {
		return ct
	}
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(fileName))); ct != "" {
		return ct
	}
	if len(data) == 0 {
		return "application/octet-stream"
	}
	return http.DetectContentType(data)
}

// applyExtraction runs the extractor and overwrites the record's extraction
// fields. Failures stay inside the record; a store error leaves it pending.
func applyExtraction(
	ctx context.Context,
	log *logger.Logger,
	ex ContentExtractor,
	records repos.FileRecordRepo,
	rec *types.FileRecord,
	data []byte,
	now func() time.Time,
) {
	ctx, span := observability.StartSpan(ctx, "ingest.extract")
	defer span.End()

	res := ex.Extract(ctx, rec.DisplayName, rec.ContentType, data)
	state := types.ExtractionSucceeded
	if !res.OK {
		state = types.ExtractionFailed
	}
	observability.IncExtraction(res.Method, string(state))
	span.SetAttributes(
		attribute.String("extract.method", res.Method),
		attribute.String("extract.kind", string(res.Kind)),
	)

	meta := map[string]any{}
	if len(rec.Metadata) > 0 {
		if err := json.Unmarshal(rec.Metadata, &meta); err != nil {
			log.Warn("Stored metadata unreadable; replacing", "error", err, "file_id", rec.ID)
			meta = map[string]any{}
		}
	}
	meta["extracted_at"] = now().UTC().Format(time.RFC3339Nano)
	meta["extraction_duration_ms"] = res.Duration.Milliseconds()
	meta["content_kind"] = string(res.Kind)
	if res.Truncated {
		meta["extraction_truncated"] = true
	} else {
		delete(meta, "extraction_truncated")
	}
	metaJSON, _ := json.Marshal(meta)

	text := res.Text
	upd := repos.ExtractionUpdate{
		State:    state,
		Text:     &text,
		Method:   res.Method,
		Metadata: datatypes.JSON(metaJSON),
	}
	if err := records.UpdateExtraction(dbctx.Background(ctx), rec.ID, upd); err != nil {
		span.RecordError(err)
		log.Error("Extraction result not stored; record left pending", "error", err, "file_id", rec.ID)
		return
	}
	rec.ExtractionState = state
	rec.ExtractedText = &text
	rec.ExtractionMethod = res.Method
	rec.Metadata = upd.Metadata
}

// notificationFor builds the indexer payload. Request and trace ids from ctx
// ride along so the indexer's logs join up with ours.
func notificationFor(ctx context.Context, rec *types.FileRecord) indexer.Notification {
	meta := map[string]any{}
	if len(rec.Metadata) > 0 {
		_ = json.Unmarshal(rec.Metadata, &meta)
	}
	meta["file_id"] = rec.ID.String()
	meta["content_hash"] = rec.ContentHash
	if td := ctxutil.GetTraceData(ctx); td != nil {
		if td.RequestID != "" {
			meta["request_id"] = td.RequestID
		}
		if td.TraceID != "" {
			meta["trace_id"] = td.TraceID
		}
	}
	return indexer.Notification{
		UserID:      rec.UserID,
		Namespace:   rec.Namespace,
		ObjectKey:   rec.ObjectKey,
		LogicalType: string(rec.LogicalType),
		Size:        rec.SizeBytes,
		Metadata:    meta,
	}
}
