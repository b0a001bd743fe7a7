package services

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	types "github.com/yungbote/neurobridge-ingest/internal/domain"
	"github.com/yungbote/neurobridge-ingest/internal/ingestion/extractor"
	"github.com/yungbote/neurobridge-ingest/internal/platform/apierr"
	"github.com/yungbote/neurobridge-ingest/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-ingest/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-ingest/internal/platform/gcp/gcptest"
)

func TestIngestPlainTextRoundTrip(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	rec, err := e.ingest.Ingest(ctx, IngestRequest{
		UserID:   "user-1",
		FileName: "hello.txt",
		Data:     []byte("hello world"),
		Metadata: map[string]any{"source": "test"},
	})
	require.NoError(t, err)

	assert.Equal(t, types.ExtractionSucceeded, rec.ExtractionState)
	assert.Equal(t, extractor.MethodDirectText, rec.ExtractionMethod)
	require.NotNil(t, rec.ExtractedText)
	assert.Equal(t, "hello world", *rec.ExtractedText)
	assert.Equal(t, types.LogicalTypeFile, rec.LogicalType)

	stored, err := e.store.Get(ctx, rec.Namespace, rec.ObjectKey)
	require.NoError(t, err)
	sum := sha256.Sum256(stored)
	assert.Equal(t, hex.EncodeToString(sum[:]), rec.ContentHash)

	var meta map[string]any
	require.NoError(t, json.Unmarshal(rec.Metadata, &meta))
	assert.Equal(t, "upload", meta["origin"])
	assert.Equal(t, "test", meta["source"])
	assert.Contains(t, meta, "received_at")
	assert.Contains(t, meta, "extracted_at")
	assert.Contains(t, meta, "extraction_duration_ms")

	got, err := e.ingest.Get(ctx, "user-1", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExtractionSucceeded, got.ExtractionState)

	calls := e.drain(t)
	require.Len(t, calls, 1)
	assert.Equal(t, rec.ObjectKey, calls[0].ObjectKey)
	assert.Equal(t, rec.Namespace, calls[0].Namespace)
	assert.EqualValues(t, 11, calls[0].Size)
}

func TestIngestBase64Payload(t *testing.T) {
	e := newEnv(t)
	rec, err := e.ingest.Ingest(context.Background(), IngestRequest{
		UserID:   "user-1",
		FileName: "notes.md",
		Base64:   base64.StdEncoding.EncodeToString([]byte("# Title\n\nSome notes here")),
		Origin:   "meeting_transcript",
	})
	require.NoError(t, err)
	assert.EqualValues(t, len("# Title\n\nSome notes here"), rec.SizeBytes)
	assert.Equal(t, "# Title\n\nSome notes here", *rec.ExtractedText)
}

func TestIngestZeroByteFileIsNotAnError(t *testing.T) {
	e := newEnv(t)
	rec, err := e.ingest.Ingest(context.Background(), IngestRequest{UserID: "user-1", FileName: "empty.txt", Data: []byte{}})
	require.NoError(t, err)
	assert.Equal(t, types.ExtractionFailed, rec.ExtractionState)
	assert.Equal(t, extractor.UnreadableMarker, *rec.ExtractedText)
	assert.Equal(t, extractor.FailedMethod(extractor.MethodDirectText), rec.ExtractionMethod)
	assert.EqualValues(t, 0, rec.SizeBytes)
}

func TestIngestSameNameSameInstantDoesNotCollide(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := newEnv(t, withNow(func() time.Time { return fixed }))
	ctx := context.Background()

	a, err := e.ingest.Ingest(ctx, IngestRequest{UserID: "user-1", FileName: "report.pdf", Data: []byte("%PDF-1.4 a")})
	require.NoError(t, err)
	b, err := e.ingest.Ingest(ctx, IngestRequest{UserID: "user-1", FileName: "report.pdf", Data: []byte("%PDF-1.4 b")})
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, a.ObjectKey, b.ObjectKey)
	assert.Equal(t, extractor.MethodPDFPlaceholder, a.ExtractionMethod)
	assert.True(t, e.store.Has(a.Namespace, a.ObjectKey))
	assert.True(t, e.store.Has(b.Namespace, b.ObjectKey))
}

func TestIngestInputErrorsBeforeIO(t *testing.T) {
	e := newEnv(t)
	cases := map[string]IngestRequest{
		"missing user":   {FileName: "a.txt", Data: []byte("x")},
		"missing name":   {UserID: "u", Data: []byte("x")},
		"missing file":   {UserID: "u", FileName: "a.txt"},
		"both payloads":  {UserID: "u", FileName: "a.txt", Data: []byte("x"), Base64: "eA=="},
		"bad base64":     {UserID: "u", FileName: "a.txt", Base64: "%%%"},
		"bad origin":     {UserID: "u", FileName: "a.txt", Data: []byte("x"), Origin: "fax"},
		"bad metadata":   {UserID: "u", FileName: "a.txt", Data: []byte("x"), Metadata: map[string]any{"c": make(chan int)}},
		"empty meta key": {UserID: "u", FileName: "a.txt", Data: []byte("x"), Metadata: map[string]any{" ": 1}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := e.ingest.Ingest(context.Background(), req)
			require.Error(t, err)
			assert.Equal(t, apierr.ClassInput, apierr.ClassOf(err))
		})
	}
	assert.EqualValues(t, 0, e.store.Creates.Load())
	assert.EqualValues(t, 0, e.store.Puts.Load())
	assert.EqualValues(t, 0, e.countRecords(t))
}

func TestIngestObjectWriteFailureCreatesNoRecord(t *testing.T) {
	e := newEnv(t)
	e.store.PutErr = func(string, string) error { return gcptest.ErrUnavailable }

	_, err := e.ingest.Ingest(context.Background(), IngestRequest{UserID: "user-1", FileName: "a.txt", Data: []byte("some content")})
	require.Error(t, err)
	assert.True(t, apierr.IsRetryable(err))
	assert.EqualValues(t, 0, e.countRecords(t))
	assert.Empty(t, e.drain(t))
}

func TestIngestInsertFailureLeavesObjectByDefault(t *testing.T) {
	e := newEnv(t, withFailingInsert())

	_, err := e.ingest.Ingest(context.Background(), IngestRequest{UserID: "user-1", FileName: "a.txt", Data: []byte("some content")})
	require.Error(t, err)
	assert.Equal(t, apierr.ClassInfra, apierr.ClassOf(err))

	ns, err := e.resolver.Resolve(context.Background(), "user-1")
	require.NoError(t, err)
	objects, err := e.store.List(context.Background(), ns, "uploads/")
	require.NoError(t, err)
	assert.Len(t, objects, 1)
	assert.EqualValues(t, 0, e.store.Deletes.Load())
	assert.Empty(t, e.drain(t))
}

func TestIngestInsertFailureCompensates(t *testing.T) {
	e := newEnv(t, withFailingInsert(), withCompensation())

	_, err := e.ingest.Ingest(context.Background(), IngestRequest{UserID: "user-1", FileName: "a.txt", Data: []byte("some content")})
	require.Error(t, err)

	ns, err := e.resolver.Resolve(context.Background(), "user-1")
	require.NoError(t, err)
	objects, err := e.store.List(context.Background(), ns, "uploads/")
	require.NoError(t, err)
	assert.Empty(t, objects)
	assert.EqualValues(t, 1, e.store.Deletes.Load())
}

func TestIngestFinishesAfterCallerHangsUp(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e := newEnv(t, withCancelAfterCreate(cancel))

	rec, err := e.ingest.Ingest(ctx, IngestRequest{UserID: "user-1", FileName: "a.txt", Data: []byte("hello world, this is fine text")})
	require.NoError(t, err)
	require.Error(t, ctx.Err())
	assert.Equal(t, types.ExtractionSucceeded, rec.ExtractionState)
	assert.Equal(t, extractor.MethodDirectText, rec.ExtractionMethod)

	stored, err := e.records.GetByID(dbctx.Background(context.Background()), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExtractionSucceeded, stored.ExtractionState)
	assert.Equal(t, "hello world, this is fine text", *stored.ExtractedText)
	assert.Len(t, e.drain(t), 1)
}

func TestIngestMarksDuplicateContent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	first, err := e.ingest.Ingest(ctx, IngestRequest{UserID: "user-1", FileName: "a.txt", Data: []byte("same bytes")})
	require.NoError(t, err)
	second, err := e.ingest.Ingest(ctx, IngestRequest{UserID: "user-1", FileName: "copy.txt", Data: []byte("same bytes")})
	require.NoError(t, err)
	other, err := e.ingest.Ingest(ctx, IngestRequest{UserID: "user-2", FileName: "a.txt", Data: []byte("same bytes")})
	require.NoError(t, err)

	var meta map[string]any
	require.NoError(t, json.Unmarshal(second.Metadata, &meta))
	assert.Equal(t, first.ID.String(), meta["duplicate_of"])
	assert.EqualValues(t, 1, meta["duplicate_count"])
	assert.NotEqual(t, first.ObjectKey, second.ObjectKey)

	for _, rec := range []*types.FileRecord{first, other} {
		meta = nil
		require.NoError(t, json.Unmarshal(rec.Metadata, &meta))
		assert.NotContains(t, meta, "duplicate_of")
	}
}

func TestIngestNotificationCarriesRequestTrace(t *testing.T) {
	e := newEnv(t)
	ctx := ctxutil.WithTraceData(context.Background(), &ctxutil.TraceData{TraceID: "4bf92f3577b34da6a3ce929d0e0e4736", RequestID: "req-42"})

	rec, err := e.ingest.Ingest(ctx, IngestRequest{UserID: "user-1", FileName: "a.txt", Data: []byte("traced content")})
	require.NoError(t, err)

	sent := e.drain(t)
	require.Len(t, sent, 1)
	assert.Equal(t, rec.ID.String(), sent[0].Metadata["file_id"])
	assert.Equal(t, "req-42", sent[0].Metadata["request_id"])
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", sent[0].Metadata["trace_id"])
}

func TestIngestIndexFailureDoesNotFailIngest(t *testing.T) {
	e := newEnv(t)
	e.index.err = errors.New("indexer rejected")

	rec, err := e.ingest.Ingest(context.Background(), IngestRequest{UserID: "user-1", FileName: "a.txt", Data: []byte("some content")})
	require.NoError(t, err)
	assert.NotNil(t, rec)
	assert.Len(t, e.drain(t), 1)
}

func TestListNewestFirstAndIdempotent(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	e := newEnv(t, withNow(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}))
	ctx := context.Background()
	for _, name := range []string{"first.txt", "photo.png", "third.txt"} {
		_, err := e.ingest.Ingest(ctx, IngestRequest{UserID: "user-1", FileName: name, Data: []byte("content for " + name)})
		require.NoError(t, err)
	}
	_, err := e.ingest.Ingest(ctx, IngestRequest{UserID: "other", FileName: "x.txt", Data: []byte("someone else")})
	require.NoError(t, err)

	first, err := e.ingest.List(ctx, "user-1")
	require.NoError(t, err)
	second, err := e.ingest.List(ctx, "user-1")
	require.NoError(t, err)

	require.Len(t, first, 3)
	assert.Equal(t, "third.txt", first[0].DisplayName)
	assert.Equal(t, "first.txt", first[2].DisplayName)
	assert.Equal(t, types.LogicalTypeImage, first[1].LogicalType)
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
}

func TestListRederivesLogicalType(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rec, err := e.ingest.Ingest(ctx, IngestRequest{UserID: "user-1", FileName: "clip.mp4", Data: []byte("not really a video")})
	require.NoError(t, err)
	require.NoError(t, e.db.Model(&types.FileRecord{}).Where("id = ?", rec.ID).Update("logical_type", "file").Error)

	rows, err := e.ingest.List(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, types.LogicalTypeVideo, rows[0].LogicalType)
}

func TestDeleteSurvivesMissingObject(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rec, err := e.ingest.Ingest(ctx, IngestRequest{UserID: "user-1", FileName: "a.txt", Data: []byte("some content")})
	require.NoError(t, err)
	e.store.Remove(rec.Namespace, rec.ObjectKey)

	require.NoError(t, e.ingest.Delete(ctx, "user-1", rec.ID))
	_, err = e.ingest.Get(ctx, "user-1", rec.ID)
	assert.Equal(t, apierr.ClassNotFound, apierr.ClassOf(err))
}

func TestDeleteRemovesObjectAndChecksOwner(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rec, err := e.ingest.Ingest(ctx, IngestRequest{UserID: "user-1", FileName: "a.txt", Data: []byte("some content")})
	require.NoError(t, err)

	err = e.ingest.Delete(ctx, "intruder", rec.ID)
	assert.Equal(t, apierr.ClassNotFound, apierr.ClassOf(err))
	assert.True(t, e.store.Has(rec.Namespace, rec.ObjectKey))

	e.store.DeleteErr = func(string, string) error { return gcptest.ErrUnavailable }
	require.NoError(t, e.ingest.Delete(ctx, "user-1", rec.ID))
	assert.EqualValues(t, 0, e.countRecords(t))
}

func TestDownloadAndReextract(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rec, err := e.ingest.Ingest(ctx, IngestRequest{UserID: "user-1", FileName: "a.txt", Data: []byte("original content")})
	require.NoError(t, err)

	data, got, err := e.ingest.Download(ctx, "user-1", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "original content", string(data))
	assert.Equal(t, rec.ID, got.ID)

	e.store.Seed(rec.Namespace, rec.ObjectKey, []byte("replaced   content\r\n\r\n\r\nmore"), time.Now())
	again, err := e.ingest.Reextract(ctx, "user-1", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "replaced content\n\nmore", *again.ExtractedText)

	stored, err := e.ingest.Get(ctx, "user-1", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "replaced content\n\nmore", *stored.ExtractedText)
	assert.Len(t, e.drain(t), 2)

	e.store.Remove(rec.Namespace, rec.ObjectKey)
	_, _, err = e.ingest.Download(ctx, "user-1", rec.ID)
	assert.Equal(t, apierr.ClassNotFound, apierr.ClassOf(err))
}
