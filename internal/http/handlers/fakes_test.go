package handlers

import (
	"context"
	"net/url"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/yungbote/neurobridge-ingest/internal/domain"
	"github.com/yungbote/neurobridge-ingest/internal/ingestion/namespace"
	"github.com/yungbote/neurobridge-ingest/internal/platform/apierr"
	"github.com/yungbote/neurobridge-ingest/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-ingest/internal/platform/logger"
	"github.com/yungbote/neurobridge-ingest/internal/platform/twilio"
	"github.com/yungbote/neurobridge-ingest/internal/services"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	t.Cleanup(log.Sync)
	return log
}

// asUser stands in for the auth middleware.
func asUser(userID string, roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		rd := &ctxutil.RequestData{UserID: userID, AuthSource: "header"}
		if len(roles) > 0 {
			rd.AuthSource = "jwt"
			rd.Roles = roles
		}
		c.Request = c.Request.WithContext(ctxutil.WithRequestData(c.Request.Context(), rd))
		c.Next()
	}
}

type fakeIngest struct {
	mu      sync.Mutex
	last    services.IngestRequest
	records map[uuid.UUID]*types.FileRecord
	data    map[uuid.UUID][]byte
	err     error
}

func newFakeIngest() *fakeIngest {
	return &fakeIngest{records: map[uuid.UUID]*types.FileRecord{}, data: map[uuid.UUID][]byte{}}
}

func (f *fakeIngest) Ingest(_ context.Context, req services.IngestRequest) (*types.FileRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	rec := &types.FileRecord{ID: uuid.New(), UserID: req.UserID, DisplayName: req.FileName, ContentType: req.ContentType, SizeBytes: int64(len(req.Data))}
	f.records[rec.ID] = rec
	f.data[rec.ID] = req.Data
	return rec, nil
}

func (f *fakeIngest) List(_ context.Context, userID string) ([]*types.FileRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*types.FileRecord{}
	for _, r := range f.records {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeIngest) Get(_ context.Context, userID string, id uuid.UUID) (*types.FileRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok || r.UserID != userID {
		return nil, apierr.NotFound("file_not_found", apierr.ErrNotFound)
	}
	return r, nil
}

func (f *fakeIngest) Download(ctx context.Context, userID string, id uuid.UUID) ([]byte, *types.FileRecord, error) {
	r, err := f.Get(ctx, userID, id)
	if err != nil {
		return nil, nil, err
	}
	return f.data[id], r, nil
}

func (f *fakeIngest) Delete(ctx context.Context, userID string, id uuid.UUID) error {
	if _, err := f.Get(ctx, userID, id); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, id)
	return nil
}

func (f *fakeIngest) Reextract(ctx context.Context, userID string, id uuid.UUID) (*types.FileRecord, error) {
	return f.Get(ctx, userID, id)
}

type fakeChannel struct {
	mu    sync.Mutex
	reqs  []services.ChannelContentRequest
	links [][2]string
	err   error
}

func (f *fakeChannel) LinkContact(_ context.Context, userID, contact string) (namespace.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links = append(f.links, [2]string{userID, contact})
	if f.err != nil {
		return namespace.Identity{}, f.err
	}
	return namespace.Identity{UserID: userID, Source: namespace.SourceChannelMapping}, nil
}

func (f *fakeChannel) Submit(_ context.Context, req services.ChannelContentRequest) (*services.ChannelContentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	res := &services.ChannelContentResult{Triggered: true}
	if req.ExistingObjectKey == "" {
		res.Record = &types.FileRecord{ID: uuid.New()}
	}
	return res, nil
}

type fakeTwilio struct {
	token   string
	media   map[string]*twilio.Media
	fetched []string
}

func (f *fakeTwilio) FetchMedia(_ context.Context, mediaURL string) (*twilio.Media, error) {
	f.fetched = append(f.fetched, mediaURL)
	m, ok := f.media[mediaURL]
	if !ok {
		return nil, &twilio.HTTPError{StatusCode: 404}
	}
	return m, nil
}

func (f *fakeTwilio) ValidateSignature(fullURL string, params url.Values, sig string) bool {
	return twilio.ComputeSignature(f.token, fullURL, params) == sig
}

func (f *fakeTwilio) SignatureRequired() bool { return f.token != "" }
