package services

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/yungbote/neurobridge-ingest/internal/data/repos"
	types "github.com/yungbote/neurobridge-ingest/internal/domain"
	"github.com/yungbote/neurobridge-ingest/internal/ingestion/namespace"
	"github.com/yungbote/neurobridge-ingest/internal/platform/apierr"
	"github.com/yungbote/neurobridge-ingest/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-ingest/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-ingest/internal/platform/gcp"
	"github.com/yungbote/neurobridge-ingest/internal/platform/indexer"
	"github.com/yungbote/neurobridge-ingest/internal/platform/logger"
)

// ContactIdentifier is satisfied by *namespace.Identifier.
type ContactIdentifier interface {
	Identify(ctx context.Context, rawContact string) (namespace.Identity, error)
	Link(ctx context.Context, userID, rawContact string) (namespace.Identity, error)
}

// ChannelContentRequest is content forwarded from a messaging transport.
// Set one of Text, Data/Base64 or ExistingObjectKey.
type ChannelContentRequest struct {
	UserID  string
	Contact string
	// ContactTrusted lets Contact name the owner. Only a verified transport
	// or a channel service caller sets it; any other contact is refused.
	ContactTrusted    bool
	LogicalType       string
	Text              string
	FileName          string
	Data              []byte
	Base64            string
	ContentType       string
	ExistingObjectKey string
	ExistingNamespace string
	Metadata          map[string]any
}

type ChannelContentResult struct {
	Identity namespace.Identity `json:"identity"`
	// Record is nil when the content was an already stored object.
	Record    *types.FileRecord `json:"record,omitempty"`
	Namespace string            `json:"namespace"`
	ObjectKey string            `json:"object_key"`
	Triggered bool              `json:"triggered"`
}

type ChannelService interface {
	Submit(ctx context.Context, req ChannelContentRequest) (*ChannelContentResult, error)
	// LinkContact routes future messages from contact to userID.
	LinkContact(ctx context.Context, userID, contact string) (namespace.Identity, error)
}

const SourceCaller = "caller"

type channelService struct {
	log        *logger.Logger
	ingest     IngestionService
	identifier ContactIdentifier
	resolver   NamespaceResolver
	store      gcp.ObjectStore
	records    repos.FileRecordRepo
	extractor  ContentExtractor
	trigger    IndexTrigger
	now        func() time.Time
}

func NewChannelService(
	baseLog *logger.Logger,
	ingest IngestionService,
	identifier ContactIdentifier,
	resolver NamespaceResolver,
	store gcp.ObjectStore,
	records repos.FileRecordRepo,
	ex ContentExtractor,
	trigger IndexTrigger,
) ChannelService {
	return &channelService{
		log:        baseLog.With("service", "ChannelService"),
		ingest:     ingest,
		identifier: identifier,
		resolver:   resolver,
		store:      store,
		records:    records,
		extractor:  ex,
		trigger:    trigger,
		now:        time.Now,
	}
}

func (s *channelService) Submit(ctx context.Context, req ChannelContentRequest) (*ChannelContentResult, error) {
	var lt types.LogicalType
	if strings.TrimSpace(req.LogicalType) != "" {
		parsed, ok := types.ParseLogicalType(req.LogicalType)
		if !ok {
			return nil, apierr.Input("invalid_logical_type", fmt.Errorf("unknown logical type %q", req.LogicalType))
		}
		lt = parsed
	}
	text := strings.TrimSpace(req.Text)
	existing := strings.TrimSpace(req.ExistingObjectKey)
	hasBytes := req.Data != nil || strings.TrimSpace(req.Base64) != ""
	if n := countTrue(text != "", hasBytes, existing != ""); n != 1 {
		return nil, apierr.Input("invalid_channel_payload", errors.New("send exactly one of text, file content or an existing object key"))
	}

	id, err := s.identify(ctx, req)
	if err != nil {
		return nil, err
	}

	if existing != "" {
		return s.submitExisting(ctx, id, req, existing, lt)
	}

	meta := make(map[string]any, len(req.Metadata)+3)
	for k, v := range req.Metadata {
		meta[k] = v
	}
	meta["identity_source"] = id.Source
	if id.Channel != "" {
		meta["channel"] = id.Channel
	}
	if lt != "" {
		meta["channel_logical_type"] = string(lt)
	}

	in := IngestRequest{
		UserID:      id.UserID,
		FileName:    strings.TrimSpace(req.FileName),
		Data:        req.Data,
		Base64:      req.Base64,
		ContentType: req.ContentType,
		Metadata:    meta,
		Origin:      string(types.OriginChannel),
	}
	stamp := s.now().UTC().Format("20060102T150405Z")
	if text != "" {
		in.FileName = "note-" + stamp + ".txt"
		in.Data = []byte(text)
		in.Base64 = ""
		in.ContentType = "text/plain; charset=utf-8"
	} else if in.FileName == "" {
		in.FileName = "media-" + stamp + extensionFor(req.ContentType)
	}

	rec, err := s.ingest.Ingest(ctx, in)
	if err != nil {
		return nil, err
	}
	return &ChannelContentResult{
		Identity:  id,
		Record:    rec,
		Namespace: rec.Namespace,
		ObjectKey: rec.ObjectKey,
		Triggered: !rec.IndexPending,
	}, nil
}

// submitExisting indexes an object some other path already stored. It never
// creates a record; a record already tracking the object is re-extracted.
func (s *channelService) submitExisting(ctx context.Context, id namespace.Identity, req ChannelContentRequest, key string, lt types.LogicalType) (*ChannelContentResult, error) {
	ns, err := s.resolver.Resolve(ctx, id.UserID)
	if err != nil {
		return nil, err
	}
	if given := strings.TrimSpace(req.ExistingNamespace); given != "" && given != ns {
		return nil, apierr.Input("namespace_mismatch", errors.New("object namespace does not belong to this user"))
	}
	data, err := s.store.Get(ctx, ns, key)
	if errors.Is(err, gcp.ErrObjectNotFound) || errors.Is(err, gcp.ErrNamespaceNotFound) {
		return nil, apierr.NotFound("object_not_found", err)
	}
	if err != nil {
		return nil, apierr.Infra("object_store_unavailable", err)
	}

	if lt == "" {
		lt = types.LogicalTypeFor(key)
	}
	n := indexer.Notification{
		UserID:      id.UserID,
		Namespace:   ns,
		ObjectKey:   key,
		LogicalType: string(lt),
		Size:        int64(len(data)),
		Metadata:    map[string]any{"origin": string(types.OriginChannel), "identity_source": id.Source},
	}
	for k, v := range req.Metadata {
		n.Metadata[k] = v
	}

	fctx, cancel := context.WithTimeout(ctxutil.Detached(ctx), DefaultFinalizeTimeout)
	defer cancel()
	tracked, err := s.records.GetByObject(dbctx.Background(fctx), ns, key)
	switch {
	case err == nil:
		applyExtraction(fctx, s.log, s.extractor, s.records, tracked, data, s.now)
		n = notificationFor(fctx, tracked)
		if req.LogicalType != "" {
			n.LogicalType = string(lt)
		}
	case !errors.Is(err, apierr.ErrNotFound):
		s.log.Warn("Tracked record lookup failed; indexing without it", "error", err, "namespace", ns, "object_key", key)
	}

	queued := s.trigger.Notify(fctx, n)
	s.log.Info("Existing channel object submitted for indexing", "user_id", id.UserID, "namespace", ns, "object_key", key, "tracked", err == nil, "queued", queued)
	return &ChannelContentResult{
		Identity:  id,
		Namespace: ns,
		ObjectKey: key,
		Triggered: queued,
	}, nil
}

func (s *channelService) LinkContact(ctx context.Context, userID, contact string) (namespace.Identity, error) {
	if s.identifier == nil {
		return namespace.Identity{}, apierr.Input("contact_identification_disabled", errors.New("contact identification not configured"))
	}
	return s.identifier.Link(ctx, userID, contact)
}

func (s *channelService) identify(ctx context.Context, req ChannelContentRequest) (namespace.Identity, error) {
	if contact := strings.TrimSpace(req.Contact); contact != "" {
		if !req.ContactTrusted {
			return namespace.Identity{}, apierr.Forbidden("contact_not_permitted", errors.New("caller may not submit on behalf of a contact"))
		}
		if s.identifier == nil {
			return namespace.Identity{}, apierr.Input("contact_identification_disabled", errors.New("contact identification not configured"))
		}
		return s.identifier.Identify(ctx, contact)
	}
	if uid := strings.TrimSpace(req.UserID); uid != "" {
		return namespace.Identity{UserID: uid, Source: SourceCaller}, nil
	}
	return namespace.Identity{}, apierr.Input("missing_user_id", errors.New("user id or contact required"))
}

func extensionFor(contentType string) string {
	ct := strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	if ct == "" {
		return ".bin"
	}
	exts, err := mime.ExtensionsByType(ct)
	if err != nil || len(exts) == 0 {
		return ".bin"
	}
	return exts[0]
}

func countTrue(vals ...bool) int {
	n := 0
	for _, v := range vals {
		if v {
			n++
		}
	}
	return n
}
