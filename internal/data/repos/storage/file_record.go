package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/yungbote/neurobridge-ingest/internal/domain"
	"github.com/yungbote/neurobridge-ingest/internal/platform/apierr"
	"github.com/yungbote/neurobridge-ingest/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-ingest/internal/platform/logger"
)

// ExtractionUpdate overwrites all extraction fields of a record at once.
type ExtractionUpdate struct {
	State    types.ExtractionState
	Text     *string
	Method   string
	Metadata datatypes.JSON
}

type FileRecordRepo interface {
	Create(dbc dbctx.Context, rec *types.FileRecord) (*types.FileRecord, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.FileRecord, error)
	GetByUserAndID(dbc dbctx.Context, userID string, id uuid.UUID) (*types.FileRecord, error)
	GetByObject(dbc dbctx.Context, namespace, objectKey string) (*types.FileRecord, error)
	ListByUserID(dbc dbctx.Context, userID string) ([]*types.FileRecord, error)
	ListByContentHash(dbc dbctx.Context, userID, contentHash string) ([]*types.FileRecord, error)
	ObjectKeysByNamespace(dbc dbctx.Context, namespace string) (map[string]struct{}, error)
	UpdateExtraction(dbc dbctx.Context, id uuid.UUID, upd ExtractionUpdate) error
	SetIndexPending(dbc dbctx.Context, id uuid.UUID, pending bool) error
	ListIndexPending(dbc dbctx.Context, limit int) ([]*types.FileRecord, error)
	FullDeleteByID(dbc dbctx.Context, id uuid.UUID) error
}

type fileRecordRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewFileRecordRepo(db *gorm.DB, baseLog *logger.Logger) FileRecordRepo {
	repoLog := baseLog.With("repo", "FileRecordRepo")
	return &fileRecordRepo{db: db, log: repoLog}
}

func (r *fileRecordRepo) Create(dbc dbctx.Context, rec *types.FileRecord) (*types.FileRecord, error) {
	if rec == nil {
		return nil, fmt.Errorf("create file record: nil record")
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	if rec.ExtractionState == "" {
		rec.ExtractionState = types.ExtractionPending
	}
	if err := dbc.DB(r.db).Create(rec).Error; err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *fileRecordRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.FileRecord, error) {
	if id == uuid.Nil {
		return nil, apierr.ErrNotFound
	}
	var row types.FileRecord
	err := dbc.DB(r.db).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *fileRecordRepo) GetByUserAndID(dbc dbctx.Context, userID string, id uuid.UUID) (*types.FileRecord, error) {
	userID = strings.TrimSpace(userID)
	if id == uuid.Nil || userID == "" {
		return nil, apierr.ErrNotFound
	}
	var row types.FileRecord
	err := dbc.DB(r.db).
		Where("id = ? AND user_id = ?", id, userID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *fileRecordRepo) GetByObject(dbc dbctx.Context, namespace, objectKey string) (*types.FileRecord, error) {
	var row types.FileRecord
	err := dbc.DB(r.db).
		Where("namespace = ? AND object_key = ?", namespace, objectKey).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *fileRecordRepo) ListByUserID(dbc dbctx.Context, userID string) ([]*types.FileRecord, error) {
	results := []*types.FileRecord{}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return results, nil
	}
	// id breaks ties so two rows with the same timestamp keep a stable order.
	if err := dbc.DB(r.db).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *fileRecordRepo) ListByContentHash(dbc dbctx.Context, userID, contentHash string) ([]*types.FileRecord, error) {
	results := []*types.FileRecord{}
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(contentHash) == "" {
		return results, nil
	}
	if err := dbc.DB(r.db).
		Where("user_id = ? AND content_hash = ?", userID, contentHash).
		Order("created_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *fileRecordRepo) ObjectKeysByNamespace(dbc dbctx.Context, namespace string) (map[string]struct{}, error) {
	var keys []string
	if err := dbc.DB(r.db).
		Model(&types.FileRecord{}).
		Where("namespace = ?", namespace).
		Pluck("object_key", &keys).Error; err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		out[k] = struct{}{}
	}
	return out, nil
}

func (r *fileRecordRepo) UpdateExtraction(dbc dbctx.Context, id uuid.UUID, upd ExtractionUpdate) error {
	if id == uuid.Nil {
		return fmt.Errorf("update extraction: missing id")
	}
	updates := map[string]interface{}{
		"extraction_state":  upd.State,
		"extracted_text":    upd.Text,
		"extraction_method": upd.Method,
		"updated_at":        time.Now().UTC(),
	}
	if upd.Metadata != nil {
		updates["metadata"] = upd.Metadata
	}
	res := dbc.DB(r.db).
		Model(&types.FileRecord{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apierr.ErrNotFound
	}
	return nil
}

func (r *fileRecordRepo) SetIndexPending(dbc dbctx.Context, id uuid.UUID, pending bool) error {
	if id == uuid.Nil {
		return fmt.Errorf("set index pending: missing id")
	}
	res := dbc.DB(r.db).
		Model(&types.FileRecord{}).
		Where("id = ?", id).
		Update("index_pending", pending)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apierr.ErrNotFound
	}
	return nil
}

// ListIndexPending returns flagged records oldest first. limit <= 0 means all.
func (r *fileRecordRepo) ListIndexPending(dbc dbctx.Context, limit int) ([]*types.FileRecord, error) {
	results := []*types.FileRecord{}
	q := dbc.DB(r.db).
		Where("index_pending = ?", true).
		Order("created_at ASC").
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *fileRecordRepo) FullDeleteByID(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	return dbc.DB(r.db).
		Where("id = ?", id).
		Delete(&types.FileRecord{}).Error
}
