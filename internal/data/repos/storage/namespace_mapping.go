package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/neurobridge-ingest/internal/domain"
	"github.com/yungbote/neurobridge-ingest/internal/platform/apierr"
	"github.com/yungbote/neurobridge-ingest/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-ingest/internal/platform/logger"
)

type NamespaceMappingRepo interface {
	GetByUserID(dbc dbctx.Context, userID string) (*types.NamespaceMapping, error)
	// Ensure inserts the mapping unless one already exists for the user and
	// returns whichever row is stored afterwards.
	Ensure(dbc dbctx.Context, userID, namespaceName string) (*types.NamespaceMapping, error)
	List(dbc dbctx.Context) ([]*types.NamespaceMapping, error)
}

type namespaceMappingRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewNamespaceMappingRepo(db *gorm.DB, baseLog *logger.Logger) NamespaceMappingRepo {
	repoLog := baseLog.With("repo", "NamespaceMappingRepo")
	return &namespaceMappingRepo{db: db, log: repoLog}
}

func (r *namespaceMappingRepo) GetByUserID(dbc dbctx.Context, userID string) (*types.NamespaceMapping, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apierr.ErrNotFound
	}
	var row types.NamespaceMapping
	err := dbc.DB(r.db).
		Where("user_id = ?", userID).
		Limit(1).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *namespaceMappingRepo) Ensure(dbc dbctx.Context, userID, namespaceName string) (*types.NamespaceMapping, error) {
	userID = strings.TrimSpace(userID)
	namespaceName = strings.TrimSpace(namespaceName)
	if userID == "" || namespaceName == "" {
		return nil, fmt.Errorf("ensure namespace mapping: user id and namespace required")
	}
	row := &types.NamespaceMapping{
		UserID:        userID,
		NamespaceName: namespaceName,
		CreatedAt:     time.Now().UTC(),
	}
	if err := dbc.DB(r.db).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(row).Error; err != nil {
		return nil, fmt.Errorf("insert namespace mapping: %w", err)
	}
	stored, err := r.GetByUserID(dbc, userID)
	if err != nil {
		return nil, fmt.Errorf("reload namespace mapping: %w", err)
	}
	if stored.NamespaceName != namespaceName {
		// Another writer created a different mapping first; theirs stands.
		r.log.Warn("Namespace mapping already bound to a different name",
			"user_id", userID,
			"wanted", namespaceName,
			"stored", stored.NamespaceName,
		)
	}
	return stored, nil
}

func (r *namespaceMappingRepo) List(dbc dbctx.Context) ([]*types.NamespaceMapping, error) {
	var rows []*types.NamespaceMapping
	if err := dbc.DB(r.db).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
