package user

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	types "github.com/yungbote/neurobridge-ingest/internal/domain"
	"github.com/yungbote/neurobridge-ingest/internal/platform/apierr"
	"github.com/yungbote/neurobridge-ingest/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-ingest/internal/platform/logger"
)

type UserProfileRepo interface {
	GetByUserID(dbc dbctx.Context, userID string) (*types.UserProfile, error)
	// FindByNormalizedPhone returns every profile sharing the phone so the
	// caller can detect ambiguity.
	FindByNormalizedPhone(dbc dbctx.Context, phone string) ([]*types.UserProfile, error)
}

type userProfileRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserProfileRepo(db *gorm.DB, baseLog *logger.Logger) UserProfileRepo {
	repoLog := baseLog.With("repo", "UserProfileRepo")
	return &userProfileRepo{db: db, log: repoLog}
}

func (r *userProfileRepo) GetByUserID(dbc dbctx.Context, userID string) (*types.UserProfile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apierr.ErrNotFound
	}
	var row types.UserProfile
	err := dbc.DB(r.db).Where("user_id = ?", userID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *userProfileRepo) FindByNormalizedPhone(dbc dbctx.Context, phone string) ([]*types.UserProfile, error) {
	results := []*types.UserProfile{}
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return results, nil
	}
	if err := dbc.DB(r.db).
		Where("normalized_phone = ?", phone).
		Order("user_id ASC").
		Limit(2).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
