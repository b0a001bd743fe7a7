package user

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/neurobridge-ingest/internal/domain"
	"github.com/yungbote/neurobridge-ingest/internal/platform/apierr"
	"github.com/yungbote/neurobridge-ingest/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-ingest/internal/platform/logger"
)

type ChannelUserMappingRepo interface {
	GetByAddress(dbc dbctx.Context, channel, address string) (*types.ChannelUserMapping, error)
	Upsert(dbc dbctx.Context, channel, address, userID string) (*types.ChannelUserMapping, error)
}

type channelUserMappingRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChannelUserMappingRepo(db *gorm.DB, baseLog *logger.Logger) ChannelUserMappingRepo {
	repoLog := baseLog.With("repo", "ChannelUserMappingRepo")
	return &channelUserMappingRepo{db: db, log: repoLog}
}

func (r *channelUserMappingRepo) GetByAddress(dbc dbctx.Context, channel, address string) (*types.ChannelUserMapping, error) {
	channel = strings.ToLower(strings.TrimSpace(channel))
	address = strings.TrimSpace(address)
	if channel == "" || address == "" {
		return nil, apierr.ErrNotFound
	}
	var row types.ChannelUserMapping
	err := dbc.DB(r.db).
		Where("channel = ? AND address = ?", channel, address).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *channelUserMappingRepo) Upsert(dbc dbctx.Context, channel, address, userID string) (*types.ChannelUserMapping, error) {
	channel = strings.ToLower(strings.TrimSpace(channel))
	address = strings.TrimSpace(address)
	userID = strings.TrimSpace(userID)
	if channel == "" || address == "" || userID == "" {
		return nil, errors.New("upsert channel mapping: channel, address and user id required")
	}
	row := &types.ChannelUserMapping{
		ID:        uuid.New(),
		Channel:   channel,
		Address:   address,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}
	if err := dbc.DB(r.db).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "channel"}, {Name: "address"}},
			DoUpdates: clause.AssignmentColumns([]string{"user_id"}),
		}).
		Create(row).Error; err != nil {
		return nil, err
	}
	return r.GetByAddress(dbc, channel, address)
}
