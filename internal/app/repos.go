package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-ingest/internal/data/repos"
	"github.com/yungbote/neurobridge-ingest/internal/platform/logger"
)

type Repos struct {
	NamespaceMapping   repos.NamespaceMappingRepo
	FileRecord         repos.FileRecordRepo
	UserProfile        repos.UserProfileRepo
	ChannelUserMapping repos.ChannelUserMappingRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		NamespaceMapping:   repos.NewNamespaceMappingRepo(db, log),
		FileRecord:         repos.NewFileRecordRepo(db, log),
		UserProfile:        repos.NewUserProfileRepo(db, log),
		ChannelUserMapping: repos.NewChannelUserMappingRepo(db, log),
	}
}
