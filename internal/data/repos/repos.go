package repos

import (
	"github.com/yungbote/neurobridge-ingest/internal/data/repos/storage"
	"github.com/yungbote/neurobridge-ingest/internal/data/repos/user"
)

type NamespaceMappingRepo = storage.NamespaceMappingRepo
type FileRecordRepo = storage.FileRecordRepo
type ExtractionUpdate = storage.ExtractionUpdate

type UserProfileRepo = user.UserProfileRepo
type ChannelUserMappingRepo = user.ChannelUserMappingRepo

var (
	NewNamespaceMappingRepo   = storage.NewNamespaceMappingRepo
	NewFileRecordRepo         = storage.NewFileRecordRepo
	NewUserProfileRepo        = user.NewUserProfileRepo
	NewChannelUserMappingRepo = user.NewChannelUserMappingRepo
)
