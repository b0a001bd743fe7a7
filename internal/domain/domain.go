package domain

import (
	"github.com/yungbote/neurobridge-ingest/internal/domain/storage"
	"github.com/yungbote/neurobridge-ingest/internal/domain/user"
)

type NamespaceMapping = storage.NamespaceMapping
type FileRecord = storage.FileRecord
type LogicalType = storage.LogicalType
type ExtractionState = storage.ExtractionState
type Origin = storage.Origin

type UserProfile = user.UserProfile
type ChannelUserMapping = user.ChannelUserMapping

const (
	LogicalTypeFile  = storage.LogicalTypeFile
	LogicalTypeImage = storage.LogicalTypeImage
	LogicalTypeAudio = storage.LogicalTypeAudio
	LogicalTypeVideo = storage.LogicalTypeVideo
	LogicalTypeLink  = storage.LogicalTypeLink

	ExtractionPending   = storage.ExtractionPending
	ExtractionSucceeded = storage.ExtractionSucceeded
	ExtractionFailed    = storage.ExtractionFailed

	OriginUpload            = storage.OriginUpload
	OriginChannel           = storage.OriginChannel
	OriginMeetingTranscript = storage.OriginMeetingTranscript
)

var (
	LogicalTypeFor   = storage.LogicalTypeFor
	ParseLogicalType = storage.ParseLogicalType
	ParseOrigin      = storage.ParseOrigin
)

// AllModels lists every table this service migrates.
func AllModels() []any {
	return []any{
		&NamespaceMapping{},
		&FileRecord{},
		&UserProfile{},
		&ChannelUserMapping{},
	}
}
