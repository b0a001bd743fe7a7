package storage

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type LogicalType string

const (
	LogicalTypeFile  LogicalType = "file"
	LogicalTypeImage LogicalType = "image"
	LogicalTypeAudio LogicalType = "audio"
	LogicalTypeVideo LogicalType = "video"
	LogicalTypeLink  LogicalType = "link"
)

func ParseLogicalType(raw string) (LogicalType, bool) {
	switch LogicalType(strings.ToLower(strings.TrimSpace(raw))) {
	case LogicalTypeFile:
		return LogicalTypeFile, true
	case LogicalTypeImage:
		return LogicalTypeImage, true
	case LogicalTypeAudio:
		return LogicalTypeAudio, true
	case LogicalTypeVideo:
		return LogicalTypeVideo, true
	case LogicalTypeLink:
		return LogicalTypeLink, true
	default:
		return "", false
	}
}

// LogicalTypeFor derives the logical type from a display name. Stored values
// are not trusted on read; listings call this again.
func LogicalTypeFor(fileName string) LogicalType {
	name := strings.ToLower(strings.TrimSpace(fileName))
	if strings.HasPrefix(name, "http://") || strings.HasPrefix(name, "https://") || strings.HasSuffix(name, ".url") || strings.HasSuffix(name, ".webloc") {
		return LogicalTypeLink
	}
	switch filepath.Ext(name) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp", ".tif", ".tiff", ".heic", ".svg":
		return LogicalTypeImage
	case ".mp3", ".wav", ".m4a", ".aac", ".flac", ".ogg", ".oga", ".opus", ".amr":
		return LogicalTypeAudio
	case ".mp4", ".mov", ".m4v", ".webm", ".mkv", ".avi", ".3gp":
		return LogicalTypeVideo
	default:
		return LogicalTypeFile
	}
}

type ExtractionState string

const (
	ExtractionPending   ExtractionState = "pending"
	ExtractionSucceeded ExtractionState = "succeeded"
	ExtractionFailed    ExtractionState = "failed"
)

type Origin string

const (
	OriginUpload            Origin = "upload"
	OriginChannel           Origin = "channel"
	OriginMeetingTranscript Origin = "meeting_transcript"
)

func ParseOrigin(raw string) (Origin, bool) {
	switch Origin(strings.ToLower(strings.TrimSpace(raw))) {
	case "", OriginUpload:
		return OriginUpload, true
	case OriginChannel:
		return OriginChannel, true
	case OriginMeetingTranscript:
		return OriginMeetingTranscript, true
	default:
		return "", false
	}
}

type FileRecord struct {
	ID          uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      string      `gorm:"column:user_id;not null;index:idx_file_record_user_created,priority:1;index:idx_file_record_user_hash,priority:1;type:text" json:"user_id"`
	DisplayName string      `gorm:"column:display_name;not null" json:"display_name"`
	SizeBytes   int64       `gorm:"column:size_bytes;not null" json:"size_bytes"`
	LogicalType LogicalType `gorm:"column:logical_type;not null;type:text" json:"logical_type"`
	ContentType string      `gorm:"column:content_type" json:"content_type,omitempty"`

	Namespace   string `gorm:"column:namespace;not null;uniqueIndex:idx_file_record_object,priority:1;type:text" json:"namespace"`
	ObjectKey   string `gorm:"column:object_key;not null;uniqueIndex:idx_file_record_object,priority:2;type:text" json:"object_key"`
	ContentHash string `gorm:"column:content_hash;not null;index:idx_file_record_user_hash,priority:2;type:text" json:"content_hash"`

	ExtractionState  ExtractionState `gorm:"column:extraction_state;not null;default:'pending';type:text" json:"extraction_state"`
	ExtractedText    *string         `gorm:"column:extracted_text;type:text" json:"extracted_text,omitempty"`
	ExtractionMethod string          `gorm:"column:extraction_method" json:"extraction_method,omitempty"`

	Metadata datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`

	// IndexPending is set while no index notification for the record has
	// been delivered; the reconcile sweep sends it again.
	IndexPending bool `gorm:"column:index_pending;not null;default:false;index" json:"index_pending,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at;not null;index:idx_file_record_user_created,priority:2" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (FileRecord) TableName() string { return "file_record" }
