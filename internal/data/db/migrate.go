package db

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/yungbote/neurobridge-ingest/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(types.AllModels()...)
}

// EnsureStorageIndexes adds the indexes AutoMigrate cannot express. The
// unique index on namespace_mapping.user_id comes from its primary key.
func EnsureStorageIndexes(db *gorm.DB) error {
	if db.Dialector.Name() != "postgres" {
		return nil
	}
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_file_record_pending
		ON file_record (created_at)
		WHERE extraction_state = 'pending';
	`).Error; err != nil {
		return fmt.Errorf("create idx_file_record_pending: %w", err)
	}
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_file_record_metadata_origin
		ON file_record ((metadata->>'origin'));
	`).Error; err != nil {
		return fmt.Errorf("create idx_file_record_metadata_origin: %w", err)
	}
	return nil
}
