package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/yungbote/neurobridge-ingest/internal/domain"
)

func SeedFileRecord(tb testing.TB, ctx context.Context, db *gorm.DB, userID, namespace, objectKey string, createdAt time.Time) *types.FileRecord {
	tb.Helper()
	rec := &types.FileRecord{
		ID:              uuid.New(),
		UserID:          userID,
		DisplayName:     "notes.txt",
		SizeBytes:       11,
		LogicalType:     types.LogicalTypeFile,
		ContentType:     "text/plain",
		Namespace:       namespace,
		ObjectKey:       objectKey,
		ContentHash:     "hash-" + objectKey,
		ExtractionState: types.ExtractionPending,
		Metadata:        datatypes.JSON([]byte(`{"origin":"upload"}`)),
		CreatedAt:       createdAt.UTC(),
		UpdatedAt:       createdAt.UTC(),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		tb.Fatalf("seed file record: %v", err)
	}
	return rec
}

func SeedUserProfile(tb testing.TB, ctx context.Context, db *gorm.DB, userID, normalizedPhone string) *types.UserProfile {
	tb.Helper()
	now := time.Now().UTC()
	p := &types.UserProfile{
		UserID:          userID,
		DisplayName:     "Test User",
		PhoneNumber:     normalizedPhone,
		NormalizedPhone: normalizedPhone,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := db.WithContext(ctx).Create(p).Error; err != nil {
		tb.Fatalf("seed user profile: %v", err)
	}
	return p
}

func PtrString(v string) *string { return &v }
