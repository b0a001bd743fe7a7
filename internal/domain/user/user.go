package user

import (
	"time"

	"github.com/google/uuid"
)

// UserProfile is owned by the account service; this system only reads the
// phone columns to identify messaging-channel senders.
type UserProfile struct {
	UserID          string    `gorm:"column:user_id;primaryKey;type:text" json:"user_id"`
	DisplayName     string    `gorm:"column:display_name" json:"display_name"`
	PhoneNumber     string    `gorm:"column:phone_number" json:"phone_number,omitempty"`
	NormalizedPhone string    `gorm:"column:normalized_phone;index" json:"normalized_phone,omitempty"`
	CreatedAt       time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time `gorm:"not null" json:"updated_at"`
}

func (UserProfile) TableName() string { return "user_profile" }

// ChannelUserMapping is an explicit link from a messaging address to a user.
// It wins over profile phone matches.
type ChannelUserMapping struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Channel   string    `gorm:"column:channel;not null;uniqueIndex:idx_channel_user_mapping_address,priority:1" json:"channel"`
	Address   string    `gorm:"column:address;not null;uniqueIndex:idx_channel_user_mapping_address,priority:2" json:"address"`
	UserID    string    `gorm:"column:user_id;not null;index;type:text" json:"user_id"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (ChannelUserMapping) TableName() string { return "channel_user_mapping" }
