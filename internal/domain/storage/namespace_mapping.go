package storage

import "time"

// NamespaceMapping binds one user identifier to its storage namespace.
// Rows are created once and never mutated.
type NamespaceMapping struct {
	UserID        string    `gorm:"column:user_id;primaryKey;type:text" json:"user_id"`
	NamespaceName string    `gorm:"column:namespace_name;not null;uniqueIndex:idx_namespace_mapping_name;type:text" json:"namespace_name"`
	CreatedAt     time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

func (NamespaceMapping) TableName() string { return "namespace_mapping" }
