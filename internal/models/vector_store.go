package models

import "time"

// VectorStore mirrors a remote retrieval index. Membership in a store is
// what makes a File embedded.
type VectorStore struct {
	ID          uint    `gorm:"primaryKey;autoIncrement"`
	ExternalID  *string `gorm:"size:64;uniqueIndex"`
	Name        string  `gorm:"size:128;not null"`
	Description string  `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// VectorStoreFile is one file↔store membership row. It is the ground truth
// the File embedding cache is derived from.
type VectorStoreFile struct {
	VectorStoreID uint `gorm:"primaryKey"`
	FileID        uint `gorm:"primaryKey;index"`
	CreatedAt     time.Time
}
