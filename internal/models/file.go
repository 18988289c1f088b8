package models

import (
	"time"

	"gorm.io/datatypes"
)

// File mirrors a remote file. InVectorStore and VectorStoreIDsCache are
// derived from VectorStoreFile rows and only written by the embedding
// cache maintainer.
type File struct {
	ID                  uint                        `gorm:"primaryKey;autoIncrement"`
	ExternalID          *string                     `gorm:"size:64;uniqueIndex"`
	Filename            string                      `gorm:"size:255;not null"`
	Purpose             string                      `gorm:"size:32"`
	Bytes               int64                       `gorm:"default:0"`
	InVectorStore       bool                        `gorm:"default:false;index"`
	VectorStoreIDsCache datatypes.JSONSlice[string] `gorm:"type:json"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Embedded reports whether the file is a member of at least one store.
func (f *File) Embedded() bool {
	return f.InVectorStore
}
