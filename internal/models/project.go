package models

import "time"

// Project groups chats and workers and carries an explicit file list.
// Files in that list must not be embedded in any vector store.
type Project struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	UserID      uint   `gorm:"index"`
	Name        string `gorm:"size:128;not null"`
	Description string `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Files        []File        `gorm:"many2many:project_files"`
	VectorStores []VectorStore `gorm:"many2many:project_vector_stores"`
}
