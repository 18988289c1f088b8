package models

import (
	"time"

	"gorm.io/datatypes"
)

// Worker runs prompts against an assistant on a persistent remote thread.
type Worker struct {
	ID          uint    `gorm:"primaryKey;autoIncrement"`
	UserID      uint    `gorm:"index"`
	ProjectID   uint    `gorm:"not null;index"`
	AssistantID *uint   `gorm:"index"`
	Name        string  `gorm:"size:128;not null"`
	Model       string  `gorm:"size:64"`
	ThreadID    *string `gorm:"size:64"`
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Assistant    *Assistant    `gorm:"foreignKey:AssistantID"`
	Files        []File        `gorm:"many2many:worker_files"`
	VectorStores []VectorStore `gorm:"many2many:worker_vector_stores"`
	Logs         []WorkerLog   `gorm:"foreignKey:WorkerID"`
}

// WorkerLog records one run. Rows are never updated.
type WorkerLog struct {
	ID            uint                        `gorm:"primaryKey;autoIncrement"`
	WorkerID      uint                        `gorm:"not null;index"`
	Input         string                      `gorm:"type:text"`
	Output        string                      `gorm:"type:text"`
	RunID         *string                     `gorm:"size:64"`
	RunStatus     string                      `gorm:"size:32"`
	OutputFileIDs datatypes.JSONSlice[string] `gorm:"type:json"`
	CreatedAt     time.Time
}
