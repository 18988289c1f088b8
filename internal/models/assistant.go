package models

import "time"

// Assistant is a reusable remote assistant definition.
type Assistant struct {
	ID           uint    `gorm:"primaryKey;autoIncrement"`
	ExternalID   *string `gorm:"size:64;uniqueIndex"`
	Name         string  `gorm:"size:128;not null"`
	Model        string  `gorm:"size:64"`
	Description  string  `gorm:"type:text"`
	Instructions string  `gorm:"type:text"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
