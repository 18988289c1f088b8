// Package models defines the GORM models mirrored between the local store
// and the remote provider.
package models

import "time"

// User is the operator that projects, chats and workers belong to.
type User struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Username  string `gorm:"size:64;not null;uniqueIndex"`
	Email     string `gorm:"size:128"`
	Role      string `gorm:"size:32;default:admin"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
