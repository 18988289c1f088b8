package models

import "time"

// Chat is a conversation driven through the stateless respond call.
type Chat struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	UserID          uint   `gorm:"index"`
	ProjectID       *uint  `gorm:"index"`
	ChatRoleID      *uint  `gorm:"index"`
	Title           string `gorm:"size:200;not null"`
	Objective       string `gorm:"type:text"`
	Model           string `gorm:"size:64"`
	MaxOutputTokens int    `gorm:"default:1024"`
	CreatedAt       time.Time
	UpdatedAt       time.Time

	Role         *ChatRole     `gorm:"foreignKey:ChatRoleID"`
	Messages     []Message     `gorm:"foreignKey:ChatID"`
	Files        []File        `gorm:"many2many:chat_files"`
	VectorStores []VectorStore `gorm:"many2many:chat_vector_stores"`
}

// Message is one immutable chat turn.
type Message struct {
	ID         uint    `gorm:"primaryKey;autoIncrement"`
	ChatID     uint    `gorm:"not null;index"`
	Role       string  `gorm:"size:16;not null"` // user, assistant
	Content    string  `gorm:"type:text"`
	ResponseID *string `gorm:"size:64"`
	CreatedAt  time.Time
}

// ChatRole is a reusable persona. Assigning it to a chat overwrites the
// chat's model.
type ChatRole struct {
	ID           uint    `gorm:"primaryKey;autoIncrement"`
	Name         string  `gorm:"size:128;not null;uniqueIndex"`
	Description  string  `gorm:"type:text"`
	Instructions string  `gorm:"type:text;not null"`
	Model        string  `gorm:"size:64"`
	Temperature  float64 `gorm:"not null"`
	IsActive     bool    `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
