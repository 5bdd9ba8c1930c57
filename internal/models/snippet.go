package models

import "time"

// Snippet is a named, reusable reply template. Triggers match
// case-insensitively and may be expanded inline within a larger reply.
type Snippet struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Trigger   string `gorm:"size:128;uniqueIndex;not null"`
	Body      string `gorm:"type:text;not null"`
	CreatedBy string `gorm:"size:32"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
