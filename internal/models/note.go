package models

import "time"

// Note is a moderator note attached to a user, shown as a count in the
// thread info header.
type Note struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	UserID    string `gorm:"size:32;not null;index"`
	AuthorID  string `gorm:"size:32"`
	AuthorName string `gorm:"size:128"`
	Body      string `gorm:"type:text;not null"`
	CreatedAt time.Time
}
