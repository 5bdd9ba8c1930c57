package models

import "time"

// BlockedUser prevents a user's DMs from opening or reaching threads.
// A nil ExpiresAt means the block is indefinite.
type BlockedUser struct {
	UserID    string `gorm:"primaryKey;size:32"`
	UserName  string `gorm:"size:128"`
	BlockedBy string `gorm:"size:32"`
	ExpiresAt *time.Time
	CreatedAt time.Time
}
