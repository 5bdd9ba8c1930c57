package models

import "time"

// ModeratorRoleOverride stores a moderator's display-role override. A row
// with a nil ThreadID is the moderator's default override; a row with a
// ThreadID applies only within that thread and wins over the default.
type ModeratorRoleOverride struct {
	ID          uint    `gorm:"primaryKey;autoIncrement"`
	ModeratorID string  `gorm:"size:32;not null;index:idx_mod_thread,priority:1"`
	ThreadID    *string `gorm:"size:36;index:idx_mod_thread,priority:2"`
	RoleID      string  `gorm:"size:32;not null"`
	CreatedAt   time.Time
}
