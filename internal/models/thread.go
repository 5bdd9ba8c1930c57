package models

import (
	"strings"
	"time"
)

// Thread statuses.
const (
	ThreadStatusOpen      = 1
	ThreadStatusClosed    = 2
	ThreadStatusSuspended = 3
)

// Thread pairs a user with a staff-side channel for one help-desk
// conversation. At most one thread per user is open at any time; closed
// threads are terminal and a new conversation creates a new Thread.
type Thread struct {
	ID           string `gorm:"primaryKey;size:36"`
	ThreadNumber int    `gorm:"uniqueIndex;not null"`
	Status       int    `gorm:"not null;index"`
	UserID       string `gorm:"size:32;not null;index"`
	UserName     string `gorm:"size:128"`
	ChannelID    string `gorm:"size:32;index"`

	// NextMessageNumber is the counter behind staff reply numbering.
	// Allocated via Store.NextMessageNumber, never read directly.
	NextMessageNumber int `gorm:"not null;default:1"`

	ScheduledCloseAt     *time.Time `gorm:"index"`
	ScheduledCloseID     string     `gorm:"size:32"`
	ScheduledCloseName   string     `gorm:"size:128"`
	ScheduledCloseSilent bool

	ScheduledSuspendAt   *time.Time `gorm:"index"`
	ScheduledSuspendID   string     `gorm:"size:32"`
	ScheduledSuspendName string     `gorm:"size:128"`

	// AlertIDs is a comma-separated set of moderator ids to mention on the
	// thread's next inbound message.
	AlertIDs string `gorm:"type:text"`

	LogStorageType string `gorm:"size:16"`
	LogStorageData string `gorm:"type:text"` // JSON

	Metadata  string `gorm:"type:text"` // JSON
	CreatedAt time.Time
}

// IsOpen reports whether the thread accepts relayed messages.
func (t *Thread) IsOpen() bool { return t.Status == ThreadStatusOpen }

// IsClosed reports whether the thread has reached its terminal state.
func (t *Thread) IsClosed() bool { return t.Status == ThreadStatusClosed }

// IsSuspended reports whether staff replies are gated.
func (t *Thread) IsSuspended() bool { return t.Status == ThreadStatusSuspended }

// AlertIDList returns the alert set as a slice, empty when no alerts are queued.
func (t *Thread) AlertIDList() []string {
	if t.AlertIDs == "" {
		return nil
	}
	return strings.Split(t.AlertIDs, ",")
}
