// Package store is the durable record of threads and thread messages.
// All mutation of the relay's state goes through this package; nothing else
// touches the tables directly.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/castellan/mailroom/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// Store wraps the database with the relay's query set.
type Store struct {
	db *gorm.DB
}

// New creates a Store over an open GORM connection.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying connection for migration and tests.
func (s *Store) DB() *gorm.DB { return s.db }

// CreateThread persists a new thread, assigning its id and a thread number
// of max(existing)+1. The max+1 read and the insert run in one transaction;
// uniqueness across concurrent completions additionally relies on creation
// being serialized by the thread creation queue.
func (s *Store) CreateThread(thread *models.Thread) error {
	if thread.ID == "" {
		thread.ID = uuid.NewString()
	}
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = time.Now().UTC()
	}
	if thread.NextMessageNumber == 0 {
		thread.NextMessageNumber = 1
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var maxNumber int
		row := tx.Model(&models.Thread{}).Select("COALESCE(MAX(thread_number), 0)").Row()
		if err := row.Scan(&maxNumber); err != nil {
			return err
		}
		thread.ThreadNumber = maxNumber + 1
		return tx.Create(thread).Error
	})
	if err != nil {
		return fmt.Errorf("store: create thread for %s: %w", thread.UserID, err)
	}
	return nil
}

// ThreadByID returns the thread with the given id.
func (s *Store) ThreadByID(id string) (*models.Thread, error) {
	return s.oneThread("id = ?", id)
}

// ThreadByNumber returns the thread with the given thread number.
func (s *Store) ThreadByNumber(number int) (*models.Thread, error) {
	return s.oneThread("thread_number = ?", number)
}

// ThreadByChannelID returns the thread bound to the given staff channel.
func (s *Store) ThreadByChannelID(channelID string) (*models.Thread, error) {
	return s.oneThread("channel_id = ?", channelID)
}

// OpenThreadByChannelID returns the open thread bound to the given staff channel.
func (s *Store) OpenThreadByChannelID(channelID string) (*models.Thread, error) {
	return s.oneThread("channel_id = ? AND status = ?", channelID, models.ThreadStatusOpen)
}

// SuspendedThreadByChannelID returns the suspended thread bound to the given
// staff channel.
func (s *Store) SuspendedThreadByChannelID(channelID string) (*models.Thread, error) {
	return s.oneThread("channel_id = ? AND status = ?", channelID, models.ThreadStatusSuspended)
}

// OpenThreadByUserID returns the user's open thread, ErrNotFound when none.
func (s *Store) OpenThreadByUserID(userID string) (*models.Thread, error) {
	return s.oneThread("user_id = ? AND status = ?", userID, models.ThreadStatusOpen)
}

// ActiveThreadByUserID returns the user's open or suspended thread.
// Suspended threads keep receiving inbound messages.
func (s *Store) ActiveThreadByUserID(userID string) (*models.Thread, error) {
	return s.oneThread("user_id = ? AND status IN ?", userID,
		[]int{models.ThreadStatusOpen, models.ThreadStatusSuspended})
}

// AllOpenThreads returns every open thread.
func (s *Store) AllOpenThreads() ([]models.Thread, error) {
	var threads []models.Thread
	if err := s.db.Where("status = ?", models.ThreadStatusOpen).Find(&threads).Error; err != nil {
		return nil, fmt.Errorf("store: open threads: %w", err)
	}
	return threads, nil
}

// ClosedThreadsByUserID returns a page of the user's closed threads, newest first.
func (s *Store) ClosedThreadsByUserID(userID string, page, limit int) ([]models.Thread, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	var threads []models.Thread
	err := s.db.Where("user_id = ? AND status = ?", userID, models.ThreadStatusClosed).
		Order("created_at DESC").Limit(limit).Offset((page - 1) * limit).
		Find(&threads).Error
	if err != nil {
		return nil, fmt.Errorf("store: closed threads for %s: %w", userID, err)
	}
	return threads, nil
}

// ClosedThreadCountByUserID counts the user's closed threads.
func (s *Store) ClosedThreadCountByUserID(userID string) (int64, error) {
	var count int64
	err := s.db.Model(&models.Thread{}).
		Where("user_id = ? AND status = ?", userID, models.ThreadStatusClosed).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("store: closed thread count for %s: %w", userID, err)
	}
	return count, nil
}

// ThreadsToClose returns open threads whose scheduled close time has elapsed.
func (s *Store) ThreadsToClose(now time.Time) ([]models.Thread, error) {
	var threads []models.Thread
	err := s.db.Where("status = ? AND scheduled_close_at IS NOT NULL AND scheduled_close_at <= ?",
		models.ThreadStatusOpen, now).Find(&threads).Error
	if err != nil {
		return nil, fmt.Errorf("store: threads to close: %w", err)
	}
	return threads, nil
}

// ThreadsToSuspend returns open threads whose scheduled suspend time has elapsed.
func (s *Store) ThreadsToSuspend(now time.Time) ([]models.Thread, error) {
	var threads []models.Thread
	err := s.db.Where("status = ? AND scheduled_suspend_at IS NOT NULL AND scheduled_suspend_at <= ?",
		models.ThreadStatusOpen, now).Find(&threads).Error
	if err != nil {
		return nil, fmt.Errorf("store: threads to suspend: %w", err)
	}
	return threads, nil
}

// SetThreadStatus persists a status change.
func (s *Store) SetThreadStatus(threadID string, status int) error {
	return s.updateThread(threadID, map[string]interface{}{"status": status})
}

// ScheduleClose sets the scheduled-close fields.
func (s *Store) ScheduleClose(threadID string, at time.Time, byID, byName string, silent bool) error {
	return s.updateThread(threadID, map[string]interface{}{
		"scheduled_close_at":     at,
		"scheduled_close_id":     byID,
		"scheduled_close_name":   byName,
		"scheduled_close_silent": silent,
	})
}

// ClearScheduledClose clears the scheduled-close fields.
func (s *Store) ClearScheduledClose(threadID string) error {
	return s.updateThread(threadID, map[string]interface{}{
		"scheduled_close_at":     nil,
		"scheduled_close_id":     "",
		"scheduled_close_name":   "",
		"scheduled_close_silent": false,
	})
}

// ScheduleSuspend sets the scheduled-suspend fields.
func (s *Store) ScheduleSuspend(threadID string, at time.Time, byID, byName string) error {
	return s.updateThread(threadID, map[string]interface{}{
		"scheduled_suspend_at":   at,
		"scheduled_suspend_id":   byID,
		"scheduled_suspend_name": byName,
	})
}

// ClearScheduledSuspend clears the scheduled-suspend fields.
func (s *Store) ClearScheduledSuspend(threadID string) error {
	return s.updateThread(threadID, map[string]interface{}{
		"scheduled_suspend_at":   nil,
		"scheduled_suspend_id":   "",
		"scheduled_suspend_name": "",
	})
}

// Suspend marks the thread suspended and clears any pending scheduled suspend.
func (s *Store) Suspend(threadID string) error {
	return s.updateThread(threadID, map[string]interface{}{
		"status":                 models.ThreadStatusSuspended,
		"scheduled_suspend_at":   nil,
		"scheduled_suspend_id":   "",
		"scheduled_suspend_name": "",
	})
}

// SetLogStorage memoizes the rendered transcript's storage location.
func (s *Store) SetLogStorage(threadID, storageType, storageData string) error {
	return s.updateThread(threadID, map[string]interface{}{
		"log_storage_type": storageType,
		"log_storage_data": storageData,
	})
}

// ResetThreadID re-keys a thread and cascades the new id to all its
// messages, in one transaction. Returns the new id.
func (s *Store) ResetThreadID(fromID string) (string, error) {
	newID := uuid.NewString()
	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Thread{}).Where("id = ?", fromID).Update("id", newID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Model(&models.ThreadMessage{}).Where("thread_id = ?", fromID).
			Update("thread_id", newID).Error
	})
	if err != nil {
		return "", fmt.Errorf("store: reset thread id %s: %w", fromID, err)
	}
	return newID, nil
}

func (s *Store) oneThread(query string, args ...interface{}) (*models.Thread, error) {
	var thread models.Thread
	err := s.db.Where(query, args...).First(&thread).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: find thread: %w", err)
	}
	return &thread, nil
}

func (s *Store) updateThread(threadID string, fields map[string]interface{}) error {
	res := s.db.Model(&models.Thread{}).Where("id = ?", threadID).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("store: update thread %s: %w", threadID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
