package store

import (
	"fmt"
	"strings"

	"github.com/castellan/mailroom/internal/models"
	"gorm.io/gorm"
)

// AddAlert adds a moderator to the thread's alert set. Idempotent.
func (s *Store) AddAlert(threadID, userID string) error {
	return s.mutateAlerts(threadID, func(ids []string) []string {
		for _, id := range ids {
			if id == userID {
				return ids
			}
		}
		return append(ids, userID)
	})
}

// RemoveAlert removes a moderator from the thread's alert set. Idempotent.
func (s *Store) RemoveAlert(threadID, userID string) error {
	return s.mutateAlerts(threadID, func(ids []string) []string {
		out := ids[:0]
		for _, id := range ids {
			if id != userID {
				out = append(out, id)
			}
		}
		return out
	})
}

// ClearAlerts empties the thread's alert set.
func (s *Store) ClearAlerts(threadID string) error {
	return s.mutateAlerts(threadID, func([]string) []string { return nil })
}

// mutateAlerts applies fn to the CSV alert set inside a transaction so
// concurrent add/remove calls cannot drop each other's updates.
func (s *Store) mutateAlerts(threadID string, fn func([]string) []string) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var thread models.Thread
		if err := tx.Select("alert_ids").Where("id = ?", threadID).First(&thread).Error; err != nil {
			return err
		}
		var ids []string
		if thread.AlertIDs != "" {
			ids = strings.Split(thread.AlertIDs, ",")
		}
		updated := fn(ids)
		return tx.Model(&models.Thread{}).Where("id = ?", threadID).
			Update("alert_ids", strings.Join(updated, ",")).Error
	})
	if err != nil {
		return fmt.Errorf("store: update alerts for %s: %w", threadID, err)
	}
	return nil
}
