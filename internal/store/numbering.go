package store

import (
	"errors"
	"fmt"

	"github.com/castellan/mailroom/internal/models"
	"gorm.io/gorm"
)

// NextMessageNumber allocates the next staff reply number for a thread.
// The read and increment run in one transaction so two moderators replying
// concurrently never receive the same number. Numbers start at 1 and are
// assigned only to replies that will actually be sent; a failed send rolls
// back the reply row but not the number, so gaps are possible and fine.
func (s *Store) NextMessageNumber(threadID string) (int, error) {
	var number int
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var thread models.Thread
		err := tx.Select("next_message_number").Where("id = ?", threadID).First(&thread).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		number = thread.NextMessageNumber
		return tx.Model(&models.Thread{}).Where("id = ?", threadID).
			Update("next_message_number", number+1).Error
	})
	if err != nil {
		return 0, fmt.Errorf("store: next message number for %s: %w", threadID, err)
	}
	return number, nil
}
