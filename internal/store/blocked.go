package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/castellan/mailroom/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IsBlocked reports whether the user's DMs are currently blocked.
// Expired blocks are treated as absent but not deleted here.
func (s *Store) IsBlocked(userID string) (bool, error) {
	var block models.BlockedUser
	err := s.db.Where("user_id = ?", userID).First(&block).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: blocked lookup for %s: %w", userID, err)
	}
	if block.ExpiresAt != nil && block.ExpiresAt.Before(time.Now()) {
		return false, nil
	}
	return true, nil
}

// Block records a user block, replacing any existing one.
func (s *Store) Block(userID, userName, blockedBy string, expiresAt *time.Time) error {
	block := models.BlockedUser{
		UserID:    userID,
		UserName:  userName,
		BlockedBy: blockedBy,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_name", "blocked_by", "expires_at"}),
	}).Create(&block).Error
	if err != nil {
		return fmt.Errorf("store: block %s: %w", userID, err)
	}
	return nil
}

// Unblock removes a user block. Unblocking a user who is not blocked is not
// an error.
func (s *Store) Unblock(userID string) error {
	err := s.db.Where("user_id = ?", userID).Delete(&models.BlockedUser{}).Error
	if err != nil {
		return fmt.Errorf("store: unblock %s: %w", userID, err)
	}
	return nil
}
