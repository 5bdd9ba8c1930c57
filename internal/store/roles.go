package store

import (
	"errors"
	"fmt"

	"github.com/castellan/mailroom/internal/models"
	"gorm.io/gorm"
)

// ModeratorDefaultRoleOverride returns the moderator's default display-role
// override, empty when unset.
func (s *Store) ModeratorDefaultRoleOverride(moderatorID string) (string, error) {
	return s.roleOverride("moderator_id = ? AND thread_id IS NULL", moderatorID)
}

// ModeratorThreadRoleOverride returns the moderator's display-role override
// for one thread, empty when unset.
func (s *Store) ModeratorThreadRoleOverride(moderatorID, threadID string) (string, error) {
	return s.roleOverride("moderator_id = ? AND thread_id = ?", moderatorID, threadID)
}

// SetModeratorDefaultRoleOverride upserts the moderator's default override.
func (s *Store) SetModeratorDefaultRoleOverride(moderatorID, roleID string) error {
	return s.setRoleOverride(moderatorID, nil, roleID)
}

// SetModeratorThreadRoleOverride upserts the moderator's per-thread override.
func (s *Store) SetModeratorThreadRoleOverride(moderatorID, threadID, roleID string) error {
	return s.setRoleOverride(moderatorID, &threadID, roleID)
}

// ResetModeratorDefaultRoleOverride deletes the moderator's default override.
func (s *Store) ResetModeratorDefaultRoleOverride(moderatorID string) error {
	err := s.db.Where("moderator_id = ? AND thread_id IS NULL", moderatorID).
		Delete(&models.ModeratorRoleOverride{}).Error
	if err != nil {
		return fmt.Errorf("store: reset default role override for %s: %w", moderatorID, err)
	}
	return nil
}

// ResetModeratorThreadRoleOverride deletes the moderator's per-thread override.
func (s *Store) ResetModeratorThreadRoleOverride(moderatorID, threadID string) error {
	err := s.db.Where("moderator_id = ? AND thread_id = ?", moderatorID, threadID).
		Delete(&models.ModeratorRoleOverride{}).Error
	if err != nil {
		return fmt.Errorf("store: reset thread role override for %s: %w", moderatorID, err)
	}
	return nil
}

func (s *Store) roleOverride(query string, args ...interface{}) (string, error) {
	var override models.ModeratorRoleOverride
	err := s.db.Where(query, args...).First(&override).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: role override: %w", err)
	}
	return override.RoleID, nil
}

func (s *Store) setRoleOverride(moderatorID string, threadID *string, roleID string) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		scope := tx.Model(&models.ModeratorRoleOverride{}).Where("moderator_id = ?", moderatorID)
		if threadID == nil {
			scope = scope.Where("thread_id IS NULL")
		} else {
			scope = scope.Where("thread_id = ?", *threadID)
		}
		res := scope.Update("role_id", roleID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
		return tx.Create(&models.ModeratorRoleOverride{
			ModeratorID: moderatorID,
			ThreadID:    threadID,
			RoleID:      roleID,
		}).Error
	})
	if err != nil {
		return fmt.Errorf("store: set role override for %s: %w", moderatorID, err)
	}
	return nil
}
