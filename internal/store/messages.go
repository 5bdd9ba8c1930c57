package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/castellan/mailroom/internal/models"
	"gorm.io/gorm"
)

// CreateMessage persists a thread message.
func (s *Store) CreateMessage(msg *models.ThreadMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if err := s.db.Create(msg).Error; err != nil {
		return fmt.Errorf("store: create message in thread %s: %w", msg.ThreadID, err)
	}
	return nil
}

// DeleteMessage removes a thread message by row id.
func (s *Store) DeleteMessage(id uint) error {
	res := s.db.Delete(&models.ThreadMessage{}, id)
	if res.Error != nil {
		return fmt.Errorf("store: delete message %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateMessageBody mutates a message's body. Used by the live edit sync
// path and by staff reply edits.
func (s *Store) UpdateMessageBody(id uint, body string) error {
	res := s.db.Model(&models.ThreadMessage{}).Where("id = ?", id).Update("body", body)
	if res.Error != nil {
		return fmt.Errorf("store: update message %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetMessageInboxID records the staff-channel copy's id on a message after
// the mirror send succeeds.
func (s *Store) SetMessageInboxID(id uint, inboxMessageID string) error {
	res := s.db.Model(&models.ThreadMessage{}).Where("id = ?", id).
		Update("inbox_message_id", inboxMessageID)
	if res.Error != nil {
		return fmt.Errorf("store: set inbox id on message %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetMessageSendIDs records both sides' message ids on a reply row once
// delivery has succeeded.
func (s *Store) SetMessageSendIDs(id uint, dmMessageID, dmChannelID, inboxMessageID string) error {
	res := s.db.Model(&models.ThreadMessage{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"dm_message_id":    dmMessageID,
			"dm_channel_id":    dmChannelID,
			"inbox_message_id": inboxMessageID,
		})
	if res.Error != nil {
		return fmt.Errorf("store: set send ids on message %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MessagesByThread returns all messages of a thread in creation order.
func (s *Store) MessagesByThread(threadID string) ([]models.ThreadMessage, error) {
	var msgs []models.ThreadMessage
	err := s.db.Where("thread_id = ?", threadID).
		Order("created_at ASC, id ASC").Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("store: messages for thread %s: %w", threadID, err)
	}
	return msgs, nil
}

// MessageByNumber returns the ToUser message with the given reply number.
func (s *Store) MessageByNumber(threadID string, number int) (*models.ThreadMessage, error) {
	return s.oneMessage("thread_id = ? AND message_number = ? AND message_type = ?",
		threadID, number, models.MessageTypeToUser)
}

// MessageByDMMessageID resolves a user-side message id within a thread.
// This is the edit/delete correlation lookup: (thread_id, dm_message_id)
// identifies at most one message.
func (s *Store) MessageByDMMessageID(threadID, dmMessageID string) (*models.ThreadMessage, error) {
	return s.oneMessage("thread_id = ? AND dm_message_id = ?", threadID, dmMessageID)
}

// MessageByDMMessageIDAnyThread resolves a user-side message id without
// knowing the thread, for DM edit and delete events that do not carry the
// author.
func (s *Store) MessageByDMMessageIDAnyThread(dmMessageID string) (*models.ThreadMessage, error) {
	return s.oneMessage("dm_message_id = ?", dmMessageID)
}

// MessageByEitherSideID resolves a message by its id on either side of the
// relay. Used for reply-to correlation, where the referenced message may be
// the user's own or a mirrored one.
func (s *Store) MessageByEitherSideID(threadID, messageID string) (*models.ThreadMessage, error) {
	return s.oneMessage("thread_id = ? AND (dm_message_id = ? OR inbox_message_id = ?)",
		threadID, messageID, messageID)
}

// LatestUserFacingMessage returns the newest FromUser/ToUser/SystemToUser
// message, used as the cursor for downtime recovery.
func (s *Store) LatestUserFacingMessage(threadID string) (*models.ThreadMessage, error) {
	var msg models.ThreadMessage
	err := s.db.Where("thread_id = ? AND message_type IN ?", threadID, []int{
		models.MessageTypeFromUser,
		models.MessageTypeToUser,
		models.MessageTypeSystemToUser,
	}).Order("created_at DESC, id DESC").First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: latest user-facing message for %s: %w", threadID, err)
	}
	return &msg, nil
}

// UpdateChatMessageBody syncs an edited staff chat message into the log.
func (s *Store) UpdateChatMessageBody(threadID, dmMessageID, body string) error {
	err := s.db.Model(&models.ThreadMessage{}).
		Where("thread_id = ? AND dm_message_id = ?", threadID, dmMessageID).
		Update("body", body).Error
	if err != nil {
		return fmt.Errorf("store: update chat message in %s: %w", threadID, err)
	}
	return nil
}

// DeleteChatMessage removes a deleted staff chat message from the log.
func (s *Store) DeleteChatMessage(threadID, dmMessageID string) error {
	err := s.db.Where("thread_id = ? AND dm_message_id = ?", threadID, dmMessageID).
		Delete(&models.ThreadMessage{}).Error
	if err != nil {
		return fmt.Errorf("store: delete chat message in %s: %w", threadID, err)
	}
	return nil
}

func (s *Store) oneMessage(query string, args ...interface{}) (*models.ThreadMessage, error) {
	var msg models.ThreadMessage
	err := s.db.Where(query, args...).First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: find message: %w", err)
	}
	return &msg, nil
}
