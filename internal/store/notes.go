package store

import (
	"fmt"
	"time"

	"github.com/castellan/mailroom/internal/models"
)

// NotesByUserID returns a user's notes, oldest first.
func (s *Store) NotesByUserID(userID string) ([]models.Note, error) {
	var notes []models.Note
	err := s.db.Where("user_id = ?", userID).Order("created_at ASC").Find(&notes).Error
	if err != nil {
		return nil, fmt.Errorf("store: notes for %s: %w", userID, err)
	}
	return notes, nil
}

// NoteCountByUserID counts a user's notes, shown in the thread info header.
func (s *Store) NoteCountByUserID(userID string) (int64, error) {
	var count int64
	err := s.db.Model(&models.Note{}).Where("user_id = ?", userID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("store: note count for %s: %w", userID, err)
	}
	return count, nil
}

// CreateNote adds a moderator note for a user.
func (s *Store) CreateNote(userID, authorID, authorName, body string) (*models.Note, error) {
	note := models.Note{
		UserID:     userID,
		AuthorID:   authorID,
		AuthorName: authorName,
		Body:       body,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.db.Create(&note).Error; err != nil {
		return nil, fmt.Errorf("store: create note for %s: %w", userID, err)
	}
	return &note, nil
}

// DeleteNote removes a note by id.
func (s *Store) DeleteNote(id uint) error {
	res := s.db.Delete(&models.Note{}, id)
	if res.Error != nil {
		return fmt.Errorf("store: delete note %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
