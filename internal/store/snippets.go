package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/castellan/mailroom/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Triggers are stored lowercased so lookups are case-insensitive without
// touching the column in SQL ("trigger" is a reserved word on both
// backends, so conditions go through gorm's identifier quoting).

// AllSnippets returns every snippet, ordered by trigger.
func (s *Store) AllSnippets() ([]models.Snippet, error) {
	var snippets []models.Snippet
	err := s.db.Order(clause.OrderByColumn{Column: clause.Column{Name: "trigger"}}).
		Find(&snippets).Error
	if err != nil {
		return nil, fmt.Errorf("store: snippets: %w", err)
	}
	return snippets, nil
}

// SnippetByTrigger looks up a snippet, matching the trigger case-insensitively.
func (s *Store) SnippetByTrigger(trigger string) (*models.Snippet, error) {
	var snippet models.Snippet
	err := s.db.Where(map[string]interface{}{"trigger": strings.ToLower(trigger)}).
		First(&snippet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: snippet %q: %w", trigger, err)
	}
	return &snippet, nil
}

// CreateSnippet adds a snippet. Fails if the trigger already exists.
func (s *Store) CreateSnippet(trigger, body, createdBy string) (*models.Snippet, error) {
	snippet := models.Snippet{
		Trigger:   strings.ToLower(trigger),
		Body:      body,
		CreatedBy: createdBy,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.Create(&snippet).Error; err != nil {
		return nil, fmt.Errorf("store: create snippet %q: %w", trigger, err)
	}
	return &snippet, nil
}

// DeleteSnippet removes a snippet by trigger.
func (s *Store) DeleteSnippet(trigger string) error {
	res := s.db.Where(map[string]interface{}{"trigger": strings.ToLower(trigger)}).
		Delete(&models.Snippet{})
	if res.Error != nil {
		return fmt.Errorf("store: delete snippet %q: %w", trigger, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
