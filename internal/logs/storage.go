package logs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/castellan/mailroom/internal/chat"
	"github.com/castellan/mailroom/internal/config"
	"github.com/castellan/mailroom/internal/models"
	"github.com/castellan/mailroom/internal/store"
)

// Log storage types, memoized on the thread row once a transcript is saved.
const (
	StorageNone       = "none"
	StorageLocal      = "local"
	StorageAttachment = "attachment"
)

// Result is what staff get when they ask for a thread's transcript.
// Exactly one field is set.
type Result struct {
	// URL links to the live or stored transcript.
	URL string
	// File is the transcript as an uploadable file.
	File *chat.File
	// Message explains why no transcript is available.
	Message string
}

// Storage is one transcript storage strategy.
type Storage interface {
	// ShouldSave reports whether the transcript should be persisted now.
	ShouldSave(thread *models.Thread) bool
	// Save persists the rendered transcript and returns the storage data
	// memoized on the thread row.
	Save(ctx context.Context, thread *models.Thread, text string) (string, error)
	// Result turns a thread (and its memoized storage data) into what staff
	// see. text is the freshly rendered transcript for strategies that do
	// not persist.
	Result(thread *models.Thread, text string) (*Result, error)
}

// NewStorage builds the storage strategy named by the config.
func NewStorage(cfg *config.Config) (Storage, error) {
	switch cfg.LogStorage {
	case StorageNone:
		return &NoneStorage{}, nil
	case StorageLocal:
		return &LocalStorage{selfURL: cfg.SelfURL}, nil
	case StorageAttachment:
		return &AttachmentStorage{dir: cfg.LogDir}, nil
	default:
		return nil, fmt.Errorf("logs: unknown log storage %q", cfg.LogStorage)
	}
}

// NoneStorage stores nothing and offers nothing.
type NoneStorage struct{}

func (s *NoneStorage) ShouldSave(*models.Thread) bool { return false }

func (s *NoneStorage) Save(context.Context, *models.Thread, string) (string, error) {
	return "", nil
}

func (s *NoneStorage) Result(*models.Thread, string) (*Result, error) {
	return &Result{Message: "Logs are not stored for this setup"}, nil
}

// LocalStorage serves transcripts live from the database through the web
// server, so nothing is persisted separately.
type LocalStorage struct {
	selfURL func(string) string
}

func (s *LocalStorage) ShouldSave(*models.Thread) bool { return false }

func (s *LocalStorage) Save(context.Context, *models.Thread, string) (string, error) {
	return "", nil
}

func (s *LocalStorage) Result(thread *models.Thread, _ string) (*Result, error) {
	return &Result{URL: s.selfURL("logs/" + thread.ID)}, nil
}

// AttachmentStorage writes the transcript to disk once the thread closes;
// staff receive it as a file upload.
type AttachmentStorage struct {
	dir string
}

func (s *AttachmentStorage) ShouldSave(thread *models.Thread) bool {
	return thread.IsClosed()
}

func (s *AttachmentStorage) Save(_ context.Context, thread *models.Thread, text string) (string, error) {
	filename := fmt.Sprintf("thread-%d.txt", thread.ThreadNumber)
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("logs: mkdir %s: %w", s.dir, err)
	}
	path := filepath.Join(s.dir, filename)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("logs: write %s: %w", path, err)
	}
	return filename, nil
}

func (s *AttachmentStorage) Result(thread *models.Thread, text string) (*Result, error) {
	filename := fmt.Sprintf("thread-%d.txt", thread.ThreadNumber)
	if thread.LogStorageType == StorageAttachment && thread.LogStorageData != "" {
		f, err := os.Open(filepath.Join(s.dir, filepath.Base(thread.LogStorageData)))
		if err != nil {
			return nil, fmt.Errorf("logs: open stored transcript: %w", err)
		}
		return &Result{File: &chat.File{Name: filename, Reader: f}}, nil
	}
	if !thread.IsClosed() {
		return &Result{Message: "Logs are saved when the thread closes"}, nil
	}
	// Closed but not yet saved; render from the database directly.
	return &Result{File: &chat.File{Name: filename, Reader: strings.NewReader(text)}}, nil
}

// Manager ties rendering, the storage strategy, and memoization together.
type Manager struct {
	store   *store.Store
	storage Storage
}

func NewManager(st *store.Store, storage Storage) *Manager {
	return &Manager{store: st, storage: storage}
}

// Link resolves the transcript for a thread, saving it first when the
// strategy wants a persisted copy and none exists yet.
func (m *Manager) Link(ctx context.Context, thread *models.Thread) (*Result, error) {
	text, err := m.render(thread)
	if err != nil {
		return nil, err
	}
	if m.storage.ShouldSave(thread) && thread.LogStorageType == "" {
		if err := m.save(ctx, thread, text); err != nil {
			return nil, err
		}
	}
	return m.storage.Result(thread, text)
}

// SaveOnClose persists the transcript at close time when the strategy
// stores persisted copies.
func (m *Manager) SaveOnClose(ctx context.Context, thread *models.Thread) error {
	if !m.storage.ShouldSave(thread) || thread.LogStorageType != "" {
		return nil
	}
	text, err := m.render(thread)
	if err != nil {
		return err
	}
	return m.save(ctx, thread, text)
}

func (m *Manager) render(thread *models.Thread) (string, error) {
	msgs, err := m.store.MessagesByThread(thread.ID)
	if err != nil {
		return "", err
	}
	return FormatLog(thread, msgs, FormatOptions{}), nil
}

func (m *Manager) save(ctx context.Context, thread *models.Thread, text string) error {
	data, err := m.storage.Save(ctx, thread, text)
	if err != nil {
		return err
	}
	storageType := StorageNone
	switch m.storage.(type) {
	case *LocalStorage:
		storageType = StorageLocal
	case *AttachmentStorage:
		storageType = StorageAttachment
	}
	if err := m.store.SetLogStorage(thread.ID, storageType, data); err != nil {
		return err
	}
	thread.LogStorageType = storageType
	thread.LogStorageData = data
	return nil
}
