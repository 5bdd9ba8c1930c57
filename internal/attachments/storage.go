package attachments

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/castellan/mailroom/internal/chat"
	"github.com/castellan/mailroom/internal/config"
)

// NewStorage builds the storage strategy named by the config.
func NewStorage(cfg *config.Config, messenger chat.Messenger) (Storage, error) {
	switch cfg.AttachmentStorage {
	case "original":
		return &OriginalStorage{}, nil
	case "local":
		return NewLocalStorage(cfg), nil
	case "channel":
		return NewChannelStorage(cfg.AttachmentStorageChannelID, messenger), nil
	default:
		return nil, fmt.Errorf("attachments: unknown storage type %q", cfg.AttachmentStorage)
	}
}

// OriginalStorage links the platform-hosted attachment directly. Links die
// when the user deletes the DM, which is acceptable for low-stakes setups.
type OriginalStorage struct{}

func (s *OriginalStorage) SaveAttachment(_ context.Context, att chat.Attachment) (string, error) {
	return att.URL, nil
}

// LocalStorage downloads attachments to a local directory and serves them
// through the built-in web server.
type LocalStorage struct {
	dir        string
	selfURL    func(string) string
	downloader *Downloader
}

func NewLocalStorage(cfg *config.Config) *LocalStorage {
	return &LocalStorage{
		dir:        cfg.AttachmentDir,
		selfURL:    cfg.SelfURL,
		downloader: NewDownloader(),
	}
}

func (s *LocalStorage) SaveAttachment(ctx context.Context, att chat.Attachment) (string, error) {
	return s.downloader.single(att.ID, func() (string, error) {
		url := s.selfURL(fmt.Sprintf("attachments/%s/%s", att.ID, att.Filename))
		path := filepath.Join(s.dir, att.ID, att.Filename)
		if _, err := os.Stat(path); err == nil {
			return url, nil
		}

		body, err := s.downloader.Fetch(ctx, att.URL)
		if err != nil {
			return "", err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", fmt.Errorf("attachments: mkdir for %s: %w", att.ID, err)
		}
		if err := os.WriteFile(path, body, 0o644); err != nil {
			return "", fmt.Errorf("attachments: write %s: %w", path, err)
		}
		return url, nil
	})
}

// Open returns the stored file for serving. Used by the web server.
func (s *LocalStorage) Open(id, filename string) (*os.File, error) {
	f, err := os.Open(filepath.Join(s.dir, id, filepath.Base(filename)))
	if err != nil {
		return nil, fmt.Errorf("attachments: open %s/%s: %w", id, filename, err)
	}
	return f, nil
}

// ChannelStorage re-uploads attachments to a storage channel and links the
// rehosted copy. The copy persists for as long as the storage channel does.
type ChannelStorage struct {
	channelID  string
	messenger  chat.Messenger
	downloader *Downloader
}

func NewChannelStorage(channelID string, messenger chat.Messenger) *ChannelStorage {
	return &ChannelStorage{
		channelID:  channelID,
		messenger:  messenger,
		downloader: NewDownloader(),
	}
}

func (s *ChannelStorage) SaveAttachment(ctx context.Context, att chat.Attachment) (string, error) {
	return s.downloader.single(att.ID, func() (string, error) {
		body, err := s.downloader.Fetch(ctx, att.URL)
		if err != nil {
			return "", err
		}
		sent, err := s.messenger.SendChannel(ctx, s.channelID, chat.Outgoing{
			Files: []chat.File{{Name: att.Filename, Reader: bytes.NewReader(body)}},
		})
		if err != nil {
			return "", fmt.Errorf("attachments: rehost %s: %w", att.ID, err)
		}
		if len(sent.Attachments) == 0 {
			return "", fmt.Errorf("attachments: rehost %s: no attachment in response", att.ID)
		}
		return sent.Attachments[0].URL, nil
	})
}
