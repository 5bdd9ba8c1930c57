// Package thread implements the relay core: thread lifecycle, serialized
// creation, the bidirectional message relay, and reply editing.
package thread

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/castellan/mailroom/internal/attachments"
	"github.com/castellan/mailroom/internal/chat"
	"github.com/castellan/mailroom/internal/config"
	"github.com/castellan/mailroom/internal/hooks"
	"github.com/castellan/mailroom/internal/models"
	"github.com/castellan/mailroom/internal/store"
)

// Manager coordinates threads end to end. All staff commands and platform
// events funnel into it.
type Manager struct {
	cfg         *config.Config
	store       *store.Store
	messenger   chat.Messenger
	hooks       *hooks.Registry
	attachments attachments.Storage
	downloader  *attachments.Downloader
	serializer  *Serializer

	autoAlertDelay time.Duration
}

// NewManager wires the relay core together.
func NewManager(cfg *config.Config, st *store.Store, messenger chat.Messenger,
	registry *hooks.Registry, attStorage attachments.Storage) *Manager {

	delay, err := time.ParseDuration(cfg.AutoAlertDelay)
	if err != nil || delay <= 0 {
		delay = 2 * time.Minute
	}
	return &Manager{
		cfg:            cfg,
		store:          st,
		messenger:      messenger,
		hooks:          registry,
		attachments:    attStorage,
		downloader:     attachments.NewDownloader(),
		serializer:     NewSerializer(),
		autoAlertDelay: delay,
	}
}

// Store exposes the backing store for command handlers.
func (m *Manager) Store() *store.Store { return m.store }

// Hooks exposes the hook registry for extension points.
func (m *Manager) Hooks() *hooks.Registry { return m.hooks }

// Shutdown stops the creation serializer.
func (m *Manager) Shutdown() {
	m.serializer.Close()
}

// PostSystemMessage posts an informational message in the staff channel and
// records a System row.
func (m *Manager) PostSystemMessage(ctx context.Context, thread *models.Thread, body string) error {
	sent, err := m.messenger.SendChannel(ctx, thread.ChannelID, chat.Outgoing{Content: body})
	if err != nil {
		return fmt.Errorf("thread: post system message: %w", err)
	}
	msg := &models.ThreadMessage{
		ThreadID:       thread.ID,
		MessageType:    models.MessageTypeSystem,
		Body:           body,
		InboxMessageID: sent.ID,
	}
	return m.store.CreateMessage(msg)
}

// SendSystemMessageToUser DMs the user, echoes the message in the staff
// channel, and records a SystemToUser row.
func (m *Manager) SendSystemMessageToUser(ctx context.Context, thread *models.Thread, body string) error {
	dm, err := m.messenger.SendDM(ctx, thread.UserID, chat.Outgoing{Content: body})
	if err != nil {
		return &DeliveryError{Direction: "dm", Err: err}
	}
	sent, err := m.messenger.SendChannel(ctx, thread.ChannelID, chat.Outgoing{
		Content: formatSystemToUserChannel(body),
	})
	if err != nil {
		log.Printf("thread: echo system message to channel %s: %v", thread.ChannelID, err)
	}
	msg := &models.ThreadMessage{
		ThreadID:    thread.ID,
		MessageType: models.MessageTypeSystemToUser,
		Body:        body,
		DMMessageID: dm.ID,
		DMChannelID: dm.ChannelID,
	}
	if sent != nil {
		msg.InboxMessageID = sent.ID
	}
	return m.store.CreateMessage(msg)
}

// SaveChatMessageToLogs records ordinary staff channel chatter.
func (m *Manager) SaveChatMessageToLogs(thread *models.Thread, authorID, authorName, body, messageID string) error {
	return m.store.CreateMessage(&models.ThreadMessage{
		ThreadID:    thread.ID,
		MessageType: models.MessageTypeChat,
		UserID:      authorID,
		UserName:    authorName,
		Body:        body,
		DMMessageID: messageID,
	})
}

// SaveCommandMessageToLogs records a staff command invocation.
func (m *Manager) SaveCommandMessageToLogs(thread *models.Thread, authorID, authorName, body, messageID string) error {
	return m.store.CreateMessage(&models.ThreadMessage{
		ThreadID:    thread.ID,
		MessageType: models.MessageTypeCommand,
		UserID:      authorID,
		UserName:    authorName,
		Body:        body,
		DMMessageID: messageID,
	})
}

// UpdateChatMessageInLogs syncs an edited staff chat message.
func (m *Manager) UpdateChatMessageInLogs(thread *models.Thread, messageID, body string) error {
	return m.store.UpdateChatMessageBody(thread.ID, messageID, body)
}

// DeleteChatMessageFromLogs syncs a deleted staff chat message.
func (m *Manager) DeleteChatMessageFromLogs(thread *models.Thread, messageID string) error {
	return m.store.DeleteChatMessage(thread.ID, messageID)
}

// cancelScheduledCloseOnActivity clears a pending scheduled close because
// the thread saw new activity, posting a notice that pings the scheduler.
func (m *Manager) cancelScheduledCloseOnActivity(ctx context.Context, thread *models.Thread) {
	if thread.ScheduledCloseAt == nil {
		return
	}
	if err := m.store.ClearScheduledClose(thread.ID); err != nil {
		log.Printf("thread: clear scheduled close for %s: %v", thread.ID, err)
		return
	}
	notice := fmt.Sprintf("<@!%s> %s", thread.ScheduledCloseID,
		formatScheduledCloseCancelNotice(thread.ScheduledCloseName, *thread.ScheduledCloseAt))
	sent, err := m.messenger.SendChannel(ctx, thread.ChannelID, chat.Outgoing{
		Content:        notice,
		MentionUserIDs: []string{thread.ScheduledCloseID},
	})
	if err != nil {
		log.Printf("thread: scheduled close cancel notice for %s: %v", thread.ID, err)
	} else if err := m.store.CreateMessage(&models.ThreadMessage{
		ThreadID:       thread.ID,
		MessageType:    models.MessageTypeSystem,
		Body:           notice,
		InboxMessageID: sent.ID,
	}); err != nil {
		log.Printf("thread: record cancel notice for %s: %v", thread.ID, err)
	}
	thread.ScheduledCloseAt = nil
	thread.ScheduledCloseID = ""
	thread.ScheduledCloseName = ""
	thread.ScheduledCloseSilent = false

	ev := &hooks.ThreadEvent{Thread: thread}
	if err := m.hooks.RunAfterThreadCloseScheduleCanceled(ctx, ev); err != nil {
		log.Printf("thread: schedule-canceled hooks for %s: %v", thread.ID, err)
	}
}
