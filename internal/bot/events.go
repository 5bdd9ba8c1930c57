package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/castellan/mailroom/internal/chat"
	"github.com/castellan/mailroom/internal/store"
	"github.com/castellan/mailroom/internal/thread"
)

const eventTimeout = 2 * time.Minute

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	if m.GuildID == "" {
		b.handleUserDM(ctx, m)
		return
	}
	if m.GuildID == b.cfg.InboxServerID {
		b.handleInboxMessage(ctx, m)
	}
}

// handleUserDM relays a user's DM, opening a thread when they have none.
func (b *Bot) handleUserDM(ctx context.Context, m *discordgo.MessageCreate) {
	blocked, err := b.store.IsBlocked(m.Author.ID)
	if err != nil {
		log.Printf("bot: blocked lookup for %s: %v", m.Author.ID, err)
		return
	}
	if blocked {
		return
	}

	if strings.EqualFold(strings.TrimSpace(m.Content), b.cfg.Prefix+"close") {
		t, err := b.manager.CloseByUser(ctx, m.Author.ID)
		if err != nil {
			log.Printf("bot: user close for %s: %v", m.Author.ID, err)
			return
		}
		if t != nil {
			b.postCloseNotice(ctx, t, "the user")
			return
		}
		// User closing is disabled or there is no open thread; the message
		// relays like any other DM.
	}

	userMsg := userMessageFromDiscord(m.Message)

	t, err := b.store.ActiveThreadByUserID(m.Author.ID)
	if errors.Is(err, store.ErrNotFound) {
		user := &chat.User{
			ID:         m.Author.ID,
			Username:   m.Author.Username,
			GlobalName: m.Author.GlobalName,
		}
		if ts, tsErr := discordgo.SnowflakeTimestamp(m.Author.ID); tsErr == nil {
			user.CreatedAt = ts
		}
		t, err = b.manager.CreateNewThreadForUser(ctx, user, thread.CreateOptions{
			Source:  "dm",
			Message: userMsg,
		})
		if errors.Is(err, thread.ErrAlreadyOpen) {
			t, err = b.store.ActiveThreadByUserID(m.Author.ID)
		}
		if err != nil {
			log.Printf("bot: open thread for %s: %v", m.Author.ID, err)
			return
		}
		if t == nil {
			// Declined by a gate or hook.
			return
		}
	} else if err != nil {
		log.Printf("bot: thread lookup for %s: %v", m.Author.ID, err)
		return
	}

	if err := b.manager.ReceiveUserReply(ctx, t, userMsg); err != nil {
		log.Printf("bot: relay message %s: %v", m.ID, err)
	}
}

// handleInboxMessage routes staff channel traffic: commands to the command
// table, everything else into the thread's chat log.
func (b *Bot) handleInboxMessage(ctx context.Context, m *discordgo.MessageCreate) {
	t, err := b.store.ThreadByChannelID(m.ChannelID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Printf("bot: thread lookup for channel %s: %v", m.ChannelID, err)
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		t = nil
	}

	if strings.HasPrefix(m.Content, b.cfg.Prefix) {
		b.dispatchCommand(ctx, t, m)
		return
	}
	if t != nil && t.IsOpen() {
		if err := b.manager.SaveChatMessageToLogs(t, m.Author.ID, m.Author.Username, m.Content, m.ID); err != nil {
			log.Printf("bot: log chat message %s: %v", m.ID, err)
		}
	}
}

func (b *Bot) onMessageUpdate(s *discordgo.Session, m *discordgo.MessageUpdate) {
	if m.Author != nil && m.Author.Bot {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	if m.GuildID == "" {
		row, err := b.store.MessageByDMMessageIDAnyThread(m.ID)
		if err != nil {
			return
		}
		t, err := b.store.ThreadByID(row.ThreadID)
		if err != nil || !t.IsOpen() && !t.IsSuspended() {
			return
		}
		if err := b.manager.SyncUserEdit(ctx, t, m.ID, m.Content); err != nil {
			log.Printf("bot: sync dm edit %s: %v", m.ID, err)
		}
		return
	}
	if m.GuildID == b.cfg.InboxServerID {
		t, err := b.store.ThreadByChannelID(m.ChannelID)
		if err != nil {
			return
		}
		if err := b.manager.UpdateChatMessageInLogs(t, m.ID, m.Content); err != nil {
			log.Printf("bot: sync chat edit %s: %v", m.ID, err)
		}
	}
}

func (b *Bot) onMessageDelete(s *discordgo.Session, m *discordgo.MessageDelete) {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	if m.GuildID == "" {
		row, err := b.store.MessageByDMMessageIDAnyThread(m.ID)
		if err != nil {
			return
		}
		t, err := b.store.ThreadByID(row.ThreadID)
		if err != nil || t.IsClosed() {
			return
		}
		if err := b.manager.SyncUserDelete(ctx, t, m.ID); err != nil {
			log.Printf("bot: sync dm delete %s: %v", m.ID, err)
		}
		return
	}
	if m.GuildID == b.cfg.InboxServerID {
		t, err := b.store.ThreadByChannelID(m.ChannelID)
		if err != nil {
			return
		}
		if err := b.manager.DeleteChatMessageFromLogs(t, m.ID); err != nil {
			log.Printf("bot: sync chat delete %s: %v", m.ID, err)
		}
	}
}

// userMessageFromDiscord converts a gateway message, expanding stickers and
// forwarded snapshots into inline text.
func userMessageFromDiscord(m *discordgo.Message) *chat.UserMessage {
	content := m.Content
	for _, sticker := range m.StickerItems {
		if content != "" {
			content += "\n"
		}
		content += fmt.Sprintf("*Sticker: %s*", sticker.Name)
	}
	for _, snapshot := range m.MessageSnapshots {
		if snapshot.Message == nil {
			continue
		}
		if content != "" {
			content += "\n"
		}
		content += fmt.Sprintf("*Forwarded:*\n> %s",
			strings.ReplaceAll(snapshot.Message.Content, "\n", "\n> "))
	}

	out := &chat.UserMessage{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		AuthorID:  m.Author.ID,
		Content:   content,
	}
	out.AuthorName = m.Author.Username
	out.DisplayName = m.Author.GlobalName
	if m.MessageReference != nil {
		out.ReplyToID = m.MessageReference.MessageID
	}
	if ts, err := discordgo.SnowflakeTimestamp(m.ID); err == nil {
		out.Timestamp = ts
	}
	for _, att := range m.Attachments {
		out.Attachments = append(out.Attachments, chat.Attachment{
			ID:       att.ID,
			URL:      att.URL,
			Filename: att.Filename,
			Size:     int64(att.Size),
		})
	}
	return out
}
