package thread

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/castellan/mailroom/internal/chat"
	"github.com/castellan/mailroom/internal/hooks"
	"github.com/castellan/mailroom/internal/metrics"
	"github.com/castellan/mailroom/internal/models"
)

// Replier identifies the staff member sending a reply.
type Replier struct {
	ID   string
	Name string
}

// ReceiveUserReply relays an inbound user DM into the thread's staff
// channel and records it. The row is persisted before the channel send, so
// a delivery failure never loses the user's message.
func (m *Manager) ReceiveUserReply(ctx context.Context, thread *models.Thread, userMsg *chat.UserMessage) error {
	ev := &hooks.MessageEvent{Thread: thread, Message: userMsg}
	if err := m.hooks.RunBeforeNewMessageReceived(ctx, ev); err != nil {
		return fmt.Errorf("thread: before-message hooks: %w", err)
	}
	if ev.Cancel {
		return nil
	}

	attachmentURLs, smallFiles, smallURLs := m.collectAttachments(ctx, userMsg.Attachments)

	createdAt := userMsg.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	msg := &models.ThreadMessage{
		ThreadID:    thread.ID,
		MessageType: models.MessageTypeFromUser,
		UserID:      userMsg.AuthorID,
		UserName:    userMsg.AuthorName,
		Body:        userMsg.Content,
		DMMessageID: userMsg.ID,
		DMChannelID: userMsg.ChannelID,
		CreatedAt:   createdAt,
	}
	msg.SetAttachments(attachmentURLs)
	msg.SetSmallAttachments(smallURLs)
	if err := m.store.CreateMessage(msg); err != nil {
		return err
	}

	out := chat.Outgoing{Files: smallFiles}
	if m.cfg.RelayInlineReplies && userMsg.ReplyToID != "" {
		if ref, err := m.store.MessageByEitherSideID(thread.ID, userMsg.ReplyToID); err == nil && ref.InboxMessageID != "" {
			out.ReplyToID = ref.InboxMessageID
		}
	}

	rendered := formatUserReplyChannel(msg, m.cfg.ThreadTimestamps)
	sent, err := m.sendChunked(ctx, thread.ChannelID, rendered, out)
	if err != nil {
		metrics.DeliveryFailures.WithLabelValues(metrics.DirectionToStaff).Inc()
		if errors.Is(err, chat.ErrChannelNotFound) {
			// The staff channel is gone; the thread cannot continue.
			log.Printf("thread: channel %s gone, closing thread %s", thread.ChannelID, thread.ID)
			if closeErr := m.Close(ctx, thread, "", true); closeErr != nil {
				log.Printf("thread: auto-close %s: %v", thread.ID, closeErr)
			}
		}
		return &DeliveryError{Direction: "inbox", Err: err}
	}
	if err := m.store.SetMessageInboxID(msg.ID, sent.ID); err != nil {
		log.Printf("thread: record inbox id for message %d: %v", msg.ID, err)
	}
	msg.InboxMessageID = sent.ID
	metrics.MessagesRelayed.WithLabelValues(metrics.DirectionToStaff).Inc()

	if m.cfg.ReactOnSeen {
		emoji := m.cfg.ReactOnSeenEmoji
		if emoji == "" {
			emoji = "📨"
		}
		if err := m.messenger.AddReaction(ctx, userMsg.ChannelID, userMsg.ID, emoji); err != nil {
			log.Printf("thread: seen reaction on %s: %v", userMsg.ID, err)
		}
	}

	m.cancelScheduledCloseOnActivity(ctx, thread)
	m.mentionAlerts(ctx, thread)

	if err := m.hooks.RunAfterNewMessageReceived(ctx, &hooks.MessageEvent{Thread: thread, Message: userMsg}); err != nil {
		log.Printf("thread: after-message hooks for %s: %v", thread.ID, err)
	}
	return nil
}

// ReplyToUser sends a staff reply to the user and mirrors it into the staff
// channel. Attachments are rehosted and re-sent as files on both sides.
// Nothing is persisted when validation fails or the DM cannot be delivered.
func (m *Manager) ReplyToUser(ctx context.Context, thread *models.Thread, replier Replier, body string, anonymous bool, atts []chat.Attachment) (*models.ThreadMessage, error) {
	if thread.IsSuspended() {
		return nil, ErrSuspended
	}

	body, err := m.expandInlineSnippets(body)
	if err != nil {
		return nil, err
	}

	name := replier.Name
	if m.cfg.BreakFormattingForNames {
		name = escapeMarkdown(name)
	}

	roleName, err := m.resolveDisplayRole(ctx, thread, replier.ID)
	if err != nil {
		log.Printf("thread: resolve display role for %s: %v", replier.ID, err)
		roleName = m.cfg.FallbackRoleName
	}

	msg := &models.ThreadMessage{
		ThreadID:    thread.ID,
		MessageType: models.MessageTypeToUser,
		UserID:      replier.ID,
		UserName:    name,
		RoleName:    roleName,
		IsAnonymous: anonymous,
		Body:        body,
		// Stale counter read, used only to size the number prefix for the
		// length check. The real number is allocated after validation.
		MessageNumber: thread.NextMessageNumber,
	}
	if len(formatStaffReplyDM(msg)) > chat.MaxMessageLength ||
		len(formatStaffReplyChannel(msg)) > chat.MaxMessageLength {
		return nil, validationErrorf("reply is too long to send (max %d characters)", chat.MaxMessageLength)
	}

	attachmentURLs, payloads, err := m.prepareReplyAttachments(ctx, atts)
	if err != nil {
		return nil, err
	}
	msg.SetAttachments(attachmentURLs)

	number, err := m.store.NextMessageNumber(thread.ID)
	if err != nil {
		return nil, err
	}
	msg.MessageNumber = number

	if err := m.store.CreateMessage(msg); err != nil {
		return nil, err
	}

	dm, err := m.messenger.SendDM(ctx, thread.UserID, chat.Outgoing{
		Content: formatStaffReplyDM(msg),
		Files:   replyFiles(payloads),
	})
	if err != nil {
		// Roll back so no row references a reply the user never got.
		if delErr := m.store.DeleteMessage(msg.ID); delErr != nil {
			log.Printf("thread: roll back reply %d: %v", msg.ID, delErr)
		}
		metrics.DeliveryFailures.WithLabelValues(metrics.DirectionToUser).Inc()
		if sysErr := m.PostSystemMessage(ctx, thread, fmt.Sprintf("Error while replying to user: %v", err)); sysErr != nil {
			log.Printf("thread: dm failure notice for %s: %v", thread.ID, sysErr)
		}
		return nil, &DeliveryError{Direction: "dm", Err: err}
	}

	sent, err := m.messenger.SendChannel(ctx, thread.ChannelID, chat.Outgoing{
		Content: formatStaffReplyChannel(msg),
		Files:   replyFiles(payloads),
	})
	if err != nil {
		// The user already has the reply; keep the row and log the miss.
		log.Printf("thread: mirror reply %d to channel %s: %v", msg.MessageNumber, thread.ChannelID, err)
	}

	inboxID := ""
	if sent != nil {
		inboxID = sent.ID
	}
	if err := m.store.SetMessageSendIDs(msg.ID, dm.ID, dm.ChannelID, inboxID); err != nil {
		log.Printf("thread: record send ids for message %d: %v", msg.ID, err)
	}
	msg.DMMessageID = dm.ID
	msg.DMChannelID = dm.ChannelID
	msg.InboxMessageID = inboxID
	metrics.MessagesRelayed.WithLabelValues(metrics.DirectionToUser).Inc()

	m.cancelScheduledCloseOnActivity(ctx, thread)
	m.armAutoAlert(thread.ID, replier.ID)
	return msg, nil
}

// resolveDisplayRole picks the role label shown on a staff reply:
// a global display override wins; otherwise thread override, then the
// moderator's default override, then their highest hoisted role, then the
// configured fallback.
func (m *Manager) resolveDisplayRole(ctx context.Context, thread *models.Thread, moderatorID string) (string, error) {
	if m.cfg.OverrideRoleNameDisplay != "" {
		return m.cfg.OverrideRoleNameDisplay, nil
	}

	roleID, err := m.store.ModeratorThreadRoleOverride(moderatorID, thread.ID)
	if err != nil {
		return "", err
	}
	if roleID == "" {
		roleID, err = m.store.ModeratorDefaultRoleOverride(moderatorID)
		if err != nil {
			return "", err
		}
	}
	if roleID != "" {
		name, err := m.messenger.RoleName(ctx, m.cfg.InboxServerID, roleID)
		if err != nil {
			return "", err
		}
		if name != "" {
			return name, nil
		}
	}

	name, err := m.messenger.HighestHoistedRoleName(ctx, m.cfg.InboxServerID, moderatorID)
	if err != nil {
		return "", err
	}
	if name != "" {
		return name, nil
	}
	return m.cfg.FallbackRoleName, nil
}

// replyAttachment is a staff attachment prepared for re-sending: rehosted,
// downloaded, and ready to ride both the DM and the mirror as a file.
type replyAttachment struct {
	name string
	data []byte
}

// prepareReplyAttachments rehosts staff reply attachments and downloads
// their contents. Any failure aborts the reply.
func (m *Manager) prepareReplyAttachments(ctx context.Context, atts []chat.Attachment) ([]string, []replyAttachment, error) {
	var urls []string
	var payloads []replyAttachment
	for _, att := range atts {
		url, err := m.attachments.SaveAttachment(ctx, att)
		if err != nil {
			return nil, nil, fmt.Errorf("thread: save reply attachment %s: %w", att.ID, err)
		}
		data, err := m.downloader.Fetch(ctx, att.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("thread: fetch reply attachment %s: %w", att.ID, err)
		}
		urls = append(urls, url)
		payloads = append(payloads, replyAttachment{name: att.Filename, data: data})
	}
	return urls, payloads, nil
}

// replyFiles builds a fresh file list. Each send needs its own readers.
func replyFiles(payloads []replyAttachment) []chat.File {
	var files []chat.File
	for _, p := range payloads {
		files = append(files, chat.File{Name: p.name, Reader: bytes.NewReader(p.data)})
	}
	return files
}

// collectAttachments rehosts big attachments into durable URLs and
// downloads small ones for re-upload alongside the relayed message.
func (m *Manager) collectAttachments(ctx context.Context, atts []chat.Attachment) ([]string, []chat.File, []string) {
	var urls []string
	var files []chat.File
	var smallURLs []string
	for _, att := range atts {
		if m.cfg.RelaySmallAttachmentsAsAttachments && att.Size <= m.cfg.SmallAttachmentLimit {
			body, err := m.downloader.Fetch(ctx, att.URL)
			if err == nil {
				files = append(files, chat.File{Name: att.Filename, Reader: bytes.NewReader(body)})
				smallURLs = append(smallURLs, att.URL)
				continue
			}
			log.Printf("thread: small attachment %s: %v", att.ID, err)
		}
		url, err := m.attachments.SaveAttachment(ctx, att)
		if err != nil {
			log.Printf("thread: save attachment %s: %v", att.ID, err)
			url = att.URL
		}
		urls = append(urls, url)
	}
	return urls, files, smallURLs
}

// sendChunked splits content across as many messages as needed. Files,
// embeds, and the reply reference ride the final chunk so they land after
// the text, except the reply reference which marks the first chunk.
func (m *Manager) sendChunked(ctx context.Context, channelID, content string, out chat.Outgoing) (*chat.Sent, error) {
	chunks := chunkMessage(content)
	var first *chat.Sent
	for i, chunk := range chunks {
		chunkOut := chat.Outgoing{Content: chunk}
		if i == 0 {
			chunkOut.ReplyToID = out.ReplyToID
			chunkOut.FailIfNoReply = out.FailIfNoReply
		}
		if i == len(chunks)-1 {
			chunkOut.Files = out.Files
			chunkOut.Embeds = out.Embeds
		}
		sent, err := m.messenger.SendChannel(ctx, channelID, chunkOut)
		if err != nil {
			return nil, err
		}
		if first == nil {
			first = sent
		}
	}
	return first, nil
}

// mentionAlerts pings and clears the thread's queued alert set. The ping is
// recorded so transcripts show who was alerted and when.
func (m *Manager) mentionAlerts(ctx context.Context, thread *models.Thread) {
	ids := thread.AlertIDList()
	if len(ids) == 0 {
		return
	}
	var mentions []string
	for _, id := range ids {
		mentions = append(mentions, fmt.Sprintf("<@!%s>", id))
	}
	content := fmt.Sprintf("%s New message from %s", strings.Join(mentions, " "), escapeMarkdown(thread.UserName))
	sent, err := m.messenger.SendChannel(ctx, thread.ChannelID, chat.Outgoing{
		Content:        content,
		MentionUserIDs: ids,
	})
	if err != nil {
		log.Printf("thread: alert mention in %s: %v", thread.ChannelID, err)
		return
	}
	if err := m.store.CreateMessage(&models.ThreadMessage{
		ThreadID:       thread.ID,
		MessageType:    models.MessageTypeSystem,
		Body:           content,
		InboxMessageID: sent.ID,
	}); err != nil {
		log.Printf("thread: record alert mention for %s: %v", thread.ID, err)
	}
	if err := m.store.ClearAlerts(thread.ID); err != nil {
		log.Printf("thread: clear alerts for %s: %v", thread.ID, err)
	}
	thread.AlertIDs = ""
}

// armAutoAlert adds the replying moderator to the alert set after the
// configured delay, if the thread is still open by then.
func (m *Manager) armAutoAlert(threadID, moderatorID string) {
	if !m.cfg.AutoAlert {
		return
	}
	time.AfterFunc(m.autoAlertDelay, func() {
		thread, err := m.store.ThreadByID(threadID)
		if err != nil || !thread.IsOpen() {
			return
		}
		if err := m.store.AddAlert(threadID, moderatorID); err != nil {
			log.Printf("thread: auto-alert for %s: %v", threadID, err)
		}
	})
}
