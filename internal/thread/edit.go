package thread

import (
	"context"
	"log"

	"github.com/castellan/mailroom/internal/chat"
	"github.com/castellan/mailroom/internal/models"
)

// EditStaffReply edits reply `number` on both sides of the relay. Only the
// original author may edit; unless quiet, a ReplyEdited audit row and
// channel notice record the change.
func (m *Manager) EditStaffReply(ctx context.Context, thread *models.Thread, replier Replier, number int, newBody string, quiet bool) error {
	msg, err := m.store.MessageByNumber(thread.ID, number)
	if err != nil {
		return err
	}
	if msg.UserID != replier.ID {
		return ErrNotAuthor
	}

	original := *msg
	msg.Body = newBody
	if len(formatStaffReplyDM(msg)) > chat.MaxMessageLength ||
		len(formatStaffReplyChannel(msg)) > chat.MaxMessageLength {
		return validationErrorf("edited reply is too long to send (max %d characters)", chat.MaxMessageLength)
	}

	if err := m.messenger.EditMessage(ctx, msg.DMChannelID, msg.DMMessageID, formatStaffReplyDM(msg)); err != nil {
		return &DeliveryError{Direction: "dm", Err: err}
	}
	if msg.InboxMessageID != "" {
		if err := m.messenger.EditMessage(ctx, thread.ChannelID, msg.InboxMessageID, formatStaffReplyChannel(msg)); err != nil {
			log.Printf("thread: edit mirror of reply %d: %v", number, err)
		}
	}
	if err := m.store.UpdateMessageBody(msg.ID, newBody); err != nil {
		return err
	}

	if !quiet {
		audit := &models.ThreadMessage{
			ThreadID:    thread.ID,
			MessageType: models.MessageTypeReplyEdited,
			UserID:      replier.ID,
			UserName:    replier.Name,
			Body:        newBody,
		}
		if err := audit.SetMetadataValue(models.MetadataOriginalMessage, &original); err != nil {
			log.Printf("thread: snapshot edited reply %d: %v", number, err)
		}
		if err := m.store.CreateMessage(audit); err != nil {
			return err
		}
		notice := formatEditNotice(&original, newBody)
		if _, err := m.messenger.SendChannel(ctx, thread.ChannelID, chat.Outgoing{Content: notice}); err != nil {
			log.Printf("thread: edit notice for reply %d: %v", number, err)
		}
	}
	return nil
}

// DeleteStaffReply deletes reply `number` on both sides of the relay. Only
// the original author may delete; unless quiet, a ReplyDeleted audit row
// and channel notice record the removal.
func (m *Manager) DeleteStaffReply(ctx context.Context, thread *models.Thread, replier Replier, number int, quiet bool) error {
	msg, err := m.store.MessageByNumber(thread.ID, number)
	if err != nil {
		return err
	}
	if msg.UserID != replier.ID {
		return ErrNotAuthor
	}

	if err := m.messenger.DeleteMessage(ctx, msg.DMChannelID, msg.DMMessageID); err != nil {
		return &DeliveryError{Direction: "dm", Err: err}
	}
	if msg.InboxMessageID != "" {
		if err := m.messenger.DeleteMessage(ctx, thread.ChannelID, msg.InboxMessageID); err != nil {
			log.Printf("thread: delete mirror of reply %d: %v", number, err)
		}
	}
	if err := m.store.DeleteMessage(msg.ID); err != nil {
		return err
	}

	if !quiet {
		audit := &models.ThreadMessage{
			ThreadID:    thread.ID,
			MessageType: models.MessageTypeReplyDeleted,
			UserID:      replier.ID,
			UserName:    replier.Name,
			Body:        msg.Body,
		}
		if err := audit.SetMetadataValue(models.MetadataOriginalMessage, msg); err != nil {
			log.Printf("thread: snapshot deleted reply %d: %v", number, err)
		}
		if err := m.store.CreateMessage(audit); err != nil {
			return err
		}
		notice := formatDeleteNotice(msg)
		if _, err := m.messenger.SendChannel(ctx, thread.ChannelID, chat.Outgoing{Content: notice}); err != nil {
			log.Printf("thread: delete notice for reply %d: %v", number, err)
		}
	}
	return nil
}

// SyncUserEdit mirrors a user's DM edit into the staff channel copy and the
// stored row.
func (m *Manager) SyncUserEdit(ctx context.Context, thread *models.Thread, dmMessageID, newContent string) error {
	msg, err := m.store.MessageByDMMessageID(thread.ID, dmMessageID)
	if err != nil {
		return err
	}
	msg.Body = newContent
	if msg.InboxMessageID != "" {
		if err := m.messenger.EditMessage(ctx, thread.ChannelID, msg.InboxMessageID,
			formatUserReplyChannel(msg, m.cfg.ThreadTimestamps)); err != nil {
			log.Printf("thread: sync user edit of %s: %v", dmMessageID, err)
		}
	}
	return m.store.UpdateMessageBody(msg.ID, newContent)
}

// SyncUserDelete marks a user's deleted DM in the staff channel copy.
func (m *Manager) SyncUserDelete(ctx context.Context, thread *models.Thread, dmMessageID string) error {
	msg, err := m.store.MessageByDMMessageID(thread.ID, dmMessageID)
	if err != nil {
		return err
	}
	if msg.InboxMessageID != "" {
		if err := m.messenger.EditMessage(ctx, thread.ChannelID, msg.InboxMessageID,
			formatUserReplyChannel(msg, m.cfg.ThreadTimestamps)+"\n*(message deleted)*"); err != nil {
			log.Printf("thread: sync user delete of %s: %v", dmMessageID, err)
		}
	}
	return nil
}
