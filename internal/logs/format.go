// Package logs renders thread transcripts and stores them according to the
// configured log storage strategy.
package logs

import (
	"fmt"
	"strings"

	"github.com/castellan/mailroom/internal/models"
)

const timestampLayout = "2006-01-02 15:04:05"

// FormatOptions control transcript rendering.
type FormatOptions struct {
	// Simple drops system entries, staff chatter, and commands, leaving only
	// the user-facing conversation.
	Simple bool
	// Verbose prefixes each line with the DM channel and message ids and
	// includes reply numbers, for cross-referencing against the platform.
	Verbose bool
}

// FormatLog renders a thread's transcript as plain text.
func FormatLog(thread *models.Thread, msgs []models.ThreadMessage, opts FormatOptions) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Thread #%d with %s (%s) started at %s\n\n",
		thread.ThreadNumber, thread.UserName, thread.UserID,
		thread.CreatedAt.UTC().Format(timestampLayout))

	for i := range msgs {
		line := formatLogLine(&msgs[i], opts)
		if line == "" {
			continue
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func formatLogLine(msg *models.ThreadMessage, opts FormatOptions) string {
	// Legacy rows carry pre-rendered lines from imported threads.
	if msg.MessageType == models.MessageTypeLegacy {
		return msg.Body
	}

	if opts.Simple {
		switch msg.MessageType {
		case models.MessageTypeSystem, models.MessageTypeSystemToUser,
			models.MessageTypeChat, models.MessageTypeCommand:
			return ""
		}
	}

	line := "[" + msg.CreatedAt.UTC().Format(timestampLayout) + "]"
	if opts.Verbose {
		if msg.DMChannelID != "" {
			line += " [DM CHA " + msg.DMChannelID + "]"
		}
		if msg.DMMessageID != "" {
			line += " [DM MSG " + msg.DMMessageID + "]"
		}
	}

	switch msg.MessageType {
	case models.MessageTypeSystem:
		line += " [BOT]"
	case models.MessageTypeSystemToUser:
		line += " [BOT TO USER]"
	case models.MessageTypeChat:
		line += fmt.Sprintf(" [CHAT] [%s]", msg.UserName)
	case models.MessageTypeCommand:
		line += fmt.Sprintf(" [COMMAND] [%s]", msg.UserName)
	case models.MessageTypeFromUser:
		line += fmt.Sprintf(" [FROM USER] [%s]", msg.UserName)
	case models.MessageTypeToUser:
		if opts.Verbose {
			line += fmt.Sprintf(" [TO USER] [%d] [%s]", msg.MessageNumber, msg.UserName)
		} else {
			line += fmt.Sprintf(" [TO USER] [%s]", msg.UserName)
		}
		line += " " + staffReplyLogBody(msg)
		return appendAttachmentLinks(line, msg)
	case models.MessageTypeReplyEdited:
		return appendAttachmentLinks(line+replyEditedLogBody(msg), msg)
	case models.MessageTypeReplyDeleted:
		return appendAttachmentLinks(line+replyDeletedLogBody(msg), msg)
	default:
		line += fmt.Sprintf(" [%s]", msg.UserName)
	}

	if msg.Body != "" {
		line += " " + msg.Body
	}
	return appendAttachmentLinks(line, msg)
}

// staffReplyLogBody renders a staff reply with the display rules the user
// saw at send time: the resolved role label, and the moderator's name
// unless the reply was anonymous.
func staffReplyLogBody(msg *models.ThreadMessage) string {
	switch {
	case msg.IsAnonymous && msg.RoleName != "":
		return fmt.Sprintf("(Anonymous) %s: %s", msg.RoleName, msg.Body)
	case msg.IsAnonymous:
		return "(Anonymous) Moderator: " + msg.Body
	case msg.RoleName != "":
		return fmt.Sprintf("(%s) %s: %s", msg.RoleName, msg.UserName, msg.Body)
	default:
		return fmt.Sprintf("%s: %s", msg.UserName, msg.Body)
	}
}

// replyEditedLogBody reconstructs the before/after view from the audit
// row's snapshot of the original reply. Rows without a snapshot fall back
// to the new body.
func replyEditedLogBody(msg *models.ThreadMessage) string {
	var original models.ThreadMessage
	if !msg.MetadataValue(models.MetadataOriginalMessage, &original) {
		return fmt.Sprintf(" [REPLY EDITED] [%s] %s", msg.UserName, msg.Body)
	}
	return fmt.Sprintf(" [REPLY EDITED] %s edited reply %d:\n\nBefore:\n%s\n\nAfter:\n%s",
		original.UserName, original.MessageNumber, original.Body, msg.Body)
}

func replyDeletedLogBody(msg *models.ThreadMessage) string {
	var original models.ThreadMessage
	if !msg.MetadataValue(models.MetadataOriginalMessage, &original) {
		return fmt.Sprintf(" [REPLY DELETED] [%s] %s", msg.UserName, msg.Body)
	}
	return fmt.Sprintf(" [REPLY DELETED] %s deleted reply %d:\n\n%s",
		original.UserName, original.MessageNumber, original.Body)
}

func appendAttachmentLinks(line string, msg *models.ThreadMessage) string {
	for _, url := range msg.AttachmentList() {
		line += "\n" + url
	}
	return line
}
