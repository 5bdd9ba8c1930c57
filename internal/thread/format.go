package thread

import (
	"fmt"
	"strings"
	"time"

	"github.com/castellan/mailroom/internal/models"
)

// auditInlineLimit is the body length above which edit and delete notices
// switch from inline rendering to fenced blocks.
const auditInlineLimit = 200

var markdownEscaper = strings.NewReplacer(
	"*", "\\*",
	"_", "\\_",
	"`", "\\`",
	"~", "\\~",
	"|", "\\|",
)

// escapeMarkdown neutralizes formatting characters in user-controlled names.
func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

// disableCodeBlocks breaks code fences inside a body so it can be embedded
// in a fenced block without terminating it.
func disableCodeBlocks(s string) string {
	return strings.ReplaceAll(s, "`", "`\u200b")
}

// staffDisplay renders the "(role) name" label for a staff reply.
// Anonymous replies hide the name from the user but keep it visible to staff
// in the channel rendering.
func staffDisplay(roleName, name string, anonymous, forStaff bool) string {
	switch {
	case anonymous && forStaff:
		if roleName != "" {
			return fmt.Sprintf("(Anonymous) (%s) %s", name, roleName)
		}
		return fmt.Sprintf("(Anonymous) (%s)", name)
	case anonymous:
		if roleName != "" {
			return roleName
		}
		return "Moderator"
	default:
		if roleName != "" {
			return fmt.Sprintf("(%s) %s", roleName, name)
		}
		return name
	}
}

// formatStaffReplyDM renders a staff reply as the user sees it.
func formatStaffReplyDM(msg *models.ThreadMessage) string {
	return fmt.Sprintf("**%s:** %s",
		staffDisplay(msg.RoleName, msg.UserName, msg.IsAnonymous, false), msg.Body)
}

// formatStaffReplyChannel renders a staff reply as the mirror copy in the
// staff channel, prefixed with the reply number.
func formatStaffReplyChannel(msg *models.ThreadMessage) string {
	body := fmt.Sprintf("**%s:** %s",
		staffDisplay(msg.RoleName, msg.UserName, msg.IsAnonymous, true), msg.Body)
	if msg.MessageNumber > 0 {
		body = fmt.Sprintf("`%d`  %s", msg.MessageNumber, body)
	}
	return body
}

// formatUserReplyChannel renders an inbound user message for the staff
// channel, appending attachment links.
func formatUserReplyChannel(msg *models.ThreadMessage, timestamps bool) string {
	body := fmt.Sprintf("**%s:** %s", escapeMarkdown(msg.UserName), msg.Body)
	if timestamps {
		body = fmt.Sprintf("[%s] %s", msg.CreatedAt.UTC().Format("15:04"), body)
	}
	for _, url := range msg.AttachmentList() {
		body += "\n" + url
	}
	for _, url := range msg.SmallAttachmentList() {
		body += "\n" + url
	}
	return body
}

// formatSystemToUserChannel renders the staff-channel echo of a system
// message that was DMed to the user.
func formatSystemToUserChannel(body string) string {
	return fmt.Sprintf("**[BOT TO USER]:** %s", body)
}

// formatEditNotice renders the audit entry for an edited reply. Short
// before/after pairs render inline; long ones get fenced blocks.
func formatEditNotice(original *models.ThreadMessage, newBody string) string {
	head := fmt.Sprintf("**%s** (`%s`) edited reply `%d`",
		original.UserName, original.UserID, original.MessageNumber)
	if len(original.Body) < auditInlineLimit && len(newBody) < auditInlineLimit {
		return fmt.Sprintf("%s:\n`B:` %s\n`A:` %s", head, original.Body, newBody)
	}
	return fmt.Sprintf("%s:\n\nBefore:\n```%s```\nAfter:\n```%s```",
		head, disableCodeBlocks(original.Body), disableCodeBlocks(newBody))
}

// formatDeleteNotice renders the audit entry for a deleted reply.
func formatDeleteNotice(original *models.ThreadMessage) string {
	head := fmt.Sprintf("**%s** (`%s`) deleted reply `%d`",
		original.UserName, original.UserID, original.MessageNumber)
	if len(original.Body) < auditInlineLimit {
		return fmt.Sprintf("%s:\n`B:` %s", head, original.Body)
	}
	return fmt.Sprintf("%s:\n\nContent:\n```%s```", head, disableCodeBlocks(original.Body))
}

// formatScheduledCloseCancelNotice is posted when thread activity cancels a
// pending scheduled close.
func formatScheduledCloseCancelNotice(byName string, at time.Time) string {
	return fmt.Sprintf("Cancelling scheduled closing of this thread (was scheduled by %s for %s) due to new activity",
		byName, at.UTC().Format("2006-01-02 15:04:05"))
}
