package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/castellan/mailroom/internal/chat"
	"github.com/castellan/mailroom/internal/models"
	"github.com/castellan/mailroom/internal/store"
	"github.com/castellan/mailroom/internal/thread"
)

// dispatchCommand parses and runs a staff command. t is nil when the
// command was issued outside a thread channel.
func (b *Bot) dispatchCommand(ctx context.Context, t *models.Thread, m *discordgo.MessageCreate) {
	body := strings.TrimPrefix(m.Content, b.cfg.Prefix)
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return
	}
	command := strings.ToLower(fields[0])
	args := fields[1:]
	rest := strings.TrimSpace(strings.TrimPrefix(body, fields[0]))

	if t != nil {
		if err := b.manager.SaveCommandMessageToLogs(t, m.Author.ID, m.Author.Username, m.Content, m.ID); err != nil {
			log.Printf("bot: log command %s: %v", m.ID, err)
		}
	}

	switch command {
	case "reply", "r":
		b.cmdReply(ctx, t, m, rest, false)
	case "anonreply", "ar":
		b.cmdReply(ctx, t, m, rest, true)
	case "edit":
		b.cmdEdit(ctx, t, m, args)
	case "delete":
		b.cmdDelete(ctx, t, m, args)
	case "close":
		b.cmdClose(ctx, t, m, args)
	case "suspend":
		b.cmdSuspend(ctx, t, m, args)
	case "unsuspend":
		b.cmdUnsuspend(ctx, t, m)
	case "alert":
		b.cmdAlert(ctx, t, m, args)
	case "id":
		if t != nil {
			b.respond(ctx, m.ChannelID, t.UserID)
		}
	case "loglink", "log":
		b.cmdLogLink(ctx, t, m)
	case "logs":
		b.cmdLogs(ctx, t, m, args)
	case "resetid":
		b.cmdResetID(ctx, t, m)
	case "snippet", "snippets":
		b.cmdSnippet(ctx, m, args, rest)
	case "s":
		b.cmdUseSnippet(ctx, t, m, args, false)
	case "as":
		b.cmdUseSnippet(ctx, t, m, args, true)
	case "role":
		b.cmdRole(ctx, t, m, args)
	case "block":
		b.cmdBlock(ctx, t, m, args)
	case "unblock":
		b.cmdUnblock(ctx, t, m, args)
	case "note":
		b.cmdNote(ctx, t, m, rest)
	case "notes":
		b.cmdNotes(ctx, t, m, args)
	case "newthread":
		b.cmdNewThread(ctx, m, args)
	case "version":
		b.respond(ctx, m.ChannelID, "Mailroom "+Version)
	}
}

func (b *Bot) respond(ctx context.Context, channelID, content string) {
	if _, err := b.messenger.SendChannel(ctx, channelID, chat.Outgoing{Content: content}); err != nil {
		log.Printf("bot: command response in %s: %v", channelID, err)
	}
}

// replier resolves the display name of the invoking moderator.
func (b *Bot) replier(m *discordgo.MessageCreate) thread.Replier {
	name := m.Author.Username
	if b.cfg.UseDisplaynames && m.Author.GlobalName != "" {
		name = m.Author.GlobalName
	}
	if b.cfg.UseNicknames && m.Member != nil && m.Member.Nick != "" {
		name = m.Member.Nick
	}
	return thread.Replier{ID: m.Author.ID, Name: name}
}

func (b *Bot) cmdReply(ctx context.Context, t *models.Thread, m *discordgo.MessageCreate, body string, anonymous bool) {
	if t == nil {
		return
	}
	if body == "" && len(m.Attachments) == 0 {
		b.respond(ctx, m.ChannelID, "Reply text is required")
		return
	}
	var atts []chat.Attachment
	for _, att := range m.Attachments {
		atts = append(atts, chat.Attachment{
			ID:       att.ID,
			URL:      att.URL,
			Filename: att.Filename,
			Size:     int64(att.Size),
		})
	}
	_, err := b.manager.ReplyToUser(ctx, t, b.replier(m), body, anonymous, atts)
	b.reportReplyError(ctx, m.ChannelID, err)
	if err == nil {
		// The mirror copy replaces the command invocation.
		if delErr := b.messenger.DeleteMessage(ctx, m.ChannelID, m.ID); delErr != nil {
			log.Printf("bot: delete command message %s: %v", m.ID, delErr)
		}
	}
}

func (b *Bot) reportReplyError(ctx context.Context, channelID string, err error) {
	if err == nil {
		return
	}
	var vErr *thread.ValidationError
	switch {
	case errors.As(err, &vErr):
		b.respond(ctx, channelID, "⚠️ "+vErr.Message)
	case errors.Is(err, thread.ErrSuspended):
		b.respond(ctx, channelID, "This thread is suspended; unsuspend it before replying")
	case errors.Is(err, thread.ErrNotAuthor):
		b.respond(ctx, channelID, "You can only touch your own replies")
	case errors.Is(err, store.ErrNotFound):
		b.respond(ctx, channelID, "No reply with that number")
	default:
		log.Printf("bot: reply failed: %v", err)
	}
}

func (b *Bot) cmdEdit(ctx context.Context, t *models.Thread, m *discordgo.MessageCreate, args []string) {
	if t == nil || len(args) < 2 {
		return
	}
	number, err := strconv.Atoi(args[0])
	if err != nil {
		b.respond(ctx, m.ChannelID, "Usage: edit <number> <new text>")
		return
	}
	newBody := strings.Join(args[1:], " ")
	err = b.manager.EditStaffReply(ctx, t, b.replier(m), number, newBody, false)
	b.reportReplyError(ctx, m.ChannelID, err)
}

func (b *Bot) cmdDelete(ctx context.Context, t *models.Thread, m *discordgo.MessageCreate, args []string) {
	if t == nil || len(args) < 1 {
		return
	}
	number, err := strconv.Atoi(args[0])
	if err != nil {
		b.respond(ctx, m.ChannelID, "Usage: delete <number>")
		return
	}
	err = b.manager.DeleteStaffReply(ctx, t, b.replier(m), number, false)
	b.reportReplyError(ctx, m.ChannelID, err)
}

func (b *Bot) cmdClose(ctx context.Context, t *models.Thread, m *discordgo.MessageCreate, args []string) {
	if t == nil {
		return
	}
	silent := false
	var delay time.Duration
	for _, arg := range args {
		switch {
		case arg == "silent" || arg == "-s":
			silent = true
		case arg == "cancel" || arg == "c":
			if err := b.manager.CancelScheduledClose(ctx, t); err != nil {
				log.Printf("bot: cancel scheduled close: %v", err)
				return
			}
			b.respond(ctx, m.ChannelID, "Cancelled scheduled closing")
			return
		default:
			if d, err := parseDelay(arg); err == nil {
				delay = d
			}
		}
	}

	if delay > 0 {
		at := time.Now().UTC().Add(delay)
		if err := b.manager.ScheduleClose(ctx, t, at, m.Author.ID, m.Author.Username, silent); err != nil {
			log.Printf("bot: schedule close: %v", err)
			return
		}
		b.respond(ctx, m.ChannelID, fmt.Sprintf("Thread will close in %s. Any message in the thread cancels it.", delay))
		return
	}

	if !silent {
		b.manager.SendCloseMessage(ctx, t)
	}
	if err := b.manager.Close(ctx, t, m.Author.Username, silent); err != nil {
		log.Printf("bot: close thread #%d: %v", t.ThreadNumber, err)
		return
	}
	b.postCloseNotice(ctx, t, m.Author.Username)
}

// postCloseNotice announces the close in the log channel with a transcript
// link when one is available.
func (b *Bot) postCloseNotice(ctx context.Context, t *models.Thread, closedBy string) {
	if b.cfg.LogChannelID == "" {
		return
	}
	out := chat.Outgoing{
		Content: fmt.Sprintf("Thread #%d with %s (%s) was closed by %s",
			t.ThreadNumber, t.UserName, t.UserID, closedBy),
	}
	result, err := b.logs.Link(ctx, t)
	if err != nil {
		log.Printf("bot: transcript link for thread #%d: %v", t.ThreadNumber, err)
	} else {
		switch {
		case result.URL != "":
			out.Content += "\nLogs: " + result.URL
		case result.File != nil:
			out.Files = []chat.File{*result.File}
		}
	}
	if _, err := b.messenger.SendChannel(ctx, b.cfg.LogChannelID, out); err != nil {
		log.Printf("bot: close notice for thread #%d: %v", t.ThreadNumber, err)
	}
}

func (b *Bot) cmdSuspend(ctx context.Context, t *models.Thread, m *discordgo.MessageCreate, args []string) {
	if t == nil || !b.cfg.AllowSuspend {
		return
	}
	if len(args) > 0 && (args[0] == "cancel" || args[0] == "c") {
		if err := b.manager.CancelScheduledSuspend(t); err != nil {
			log.Printf("bot: cancel scheduled suspend: %v", err)
			return
		}
		b.respond(ctx, m.ChannelID, "Cancelled scheduled suspension")
		return
	}
	if len(args) > 0 {
		if delay, err := parseDelay(args[0]); err == nil && delay > 0 {
			at := time.Now().UTC().Add(delay)
			if err := b.manager.ScheduleSuspend(t, at, m.Author.ID, m.Author.Username); err != nil {
				log.Printf("bot: schedule suspend: %v", err)
				return
			}
			b.respond(ctx, m.ChannelID, fmt.Sprintf("Thread will be suspended in %s", delay))
			return
		}
	}
	if err := b.manager.Suspend(t); err != nil {
		log.Printf("bot: suspend thread #%d: %v", t.ThreadNumber, err)
		return
	}
	b.respond(ctx, m.ChannelID, "**Thread suspended.** New messages from the user still arrive; use `"+b.cfg.Prefix+"unsuspend` to reply again.")
}

func (b *Bot) cmdUnsuspend(ctx context.Context, t *models.Thread, m *discordgo.MessageCreate) {
	if t == nil {
		return
	}
	err := b.manager.Unsuspend(t)
	switch {
	case errors.Is(err, thread.ErrConflict):
		b.respond(ctx, m.ChannelID, "The user opened another thread while this one was suspended; close it first")
	case err != nil:
		log.Printf("bot: unsuspend thread #%d: %v", t.ThreadNumber, err)
	default:
		b.respond(ctx, m.ChannelID, "**Thread unsuspended.**")
	}
}

func (b *Bot) cmdAlert(ctx context.Context, t *models.Thread, m *discordgo.MessageCreate, args []string) {
	if t == nil {
		return
	}
	if len(args) > 0 && (args[0] == "cancel" || args[0] == "c") {
		if err := b.manager.RemoveAlert(t.ID, m.Author.ID); err != nil {
			log.Printf("bot: remove alert: %v", err)
			return
		}
		b.respond(ctx, m.ChannelID, "Cancelled new message alert")
		return
	}
	if err := b.manager.AddAlert(t.ID, m.Author.ID); err != nil {
		log.Printf("bot: add alert: %v", err)
		return
	}
	b.respond(ctx, m.ChannelID, "Pinging you when the thread gets a new reply")
}

func (b *Bot) cmdLogLink(ctx context.Context, t *models.Thread, m *discordgo.MessageCreate) {
	if t == nil {
		return
	}
	result, err := b.logs.Link(ctx, t)
	if err != nil {
		log.Printf("bot: transcript link: %v", err)
		return
	}
	out := chat.Outgoing{}
	switch {
	case result.URL != "":
		out.Content = result.URL
	case result.File != nil:
		out.Content = fmt.Sprintf("Logs of thread #%d:", t.ThreadNumber)
		out.Files = []chat.File{*result.File}
	default:
		out.Content = result.Message
	}
	if _, err := b.messenger.SendChannel(ctx, m.ChannelID, out); err != nil {
		log.Printf("bot: post transcript link: %v", err)
	}
}

// cmdLogs lists a user's closed threads, paginated.
func (b *Bot) cmdLogs(ctx context.Context, t *models.Thread, m *discordgo.MessageCreate, args []string) {
	userID := ""
	page := 1
	for _, arg := range args {
		if n, err := strconv.Atoi(arg); err == nil && n < 1000 {
			page = n
			continue
		}
		userID = parseUserID(arg)
	}
	if userID == "" {
		if t == nil {
			b.respond(ctx, m.ChannelID, "Usage: logs <user> [page]")
			return
		}
		userID = t.UserID
	}

	const perPage = 10
	threads, err := b.store.ClosedThreadsByUserID(userID, page, perPage)
	if err != nil {
		log.Printf("bot: closed threads for %s: %v", userID, err)
		return
	}
	total, err := b.store.ClosedThreadCountByUserID(userID)
	if err != nil {
		log.Printf("bot: closed thread count for %s: %v", userID, err)
		return
	}
	if total == 0 {
		b.respond(ctx, m.ChannelID, "This user has no previous threads")
		return
	}

	var lines []string
	for i := range threads {
		closed := &threads[i]
		line := fmt.Sprintf("`#%d` %s", closed.ThreadNumber, closed.CreatedAt.UTC().Format("2006-01-02 15:04"))
		if result, linkErr := b.logs.Link(ctx, closed); linkErr == nil && result.URL != "" {
			line += ": " + result.URL
		}
		lines = append(lines, line)
	}
	pages := (total + perPage - 1) / perPage
	header := fmt.Sprintf("**%d** previous threads (page %d/%d):", total, page, pages)
	b.respond(ctx, m.ChannelID, header+"\n"+strings.Join(lines, "\n"))
}

func (b *Bot) cmdResetID(ctx context.Context, t *models.Thread, m *discordgo.MessageCreate) {
	if t == nil {
		return
	}
	newID, err := b.manager.ResetThreadID(t)
	if err != nil {
		log.Printf("bot: reset thread id: %v", err)
		return
	}
	b.respond(ctx, m.ChannelID, "Thread id reset; previously shared log links no longer work. New id: `"+newID+"`")
}

func (b *Bot) cmdSnippet(ctx context.Context, m *discordgo.MessageCreate, args []string, rest string) {
	if !b.cfg.AllowSnippets {
		return
	}
	if len(args) == 0 || args[0] == "list" {
		snippets, err := b.store.AllSnippets()
		if err != nil {
			log.Printf("bot: list snippets: %v", err)
			return
		}
		if len(snippets) == 0 {
			b.respond(ctx, m.ChannelID, "No snippets defined")
			return
		}
		var triggers []string
		for _, s := range snippets {
			triggers = append(triggers, "`"+s.Trigger+"`")
		}
		b.respond(ctx, m.ChannelID, "Available snippets: "+strings.Join(triggers, ", "))
		return
	}

	switch args[0] {
	case "add":
		if len(args) < 3 {
			b.respond(ctx, m.ChannelID, "Usage: snippet add <trigger> <text>")
			return
		}
		body := strings.TrimSpace(strings.TrimPrefix(rest, "add"))
		body = strings.TrimSpace(strings.TrimPrefix(body, args[1]))
		if _, err := b.store.CreateSnippet(args[1], body, m.Author.ID); err != nil {
			b.respond(ctx, m.ChannelID, "Could not create snippet (does the trigger already exist?)")
			return
		}
		b.respond(ctx, m.ChannelID, "Snippet `"+args[1]+"` created")
	case "delete", "del":
		if len(args) < 2 {
			return
		}
		if err := b.store.DeleteSnippet(args[1]); err != nil {
			b.respond(ctx, m.ChannelID, "No such snippet")
			return
		}
		b.respond(ctx, m.ChannelID, "Snippet `"+args[1]+"` deleted")
	default:
		snippet, err := b.store.SnippetByTrigger(args[0])
		if err != nil {
			b.respond(ctx, m.ChannelID, "No such snippet")
			return
		}
		b.respond(ctx, m.ChannelID, snippet.Body)
	}
}

// cmdUseSnippet replies to the thread with a snippet's body.
func (b *Bot) cmdUseSnippet(ctx context.Context, t *models.Thread, m *discordgo.MessageCreate, args []string, anonymous bool) {
	if t == nil || !b.cfg.AllowSnippets || len(args) == 0 {
		return
	}
	snippet, err := b.store.SnippetByTrigger(args[0])
	if err != nil {
		b.respond(ctx, m.ChannelID, "No such snippet")
		return
	}
	_, err = b.manager.ReplyToUser(ctx, t, b.replier(m), snippet.Body, anonymous, nil)
	b.reportReplyError(ctx, m.ChannelID, err)
}

func (b *Bot) cmdRole(ctx context.Context, t *models.Thread, m *discordgo.MessageCreate, args []string) {
	if len(args) == 0 {
		b.respond(ctx, m.ChannelID, "Usage: role <roleID>, role reset, role thread <roleID>, role thread reset")
		return
	}
	switch args[0] {
	case "reset":
		if err := b.store.ResetModeratorDefaultRoleOverride(m.Author.ID); err != nil {
			log.Printf("bot: reset role override: %v", err)
			return
		}
		b.respond(ctx, m.ChannelID, "Display role reset to default")
	case "thread":
		if t == nil || len(args) < 2 {
			return
		}
		if args[1] == "reset" {
			if err := b.store.ResetModeratorThreadRoleOverride(m.Author.ID, t.ID); err != nil {
				log.Printf("bot: reset thread role override: %v", err)
				return
			}
			b.respond(ctx, m.ChannelID, "Display role for this thread reset")
			return
		}
		if err := b.store.SetModeratorThreadRoleOverride(m.Author.ID, t.ID, args[1]); err != nil {
			log.Printf("bot: set thread role override: %v", err)
			return
		}
		b.respond(ctx, m.ChannelID, "Display role for this thread updated")
	default:
		if err := b.store.SetModeratorDefaultRoleOverride(m.Author.ID, args[0]); err != nil {
			log.Printf("bot: set role override: %v", err)
			return
		}
		b.respond(ctx, m.ChannelID, "Display role updated")
	}
}

func (b *Bot) cmdBlock(ctx context.Context, t *models.Thread, m *discordgo.MessageCreate, args []string) {
	userID, userName := b.targetUser(t, args)
	if userID == "" {
		b.respond(ctx, m.ChannelID, "Usage: block [user] [duration]")
		return
	}
	var expiresAt *time.Time
	for _, arg := range args {
		if d, err := parseDelay(arg); err == nil && d > 0 {
			at := time.Now().UTC().Add(d)
			expiresAt = &at
		}
	}
	if err := b.store.Block(userID, userName, m.Author.ID, expiresAt); err != nil {
		log.Printf("bot: block %s: %v", userID, err)
		return
	}
	if expiresAt != nil {
		b.respond(ctx, m.ChannelID, fmt.Sprintf("Blocked <@%s> until %s", userID, expiresAt.Format("2006-01-02 15:04 MST")))
		return
	}
	b.respond(ctx, m.ChannelID, fmt.Sprintf("Blocked <@%s> indefinitely", userID))
}

func (b *Bot) cmdUnblock(ctx context.Context, t *models.Thread, m *discordgo.MessageCreate, args []string) {
	userID, _ := b.targetUser(t, args)
	if userID == "" {
		b.respond(ctx, m.ChannelID, "Usage: unblock [user]")
		return
	}
	if err := b.store.Unblock(userID); err != nil {
		log.Printf("bot: unblock %s: %v", userID, err)
		return
	}
	b.respond(ctx, m.ChannelID, fmt.Sprintf("Unblocked <@%s>", userID))
}

func (b *Bot) cmdNote(ctx context.Context, t *models.Thread, m *discordgo.MessageCreate, body string) {
	if t == nil || body == "" {
		return
	}
	if _, err := b.store.CreateNote(t.UserID, m.Author.ID, m.Author.Username, body); err != nil {
		log.Printf("bot: create note: %v", err)
		return
	}
	b.respond(ctx, m.ChannelID, "Note added")
}

func (b *Bot) cmdNotes(ctx context.Context, t *models.Thread, m *discordgo.MessageCreate, args []string) {
	userID, _ := b.targetUser(t, args)
	if userID == "" {
		return
	}
	notes, err := b.store.NotesByUserID(userID)
	if err != nil {
		log.Printf("bot: notes for %s: %v", userID, err)
		return
	}
	if len(notes) == 0 {
		b.respond(ctx, m.ChannelID, "No notes for this user")
		return
	}
	var lines []string
	for _, note := range notes {
		lines = append(lines, fmt.Sprintf("`[%s]` **%s:** %s",
			note.CreatedAt.UTC().Format("2006-01-02"), note.AuthorName, note.Body))
	}
	b.respond(ctx, m.ChannelID, strings.Join(lines, "\n"))
}

// cmdNewThread opens a thread for a user on staff's initiative.
func (b *Bot) cmdNewThread(ctx context.Context, m *discordgo.MessageCreate, args []string) {
	if len(args) == 0 {
		b.respond(ctx, m.ChannelID, "Usage: newthread <user>")
		return
	}
	userID := parseUserID(args[0])
	if userID == "" {
		b.respond(ctx, m.ChannelID, "Could not parse the user")
		return
	}
	user, err := b.messenger.FetchUser(ctx, userID)
	if err != nil {
		b.respond(ctx, m.ChannelID, "Could not find that user")
		return
	}
	t, err := b.manager.CreateNewThreadForUser(ctx, user, thread.CreateOptions{
		Source:             "command",
		Quiet:              true,
		IgnoreRequirements: true,
	})
	if errors.Is(err, thread.ErrAlreadyOpen) {
		b.respond(ctx, m.ChannelID, "The user already has an open thread")
		return
	}
	if err != nil {
		log.Printf("bot: newthread for %s: %v", userID, err)
		return
	}
	if t == nil {
		b.respond(ctx, m.ChannelID, "Thread creation was declined")
		return
	}
	b.respond(ctx, m.ChannelID, fmt.Sprintf("Thread #%d opened: <#%s>", t.ThreadNumber, t.ChannelID))
}

// targetUser resolves the user a command applies to: an explicit mention or
// id argument wins, otherwise the current thread's user.
func (b *Bot) targetUser(t *models.Thread, args []string) (string, string) {
	for _, arg := range args {
		if id := parseUserID(arg); id != "" {
			return id, ""
		}
	}
	if t != nil {
		return t.UserID, t.UserName
	}
	return "", ""
}

// parseUserID extracts a user id from a raw snowflake or a mention.
func parseUserID(s string) string {
	s = strings.TrimSuffix(strings.TrimPrefix(s, "<@"), ">")
	s = strings.TrimPrefix(s, "!")
	if s == "" {
		return ""
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return ""
		}
	}
	if len(s) < 15 {
		return ""
	}
	return s
}

// parseDelay parses close/suspend delays. Accepts Go durations plus a `d`
// suffix for days, e.g. "2d" or "12h30m".
func parseDelay(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err == nil {
			return time.Duration(days) * 24 * time.Hour, nil
		}
	}
	return time.ParseDuration(s)
}
