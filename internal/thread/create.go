package thread

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/castellan/mailroom/internal/chat"
	"github.com/castellan/mailroom/internal/config"
	"github.com/castellan/mailroom/internal/hooks"
	"github.com/castellan/mailroom/internal/metrics"
	"github.com/castellan/mailroom/internal/models"
	"github.com/castellan/mailroom/internal/store"
)

// CreateOptions tune thread creation.
type CreateOptions struct {
	// Source labels what opened the thread, e.g. "dm" or "command".
	Source string
	// Quiet skips the staff mention on the info header.
	Quiet bool
	// IgnoreRequirements bypasses the account age and time-on-server gates.
	// Used when staff open a thread explicitly.
	IgnoreRequirements bool
	// CategoryID places the channel under a specific category, overriding
	// configured routing.
	CategoryID string
	// Message is the DM that triggered creation, when there is one.
	Message *chat.UserMessage
}

// CreateNewThreadForUser opens a thread for the user. It returns
// (nil, nil) when creation was declined by a gate or a hook, which is not
// an error. ErrAlreadyOpen is returned when the user already has an open
// thread.
func (m *Manager) CreateNewThreadForUser(ctx context.Context, user *chat.User, opts CreateOptions) (*models.Thread, error) {
	return m.serializer.Do(ctx, func(ctx context.Context) (*models.Thread, error) {
		return m.createSerialized(ctx, user, opts)
	})
}

func (m *Manager) createSerialized(ctx context.Context, user *chat.User, opts CreateOptions) (*models.Thread, error) {
	_, err := m.store.OpenThreadByUserID(user.ID)
	if err == nil {
		return nil, ErrAlreadyOpen
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	member := m.mainServerMember(ctx, user.ID)

	if !opts.IgnoreRequirements {
		if denied, msg := m.checkRequirements(user, member); denied {
			if msg != "" {
				if _, dmErr := m.messenger.SendDM(ctx, user.ID, chat.Outgoing{Content: msg}); dmErr != nil {
					log.Printf("thread: requirement denial dm to %s: %v", user.ID, dmErr)
				}
			}
			return nil, nil
		}
	}

	ev := &hooks.NewThreadEvent{User: user, Source: opts.Source, Message: opts.Message}
	if err := m.hooks.RunBeforeNewThread(ctx, ev); err != nil {
		return nil, fmt.Errorf("thread: before-new-thread hooks: %w", err)
	}
	if ev.Cancel {
		return nil, nil
	}

	categoryID := m.resolveCategory(ev.CategoryID, opts.CategoryID, member)

	channelName := ev.ChannelName
	if channelName == "" {
		channelName = sanitizeChannelName(displayUserName(m.cfg, user, member))
	}

	channelID, err := m.messenger.CreateChannel(ctx, m.cfg.InboxServerID, channelName, categoryID)
	if errors.Is(err, chat.ErrNameRejected) {
		// The platform vetoed the name; fall back to a neutral one.
		channelID, err = m.messenger.CreateChannel(ctx, m.cfg.InboxServerID, "new-thread", categoryID)
	}
	if err != nil {
		return nil, fmt.Errorf("thread: create channel for %s: %w", user.ID, err)
	}

	thread := &models.Thread{
		Status:    models.ThreadStatusOpen,
		UserID:    user.ID,
		UserName:  user.Username,
		ChannelID: channelID,
	}
	if err := m.store.CreateThread(thread); err != nil {
		if delErr := m.messenger.DeleteChannel(ctx, channelID, "thread creation failed"); delErr != nil {
			log.Printf("thread: delete orphaned channel %s: %v", channelID, delErr)
		}
		return nil, err
	}

	header := m.buildInfoHeader(user, member, thread)
	out := chat.Outgoing{Content: header}
	if !opts.Quiet && len(m.cfg.MentionRoleIDs) > 0 {
		var mentions []string
		for _, roleID := range m.cfg.MentionRoleIDs {
			mentions = append(mentions, fmt.Sprintf("<@&%s>", roleID))
		}
		out.Content = strings.Join(mentions, " ") + "\n" + out.Content
		out.MentionRoleIDs = m.cfg.MentionRoleIDs
	}
	if sent, sendErr := m.messenger.SendChannel(ctx, channelID, out); sendErr != nil {
		log.Printf("thread: post info header in %s: %v", channelID, sendErr)
	} else {
		sysMsg := &models.ThreadMessage{
			ThreadID:       thread.ID,
			MessageType:    models.MessageTypeSystem,
			Body:           header,
			InboxMessageID: sent.ID,
		}
		if err := m.store.CreateMessage(sysMsg); err != nil {
			log.Printf("thread: record info header for %s: %v", thread.ID, err)
		}
	}

	if m.cfg.ResponseMessage != "" && opts.Source == "dm" {
		if _, dmErr := m.messenger.SendDM(ctx, user.ID, chat.Outgoing{Content: m.cfg.ResponseMessage}); dmErr != nil {
			log.Printf("thread: auto-response dm to %s: %v", user.ID, dmErr)
		}
	}

	source := opts.Source
	if source == "" {
		source = "unknown"
	}
	metrics.ThreadsCreated.WithLabelValues(source).Inc()
	return thread, nil
}

// mainServerMember finds the user's membership on the first main server
// they belong to, nil when they are on none.
func (m *Manager) mainServerMember(ctx context.Context, userID string) *chat.Member {
	for _, guildID := range m.cfg.MainServerIDs {
		member, err := m.messenger.GuildMember(ctx, guildID, userID)
		if err != nil {
			log.Printf("thread: member lookup on %s: %v", guildID, err)
			continue
		}
		if member != nil {
			return member
		}
	}
	return nil
}

// checkRequirements applies the account age and time-on-server gates.
// Returns the denial message to DM when the user does not qualify.
func (m *Manager) checkRequirements(user *chat.User, member *chat.Member) (bool, string) {
	req := m.cfg.Requirements
	if req.AccountAgeHours > 0 && !user.CreatedAt.IsZero() {
		minAge := time.Duration(req.AccountAgeHours) * time.Hour
		if time.Since(user.CreatedAt) < minAge {
			return true, req.AccountAgeDeniedMessage
		}
	}
	if req.TimeOnServerMinutes > 0 {
		if member == nil || member.JoinedAt.IsZero() {
			return true, req.TimeOnServerDeniedMessage
		}
		minTime := time.Duration(req.TimeOnServerMinutes) * time.Minute
		if time.Since(member.JoinedAt) < minTime {
			return true, req.TimeOnServerDeniedMessage
		}
	}
	return false, ""
}

// resolveCategory picks the category for the new channel:
// hook override > caller option > per-guild routing > default.
func (m *Manager) resolveCategory(hookCategory, optCategory string, member *chat.Member) string {
	if hookCategory != "" {
		return hookCategory
	}
	if optCategory != "" {
		return optCategory
	}
	if member != nil {
		if categoryID, ok := m.cfg.Automation.NewThreadCategories[member.GuildID]; ok {
			return categoryID
		}
	}
	return m.cfg.Automation.DefaultCategoryID
}

func (m *Manager) buildInfoHeader(user *chat.User, member *chat.Member, thread *models.Thread) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ACCOUNT AGE **%s**, ID **%s**\n", humanizeDuration(time.Since(user.CreatedAt)), user.ID)
	if member != nil {
		if member.Nickname != "" {
			fmt.Fprintf(&b, "NICKNAME **%s**, ", escapeMarkdown(member.Nickname))
		}
		fmt.Fprintf(&b, "JOINED **%s** ago\n", humanizeDuration(time.Since(member.JoinedAt)))
	} else {
		b.WriteString("⚠️ **The user is not on the server**\n")
	}

	if count, err := m.store.ClosedThreadCountByUserID(user.ID); err == nil && count > 0 {
		fmt.Fprintf(&b, "This user has **%d** previous threads. Use `%slogs` to see them.\n", count, m.cfg.Prefix)
	}
	if count, err := m.store.NoteCountByUserID(user.ID); err == nil && count > 0 {
		fmt.Fprintf(&b, "This user has **%d** notes. Use `%snotes` to see them.\n", count, m.cfg.Prefix)
	}
	fmt.Fprintf(&b, "\nThread #%d for **%s** (%s)", thread.ThreadNumber, escapeMarkdown(user.Username), user.ID)
	return b.String()
}

// displayUserName picks the name shown for the user, honoring the
// display-name and nickname settings.
func displayUserName(cfg *config.Config, user *chat.User, member *chat.Member) string {
	if cfg.UseNicknames && member != nil && member.Nickname != "" {
		return member.Nickname
	}
	if cfg.UseDisplaynames && user.GlobalName != "" {
		return user.GlobalName
	}
	return user.Username
}

func humanizeDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	switch {
	case days > 0 && hours > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case days > 0:
		return fmt.Sprintf("%dd", days)
	case hours > 0:
		return fmt.Sprintf("%dh", hours)
	default:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
}

// sanitizeChannelName lowercases and strips characters the platform rejects
// in channel names.
func sanitizeChannelName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ', r == '.':
			b.WriteRune('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		out = "new-thread"
	}
	if len(out) > 100 {
		out = out[:100]
	}
	return out
}
