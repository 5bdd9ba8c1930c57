package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for rate-limit retries.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = 2 * time.Minute
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
	GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelDelete(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
	GuildRoles(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Role, error)
}

// Discord implements Messenger over the Discord REST API.
type Discord struct {
	sess session
}

// NewDiscord wraps an open discordgo session.
func NewDiscord(sess *discordgo.Session) *Discord {
	return &Discord{sess: sess}
}

// newDiscordWithSession injects a mock session for tests.
func newDiscordWithSession(sess session) *Discord {
	return &Discord{sess: sess}
}

// SendDM delivers a direct message to a user.
func (d *Discord) SendDM(ctx context.Context, userID string, out Outgoing) (*Sent, error) {
	channel, err := d.sess.UserChannelCreate(userID)
	if err != nil {
		return nil, fmt.Errorf("discord: open dm channel for %s: %w", userID, mapError(err))
	}
	return d.send(ctx, channel.ID, out)
}

// SendChannel delivers a message to a channel.
func (d *Discord) SendChannel(ctx context.Context, channelID string, out Outgoing) (*Sent, error) {
	return d.send(ctx, channelID, out)
}

func (d *Discord) send(ctx context.Context, channelID string, out Outgoing) (*Sent, error) {
	data := buildMessageSend(channelID, out)

	var msg *discordgo.Message
	err := d.retryOnRateLimit(ctx, func() error {
		var sendErr error
		msg, sendErr = d.sess.ChannelMessageSendComplex(channelID, data)
		return sendErr
	})
	if err != nil && data.Reference != nil && !out.FailIfNoReply {
		// The referenced message may be gone; retry once without threading.
		data.Reference = nil
		err = d.retryOnRateLimit(ctx, func() error {
			var sendErr error
			msg, sendErr = d.sess.ChannelMessageSendComplex(channelID, data)
			return sendErr
		})
	}
	if err != nil {
		return nil, fmt.Errorf("discord: send to %s: %w", channelID, mapError(err))
	}

	sent := &Sent{ID: msg.ID, ChannelID: msg.ChannelID}
	for _, att := range msg.Attachments {
		sent.Attachments = append(sent.Attachments, Attachment{
			ID:       att.ID,
			URL:      att.URL,
			Filename: att.Filename,
			Size:     int64(att.Size),
		})
	}
	return sent, nil
}

// EditMessage replaces a sent message's content.
func (d *Discord) EditMessage(ctx context.Context, channelID, messageID, content string) error {
	err := d.retryOnRateLimit(ctx, func() error {
		_, editErr := d.sess.ChannelMessageEdit(channelID, messageID, content)
		return editErr
	})
	if err != nil {
		return fmt.Errorf("discord: edit message %s in %s: %w", messageID, channelID, mapError(err))
	}
	return nil
}

// DeleteMessage removes a sent message.
func (d *Discord) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	err := d.retryOnRateLimit(ctx, func() error {
		return d.sess.ChannelMessageDelete(channelID, messageID)
	})
	if err != nil {
		return fmt.Errorf("discord: delete message %s in %s: %w", messageID, channelID, mapError(err))
	}
	return nil
}

// AddReaction reacts to a message with the given emoji.
func (d *Discord) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	err := d.retryOnRateLimit(ctx, func() error {
		return d.sess.MessageReactionAdd(channelID, messageID, emoji)
	})
	if err != nil {
		return fmt.Errorf("discord: react to %s in %s: %w", messageID, channelID, mapError(err))
	}
	return nil
}

// CreateChannel creates a staff-side text channel under a category.
func (d *Discord) CreateChannel(ctx context.Context, guildID, name, categoryID string) (string, error) {
	var channel *discordgo.Channel
	err := d.retryOnRateLimit(ctx, func() error {
		var createErr error
		channel, createErr = d.sess.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
			Name:     name,
			Type:     discordgo.ChannelTypeGuildText,
			ParentID: categoryID,
		})
		return createErr
	})
	if err != nil {
		return "", fmt.Errorf("discord: create channel %q: %w", name, mapError(err))
	}
	return channel.ID, nil
}

// DeleteChannel removes a staff-side channel.
func (d *Discord) DeleteChannel(ctx context.Context, channelID, reason string) error {
	err := d.retryOnRateLimit(ctx, func() error {
		_, delErr := d.sess.ChannelDelete(channelID, discordgo.WithAuditLogReason(reason))
		return delErr
	})
	if err != nil {
		return fmt.Errorf("discord: delete channel %s: %w", channelID, mapError(err))
	}
	return nil
}

// UserDMHistory fetches the user's DM messages after the given message id,
// oldest first. Messages from other authors (the bot's own side of the DM)
// are filtered out.
func (d *Discord) UserDMHistory(ctx context.Context, userID, afterID string, limit int) ([]UserMessage, error) {
	channel, err := d.sess.UserChannelCreate(userID)
	if err != nil {
		return nil, fmt.Errorf("discord: open dm channel for %s: %w", userID, mapError(err))
	}

	var msgs []*discordgo.Message
	err = d.retryOnRateLimit(ctx, func() error {
		var apiErr error
		msgs, apiErr = d.sess.ChannelMessages(channel.ID, limit, "", afterID, "")
		return apiErr
	})
	if err != nil {
		return nil, fmt.Errorf("discord: dm history for %s: %w", userID, mapError(err))
	}

	// Discord returns newest first.
	out := make([]UserMessage, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Author == nil || m.Author.ID != userID {
			continue
		}
		um := UserMessage{
			ID:          m.ID,
			ChannelID:   m.ChannelID,
			AuthorID:    m.Author.ID,
			AuthorName:  m.Author.Username,
			DisplayName: m.Author.GlobalName,
			Content:     m.Content,
		}
		if ts, tsErr := discordgo.SnowflakeTimestamp(m.ID); tsErr == nil {
			um.Timestamp = ts
		}
		for _, att := range m.Attachments {
			um.Attachments = append(um.Attachments, Attachment{
				ID:       att.ID,
				URL:      att.URL,
				Filename: att.Filename,
				Size:     int64(att.Size),
			})
		}
		out = append(out, um)
	}
	return out, nil
}

// FetchUser resolves a platform account.
func (d *Discord) FetchUser(ctx context.Context, userID string) (*User, error) {
	var user *discordgo.User
	err := d.retryOnRateLimit(ctx, func() error {
		var apiErr error
		user, apiErr = d.sess.User(userID)
		return apiErr
	})
	if err != nil {
		return nil, fmt.Errorf("discord: fetch user %s: %w", userID, mapError(err))
	}
	out := &User{ID: user.ID, Username: user.Username, GlobalName: user.GlobalName}
	if ts, tsErr := discordgo.SnowflakeTimestamp(user.ID); tsErr == nil {
		out.CreatedAt = ts
	}
	return out, nil
}

// GuildMember resolves a user's membership on one server. Returns nil with
// no error when the user is not a member.
func (d *Discord) GuildMember(ctx context.Context, guildID, userID string) (*Member, error) {
	var member *discordgo.Member
	err := d.retryOnRateLimit(ctx, func() error {
		var apiErr error
		member, apiErr = d.sess.GuildMember(guildID, userID)
		return apiErr
	})
	if err != nil {
		if isDiscordCode(err, discordgo.ErrCodeUnknownMember) {
			return nil, nil
		}
		return nil, fmt.Errorf("discord: member %s of %s: %w", userID, guildID, mapError(err))
	}

	out := &Member{
		GuildID:  guildID,
		UserID:   userID,
		Nickname: member.Nick,
		RoleIDs:  member.Roles,
	}
	if member.User != nil {
		out.Username = member.User.Username
		out.GlobalName = member.User.GlobalName
	}
	out.JoinedAt = member.JoinedAt
	return out, nil
}

// RoleName resolves a role id to its display name.
func (d *Discord) RoleName(ctx context.Context, guildID, roleID string) (string, error) {
	roles, err := d.fetchRoles(ctx, guildID)
	if err != nil {
		return "", err
	}
	for _, role := range roles {
		if role.ID == roleID {
			return role.Name, nil
		}
	}
	return "", nil
}

// HighestHoistedRoleName returns the name of the member's highest
// sidebar-hoisted role, empty when they have none.
func (d *Discord) HighestHoistedRoleName(ctx context.Context, guildID, userID string) (string, error) {
	member, err := d.GuildMember(ctx, guildID, userID)
	if err != nil || member == nil {
		return "", err
	}
	roles, err := d.fetchRoles(ctx, guildID)
	if err != nil {
		return "", err
	}

	memberRoles := make(map[string]bool, len(member.RoleIDs))
	for _, id := range member.RoleIDs {
		memberRoles[id] = true
	}

	var best *discordgo.Role
	for _, role := range roles {
		if !role.Hoist || !memberRoles[role.ID] {
			continue
		}
		if best == nil || role.Position > best.Position {
			best = role
		}
	}
	if best == nil {
		return "", nil
	}
	return best.Name, nil
}

func (d *Discord) fetchRoles(ctx context.Context, guildID string) ([]*discordgo.Role, error) {
	var roles []*discordgo.Role
	err := d.retryOnRateLimit(ctx, func() error {
		var apiErr error
		roles, apiErr = d.sess.GuildRoles(guildID)
		return apiErr
	})
	if err != nil {
		return nil, fmt.Errorf("discord: roles of %s: %w", guildID, mapError(err))
	}
	return roles, nil
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (d *Discord) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var restErr *discordgo.RESTError
		if !errors.As(err, &restErr) || restErr.Response == nil || restErr.Response.StatusCode != 429 {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * baseBackoff
		if wait > maxBackoff {
			wait = maxBackoff
		}

		log.Printf("discord: rate limited (attempt %d/%d), retrying in %v",
			attempt+1, maxRetries, wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}

func buildMessageSend(channelID string, out Outgoing) *discordgo.MessageSend {
	data := &discordgo.MessageSend{Content: out.Content}

	for _, f := range out.Files {
		data.Files = append(data.Files, &discordgo.File{Name: f.Name, Reader: f.Reader})
	}
	for _, e := range out.Embeds {
		data.Embeds = append(data.Embeds, &discordgo.MessageEmbed{
			Title:       e.Title,
			Description: e.Description,
			URL:         e.URL,
		})
	}
	if out.ReplyToID != "" {
		data.Reference = &discordgo.MessageReference{
			MessageID: out.ReplyToID,
			ChannelID: channelID,
		}
	}
	if len(out.MentionUserIDs) > 0 || len(out.MentionRoleIDs) > 0 {
		data.AllowedMentions = &discordgo.MessageAllowedMentions{
			Users: out.MentionUserIDs,
			Roles: out.MentionRoleIDs,
		}
	}
	return data
}

// mapError translates Discord API errors into the package's sentinels.
func mapError(err error) error {
	if isDiscordCode(err, discordgo.ErrCodeUnknownChannel) {
		return ErrChannelNotFound
	}
	if isDiscordCode(err, discordgo.ErrCodeCannotSendMessagesToThisUser) {
		return ErrRecipientUnavailable
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil &&
		strings.Contains(restErr.Message.Message, "not allowed for servers in Server Discovery") {
		return ErrNameRejected
	}
	return err
}

func isDiscordCode(err error, code int) bool {
	var restErr *discordgo.RESTError
	return errors.As(err, &restErr) && restErr.Message != nil && restErr.Message.Code == code
}
