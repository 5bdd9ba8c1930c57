// Package chat abstracts the chat platform behind the Messenger interface.
// The relay core talks only to Messenger; the Discord implementation lives
// in discord.go.
package chat

import (
	"context"
	"errors"
	"io"
	"time"
)

// MaxMessageLength is the platform's single-message content ceiling.
const MaxMessageLength = 2000

// Sentinel errors the relay reacts to specifically. Any other send failure
// is surfaced as-is.
var (
	// ErrChannelNotFound means the target channel no longer exists; the
	// relay auto-closes the owning thread on this.
	ErrChannelNotFound = errors.New("chat: channel not found")
	// ErrNameRejected means the platform refused the requested channel name.
	ErrNameRejected = errors.New("chat: channel name rejected")
	// ErrRecipientUnavailable means the user cannot receive DMs (blocked the
	// bot or restricted privacy settings).
	ErrRecipientUnavailable = errors.New("chat: recipient unavailable")
)

// Attachment describes a file attached to a platform message.
type Attachment struct {
	ID       string
	URL      string
	Filename string
	Size     int64
}

// File is an upload included with an outgoing message.
type File struct {
	Name   string
	Reader io.Reader
}

// Embed is an opaque rich-content block relayed as-is.
type Embed struct {
	Title       string
	Description string
	URL         string
}

// Outgoing is a message to be sent to a channel or DM.
type Outgoing struct {
	Content string
	Files   []File
	Embeds  []Embed
	// ReplyToID makes the message a reply to an existing message in the
	// same channel, preserving visual threading across the relay.
	ReplyToID string
	// FailIfNoReply aborts the send when ReplyToID no longer resolves
	// instead of silently dropping the reference.
	FailIfNoReply bool
	// MentionUserIDs and MentionRoleIDs scope which mentions in Content
	// actually ping.
	MentionUserIDs []string
	MentionRoleIDs []string
}

// Sent is the platform's handle for a delivered message.
type Sent struct {
	ID        string
	ChannelID string
	// Attachments as rehosted by the platform, used by the "original"
	// attachment storage strategy.
	Attachments []Attachment
}

// UserMessage is a message authored by a user, fetched from history.
type UserMessage struct {
	ID          string
	ChannelID   string
	AuthorID    string
	AuthorName  string
	DisplayName string
	Content     string
	Attachments []Attachment
	// ReplyToID is the id of the message this one replies to, empty when
	// it is not an inline reply.
	ReplyToID string
	Timestamp time.Time
}

// Member is a user's membership on one server.
type Member struct {
	GuildID     string
	UserID      string
	Username    string
	GlobalName  string
	Nickname    string
	JoinedAt    time.Time
	RoleIDs     []string
}

// User is a platform account.
type User struct {
	ID         string
	Username   string
	GlobalName string
	CreatedAt  time.Time
}

// Messenger is the chat platform client used by the relay core.
type Messenger interface {
	// SendDM delivers a direct message to a user.
	SendDM(ctx context.Context, userID string, out Outgoing) (*Sent, error)
	// SendChannel delivers a message to a channel.
	SendChannel(ctx context.Context, channelID string, out Outgoing) (*Sent, error)
	// EditMessage replaces a sent message's content.
	EditMessage(ctx context.Context, channelID, messageID, content string) error
	// DeleteMessage removes a sent message.
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	// AddReaction reacts to a message with the given emoji.
	AddReaction(ctx context.Context, channelID, messageID, emoji string) error

	// CreateChannel creates a staff-side text channel under a category.
	CreateChannel(ctx context.Context, guildID, name, categoryID string) (string, error)
	// DeleteChannel removes a staff-side channel.
	DeleteChannel(ctx context.Context, channelID, reason string) error

	// UserDMHistory fetches the user's DM messages after the given message id.
	UserDMHistory(ctx context.Context, userID, afterID string, limit int) ([]UserMessage, error)

	// FetchUser resolves a platform account.
	FetchUser(ctx context.Context, userID string) (*User, error)
	// GuildMember resolves a user's membership on one server. It returns
	// nil with no error when the user is not a member.
	GuildMember(ctx context.Context, guildID, userID string) (*Member, error)
	// RoleName resolves a role id to its display name.
	RoleName(ctx context.Context, guildID, roleID string) (string, error)
	// HighestHoistedRoleName returns the name of the member's highest
	// sidebar-hoisted role, empty when they have none.
	HighestHoistedRoleName(ctx context.Context, guildID, userID string) (string, error)
}
