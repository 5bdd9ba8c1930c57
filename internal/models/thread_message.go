package models

import (
	"encoding/json"
	"time"
)

// Thread message types. Values are stable; they appear in stored rows.
const (
	MessageTypeSystem       = 1
	MessageTypeChat         = 2
	MessageTypeFromUser     = 3
	MessageTypeToUser       = 4
	MessageTypeLegacy       = 5
	MessageTypeCommand      = 6
	MessageTypeSystemToUser = 7
	MessageTypeReplyEdited  = 8
	MessageTypeReplyDeleted = 9
)

// MetadataOriginalMessage keys an audit row's snapshot of the reply as it
// was before the edit or delete. Transcript rendering reads it back.
const MetadataOriginalMessage = "originalThreadMessage"

// ThreadMessage is one logged event within a thread: an inbound user
// message, an outbound staff reply, staff channel chatter, or a system or
// audit entry. DMMessageID/DMChannelID and InboxMessageID correlate the two
// mirrored copies for live edit and delete sync.
type ThreadMessage struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	ThreadID string `gorm:"size:36;not null;index;index:idx_thread_dm_message,priority:1"`

	MessageType int `gorm:"not null;index"`
	// MessageNumber is set only for ToUser messages, starting at 1 per thread.
	MessageNumber int `gorm:"index"`

	UserID      string `gorm:"size:32"`
	UserName    string `gorm:"size:128"`
	RoleName    string `gorm:"size:128"`
	IsAnonymous bool

	Body string `gorm:"type:text"`

	Attachments      string `gorm:"type:text"` // JSON array of URLs
	SmallAttachments string `gorm:"type:text"` // JSON array of URLs

	DMMessageID    string `gorm:"size:32;index:idx_thread_dm_message,priority:2"`
	DMChannelID    string `gorm:"size:32"`
	InboxMessageID string `gorm:"size:32;index"`

	Metadata  string `gorm:"type:text"` // JSON
	CreatedAt time.Time
}

// AttachmentList decodes the attachment URL list, nil when empty.
func (m *ThreadMessage) AttachmentList() []string {
	return decodeStringList(m.Attachments)
}

// SmallAttachmentList decodes the small-attachment URL list, nil when empty.
func (m *ThreadMessage) SmallAttachmentList() []string {
	return decodeStringList(m.SmallAttachments)
}

// SetAttachments stores the attachment URL list as JSON.
func (m *ThreadMessage) SetAttachments(urls []string) {
	m.Attachments = encodeStringList(urls)
}

// SetSmallAttachments stores the small-attachment URL list as JSON.
func (m *ThreadMessage) SetSmallAttachments(urls []string) {
	m.SmallAttachments = encodeStringList(urls)
}

// MetadataMap decodes the metadata bag, empty map when unset.
func (m *ThreadMessage) MetadataMap() map[string]json.RawMessage {
	out := map[string]json.RawMessage{}
	if m.Metadata != "" {
		_ = json.Unmarshal([]byte(m.Metadata), &out)
	}
	return out
}

// SetMetadataValue stores one key in the metadata bag.
func (m *ThreadMessage) SetMetadataValue(key string, value any) error {
	bag := m.MetadataMap()
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	bag[key] = raw
	encoded, err := json.Marshal(bag)
	if err != nil {
		return err
	}
	m.Metadata = string(encoded)
	return nil
}

// MetadataValue decodes one key from the metadata bag into dst.
// Returns false when the key is absent.
func (m *ThreadMessage) MetadataValue(key string, dst any) bool {
	raw, ok := m.MetadataMap()[key]
	if !ok {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

func decodeStringList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func encodeStringList(urls []string) string {
	if len(urls) == 0 {
		return "[]"
	}
	encoded, err := json.Marshal(urls)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}
