package thread

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/castellan/mailroom/internal/attachments"
	"github.com/castellan/mailroom/internal/chat"
	"github.com/castellan/mailroom/internal/config"
	"github.com/castellan/mailroom/internal/hooks"
	"github.com/castellan/mailroom/internal/models"
	"github.com/castellan/mailroom/internal/store"
)

type sendCall struct {
	target string
	out    chat.Outgoing
}

type editCall struct {
	channelID string
	messageID string
	content   string
}

// mockMessenger records every call and lets tests script failures.
type mockMessenger struct {
	mu sync.Mutex

	dmCalls      []sendCall
	channelCalls []sendCall
	edits        []editCall
	deletes      []editCall
	reactions    []editCall
	createdNames []string
	deletedIDs   []string

	dmErr         error
	channelErr    error
	rejectedNames map[string]bool

	users     map[string]*chat.User
	members   map[string]*chat.Member // keyed guildID + "/" + userID
	roleNames map[string]string
	hoisted   map[string]string
	history   map[string][]chat.UserMessage

	nextID int
}

func newMockMessenger() *mockMessenger {
	return &mockMessenger{
		rejectedNames: map[string]bool{},
		users:         map[string]*chat.User{},
		members:       map[string]*chat.Member{},
		roleNames:     map[string]string{},
		hoisted:       map[string]string{},
		history:       map[string][]chat.UserMessage{},
	}
}

func (m *mockMessenger) sent(channelID string) *chat.Sent {
	m.nextID++
	return &chat.Sent{ID: fmt.Sprintf("sent-%d", m.nextID), ChannelID: channelID}
}

func (m *mockMessenger) SendDM(_ context.Context, userID string, out chat.Outgoing) (*chat.Sent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dmErr != nil {
		return nil, m.dmErr
	}
	m.dmCalls = append(m.dmCalls, sendCall{target: userID, out: out})
	return m.sent("dm-" + userID), nil
}

func (m *mockMessenger) SendChannel(_ context.Context, channelID string, out chat.Outgoing) (*chat.Sent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.channelErr != nil {
		return nil, m.channelErr
	}
	m.channelCalls = append(m.channelCalls, sendCall{target: channelID, out: out})
	return m.sent(channelID), nil
}

func (m *mockMessenger) EditMessage(_ context.Context, channelID, messageID, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits = append(m.edits, editCall{channelID, messageID, content})
	return nil
}

func (m *mockMessenger) DeleteMessage(_ context.Context, channelID, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes = append(m.deletes, editCall{channelID: channelID, messageID: messageID})
	return nil
}

func (m *mockMessenger) AddReaction(_ context.Context, channelID, messageID, emoji string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reactions = append(m.reactions, editCall{channelID, messageID, emoji})
	return nil
}

func (m *mockMessenger) CreateChannel(_ context.Context, _, name, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rejectedNames[name] {
		return "", chat.ErrNameRejected
	}
	m.createdNames = append(m.createdNames, name)
	m.nextID++
	return fmt.Sprintf("chan-%d", m.nextID), nil
}

func (m *mockMessenger) DeleteChannel(_ context.Context, channelID, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletedIDs = append(m.deletedIDs, channelID)
	return nil
}

func (m *mockMessenger) UserDMHistory(_ context.Context, userID, afterID string, _ int) ([]chat.UserMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.history[userID]
	if afterID == "" {
		return msgs, nil
	}
	for i, msg := range msgs {
		if msg.ID == afterID {
			return msgs[i+1:], nil
		}
	}
	return msgs, nil
}

func (m *mockMessenger) FetchUser(_ context.Context, userID string) (*chat.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("unknown user %s", userID)
}

func (m *mockMessenger) GuildMember(_ context.Context, guildID, userID string) (*chat.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.members[guildID+"/"+userID], nil
}

func (m *mockMessenger) RoleName(_ context.Context, _, roleID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roleNames[roleID], nil
}

func (m *mockMessenger) HighestHoistedRoleName(_ context.Context, _, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hoisted[userID], nil
}

func (m *mockMessenger) channelContents() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, call := range m.channelCalls {
		out = append(out, call.out.Content)
	}
	return out
}

func (m *mockMessenger) lastChannel() (sendCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.channelCalls) == 0 {
		return sendCall{}, false
	}
	return m.channelCalls[len(m.channelCalls)-1], true
}

func (m *mockMessenger) lastDM() (sendCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.dmCalls) == 0 {
		return sendCall{}, false
	}
	return m.dmCalls[len(m.dmCalls)-1], true
}

var _ chat.Messenger = (*mockMessenger)(nil)

func openThreadTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	// Every connection to :memory: gets its own database; keep the pool at
	// one connection so all queries and transactions share it.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(
		&models.Thread{},
		&models.ThreadMessage{},
		&models.Snippet{},
		&models.ModeratorRoleOverride{},
		&models.Note{},
		&models.BlockedUser{},
	); err != nil {
		t.Fatalf("auto-migrate: %v", err)
	}
	return store.New(db)
}

func newTestConfig() *config.Config {
	cfg := &config.Config{
		Token:            "test-token",
		InboxServerID:    "inbox",
		MainServerIDs:    []string{"main"},
		FallbackRoleName: "Moderator",
	}
	cfg.ApplyDefaults()
	return cfg
}

func newTestManager(t *testing.T, cfg *config.Config) (*Manager, *mockMessenger, *store.Store) {
	t.Helper()
	st := openThreadTestStore(t)
	mm := newMockMessenger()
	m := NewManager(cfg, st, mm, hooks.NewRegistry(), &attachments.OriginalStorage{})
	t.Cleanup(m.Shutdown)
	return m, mm, st
}

func testUser(id, name string) *chat.User {
	return &chat.User{
		ID:        id,
		Username:  name,
		CreatedAt: time.Now().Add(-90 * 24 * time.Hour),
	}
}

func mustOpenThread(t *testing.T, m *Manager, user *chat.User) *models.Thread {
	t.Helper()
	thread, err := m.CreateNewThreadForUser(context.Background(), user, CreateOptions{Source: "dm"})
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}
	if thread == nil {
		t.Fatal("thread creation was declined")
	}
	return thread
}

func containing(calls []string, substr string) bool {
	for _, c := range calls {
		if strings.Contains(c, substr) {
			return true
		}
	}
	return false
}
