package store

import (
	"errors"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/castellan/mailroom/internal/models"
)

func openTestStore(t *testing.T) *Store {
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
	return New(db)
}

func mustCreateThread(t *testing.T, s *Store, userID string) *models.Thread {
	t.Helper()
	thread := &models.Thread{
		Status:    models.ThreadStatusOpen,
		UserID:    userID,
		UserName:  "user-" + userID,
		ChannelID: "chan-" + userID,
	}
	if err := s.CreateThread(thread); err != nil {
		t.Fatalf("create thread: %v", err)
	}
	return thread
}

func TestCreateThread_AssignsSequentialNumbers(t *testing.T) {
	s := openTestStore(t)
	for i := 1; i <= 5; i++ {
		thread := mustCreateThread(t, s, string(rune('a'+i)))
		if thread.ThreadNumber != i {
			t.Errorf("thread %d: number = %d, want %d", i, thread.ThreadNumber, i)
		}
		if thread.ID == "" {
			t.Error("thread id not assigned")
		}
	}
}

func TestOpenThreadByUserID_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.OpenThreadByUserID("nobody")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestActiveThreadByUserID_IncludesSuspended(t *testing.T) {
	s := openTestStore(t)
	thread := mustCreateThread(t, s, "u1")
	if err := s.Suspend(thread.ID); err != nil {
		t.Fatalf("suspend: %v", err)
	}

	got, err := s.ActiveThreadByUserID("u1")
	if err != nil {
		t.Fatalf("active lookup: %v", err)
	}
	if got.ID != thread.ID {
		t.Errorf("got thread %s, want %s", got.ID, thread.ID)
	}
	if _, err := s.OpenThreadByUserID("u1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("open lookup err = %v, want ErrNotFound", err)
	}
}

func TestNextMessageNumber_StartsAtOneAndIncrements(t *testing.T) {
	s := openTestStore(t)
	thread := mustCreateThread(t, s, "u1")

	for want := 1; want <= 3; want++ {
		got, err := s.NextMessageNumber(thread.ID)
		if err != nil {
			t.Fatalf("next number: %v", err)
		}
		if got != want {
			t.Errorf("number = %d, want %d", got, want)
		}
	}
}

func TestNextMessageNumber_ConcurrentCallersGetUniqueNumbers(t *testing.T) {
	s := openTestStore(t)
	thread := mustCreateThread(t, s, "u1")

	const callers = 20
	numbers := make(chan int, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Sqlite serializes writers; retry on lock contention.
			for attempt := 0; attempt < 100; attempt++ {
				n, err := s.NextMessageNumber(thread.ID)
				if err == nil {
					numbers <- n
					return
				}
			}
			t.Error("could not allocate a message number")
		}()
	}
	wg.Wait()
	close(numbers)

	seen := make(map[int]bool)
	for n := range numbers {
		if seen[n] {
			t.Fatalf("duplicate message number %d", n)
		}
		seen[n] = true
	}
	if len(seen) != callers {
		t.Errorf("got %d unique numbers, want %d", len(seen), callers)
	}
}

func TestNextMessageNumber_UnknownThread(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.NextMessageNumber("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAlerts_AddIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	thread := mustCreateThread(t, s, "u1")

	for i := 0; i < 3; i++ {
		if err := s.AddAlert(thread.ID, "mod1"); err != nil {
			t.Fatalf("add alert: %v", err)
		}
	}
	if err := s.AddAlert(thread.ID, "mod2"); err != nil {
		t.Fatalf("add alert: %v", err)
	}

	got, err := s.ThreadByID(thread.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	ids := got.AlertIDList()
	if len(ids) != 2 || ids[0] != "mod1" || ids[1] != "mod2" {
		t.Errorf("alert ids = %v, want [mod1 mod2]", ids)
	}

	if err := s.RemoveAlert(thread.ID, "mod1"); err != nil {
		t.Fatalf("remove alert: %v", err)
	}
	got, _ = s.ThreadByID(thread.ID)
	if ids := got.AlertIDList(); len(ids) != 1 || ids[0] != "mod2" {
		t.Errorf("alert ids after remove = %v, want [mod2]", ids)
	}

	if err := s.ClearAlerts(thread.ID); err != nil {
		t.Fatalf("clear alerts: %v", err)
	}
	got, _ = s.ThreadByID(thread.ID)
	if ids := got.AlertIDList(); len(ids) != 0 {
		t.Errorf("alert ids after clear = %v, want empty", ids)
	}
}

func TestScheduledTransitionQueries(t *testing.T) {
	s := openTestStore(t)
	due := mustCreateThread(t, s, "due")
	future := mustCreateThread(t, s, "future")
	closed := mustCreateThread(t, s, "closed")

	past := time.Now().UTC().Add(-time.Minute)
	later := time.Now().UTC().Add(time.Hour)
	if err := s.ScheduleClose(due.ID, past, "mod", "Mod", false); err != nil {
		t.Fatalf("schedule close: %v", err)
	}
	if err := s.ScheduleClose(future.ID, later, "mod", "Mod", false); err != nil {
		t.Fatalf("schedule close: %v", err)
	}
	if err := s.ScheduleClose(closed.ID, past, "mod", "Mod", false); err != nil {
		t.Fatalf("schedule close: %v", err)
	}
	if err := s.SetThreadStatus(closed.ID, models.ThreadStatusClosed); err != nil {
		t.Fatalf("set status: %v", err)
	}

	threads, err := s.ThreadsToClose(time.Now().UTC())
	if err != nil {
		t.Fatalf("threads to close: %v", err)
	}
	if len(threads) != 1 || threads[0].ID != due.ID {
		t.Errorf("threads to close = %d entries, want just the due open thread", len(threads))
	}

	if err := s.ClearScheduledClose(due.ID); err != nil {
		t.Fatalf("clear scheduled close: %v", err)
	}
	threads, _ = s.ThreadsToClose(time.Now().UTC())
	if len(threads) != 0 {
		t.Errorf("threads to close after clear = %d, want 0", len(threads))
	}
}

func TestResetThreadID_CascadesToMessages(t *testing.T) {
	s := openTestStore(t)
	thread := mustCreateThread(t, s, "u1")
	msg := &models.ThreadMessage{
		ThreadID:    thread.ID,
		MessageType: models.MessageTypeFromUser,
		Body:        "hello",
	}
	if err := s.CreateMessage(msg); err != nil {
		t.Fatalf("create message: %v", err)
	}

	oldID := thread.ID
	newID, err := s.ResetThreadID(thread.ID)
	if err != nil {
		t.Fatalf("reset thread id: %v", err)
	}
	if newID == oldID {
		t.Fatal("thread id did not change")
	}

	if _, err := s.ThreadByID(oldID); !errors.Is(err, ErrNotFound) {
		t.Errorf("old id lookup err = %v, want ErrNotFound", err)
	}
	msgs, err := s.MessagesByThread(newID)
	if err != nil {
		t.Fatalf("messages by new id: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Body != "hello" {
		t.Errorf("messages under new id = %d, want the cascaded row", len(msgs))
	}
}

func TestMessageCorrelationLookups(t *testing.T) {
	s := openTestStore(t)
	thread := mustCreateThread(t, s, "u1")

	msg := &models.ThreadMessage{
		ThreadID:       thread.ID,
		MessageType:    models.MessageTypeToUser,
		MessageNumber:  1,
		UserID:         "mod1",
		Body:           "reply",
		DMMessageID:    "dm-1",
		DMChannelID:    "dmchan-1",
		InboxMessageID: "inbox-1",
	}
	if err := s.CreateMessage(msg); err != nil {
		t.Fatalf("create message: %v", err)
	}

	byNumber, err := s.MessageByNumber(thread.ID, 1)
	if err != nil || byNumber.ID != msg.ID {
		t.Fatalf("by number: %v", err)
	}
	byDM, err := s.MessageByEitherSideID(thread.ID, "dm-1")
	if err != nil || byDM.ID != msg.ID {
		t.Fatalf("by dm id: %v", err)
	}
	byInbox, err := s.MessageByEitherSideID(thread.ID, "inbox-1")
	if err != nil || byInbox.ID != msg.ID {
		t.Fatalf("by inbox id: %v", err)
	}
	if _, err := s.MessageByNumber(thread.ID, 99); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing number err = %v, want ErrNotFound", err)
	}
}

func TestBlockedUsers_ExpiryIsHonored(t *testing.T) {
	s := openTestStore(t)

	if err := s.Block("u1", "User One", "mod1", nil); err != nil {
		t.Fatalf("block: %v", err)
	}
	blocked, err := s.IsBlocked("u1")
	if err != nil || !blocked {
		t.Fatalf("IsBlocked = %v, %v; want true", blocked, err)
	}

	expired := time.Now().Add(-time.Hour)
	if err := s.Block("u2", "User Two", "mod1", &expired); err != nil {
		t.Fatalf("block with expiry: %v", err)
	}
	blocked, err = s.IsBlocked("u2")
	if err != nil || blocked {
		t.Fatalf("IsBlocked expired = %v, %v; want false", blocked, err)
	}

	if err := s.Unblock("u1"); err != nil {
		t.Fatalf("unblock: %v", err)
	}
	blocked, _ = s.IsBlocked("u1")
	if blocked {
		t.Error("still blocked after unblock")
	}
}

func TestSnippets_TriggerMatchIsCaseInsensitive(t *testing.T) {
	s := openTestStore(t)

	created, err := s.CreateSnippet("FAQ", "Read the pinned message.", "mod1")
	if err != nil {
		t.Fatalf("create snippet: %v", err)
	}
	if created.Trigger != "faq" {
		t.Errorf("stored trigger = %q, want lowercased", created.Trigger)
	}

	for _, lookup := range []string{"faq", "FAQ", "Faq"} {
		got, err := s.SnippetByTrigger(lookup)
		if err != nil {
			t.Fatalf("lookup %q: %v", lookup, err)
		}
		if got.Body != "Read the pinned message." {
			t.Errorf("lookup %q body = %q", lookup, got.Body)
		}
	}

	if _, err := s.CreateSnippet("faq", "duplicate", "mod2"); err == nil {
		t.Error("duplicate trigger accepted")
	}

	if err := s.DeleteSnippet("FAQ"); err != nil {
		t.Fatalf("delete snippet: %v", err)
	}
	if err := s.DeleteSnippet("faq"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestAllSnippets_OrdersByTrigger(t *testing.T) {
	s := openTestStore(t)
	for _, trigger := range []string{"zeta", "Alpha", "mid"} {
		if _, err := s.CreateSnippet(trigger, "body", "mod1"); err != nil {
			t.Fatalf("create %q: %v", trigger, err)
		}
	}

	snippets, err := s.AllSnippets()
	if err != nil {
		t.Fatalf("all snippets: %v", err)
	}
	if len(snippets) != 3 {
		t.Fatalf("snippets = %d, want 3", len(snippets))
	}
	for i, want := range []string{"alpha", "mid", "zeta"} {
		if snippets[i].Trigger != want {
			t.Errorf("snippets[%d] = %q, want %q", i, snippets[i].Trigger, want)
		}
	}
}

func TestRoleOverrides_ThreadBeatsDefault(t *testing.T) {
	s := openTestStore(t)
	thread := mustCreateThread(t, s, "u1")

	if err := s.SetModeratorDefaultRoleOverride("mod1", "role-default"); err != nil {
		t.Fatalf("set default: %v", err)
	}
	if err := s.SetModeratorThreadRoleOverride("mod1", thread.ID, "role-thread"); err != nil {
		t.Fatalf("set thread: %v", err)
	}

	got, err := s.ModeratorThreadRoleOverride("mod1", thread.ID)
	if err != nil || got != "role-thread" {
		t.Fatalf("thread override = %q, %v", got, err)
	}
	got, err = s.ModeratorDefaultRoleOverride("mod1")
	if err != nil || got != "role-default" {
		t.Fatalf("default override = %q, %v", got, err)
	}

	// Setting again updates in place rather than inserting a second row.
	if err := s.SetModeratorDefaultRoleOverride("mod1", "role-updated"); err != nil {
		t.Fatalf("update default: %v", err)
	}
	got, _ = s.ModeratorDefaultRoleOverride("mod1")
	if got != "role-updated" {
		t.Errorf("default after update = %q, want role-updated", got)
	}
}
