package thread

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/castellan/mailroom/internal/chat"
	"github.com/castellan/mailroom/internal/hooks"
	"github.com/castellan/mailroom/internal/models"
	"github.com/castellan/mailroom/internal/store"
)

func TestCreateNewThreadForUser_OpensThread(t *testing.T) {
	m, mm, st := newTestManager(t, newTestConfig())
	user := testUser("u1", "Alice Smith")

	thread := mustOpenThread(t, m, user)
	if thread.ThreadNumber != 1 {
		t.Errorf("thread number = %d, want 1", thread.ThreadNumber)
	}
	if thread.Status != models.ThreadStatusOpen {
		t.Errorf("status = %d, want open", thread.Status)
	}
	if len(mm.createdNames) != 1 || mm.createdNames[0] != "alice-smith" {
		t.Errorf("created channels = %q", mm.createdNames)
	}

	// The info header lands in the channel and is recorded as a system row.
	if !containing(mm.channelContents(), "Thread #1") {
		t.Error("info header not posted")
	}
	msgs, err := st.MessagesByThread(thread.ID)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].MessageType != models.MessageTypeSystem {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestCreateNewThreadForUser_SecondOpenFails(t *testing.T) {
	m, _, _ := newTestManager(t, newTestConfig())
	user := testUser("u1", "alice")

	mustOpenThread(t, m, user)
	_, err := m.CreateNewThreadForUser(context.Background(), user, CreateOptions{Source: "dm"})
	if !errors.Is(err, ErrAlreadyOpen) {
		t.Fatalf("err = %v, want ErrAlreadyOpen", err)
	}
}

func TestCreateNewThreadForUser_AccountAgeGateDeclines(t *testing.T) {
	cfg := newTestConfig()
	cfg.Requirements.AccountAgeHours = 48
	cfg.Requirements.AccountAgeDeniedMessage = "your account is too new"
	m, mm, _ := newTestManager(t, cfg)

	user := &chat.User{ID: "u1", Username: "alice", CreatedAt: time.Now().Add(-time.Hour)}
	thread, err := m.CreateNewThreadForUser(context.Background(), user, CreateOptions{Source: "dm"})
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if thread != nil {
		t.Fatal("thread opened despite failing the gate")
	}
	dm, ok := mm.lastDM()
	if !ok || dm.out.Content != "your account is too new" {
		t.Errorf("denial dm = %+v", dm)
	}
}

func TestCreateNewThreadForUser_IgnoreRequirementsBypassesGate(t *testing.T) {
	cfg := newTestConfig()
	cfg.Requirements.AccountAgeHours = 48
	m, _, _ := newTestManager(t, cfg)

	user := &chat.User{ID: "u1", Username: "alice", CreatedAt: time.Now().Add(-time.Hour)}
	thread, err := m.CreateNewThreadForUser(context.Background(), user, CreateOptions{
		Source:             "command",
		IgnoreRequirements: true,
	})
	if err != nil || thread == nil {
		t.Fatalf("thread = %v, err = %v", thread, err)
	}
}

func TestCreateNewThreadForUser_HookCancelDeclines(t *testing.T) {
	m, mm, _ := newTestManager(t, newTestConfig())
	m.Hooks().OnBeforeNewThread(func(ctx context.Context, ev *hooks.NewThreadEvent) error {
		ev.Cancel = true
		return nil
	})

	thread, err := m.CreateNewThreadForUser(context.Background(), testUser("u1", "alice"), CreateOptions{Source: "dm"})
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if thread != nil {
		t.Fatal("thread opened despite hook cancel")
	}
	if len(mm.createdNames) != 0 {
		t.Errorf("channels created: %q", mm.createdNames)
	}
}

func TestCreateNewThreadForUser_RejectedNameFallsBack(t *testing.T) {
	m, mm, _ := newTestManager(t, newTestConfig())
	mm.rejectedNames["alice"] = true

	thread := mustOpenThread(t, m, testUser("u1", "alice"))
	if thread == nil {
		t.Fatal("no thread")
	}
	if len(mm.createdNames) != 1 || mm.createdNames[0] != "new-thread" {
		t.Errorf("created channels = %q", mm.createdNames)
	}
}

func TestReceiveUserReply_RelaysAndRecords(t *testing.T) {
	m, mm, st := newTestManager(t, newTestConfig())
	user := testUser("u1", "alice")
	thread := mustOpenThread(t, m, user)

	err := m.ReceiveUserReply(context.Background(), thread, &chat.UserMessage{
		ID:         "dm-1",
		ChannelID:  "dmchan-1",
		AuthorID:   user.ID,
		AuthorName: user.Username,
		Content:    "I need help",
		Timestamp:  time.Now(),
	})
	if err != nil {
		t.Fatalf("receive: %v", err)
	}

	if !containing(mm.channelContents(), "**alice:** I need help") {
		t.Error("relayed message not in channel")
	}
	msg, err := st.MessageByDMMessageID(thread.ID, "dm-1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if msg.MessageType != models.MessageTypeFromUser {
		t.Errorf("type = %d", msg.MessageType)
	}
	if msg.InboxMessageID == "" {
		t.Error("inbox message id not recorded")
	}
}

func TestReceiveUserReply_ChannelGoneClosesThread(t *testing.T) {
	m, mm, st := newTestManager(t, newTestConfig())
	user := testUser("u1", "alice")
	thread := mustOpenThread(t, m, user)
	mm.channelErr = chat.ErrChannelNotFound

	err := m.ReceiveUserReply(context.Background(), thread, &chat.UserMessage{
		ID:        "dm-1",
		ChannelID: "dmchan-1",
		AuthorID:  user.ID,
		Content:   "hello?",
	})
	var dErr *DeliveryError
	if !errors.As(err, &dErr) {
		t.Fatalf("err = %v, want DeliveryError", err)
	}

	// The row was persisted before the failed send, and the thread closed.
	if _, err := st.MessageByDMMessageID(thread.ID, "dm-1"); err != nil {
		t.Errorf("inbound row lost: %v", err)
	}
	got, err := st.ThreadByID(thread.ID)
	if err != nil {
		t.Fatalf("thread: %v", err)
	}
	if !got.IsClosed() {
		t.Errorf("status = %d, want closed", got.Status)
	}
}

func TestReceiveUserReply_MentionsAndClearsAlerts(t *testing.T) {
	m, mm, st := newTestManager(t, newTestConfig())
	user := testUser("u1", "alice")
	thread := mustOpenThread(t, m, user)

	if err := m.AddAlert(thread.ID, "mod9"); err != nil {
		t.Fatalf("add alert: %v", err)
	}
	fresh, err := st.ThreadByID(thread.ID)
	if err != nil {
		t.Fatalf("thread: %v", err)
	}

	if err := m.ReceiveUserReply(context.Background(), fresh, &chat.UserMessage{
		ID: "dm-1", ChannelID: "dmchan-1", AuthorID: user.ID, Content: "ping",
	}); err != nil {
		t.Fatalf("receive: %v", err)
	}

	if !containing(mm.channelContents(), "<@!mod9>") {
		t.Error("alert mention not posted")
	}
	after, err := st.ThreadByID(thread.ID)
	if err != nil {
		t.Fatalf("thread: %v", err)
	}
	if after.AlertIDs != "" {
		t.Errorf("alerts not cleared: %q", after.AlertIDs)
	}

	// The ping is part of the thread's record.
	msgs, err := st.MessagesByThread(thread.ID)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	recorded := false
	for _, row := range msgs {
		if row.MessageType == models.MessageTypeSystem && strings.Contains(row.Body, "New message from") {
			recorded = true
		}
	}
	if !recorded {
		t.Error("alert mention not recorded as a system row")
	}
}

func TestReceiveUserReply_ActivityCancelsScheduledClose(t *testing.T) {
	m, mm, st := newTestManager(t, newTestConfig())
	user := testUser("u1", "alice")
	thread := mustOpenThread(t, m, user)

	at := time.Now().Add(time.Hour)
	if err := m.ScheduleClose(context.Background(), thread, at, "mod1", "modname", false); err != nil {
		t.Fatalf("schedule close: %v", err)
	}

	if err := m.ReceiveUserReply(context.Background(), thread, &chat.UserMessage{
		ID: "dm-1", ChannelID: "dmchan-1", AuthorID: user.ID, Content: "wait",
	}); err != nil {
		t.Fatalf("receive: %v", err)
	}

	after, err := st.ThreadByID(thread.ID)
	if err != nil {
		t.Fatalf("thread: %v", err)
	}
	if after.ScheduledCloseAt != nil {
		t.Error("scheduled close not cleared")
	}
	if !containing(mm.channelContents(), "Cancelling scheduled closing") {
		t.Error("cancel notice not posted")
	}

	msgs, err := st.MessagesByThread(thread.ID)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	recorded := false
	for _, row := range msgs {
		if row.MessageType == models.MessageTypeSystem && strings.Contains(row.Body, "Cancelling scheduled closing") {
			recorded = true
		}
	}
	if !recorded {
		t.Error("cancel notice not recorded as a system row")
	}
}

func TestReplyToUser_SendsDMAndMirror(t *testing.T) {
	m, mm, _ := newTestManager(t, newTestConfig())
	user := testUser("u1", "alice")
	thread := mustOpenThread(t, m, user)

	msg, err := m.ReplyToUser(context.Background(), thread, Replier{ID: "mod1", Name: "carol"}, "here to help", false, nil)
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if msg.MessageNumber != 1 {
		t.Errorf("message number = %d, want 1", msg.MessageNumber)
	}

	dm, ok := mm.lastDM()
	if !ok || dm.out.Content != "**(Moderator) carol:** here to help" {
		t.Errorf("dm = %q", dm.out.Content)
	}
	if !containing(mm.channelContents(), "`1`  **(Moderator) carol:** here to help") {
		t.Error("channel mirror missing")
	}
	if msg.DMMessageID == "" || msg.InboxMessageID == "" {
		t.Errorf("send ids not recorded: %+v", msg)
	}
}

func TestReplyToUser_AnonymousRenderings(t *testing.T) {
	m, mm, _ := newTestManager(t, newTestConfig())
	user := testUser("u1", "alice")
	thread := mustOpenThread(t, m, user)
	mm.hoisted["mod1"] = "Support"

	if _, err := m.ReplyToUser(context.Background(), thread, Replier{ID: "mod1", Name: "carol"}, "hi", true, nil); err != nil {
		t.Fatalf("reply: %v", err)
	}

	dm, _ := mm.lastDM()
	if dm.out.Content != "**Support:** hi" {
		t.Errorf("dm = %q", dm.out.Content)
	}
	if !containing(mm.channelContents(), "**(Anonymous) (carol) Support:** hi") {
		t.Error("staff-side rendering should keep the name")
	}
}

func TestReplyToUser_RoleOverridePrecedence(t *testing.T) {
	m, mm, st := newTestManager(t, newTestConfig())
	user := testUser("u1", "alice")
	thread := mustOpenThread(t, m, user)

	mm.hoisted["mod1"] = "Helper"
	mm.roleNames["role-default"] = "Support"
	mm.roleNames["role-thread"] = "Escalations"

	if err := st.SetModeratorDefaultRoleOverride("mod1", "role-default"); err != nil {
		t.Fatalf("default override: %v", err)
	}
	if err := st.SetModeratorThreadRoleOverride("mod1", thread.ID, "role-thread"); err != nil {
		t.Fatalf("thread override: %v", err)
	}

	if _, err := m.ReplyToUser(context.Background(), thread, Replier{ID: "mod1", Name: "carol"}, "hi", false, nil); err != nil {
		t.Fatalf("reply: %v", err)
	}
	dm, _ := mm.lastDM()
	if dm.out.Content != "**(Escalations) carol:** hi" {
		t.Errorf("dm = %q, want thread override role", dm.out.Content)
	}
}

func TestReplyToUser_SuspendedThreadIsGated(t *testing.T) {
	m, mm, _ := newTestManager(t, newTestConfig())
	user := testUser("u1", "alice")
	thread := mustOpenThread(t, m, user)
	if err := m.Suspend(thread); err != nil {
		t.Fatalf("suspend: %v", err)
	}

	dmsBefore := len(mm.dmCalls)
	_, err := m.ReplyToUser(context.Background(), thread, Replier{ID: "mod1", Name: "carol"}, "hi", false, nil)
	if !errors.Is(err, ErrSuspended) {
		t.Fatalf("err = %v, want ErrSuspended", err)
	}
	if len(mm.dmCalls) != dmsBefore {
		t.Error("dm sent despite suspended thread")
	}
}

func TestReplyToUser_TooLongLeavesNoTrace(t *testing.T) {
	m, mm, st := newTestManager(t, newTestConfig())
	user := testUser("u1", "alice")
	thread := mustOpenThread(t, m, user)

	dmsBefore := len(mm.dmCalls)
	_, err := m.ReplyToUser(context.Background(), thread, Replier{ID: "mod1", Name: "carol"},
		strings.Repeat("x", chat.MaxMessageLength+1), false, nil)
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if len(mm.dmCalls) != dmsBefore {
		t.Error("dm sent despite validation failure")
	}

	// Numbering was not consumed: the next reply still gets number 1.
	msg, err := m.ReplyToUser(context.Background(), thread, Replier{ID: "mod1", Name: "carol"}, "short", false, nil)
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if msg.MessageNumber != 1 {
		t.Errorf("message number = %d, want 1", msg.MessageNumber)
	}
	msgs, err := st.MessagesByThread(thread.ID)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	for _, row := range msgs {
		if row.MessageType == models.MessageTypeToUser && row.Body != "short" {
			t.Errorf("unexpected persisted reply: %q", row.Body)
		}
	}
}

func TestReplyToUser_DMFailureRollsBack(t *testing.T) {
	m, mm, st := newTestManager(t, newTestConfig())
	user := testUser("u1", "alice")
	thread := mustOpenThread(t, m, user)
	mm.dmErr = chat.ErrRecipientUnavailable

	_, err := m.ReplyToUser(context.Background(), thread, Replier{ID: "mod1", Name: "carol"}, "hi", false, nil)
	var dErr *DeliveryError
	if !errors.As(err, &dErr) {
		t.Fatalf("err = %v, want DeliveryError", err)
	}
	if !errors.Is(err, chat.ErrRecipientUnavailable) {
		t.Errorf("err does not unwrap to the send failure: %v", err)
	}

	msgs, err := st.MessagesByThread(thread.ID)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	for _, row := range msgs {
		if row.MessageType == models.MessageTypeToUser {
			t.Errorf("reply row survived the rollback: %+v", row)
		}
	}
	if !containing(mm.channelContents(), "Error while replying to user") {
		t.Error("failure notice not posted")
	}
}

func TestReplyToUser_InlineSnippetExpansion(t *testing.T) {
	cfg := newTestConfig()
	cfg.AllowSnippets = true
	cfg.AllowInlineSnippets = true
	m, mm, st := newTestManager(t, cfg)
	user := testUser("u1", "alice")
	thread := mustOpenThread(t, m, user)

	if _, err := st.CreateSnippet("faq", "see the FAQ at example.com", "mod1"); err != nil {
		t.Fatalf("create snippet: %v", err)
	}

	if _, err := m.ReplyToUser(context.Background(), thread, Replier{ID: "mod1", Name: "carol"},
		"hi, {{faq}}", false, nil); err != nil {
		t.Fatalf("reply: %v", err)
	}
	dm, _ := mm.lastDM()
	if !strings.Contains(dm.out.Content, "see the FAQ at example.com") {
		t.Errorf("snippet not expanded: %q", dm.out.Content)
	}
}

func TestReplyToUser_UnknownSnippetStrictMode(t *testing.T) {
	cfg := newTestConfig()
	cfg.AllowSnippets = true
	cfg.AllowInlineSnippets = true
	cfg.ErrorOnUnknownInlineSnippet = true
	m, mm, _ := newTestManager(t, cfg)
	user := testUser("u1", "alice")
	thread := mustOpenThread(t, m, user)

	dmsBefore := len(mm.dmCalls)
	_, err := m.ReplyToUser(context.Background(), thread, Replier{ID: "mod1", Name: "carol"},
		"hi, {{nope}}", false, nil)
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if !strings.Contains(vErr.Message, "nope") {
		t.Errorf("message = %q", vErr.Message)
	}
	if len(mm.dmCalls) != dmsBefore {
		t.Error("dm sent despite unknown snippet")
	}
}

func TestReplyToUser_RelaysAttachmentsAsFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("image-bytes"))
	}))
	defer srv.Close()

	m, mm, _ := newTestManager(t, newTestConfig())
	user := testUser("u1", "alice")
	thread := mustOpenThread(t, m, user)

	atts := []chat.Attachment{{ID: "a1", URL: srv.URL + "/shot.png", Filename: "shot.png", Size: 11}}
	msg, err := m.ReplyToUser(context.Background(), thread, Replier{ID: "mod1", Name: "carol"}, "see this", false, atts)
	if err != nil {
		t.Fatalf("reply: %v", err)
	}

	dm, ok := mm.lastDM()
	if !ok || len(dm.out.Files) != 1 || dm.out.Files[0].Name != "shot.png" {
		t.Fatalf("dm files = %+v", dm.out.Files)
	}
	body, err := io.ReadAll(dm.out.Files[0].Reader)
	if err != nil || string(body) != "image-bytes" {
		t.Errorf("dm file body = %q, err = %v", body, err)
	}
	mirror, ok := mm.lastChannel()
	if !ok || len(mirror.out.Files) != 1 {
		t.Errorf("mirror files = %+v", mirror.out.Files)
	}
	if urls := msg.AttachmentList(); len(urls) != 1 || !strings.HasSuffix(urls[0], "/shot.png") {
		t.Errorf("recorded attachments = %q", urls)
	}
}

func TestReplyToUser_BreaksFormattingInNames(t *testing.T) {
	cfg := newTestConfig()
	cfg.BreakFormattingForNames = true
	m, mm, _ := newTestManager(t, cfg)
	user := testUser("u1", "alice")
	thread := mustOpenThread(t, m, user)

	if _, err := m.ReplyToUser(context.Background(), thread, Replier{ID: "mod1", Name: "mod_x"}, "hi", false, nil); err != nil {
		t.Fatalf("reply: %v", err)
	}
	dm, _ := mm.lastDM()
	if dm.out.Content != "**(Moderator) mod\\_x:** hi" {
		t.Errorf("dm = %q, want escaped name", dm.out.Content)
	}
}

func TestEditStaffReply_EditsBothSides(t *testing.T) {
	m, mm, st := newTestManager(t, newTestConfig())
	user := testUser("u1", "alice")
	thread := mustOpenThread(t, m, user)
	replier := Replier{ID: "mod1", Name: "carol"}

	msg, err := m.ReplyToUser(context.Background(), thread, replier, "original", false, nil)
	if err != nil {
		t.Fatalf("reply: %v", err)
	}

	if err := m.EditStaffReply(context.Background(), thread, replier, msg.MessageNumber, "amended", false); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if len(mm.edits) != 2 {
		t.Fatalf("edits = %d, want dm + mirror", len(mm.edits))
	}

	updated, err := st.MessageByNumber(thread.ID, msg.MessageNumber)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if updated.Body != "amended" {
		t.Errorf("body = %q", updated.Body)
	}

	msgs, err := st.MessagesByThread(thread.ID)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	audits := 0
	for _, row := range msgs {
		if row.MessageType == models.MessageTypeReplyEdited {
			audits++
			var original models.ThreadMessage
			if !row.MetadataValue(models.MetadataOriginalMessage, &original) {
				t.Error("audit row missing the original snapshot")
			} else if original.Body != "original" {
				t.Errorf("snapshot body = %q", original.Body)
			}
		}
	}
	if audits != 1 {
		t.Errorf("audit rows = %d, want 1", audits)
	}
	if !containing(mm.channelContents(), "edited reply `1`") {
		t.Error("edit notice not posted")
	}
}

func TestEditStaffReply_OnlyAuthorMayEdit(t *testing.T) {
	m, _, _ := newTestManager(t, newTestConfig())
	user := testUser("u1", "alice")
	thread := mustOpenThread(t, m, user)

	msg, err := m.ReplyToUser(context.Background(), thread, Replier{ID: "mod1", Name: "carol"}, "original", false, nil)
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	err = m.EditStaffReply(context.Background(), thread, Replier{ID: "mod2", Name: "dave"}, msg.MessageNumber, "hijack", false)
	if !errors.Is(err, ErrNotAuthor) {
		t.Fatalf("err = %v, want ErrNotAuthor", err)
	}
}

func TestDeleteStaffReply_RemovesBothSides(t *testing.T) {
	m, mm, st := newTestManager(t, newTestConfig())
	user := testUser("u1", "alice")
	thread := mustOpenThread(t, m, user)
	replier := Replier{ID: "mod1", Name: "carol"}

	msg, err := m.ReplyToUser(context.Background(), thread, replier, "oops", false, nil)
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if err := m.DeleteStaffReply(context.Background(), thread, replier, msg.MessageNumber, false); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(mm.deletes) != 2 {
		t.Errorf("deletes = %d, want dm + mirror", len(mm.deletes))
	}
	if _, err := st.MessageByNumber(thread.ID, msg.MessageNumber); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("lookup after delete = %v, want ErrNotFound", err)
	}
	if !containing(mm.channelContents(), "deleted reply `1`") {
		t.Error("delete notice not posted")
	}
}

func TestSyncUserEdit_UpdatesMirrorAndRow(t *testing.T) {
	m, mm, st := newTestManager(t, newTestConfig())
	user := testUser("u1", "alice")
	thread := mustOpenThread(t, m, user)

	if err := m.ReceiveUserReply(context.Background(), thread, &chat.UserMessage{
		ID: "dm-1", ChannelID: "dmchan-1", AuthorID: user.ID, AuthorName: user.Username, Content: "first",
	}); err != nil {
		t.Fatalf("receive: %v", err)
	}

	if err := m.SyncUserEdit(context.Background(), thread, "dm-1", "second"); err != nil {
		t.Fatalf("sync edit: %v", err)
	}
	if len(mm.edits) != 1 || !strings.Contains(mm.edits[0].content, "second") {
		t.Errorf("edits = %+v", mm.edits)
	}
	row, err := st.MessageByDMMessageID(thread.ID, "dm-1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if row.Body != "second" {
		t.Errorf("body = %q", row.Body)
	}
}

func TestSyncUserDelete_MarksMirror(t *testing.T) {
	m, mm, _ := newTestManager(t, newTestConfig())
	user := testUser("u1", "alice")
	thread := mustOpenThread(t, m, user)

	if err := m.ReceiveUserReply(context.Background(), thread, &chat.UserMessage{
		ID: "dm-1", ChannelID: "dmchan-1", AuthorID: user.ID, AuthorName: user.Username, Content: "gone soon",
	}); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if err := m.SyncUserDelete(context.Background(), thread, "dm-1"); err != nil {
		t.Fatalf("sync delete: %v", err)
	}
	if len(mm.edits) != 1 || !strings.Contains(mm.edits[0].content, "*(message deleted)*") {
		t.Errorf("edits = %+v", mm.edits)
	}
}

func TestClose_IsTerminal(t *testing.T) {
	m, mm, st := newTestManager(t, newTestConfig())
	user := testUser("u1", "alice")
	thread := mustOpenThread(t, m, user)

	closedEvents := 0
	m.Hooks().OnAfterThreadClose(func(ctx context.Context, ev *hooks.ThreadEvent) error {
		closedEvents++
		return nil
	})

	if err := m.Close(context.Background(), thread, "mod1", false); err != nil {
		t.Fatalf("close: %v", err)
	}
	got, err := st.ThreadByID(thread.ID)
	if err != nil {
		t.Fatalf("thread: %v", err)
	}
	if !got.IsClosed() {
		t.Errorf("status = %d", got.Status)
	}
	if len(mm.deletedIDs) != 1 {
		t.Errorf("channel deletions = %d", len(mm.deletedIDs))
	}
	if closedEvents != 1 {
		t.Errorf("after-close hooks ran %d times", closedEvents)
	}

	// A new conversation after close gets a fresh thread and number.
	next := mustOpenThread(t, m, user)
	if next.ThreadNumber != 2 {
		t.Errorf("next thread number = %d, want 2", next.ThreadNumber)
	}
}

func TestUnsuspend_ConflictsWithNewerOpenThread(t *testing.T) {
	m, _, st := newTestManager(t, newTestConfig())
	user := testUser("u1", "alice")
	thread := mustOpenThread(t, m, user)

	if err := m.Suspend(thread); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	// The user opened a second thread while the first was parked.
	newer := mustOpenThread(t, m, user)

	if err := m.Unsuspend(thread); !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}

	if err := m.Close(context.Background(), newer, "mod1", true); err != nil {
		t.Fatalf("close newer: %v", err)
	}
	if err := m.Unsuspend(thread); err != nil {
		t.Fatalf("unsuspend after conflict cleared: %v", err)
	}
	got, err := st.ThreadByID(thread.ID)
	if err != nil {
		t.Fatalf("thread: %v", err)
	}
	if !got.IsOpen() {
		t.Errorf("status = %d, want open", got.Status)
	}
}

func TestSuspend_Twice(t *testing.T) {
	m, _, _ := newTestManager(t, newTestConfig())
	thread := mustOpenThread(t, m, testUser("u1", "alice"))

	if err := m.Suspend(thread); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if err := m.Suspend(thread); !errors.Is(err, ErrSuspended) {
		t.Fatalf("second suspend = %v, want ErrSuspended", err)
	}
}

func TestReceiveUserReply_SuspendedThreadStillRelays(t *testing.T) {
	m, mm, _ := newTestManager(t, newTestConfig())
	user := testUser("u1", "alice")
	thread := mustOpenThread(t, m, user)
	if err := m.Suspend(thread); err != nil {
		t.Fatalf("suspend: %v", err)
	}

	if err := m.ReceiveUserReply(context.Background(), thread, &chat.UserMessage{
		ID: "dm-1", ChannelID: "dmchan-1", AuthorID: user.ID, AuthorName: user.Username, Content: "still here",
	}); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if !containing(mm.channelContents(), "still here") {
		t.Error("inbound message not relayed while suspended")
	}
}

func TestCloseByUser_ClosesOwnThread(t *testing.T) {
	cfg := newTestConfig()
	cfg.AllowUserClose = true
	cfg.CloseMessage = "thanks for writing in"
	m, mm, st := newTestManager(t, cfg)
	user := testUser("u1", "alice")
	thread := mustOpenThread(t, m, user)

	closed, err := m.CloseByUser(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("close by user: %v", err)
	}
	if closed == nil || closed.ID != thread.ID {
		t.Fatalf("closed = %+v, want thread %s", closed, thread.ID)
	}
	got, err := st.ThreadByID(thread.ID)
	if err != nil {
		t.Fatalf("thread: %v", err)
	}
	if !got.IsClosed() {
		t.Errorf("status = %d, want closed", got.Status)
	}
	if !containing(mm.channelContents(), "Thread closed by the user") {
		t.Error("close notice not posted to the channel")
	}
	dm, ok := mm.lastDM()
	if !ok || dm.out.Content != "thanks for writing in" {
		t.Errorf("close message dm = %+v", dm)
	}
}

func TestCloseByUser_DisabledIsNoOp(t *testing.T) {
	m, _, st := newTestManager(t, newTestConfig())
	user := testUser("u1", "alice")
	thread := mustOpenThread(t, m, user)

	closed, err := m.CloseByUser(context.Background(), user.ID)
	if err != nil || closed != nil {
		t.Fatalf("closed = %+v, err = %v, want nil, nil", closed, err)
	}
	got, err := st.ThreadByID(thread.ID)
	if err != nil {
		t.Fatalf("thread: %v", err)
	}
	if !got.IsOpen() {
		t.Errorf("status = %d, want open", got.Status)
	}
}
