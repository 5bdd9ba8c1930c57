package thread

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/castellan/mailroom/internal/chat"
	"github.com/castellan/mailroom/internal/hooks"
	"github.com/castellan/mailroom/internal/metrics"
	"github.com/castellan/mailroom/internal/models"
	"github.com/castellan/mailroom/internal/store"
)

// Close marks the thread closed, deletes its staff channel, and runs the
// after-close chain. Closed is terminal.
func (m *Manager) Close(ctx context.Context, thread *models.Thread, closedBy string, silent bool) error {
	if err := m.store.SetThreadStatus(thread.ID, models.ThreadStatusClosed); err != nil {
		return err
	}
	thread.Status = models.ThreadStatusClosed
	metrics.ThreadsClosed.Inc()

	if err := m.messenger.DeleteChannel(ctx, thread.ChannelID, "thread closed"); err != nil {
		// The channel may already be gone; the thread is closed regardless.
		log.Printf("thread: delete channel %s on close: %v", thread.ChannelID, err)
	}

	ev := &hooks.ThreadEvent{Thread: thread, ClosedBy: closedBy, Silent: silent}
	if err := m.hooks.RunAfterThreadClose(ctx, ev); err != nil {
		log.Printf("thread: after-close hooks for %s: %v", thread.ID, err)
	}
	return nil
}

// SendCloseMessage DMs the configured close message, if any.
func (m *Manager) SendCloseMessage(ctx context.Context, thread *models.Thread) {
	if m.cfg.CloseMessage == "" {
		return
	}
	if _, err := m.messenger.SendDM(ctx, thread.UserID, chat.Outgoing{Content: m.cfg.CloseMessage}); err != nil {
		log.Printf("thread: close message dm to %s: %v", thread.UserID, err)
	}
}

// CloseByUser closes the user's own open thread. The DM close command
// routes here; it does nothing when allow_user_close is disabled or the
// user has no open thread. Returns the closed thread, nil when nothing
// was closed.
func (m *Manager) CloseByUser(ctx context.Context, userID string) (*models.Thread, error) {
	if !m.cfg.AllowUserClose {
		return nil, nil
	}
	thread, err := m.store.OpenThreadByUserID(userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := m.PostSystemMessage(ctx, thread, "Thread closed by the user, closing..."); err != nil {
		log.Printf("thread: user close notice for %s: %v", thread.ID, err)
	}
	m.SendCloseMessage(ctx, thread)
	if err := m.Close(ctx, thread, "the user", false); err != nil {
		return nil, err
	}
	return thread, nil
}

// ScheduleClose arranges the thread to close at the given time. Any relayed
// message before then cancels the schedule.
func (m *Manager) ScheduleClose(ctx context.Context, thread *models.Thread, at time.Time, byID, byName string, silent bool) error {
	if err := m.store.ScheduleClose(thread.ID, at, byID, byName, silent); err != nil {
		return err
	}
	thread.ScheduledCloseAt = &at
	thread.ScheduledCloseID = byID
	thread.ScheduledCloseName = byName
	thread.ScheduledCloseSilent = silent

	ev := &hooks.ThreadEvent{Thread: thread, ClosedBy: byName, Silent: silent}
	if err := m.hooks.RunAfterThreadCloseScheduled(ctx, ev); err != nil {
		log.Printf("thread: close-scheduled hooks for %s: %v", thread.ID, err)
	}
	return nil
}

// CancelScheduledClose clears a pending scheduled close.
func (m *Manager) CancelScheduledClose(ctx context.Context, thread *models.Thread) error {
	if err := m.store.ClearScheduledClose(thread.ID); err != nil {
		return err
	}
	thread.ScheduledCloseAt = nil
	thread.ScheduledCloseID = ""
	thread.ScheduledCloseName = ""
	thread.ScheduledCloseSilent = false

	ev := &hooks.ThreadEvent{Thread: thread}
	if err := m.hooks.RunAfterThreadCloseScheduleCanceled(ctx, ev); err != nil {
		log.Printf("thread: schedule-canceled hooks for %s: %v", thread.ID, err)
	}
	return nil
}

// Suspend puts the thread in the suspended state: inbound messages keep
// relaying but staff replies are gated until unsuspend.
func (m *Manager) Suspend(thread *models.Thread) error {
	if thread.IsSuspended() {
		return ErrSuspended
	}
	if err := m.store.Suspend(thread.ID); err != nil {
		return err
	}
	thread.Status = models.ThreadStatusSuspended
	thread.ScheduledSuspendAt = nil
	thread.ScheduledSuspendID = ""
	thread.ScheduledSuspendName = ""
	return nil
}

// ScheduleSuspend arranges the thread to suspend at the given time.
func (m *Manager) ScheduleSuspend(thread *models.Thread, at time.Time, byID, byName string) error {
	if err := m.store.ScheduleSuspend(thread.ID, at, byID, byName); err != nil {
		return err
	}
	thread.ScheduledSuspendAt = &at
	thread.ScheduledSuspendID = byID
	thread.ScheduledSuspendName = byName
	return nil
}

// CancelScheduledSuspend clears a pending scheduled suspend.
func (m *Manager) CancelScheduledSuspend(thread *models.Thread) error {
	if err := m.store.ClearScheduledSuspend(thread.ID); err != nil {
		return err
	}
	thread.ScheduledSuspendAt = nil
	thread.ScheduledSuspendID = ""
	thread.ScheduledSuspendName = ""
	return nil
}

// Unsuspend reopens a suspended thread. Fails with ErrConflict when the
// user opened another thread in the meantime.
func (m *Manager) Unsuspend(thread *models.Thread) error {
	if !thread.IsSuspended() {
		return fmt.Errorf("thread: unsuspend %s: thread is not suspended", thread.ID)
	}
	other, err := m.store.OpenThreadByUserID(thread.UserID)
	if err == nil && other.ID != thread.ID {
		return ErrConflict
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if err := m.store.SetThreadStatus(thread.ID, models.ThreadStatusOpen); err != nil {
		return err
	}
	thread.Status = models.ThreadStatusOpen
	return nil
}

// AddAlert queues a moderator mention for the thread's next user message.
func (m *Manager) AddAlert(threadID, userID string) error {
	return m.store.AddAlert(threadID, userID)
}

// RemoveAlert removes a moderator from the thread's alert set.
func (m *Manager) RemoveAlert(threadID, userID string) error {
	return m.store.RemoveAlert(threadID, userID)
}

// ResetThreadID rekeys a thread. Used when exporting a thread invalidates
// its id, matching the lifecycle of shared transcript links.
func (m *Manager) ResetThreadID(thread *models.Thread) (string, error) {
	newID, err := m.store.ResetThreadID(thread.ID)
	if err != nil {
		return "", err
	}
	thread.ID = newID
	return newID, nil
}
