package thread

import (
	"context"
	"errors"
	"log"

	"github.com/castellan/mailroom/internal/store"
)

// RecoverDowntimeMessages relays DMs that arrived while the process was
// down. For every open thread it fetches the user's DM history after the
// last message the relay saw and replays the gap.
func (m *Manager) RecoverDowntimeMessages(ctx context.Context) error {
	threads, err := m.store.AllOpenThreads()
	if err != nil {
		return err
	}
	for i := range threads {
		thread := &threads[i]

		afterID := ""
		latest, err := m.store.LatestUserFacingMessage(thread.ID)
		switch {
		case err == nil:
			afterID = latest.DMMessageID
		case errors.Is(err, store.ErrNotFound):
		default:
			log.Printf("thread: recovery cursor for %s: %v", thread.ID, err)
			continue
		}

		msgs, err := m.messenger.UserDMHistory(ctx, thread.UserID, afterID, 100)
		if err != nil {
			log.Printf("thread: recovery history for %s: %v", thread.ID, err)
			continue
		}
		for j := range msgs {
			userMsg := &msgs[j]
			// Skip anything already recorded, e.g. the cursor message itself.
			if _, err := m.store.MessageByDMMessageID(thread.ID, userMsg.ID); err == nil {
				continue
			}
			if err := m.ReceiveUserReply(ctx, thread, userMsg); err != nil {
				log.Printf("thread: recover message %s into %s: %v", userMsg.ID, thread.ID, err)
			}
		}
		if len(msgs) > 0 {
			log.Printf("thread: recovered %d missed messages for thread #%d", len(msgs), thread.ThreadNumber)
		}
	}
	return nil
}
