// Package scanner drives scheduled thread transitions. A single goroutine
// polls for elapsed schedules and re-arms its timer only after a full pass,
// so a slow pass never overlaps the next one.
package scanner

import (
	"context"
	"log"
	"time"

	"github.com/castellan/mailroom/internal/store"
	"github.com/castellan/mailroom/internal/thread"
)

// DefaultInterval matches the cadence scheduled transitions are checked at.
const DefaultInterval = 2 * time.Second

// Scanner polls for threads whose scheduled close or suspend time has
// elapsed and applies the transition.
type Scanner struct {
	store    *store.Store
	manager  *thread.Manager
	interval time.Duration
}

func New(st *store.Store, manager *thread.Manager, interval time.Duration) *Scanner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scanner{store: st, manager: manager, interval: interval}
}

// Run blocks until ctx is canceled. Each cycle runs to completion before
// the timer is re-armed. Errors are logged and the loop continues.
func (s *Scanner) Run(ctx context.Context) {
	timer := time.NewTimer(s.interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		s.runOnce(ctx)
		timer.Reset(s.interval)
	}
}

func (s *Scanner) runOnce(ctx context.Context) {
	now := time.Now().UTC()
	s.closeElapsed(ctx, now)
	s.suspendElapsed(ctx, now)
}

func (s *Scanner) closeElapsed(ctx context.Context, now time.Time) {
	threads, err := s.store.ThreadsToClose(now)
	if err != nil {
		log.Printf("scanner: threads to close: %v", err)
		return
	}
	for i := range threads {
		t := &threads[i]
		if !t.ScheduledCloseSilent {
			s.manager.SendCloseMessage(ctx, t)
		}
		if err := s.manager.Close(ctx, t, t.ScheduledCloseName, t.ScheduledCloseSilent); err != nil {
			log.Printf("scanner: close thread #%d: %v", t.ThreadNumber, err)
			continue
		}
		log.Printf("scanner: closed thread #%d (scheduled by %s)", t.ThreadNumber, t.ScheduledCloseName)
	}
}

func (s *Scanner) suspendElapsed(ctx context.Context, now time.Time) {
	threads, err := s.store.ThreadsToSuspend(now)
	if err != nil {
		log.Printf("scanner: threads to suspend: %v", err)
		return
	}
	for i := range threads {
		t := &threads[i]
		if err := s.manager.Suspend(t); err != nil {
			log.Printf("scanner: suspend thread #%d: %v", t.ThreadNumber, err)
			continue
		}
		if err := s.manager.PostSystemMessage(ctx, t, "**Thread suspended** as scheduled. Use `unsuspend` to resume."); err != nil {
			log.Printf("scanner: suspend notice for thread #%d: %v", t.ThreadNumber, err)
		}
		log.Printf("scanner: suspended thread #%d (scheduled by %s)", t.ThreadNumber, t.ScheduledSuspendName)
	}
}
