// Package hooks holds ordered handler chains that extension points run
// around thread lifecycle events. Handlers run in registration order and
// the first error aborts the chain.
package hooks

import (
	"context"
	"sync"

	"github.com/castellan/mailroom/internal/chat"
	"github.com/castellan/mailroom/internal/models"
)

// NewThreadEvent is passed to BeforeNewThread handlers. Handlers may cancel
// creation or steer where the staff channel lands.
type NewThreadEvent struct {
	User    *chat.User
	Source  string
	Message *chat.UserMessage

	// Cancel stops thread creation without an error.
	Cancel bool
	// CategoryID, when set, wins over configured category routing.
	CategoryID string
	// ChannelName, when set, replaces the default channel name.
	ChannelName string
}

// MessageEvent is passed to message handlers.
type MessageEvent struct {
	Thread  *models.Thread
	Message *chat.UserMessage

	// Cancel stops the message from being relayed or persisted. Only
	// honored by the before chain.
	Cancel bool
}

// ThreadEvent is passed to close lifecycle handlers.
type ThreadEvent struct {
	Thread *models.Thread
	// ClosedBy names who triggered the close, empty for scheduled closes.
	ClosedBy string
	// Silent marks a close that skips the user-facing close message.
	Silent bool
}

type (
	NewThreadHandler func(ctx context.Context, ev *NewThreadEvent) error
	MessageHandler   func(ctx context.Context, ev *MessageEvent) error
	ThreadHandler    func(ctx context.Context, ev *ThreadEvent) error
)

// Registry holds the handler chains. The zero value is usable.
type Registry struct {
	mu sync.RWMutex

	beforeNewThread          []NewThreadHandler
	beforeNewMessage         []MessageHandler
	afterNewMessage          []MessageHandler
	afterClose               []ThreadHandler
	afterCloseScheduled      []ThreadHandler
	afterCloseScheduleCancel []ThreadHandler
}

func NewRegistry() *Registry {
	return &Registry{}
}

// OnBeforeNewThread registers a handler that runs before a thread is created.
func (r *Registry) OnBeforeNewThread(h NewThreadHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beforeNewThread = append(r.beforeNewThread, h)
}

// OnBeforeNewMessageReceived registers a handler that runs before an inbound
// user message is relayed.
func (r *Registry) OnBeforeNewMessageReceived(h MessageHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beforeNewMessage = append(r.beforeNewMessage, h)
}

// OnAfterNewMessageReceived registers a handler that runs after an inbound
// user message has been relayed and persisted.
func (r *Registry) OnAfterNewMessageReceived(h MessageHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.afterNewMessage = append(r.afterNewMessage, h)
}

// OnAfterThreadClose registers a handler that runs after a thread closes.
func (r *Registry) OnAfterThreadClose(h ThreadHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.afterClose = append(r.afterClose, h)
}

// OnAfterThreadCloseScheduled registers a handler that runs when a close is
// scheduled.
func (r *Registry) OnAfterThreadCloseScheduled(h ThreadHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.afterCloseScheduled = append(r.afterCloseScheduled, h)
}

// OnAfterThreadCloseScheduleCanceled registers a handler that runs when a
// scheduled close is canceled.
func (r *Registry) OnAfterThreadCloseScheduleCanceled(h ThreadHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.afterCloseScheduleCancel = append(r.afterCloseScheduleCancel, h)
}

// RunBeforeNewThread runs the before-new-thread chain. The chain stops early
// when a handler cancels the event.
func (r *Registry) RunBeforeNewThread(ctx context.Context, ev *NewThreadEvent) error {
	r.mu.RLock()
	handlers := r.beforeNewThread
	r.mu.RUnlock()
	for _, h := range handlers {
		if err := h(ctx, ev); err != nil {
			return err
		}
		if ev.Cancel {
			return nil
		}
	}
	return nil
}

// RunBeforeNewMessageReceived runs the before-message chain, stopping early
// on cancel.
func (r *Registry) RunBeforeNewMessageReceived(ctx context.Context, ev *MessageEvent) error {
	r.mu.RLock()
	handlers := r.beforeNewMessage
	r.mu.RUnlock()
	for _, h := range handlers {
		if err := h(ctx, ev); err != nil {
			return err
		}
		if ev.Cancel {
			return nil
		}
	}
	return nil
}

// RunAfterNewMessageReceived runs the after-message chain.
func (r *Registry) RunAfterNewMessageReceived(ctx context.Context, ev *MessageEvent) error {
	r.mu.RLock()
	handlers := r.afterNewMessage
	r.mu.RUnlock()
	for _, h := range handlers {
		if err := h(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// RunAfterThreadClose runs the after-close chain.
func (r *Registry) RunAfterThreadClose(ctx context.Context, ev *ThreadEvent) error {
	r.mu.RLock()
	handlers := r.afterClose
	r.mu.RUnlock()
	return runThreadChain(ctx, handlers, ev)
}

// RunAfterThreadCloseScheduled runs the close-scheduled chain.
func (r *Registry) RunAfterThreadCloseScheduled(ctx context.Context, ev *ThreadEvent) error {
	r.mu.RLock()
	handlers := r.afterCloseScheduled
	r.mu.RUnlock()
	return runThreadChain(ctx, handlers, ev)
}

// RunAfterThreadCloseScheduleCanceled runs the schedule-canceled chain.
func (r *Registry) RunAfterThreadCloseScheduleCanceled(ctx context.Context, ev *ThreadEvent) error {
	r.mu.RLock()
	handlers := r.afterCloseScheduleCancel
	r.mu.RUnlock()
	return runThreadChain(ctx, handlers, ev)
}

func runThreadChain(ctx context.Context, handlers []ThreadHandler, ev *ThreadEvent) error {
	for _, h := range handlers {
		if err := h(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}
