package thread

import (
	"context"

	"github.com/castellan/mailroom/internal/models"
)

// Serializer runs thread-creation tasks one at a time in submission order.
// The duplicate-open check and the thread-number allocation both happen
// inside the serialized section, so concurrent DMs from the same user
// cannot race their way into two open threads.
type Serializer struct {
	tasks chan serialTask
	done  chan struct{}
}

type serialTask struct {
	ctx    context.Context
	fn     func(ctx context.Context) (*models.Thread, error)
	result chan serialResult
}

type serialResult struct {
	thread *models.Thread
	err    error
}

// NewSerializer starts the worker goroutine.
func NewSerializer() *Serializer {
	s := &Serializer{
		tasks: make(chan serialTask),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Serializer) run() {
	for task := range s.tasks {
		if err := task.ctx.Err(); err != nil {
			task.result <- serialResult{err: err}
			continue
		}
		thread, err := task.fn(task.ctx)
		task.result <- serialResult{thread: thread, err: err}
	}
	close(s.done)
}

// Do enqueues fn and blocks until it has run. A task failure only affects
// its own caller.
func (s *Serializer) Do(ctx context.Context, fn func(ctx context.Context) (*models.Thread, error)) (*models.Thread, error) {
	task := serialTask{ctx: ctx, fn: fn, result: make(chan serialResult, 1)}
	select {
	case s.tasks <- task:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	res := <-task.result
	return res.thread, res.err
}

// Close stops the worker after the queued tasks finish.
func (s *Serializer) Close() {
	close(s.tasks)
	<-s.done
}
