package bridge

import (
	"context"
	"errors"

	"github.com/slighter12/isocity-host-go/logger"
)

// ErrLoopClosed is returned by Do when the loop stopped before running fn.
var ErrLoopClosed = errors.New("bridge: update loop closed")

// Loop is the host's single logical update thread. Functions posted to it run
// one at a time in the order they were posted; anything that owns host state
// confines its mutations to the loop instead of taking locks.
type Loop struct {
	queue *Queue[func()]
	done  chan struct{}
}

func NewLoop() *Loop {
	return &Loop{
		queue: NewQueue[func()](),
		done:  make(chan struct{}),
	}
}

// Run drains the loop until ctx is cancelled or Close is called.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			l.queue.Close()
			return
		case fn, ok := <-l.queue.Out():
			if !ok {
				return
			}
			l.invoke(fn)
		}
	}
}

// Post schedules fn without waiting for it.
func (l *Loop) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	return l.queue.Push(fn)
}

// Do posts fn and waits until it has run.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrLoopClosed
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrLoopClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the loop; pending functions are discarded.
func (l *Loop) Close() {
	l.queue.Close()
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Update loop task panicked", "panic", r)
		}
	}()
	fn()
}
