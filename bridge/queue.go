package bridge

import "sync"

// Queue is an unbounded FIFO with a single consumer. Push never blocks on the
// consumer; items pushed after Close are dropped.
type Queue[T any] struct {
	in        chan T
	out       chan T
	done      chan struct{}
	closeOnce sync.Once
}

func NewQueue[T any]() *Queue[T] {
	q := &Queue[T]{
		in:   make(chan T),
		out:  make(chan T),
		done: make(chan struct{}),
	}
	go q.pump()
	return q
}

// Push enqueues v. It reports false when the queue is closed.
func (q *Queue[T]) Push(v T) bool {
	select {
	case <-q.done:
		return false
	default:
	}
	select {
	case q.in <- v:
		return true
	case <-q.done:
		return false
	}
}

// Out is the consumer side. It is closed once the queue is closed.
func (q *Queue[T]) Out() <-chan T {
	return q.out
}

// Close stops the queue and discards anything not yet consumed.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
}

func (q *Queue[T]) pump() {
	defer close(q.out)
	var pending []T
	for {
		var out chan T
		var head T
		if len(pending) > 0 {
			out = q.out
			head = pending[0]
		}
		select {
		case v := <-q.in:
			pending = append(pending, v)
		case out <- head:
			var zero T
			pending[0] = zero
			pending = pending[1:]
		case <-q.done:
			return
		}
	}
}
