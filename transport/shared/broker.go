package shared

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const DefaultEvalTimeout = 8 * time.Second

type pendingEval struct {
	completion func(any, error)
	timer      *time.Timer
}

// EvalBroker correlates eval frames with the page's result frames. Every
// registered completion is called exactly once: with the result, with
// ErrEvalTimeout, or with the error passed to Close.
type EvalBroker struct {
	mu      sync.Mutex
	timeout time.Duration
	pending map[string]pendingEval
	closed  error
}

func NewEvalBroker(timeout time.Duration) *EvalBroker {
	if timeout <= 0 {
		timeout = DefaultEvalTimeout
	}
	return &EvalBroker{
		timeout: timeout,
		pending: make(map[string]pendingEval),
	}
}

// Register reserves an id for completion. It returns "" when the broker is
// closed, after failing completion with the close error.
func (b *EvalBroker) Register(completion func(any, error)) string {
	id := "eval_" + uuid.NewString()

	b.mu.Lock()
	if b.closed != nil {
		err := b.closed
		b.mu.Unlock()
		completion(nil, err)
		return ""
	}
	b.pending[id] = pendingEval{
		completion: completion,
		timer: time.AfterFunc(b.timeout, func() {
			b.Resolve(id, nil, ErrEvalTimeout)
		}),
	}
	b.mu.Unlock()
	return id
}

// Resolve completes id. It reports false for unknown or already completed ids.
func (b *EvalBroker) Resolve(id string, result any, err error) bool {
	b.mu.Lock()
	waiter, exists := b.pending[id]
	if exists {
		delete(b.pending, id)
	}
	b.mu.Unlock()

	if !exists {
		return false
	}
	waiter.timer.Stop()
	waiter.completion(result, err)
	return true
}

// Pending is the number of evals still waiting for the page.
func (b *EvalBroker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Close fails every pending eval with err and rejects later registrations.
func (b *EvalBroker) Close(err error) {
	b.mu.Lock()
	if b.closed != nil {
		b.mu.Unlock()
		return
	}
	b.closed = err
	pending := b.pending
	b.pending = make(map[string]pendingEval)
	b.mu.Unlock()

	for _, waiter := range pending {
		waiter.timer.Stop()
		waiter.completion(nil, err)
	}
}
