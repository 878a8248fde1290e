package bridge

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/slighter12/isocity-host-go/logger"
)

// ErrNotAttached is reported to Evaluate completions when no page is attached.
var ErrNotAttached = errors.New("bridge: no page attached")

// ScriptEvaluator runs a script inside the page's script context. It must not
// block on the page: completion, when non-nil, is called once the page answers
// or the attempt fails. A nil completion means nobody is waiting for a result
// and failures are only logged.
type ScriptEvaluator interface {
	EvaluateScript(ctx context.Context, script string, completion func(result any, err error))
}

type attachedEvaluator struct {
	evaluator ScriptEvaluator
}

type scriptJob struct {
	script     string
	completion func(any, error)
}

// Dispatcher is the native->web half of the bridge. Scripts are handed to the
// attached page in the order they were issued; delivery is best effort.
type Dispatcher struct {
	ctx      context.Context
	cancel   context.CancelFunc
	attached atomic.Pointer[attachedEvaluator]
	queue    *Queue[scriptJob]
	stopped  chan struct{}
}

func NewDispatcher() *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		ctx:     ctx,
		cancel:  cancel,
		queue:   NewQueue[scriptJob](),
		stopped: make(chan struct{}),
	}
	go d.run()
	return d
}

// Attach makes evaluator the target of subsequent scripts.
func (d *Dispatcher) Attach(evaluator ScriptEvaluator) {
	if evaluator == nil {
		d.attached.Store(nil)
		return
	}
	d.attached.Store(&attachedEvaluator{evaluator: evaluator})
}

// Detach clears the target if it is still evaluator.
func (d *Dispatcher) Detach(evaluator ScriptEvaluator) bool {
	current := d.attached.Load()
	if current == nil || current.evaluator != evaluator {
		return false
	}
	return d.attached.CompareAndSwap(current, nil)
}

// Attached reports whether a page is currently attached.
func (d *Dispatcher) Attached() bool {
	return d.attached.Load() != nil
}

// Dispatch sends one envelope to window.bridge.dispatch. Envelopes that cannot
// be encoded are dropped; nothing is reported back to the caller.
func (d *Dispatcher) Dispatch(msgType string, payload any) {
	data, err := Encode(msgType, payload)
	if err != nil {
		logger.Debug("Dropping unencodable bridge command", "type", msgType, "error", err)
		return
	}
	script := "window.bridge && window.bridge.dispatch(" + string(data) + ");"
	if !d.queue.Push(scriptJob{script: script}) {
		logger.Debug("Dropping bridge command after dispatcher close", "type", msgType)
	}
}

// Evaluate runs an arbitrary script and reports its result to completion.
// It shares the command queue, so it is ordered with Dispatch calls.
func (d *Dispatcher) Evaluate(script string, completion func(result any, err error)) {
	if !d.queue.Push(scriptJob{script: script, completion: completion}) && completion != nil {
		completion(nil, ErrNotAttached)
	}
}

// Close stops delivery. Queued scripts are discarded.
func (d *Dispatcher) Close() {
	d.queue.Close()
	d.cancel()
	<-d.stopped
}

func (d *Dispatcher) run() {
	defer close(d.stopped)
	for job := range d.queue.Out() {
		current := d.attached.Load()
		if current == nil {
			logger.Debug("Script dropped, no page attached")
			if job.completion != nil {
				job.completion(nil, ErrNotAttached)
			}
			continue
		}
		current.evaluator.EvaluateScript(d.ctx, job.script, job.completion)
	}
}
