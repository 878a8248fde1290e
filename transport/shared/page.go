package shared

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/slighter12/isocity-host-go/bridge"
	"github.com/slighter12/isocity-host-go/lifecycle"
)

// Page is one connected page. It is the bridge's ScriptEvaluator while it is
// the hub's current page. Frames reach the page in the order they were issued.
type Page struct {
	id          string
	transport   string
	connectedAt time.Time
	conn        Conn
	broker      *EvalBroker
	outbox      *bridge.Queue[Frame]
	log         *slog.Logger

	// Set when the host ends the connection or sends the page elsewhere;
	// a disconnect after either is not a crash.
	replaced   atomic.Bool
	navigating atomic.Bool

	closeOnce sync.Once
	written   chan struct{}
}

func newPage(transport string, conn Conn, evalTimeout time.Duration, log *slog.Logger) *Page {
	id := uuid.NewString()
	return &Page{
		id:          id,
		transport:   transport,
		connectedAt: time.Now().UTC(),
		conn:        conn,
		broker:      NewEvalBroker(evalTimeout),
		outbox:      bridge.NewQueue[Frame](),
		log:         log.With("page", id, "transport", transport),
		written:     make(chan struct{}),
	}
}

func (p *Page) ID() string { return p.id }

// EvaluateScript queues an eval frame. With a nil completion the page is not
// asked for a result.
func (p *Page) EvaluateScript(ctx context.Context, script string, completion func(any, error)) {
	if ctx != nil && ctx.Err() != nil {
		if completion != nil {
			completion(nil, ctx.Err())
		}
		return
	}
	frame := Frame{Kind: FrameEval, Script: script}
	if completion != nil {
		frame.ID = p.broker.Register(completion)
		if frame.ID == "" {
			return
		}
	}
	if !p.outbox.Push(frame) && frame.ID != "" {
		p.broker.Resolve(frame.ID, nil, ErrPageDetached)
	}
}

func (p *Page) navigate(target lifecycle.Target) {
	p.navigating.Store(true)
	p.outbox.Push(Frame{Kind: FrameNavigate, URL: target.URL, Identity: string(target.Identity)})
}

func (p *Page) writeLoop() {
	defer close(p.written)
	broken := false
	for frame := range p.outbox.Out() {
		if broken {
			p.fail(frame, ErrPageDetached)
			continue
		}
		if err := p.conn.WriteFrame(frame); err != nil {
			p.log.Debug("Page write failed", "kind", string(frame.Kind), "error", err)
			p.fail(frame, err)
			broken = true
			p.conn.Close()
		}
	}
}

func (p *Page) fail(frame Frame, err error) {
	if frame.Kind == FrameEval && frame.ID != "" {
		p.broker.Resolve(frame.ID, nil, err)
	}
}

func (p *Page) resolve(frame Frame) {
	var result any
	if len(frame.Value) > 0 {
		var value bridge.Value
		if err := json.Unmarshal(frame.Value, &value); err != nil {
			p.broker.Resolve(frame.ID, nil, &ScriptError{Message: "undecodable result: " + err.Error()})
			return
		}
		result = value.Raw()
	}
	var err error
	if frame.Error != "" {
		err = &ScriptError{Message: frame.Error}
	}
	if !p.broker.Resolve(frame.ID, result, err) {
		p.log.Debug("Result for unknown eval", "id", frame.ID)
	}
}

// close ends the connection. Pending evals fail with ErrPageDetached and
// frames still queued are dropped.
func (p *Page) close() {
	p.closeOnce.Do(func() {
		p.outbox.Close()
		p.conn.Close()
		<-p.written
		p.broker.Close(ErrPageDetached)
	})
}

// PageInfo describes the current page connection.
type PageInfo struct {
	Connected    bool      `json:"connected"`
	ID           string    `json:"id,omitempty"`
	Transport    string    `json:"transport,omitempty"`
	ConnectedAt  time.Time `json:"connectedAt,omitzero"`
	PendingEvals int       `json:"pendingEvals"`
}

func (p *Page) info() PageInfo {
	return PageInfo{
		Connected:    true,
		ID:           p.id,
		Transport:    p.transport,
		ConnectedAt:  p.connectedAt,
		PendingEvals: p.broker.Pending(),
	}
}
