package shared

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/slighter12/isocity-host-go/bridge"
	"github.com/slighter12/isocity-host-go/hoststate"
	"github.com/slighter12/isocity-host-go/lifecycle"
)

type pipeConn struct {
	toHost chan Frame
	toPage chan Frame
	closed chan struct{}
	once   sync.Once
}

func newPipeConn() *pipeConn {
	return &pipeConn{
		toHost: make(chan Frame, 16),
		toPage: make(chan Frame, 64),
		closed: make(chan struct{}),
	}
}

func (c *pipeConn) ReadFrame() (Frame, error) {
	select {
	case frame := <-c.toHost:
		return frame, nil
	case <-c.closed:
		return Frame{}, io.EOF
	}
}

func (c *pipeConn) WriteFrame(frame Frame) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	select {
	case c.toPage <- frame:
		return nil
	case <-c.closed:
		return io.ErrClosedPipe
	}
}

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *pipeConn) send(frame Frame) { c.toHost <- frame }

func (c *pipeConn) next(t *testing.T) Frame {
	t.Helper()
	select {
	case frame := <-c.toPage:
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("expected a frame for the page")
	}
	return Frame{}
}

type eventRecorder struct {
	events chan string
}

func (r *eventRecorder) ContentFinished() { r.events <- "finished" }
func (r *eventRecorder) ContentFailed(err error, url string) {
	r.events <- "failed " + err.Error() + " " + url
}
func (r *eventRecorder) ProvisionalFailed(err error, url string) {
	r.events <- "provisional " + err.Error() + " " + url
}
func (r *eventRecorder) ProcessTerminated() { r.events <- "terminated" }

func (r *eventRecorder) expect(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-r.events:
		if got != want {
			t.Fatalf("expected event %q, got %q", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected event %q", want)
	}
}

func (r *eventRecorder) none(t *testing.T) {
	t.Helper()
	select {
	case got := <-r.events:
		t.Fatalf("unexpected event %q", got)
	case <-time.After(50 * time.Millisecond):
	}
}

type hubHarness struct {
	hub        *Hub
	dispatcher *bridge.Dispatcher
	store      *hoststate.Store
	events     *eventRecorder
}

func newHubHarness(t *testing.T, evalTimeout time.Duration) *hubHarness {
	t.Helper()
	loop := bridge.NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go loop.Run(ctx)

	store := hoststate.NewStore(loop, hoststate.FeedbackFunc(func(hoststate.FeedbackKind) {}))
	dispatcher := bridge.NewDispatcher()
	t.Cleanup(dispatcher.Close)
	events := &eventRecorder{events: make(chan string, 8)}
	return &hubHarness{
		hub:        NewHub(dispatcher, bridge.NewReceiver(store), events, evalTimeout),
		dispatcher: dispatcher,
		store:      store,
		events:     events,
	}
}

// connect serves conn and waits until the page is the dispatcher's target.
func (h *hubHarness) connect(t *testing.T, conn *pipeConn) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- h.hub.Serve(context.Background(), "test", conn) }()

	first := conn.next(t)
	if first.Kind != FrameEval || first.Script != ConsoleBridgeScript || first.ID != "" {
		t.Fatalf("expected the console bridge first, got %+v", first)
	}
	waitUntil(t, h.dispatcher.Attached)
	return done
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCommandsReachPageInOrder(t *testing.T) {
	h := newHubHarness(t, time.Second)
	conn := newPipeConn()
	h.connect(t, conn)

	h.dispatcher.SetTool("road")
	h.dispatcher.SetSpeed(2)
	h.dispatcher.ClearSelection()

	for _, want := range []string{`"tool.set"`, `"speed.set"`, `"selection.clear"`} {
		frame := conn.next(t)
		if frame.Kind != FrameEval || frame.ID != "" {
			t.Fatalf("expected a fire-and-forget eval, got %+v", frame)
		}
		if !strings.HasPrefix(frame.Script, "window.bridge && window.bridge.dispatch(") || !strings.Contains(frame.Script, want) {
			t.Fatalf("expected %s dispatch, got %s", want, frame.Script)
		}
	}
}

func TestEvalResultIsCorrelated(t *testing.T) {
	h := newHubHarness(t, time.Second)
	conn := newPipeConn()
	h.connect(t, conn)

	results := make(chan any, 1)
	h.dispatcher.Evaluate("document.title", func(result any, err error) {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		results <- result
	})

	frame := conn.next(t)
	if frame.ID == "" {
		t.Fatal("eval with a completion must carry an id")
	}
	conn.send(Frame{Kind: FrameResult, ID: "eval_unknown", Value: json.RawMessage(`1`)})
	conn.send(Frame{Kind: FrameResult, ID: frame.ID, Value: json.RawMessage(`{"title":"IsoCity","n":42}`)})

	select {
	case result := <-results:
		obj, ok := result.(map[string]any)
		if !ok || obj["title"] != "IsoCity" || obj["n"] != json.Number("42") {
			t.Fatalf("unexpected result %#v", result)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("completion not called")
	}
}

func TestEvalScriptErrorAndTimeout(t *testing.T) {
	h := newHubHarness(t, 50*time.Millisecond)
	conn := newPipeConn()
	h.connect(t, conn)

	errs := make(chan error, 2)
	h.dispatcher.Evaluate("throw 1", func(_ any, err error) { errs <- err })
	failing := conn.next(t)
	conn.send(Frame{Kind: FrameResult, ID: failing.ID, Error: "ReferenceError: x"})

	var scriptErr *ScriptError
	if err := <-errs; !errors.As(err, &scriptErr) || scriptErr.Message != "ReferenceError: x" {
		t.Fatalf("expected script error, got %v", err)
	}

	h.dispatcher.Evaluate("new Promise(() => {})", func(_ any, err error) { errs <- err })
	conn.next(t)
	select {
	case err := <-errs:
		if !errors.Is(err, ErrEvalTimeout) {
			t.Fatalf("expected timeout, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("eval never timed out")
	}
}

func TestPostedEnvelopesReachStore(t *testing.T) {
	h := newHubHarness(t, time.Second)
	conn := newPipeConn()
	h.connect(t, conn)

	conn.send(Frame{Kind: FramePost, Message: json.RawMessage(`"not an envelope"`)})
	conn.send(Frame{Kind: FramePost, Message: json.RawMessage(`{"type":"host.ready"}`)})
	conn.send(Frame{Kind: FramePost, Message: json.RawMessage(`{"type":"host.state","payload":{"cityName":"Harbor"}}`)})

	waitUntil(t, func() bool {
		h.store.Sync(context.Background())
		st := h.store.Snapshot()
		return st.IsReady && st.CityName == "Harbor"
	})
}

func TestNavigationEventsReachLifecycle(t *testing.T) {
	h := newHubHarness(t, time.Second)
	conn := newPipeConn()
	h.connect(t, conn)

	conn.send(Frame{Kind: FrameNavigation, Event: NavigationFinish})
	h.events.expect(t, "finished")
	conn.send(Frame{Kind: FrameNavigation, Event: NavigationFail, Error: "net::ERR_FAILED", URL: "http://127.0.0.1:54873/index.html"})
	h.events.expect(t, "failed net::ERR_FAILED http://127.0.0.1:54873/index.html")
	conn.send(Frame{Kind: FrameNavigation, Event: NavigationProvisionalFail})
	h.events.expect(t, "provisional navigation failed ")
	conn.send(Frame{Kind: FrameNavigation, Event: "redirect"})
	h.events.none(t)
}

func TestUnexpectedDisconnectIsProcessTermination(t *testing.T) {
	h := newHubHarness(t, time.Minute)
	conn := newPipeConn()
	done := h.connect(t, conn)

	errs := make(chan error, 1)
	h.dispatcher.Evaluate("slow()", func(_ any, err error) { errs <- err })
	conn.next(t)

	conn.Close()
	h.events.expect(t, "terminated")
	if err := <-done; !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF from serve, got %v", err)
	}
	if err := <-errs; !errors.Is(err, ErrPageDetached) {
		t.Fatalf("pending eval should fail with detached, got %v", err)
	}
	if h.hub.Info().Connected {
		t.Fatal("hub should have no page")
	}
}

func TestNavigateAwayIsNotACrash(t *testing.T) {
	h := newHubHarness(t, time.Second)
	conn := newPipeConn()
	done := h.connect(t, conn)

	target := lifecycle.Target{URL: "http://127.0.0.1:54873/index.html?host=ios&gesture=web", Identity: "load-1"}
	h.hub.Navigate(target)
	frame := conn.next(t)
	if frame.Kind != FrameNavigate || frame.URL != target.URL || frame.Identity != "load-1" {
		t.Fatalf("unexpected navigate frame %+v", frame)
	}

	conn.Close()
	<-done
	h.events.none(t)
}

func TestStaleFinishIsRedirected(t *testing.T) {
	h := newHubHarness(t, time.Second)
	target := lifecycle.Target{URL: "http://127.0.0.1:54873/index.html?host=ios&gesture=native", Identity: "load-2"}
	h.hub.Navigate(target)

	conn := newPipeConn()
	h.connect(t, conn)
	conn.send(Frame{Kind: FrameNavigation, Event: NavigationFinish, URL: "http://127.0.0.1:54873/index.html?host=ios&gesture=web"})
	if frame := conn.next(t); frame.Kind != FrameNavigate || frame.URL != target.URL {
		t.Fatalf("expected redirect to target, got %+v", frame)
	}
	h.events.none(t)

	conn.send(Frame{Kind: FrameNavigation, Event: NavigationFinish, URL: target.URL})
	h.events.expect(t, "finished")
}

func TestNewPageReplacesPrevious(t *testing.T) {
	h := newHubHarness(t, time.Second)
	first := newPipeConn()
	firstDone := h.connect(t, first)
	firstID := h.hub.Info().ID

	second := newPipeConn()
	h.connect(t, second)

	select {
	case <-firstDone:
	case <-time.After(2 * time.Second):
		t.Fatal("previous page should be closed")
	}
	h.events.none(t)

	info := h.hub.Info()
	if !info.Connected || info.ID == firstID || info.Transport != "test" {
		t.Fatalf("unexpected page info %+v", info)
	}

	h.hub.Close()
	h.events.none(t)
}

func TestDecodeFrame(t *testing.T) {
	frame, err := DecodeFrame([]byte(` {"kind":"post","message":{"type":"host.ready"}} `))
	if err != nil || frame.Kind != FramePost || string(frame.Message) != `{"type":"host.ready"}` {
		t.Fatalf("unexpected frame %+v err=%v", frame, err)
	}

	for _, raw := range []string{``, `[]`, `"post"`, `{"kind":""}`, `{"kind":1}`, `{`} {
		if _, err := DecodeFrame([]byte(raw)); !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("DecodeFrame(%q) = %v, want ErrMalformedFrame", raw, err)
		}
	}
}
