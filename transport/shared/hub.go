package shared

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/slighter12/isocity-host-go/bridge"
	"github.com/slighter12/isocity-host-go/lifecycle"
	"github.com/slighter12/isocity-host-go/logger"
)

// Events receives the page lifecycle signals. lifecycle.Controller
// implements it.
type Events interface {
	ContentFinished()
	ContentFailed(err error, failingURL string)
	ProvisionalFailed(err error, failingURL string)
	ProcessTerminated()
}

// Hub owns the current page connection. A newly connected page replaces the
// previous one. The hub is also the lifecycle's Navigator: it remembers the
// last target and sends it to the page.
type Hub struct {
	dispatcher  *bridge.Dispatcher
	receiver    *bridge.Receiver
	events      Events
	evalTimeout time.Duration
	log         *slog.Logger

	mu      sync.Mutex
	current *Page
	target  *lifecycle.Target
}

func NewHub(dispatcher *bridge.Dispatcher, receiver *bridge.Receiver, events Events, evalTimeout time.Duration) *Hub {
	return &Hub{
		dispatcher:  dispatcher,
		receiver:    receiver,
		events:      events,
		evalTimeout: evalTimeout,
		log:         logger.With("component", "page-hub"),
	}
}

// Navigate records target and sends it to the connected page, if any.
func (h *Hub) Navigate(target lifecycle.Target) {
	h.mu.Lock()
	h.target = &target
	page := h.current
	h.mu.Unlock()

	if page != nil {
		h.log.Debug("Navigating page", "page", page.id, "url", target.URL)
		page.navigate(target)
	}
}

// Target is the last navigation target, if any.
func (h *Hub) Target() (lifecycle.Target, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.target == nil {
		return lifecycle.Target{}, false
	}
	return *h.target, true
}

// Info describes the current page connection.
func (h *Hub) Info() PageInfo {
	h.mu.Lock()
	page := h.current
	h.mu.Unlock()
	if page == nil {
		return PageInfo{}
	}
	return page.info()
}

// Serve runs one page connection until it ends or ctx is done. A connection
// that drops on its own, without being replaced or navigated away, is
// reported as a terminated content process.
func (h *Hub) Serve(ctx context.Context, transport string, conn Conn) error {
	page := newPage(transport, conn, h.evalTimeout, h.log)

	h.mu.Lock()
	previous := h.current
	h.current = page
	h.mu.Unlock()
	if previous != nil {
		previous.replaced.Store(true)
		previous.close()
	}

	go page.writeLoop()
	page.EvaluateScript(ctx, ConsoleBridgeScript, nil)
	h.dispatcher.Attach(page)
	page.log.Info("Page connected")

	stop := context.AfterFunc(ctx, page.close)
	err := h.readLoop(page)
	stop()

	h.dispatcher.Detach(page)
	h.mu.Lock()
	if h.current == page {
		h.current = nil
	}
	h.mu.Unlock()
	page.close()

	switch {
	case ctx.Err() != nil, page.replaced.Load():
		page.log.Info("Page disconnected")
	case page.navigating.Load():
		page.log.Info("Page left for navigation")
	default:
		page.log.Warn("Page connection lost", "error", err)
		h.events.ProcessTerminated()
	}
	return err
}

// Close ends the current page connection without reporting a crash.
func (h *Hub) Close() {
	h.mu.Lock()
	page := h.current
	h.current = nil
	h.mu.Unlock()
	if page != nil {
		page.replaced.Store(true)
		page.close()
	}
}

func (h *Hub) readLoop(page *Page) error {
	for {
		frame, err := page.conn.ReadFrame()
		if err != nil {
			return err
		}
		switch frame.Kind {
		case FrameResult:
			page.resolve(frame)
		case FramePost:
			h.receiver.PostRaw(frame.Message)
		case FrameNavigation:
			h.navigation(page, frame)
		default:
			page.log.Debug("Ignoring page frame", "kind", string(frame.Kind))
		}
	}
}

func (h *Hub) navigation(page *Page, frame Frame) {
	switch frame.Event {
	case NavigationFinish:
		page.navigating.Store(false)
		if target, ok := h.Target(); ok && frame.URL != "" && frame.URL != target.URL {
			// The page finished loading something other than the current
			// configuration; send it where it belongs.
			page.log.Info("Page loaded a stale url", "url", frame.URL, "target", target.URL)
			page.navigate(target)
			return
		}
		h.events.ContentFinished()
	case NavigationFail:
		page.navigating.Store(false)
		h.events.ContentFailed(&NavigationError{Message: frame.Error}, frame.URL)
	case NavigationProvisionalFail:
		page.navigating.Store(false)
		h.events.ProvisionalFailed(&NavigationError{Message: frame.Error}, frame.URL)
	default:
		page.log.Debug("Ignoring navigation event", "event", frame.Event)
	}
}
