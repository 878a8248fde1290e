package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
)

var errStreamClosed = errors.New("event stream is closed")

// EventStream writes server-sent events to one response.
type EventStream struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
	nextID  uint64
	closed  bool
	onClose func()
	once    sync.Once
}

func NewEventStream(w http.ResponseWriter, f http.Flusher, onClose func()) *EventStream {
	return &EventStream{
		writer:  w,
		flusher: f,
		onClose: onClose,
	}
}

// Send writes one event with a JSON data line and a increasing id.
func (t *EventStream) Send(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal SSE data: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errStreamClosed
	}
	t.nextID++
	frame := "id: " + strconv.FormatUint(t.nextID, 10) + "\nevent: " + event + "\ndata: " + string(payload) + "\n\n"
	if err := t.writeLocked(frame); err != nil {
		return fmt.Errorf("failed to write SSE event: %w", err)
	}
	return nil
}

// Comment writes an SSE comment, used as a keep-alive.
func (t *EventStream) Comment(text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errStreamClosed
	}
	text = strings.NewReplacer("\r\n", "\n", "\r", "\n").Replace(text)
	text = strings.ReplaceAll(text, "\n", "\n: ")
	if err := t.writeLocked(": " + text + "\n\n"); err != nil {
		return fmt.Errorf("failed to write SSE comment: %w", err)
	}
	return nil
}

func (t *EventStream) writeLocked(frame string) error {
	if _, err := t.writer.Write([]byte(frame)); err != nil {
		return err
	}
	t.flusher.Flush()
	return nil
}

func (t *EventStream) Close() {
	t.mu.Lock()
	wasOpen := !t.closed
	t.closed = true
	t.mu.Unlock()

	if wasOpen && t.onClose != nil {
		t.once.Do(t.onClose)
	}
}

func (t *EventStream) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
