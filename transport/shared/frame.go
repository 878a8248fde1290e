// Package shared holds the page connection protocol common to every
// transport: frames, the eval broker, and the hub that binds the connected
// page to the bridge and the page lifecycle.
package shared

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEvalTimeout is reported to an eval completion the page never answered.
	ErrEvalTimeout = errors.New("page eval timed out")
	// ErrPageDetached is reported to eval completions still pending when the
	// page goes away.
	ErrPageDetached = errors.New("page detached")
	// ErrMalformedFrame marks a frame that is not a JSON object with a kind.
	ErrMalformedFrame = errors.New("malformed page frame")
)

type FrameKind string

const (
	// Host to page.
	FrameEval     FrameKind = "eval"
	FrameNavigate FrameKind = "navigate"

	// Page to host.
	FrameResult     FrameKind = "result"
	FramePost       FrameKind = "post"
	FrameNavigation FrameKind = "navigation"
)

// Navigation events carried by navigation frames.
const (
	NavigationFinish          = "finish"
	NavigationFail            = "fail"
	NavigationProvisionalFail = "provisionalFail"
)

// Frame is the unit exchanged with the page shim.
//
//	eval        {kind, id?, script}          id is set when a result is wanted
//	navigate    {kind, url, identity}
//	result      {kind, id, value?, error?}
//	post        {kind, message}              message is a bridge envelope
//	navigation  {kind, event, url?, error?}
type Frame struct {
	Kind     FrameKind       `json:"kind"`
	ID       string          `json:"id,omitempty"`
	Script   string          `json:"script,omitempty"`
	Message  json.RawMessage `json:"message,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
	Error    string          `json:"error,omitempty"`
	Event    string          `json:"event,omitempty"`
	URL      string          `json:"url,omitempty"`
	Identity string          `json:"identity,omitempty"`
}

// Conn is one page connection's framing. ReadFrame skips frames it cannot
// decode and only fails when the connection itself does. WriteFrame is only
// called from one goroutine at a time.
type Conn interface {
	ReadFrame() (Frame, error)
	WriteFrame(frame Frame) error
	Close() error
}

// DecodeFrame parses one frame.
func DecodeFrame(data []byte) (Frame, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return Frame{}, ErrMalformedFrame
	}
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	frame.Kind = FrameKind(strings.TrimSpace(string(frame.Kind)))
	if frame.Kind == "" {
		return Frame{}, fmt.Errorf("%w: missing kind", ErrMalformedFrame)
	}
	return frame, nil
}

// ScriptError is a script failure reported by the page.
type ScriptError struct {
	Message string
}

func (e *ScriptError) Error() string {
	return "page script error: " + e.Message
}

// NavigationError is a failed navigation reported by the page.
type NavigationError struct {
	Message string
}

func (e *NavigationError) Error() string {
	if e.Message == "" {
		return "navigation failed"
	}
	return e.Message
}
