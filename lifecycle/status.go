package lifecycle

import "errors"

// ErrProcessTerminated is reported when the page connection drops without a
// navigation event, the equivalent of a crashed content process.
var ErrProcessTerminated = errors.New("web content process terminated")

type ServerPhase string

const (
	ServerStopped  ServerPhase = "stopped"
	ServerStarting ServerPhase = "starting"
	ServerRunning  ServerPhase = "running"
	ServerFailed   ServerPhase = "failed"
)

// ServerStatus is the static server state. Message is set only when failed.
type ServerStatus struct {
	Phase   ServerPhase `json:"phase"`
	Message string      `json:"message,omitempty"`
}

func Stopped() ServerStatus  { return ServerStatus{Phase: ServerStopped} }
func Starting() ServerStatus { return ServerStatus{Phase: ServerStarting} }
func Running() ServerStatus  { return ServerStatus{Phase: ServerRunning} }

func Failed(message string) ServerStatus {
	return ServerStatus{Phase: ServerFailed, Message: message}
}

func (s ServerStatus) String() string {
	if s.Phase == ServerFailed {
		return "failed: " + s.Message
	}
	return string(s.Phase)
}

type ContentPhase string

const (
	ContentLoading           ContentPhase = "loading"
	ContentReady             ContentPhase = "ready"
	ContentErrored           ContentPhase = "errored"
	ContentProcessTerminated ContentPhase = "processTerminated"
)

// ContentState tracks the hosted page, independently of the server.
type ContentState struct {
	Phase   ContentPhase `json:"phase"`
	Message string       `json:"message,omitempty"`
}

type OverlayKind string

const (
	OverlayNone             OverlayKind = "none"
	OverlayMissingAssets    OverlayKind = "missingAssets"
	OverlayServerFailed     OverlayKind = "serverFailed"
	OverlayLoadFailed       OverlayKind = "loadFailed"
	OverlayWaitingForBridge OverlayKind = "waitingForBridge"
)

// Overlay is what the native UI should put over the page. Retryable overlays
// offer a Retry action wired to Controller.Retry.
type Overlay struct {
	Kind      OverlayKind `json:"kind"`
	Message   string      `json:"message,omitempty"`
	URL       string      `json:"url,omitempty"`
	Retryable bool        `json:"retryable"`
}
