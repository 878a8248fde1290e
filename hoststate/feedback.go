package hoststate

import "github.com/slighter12/isocity-host-go/logger"

// FeedbackKind names a native feedback effect (a haptic on a phone).
type FeedbackKind string

const (
	FeedbackSelection FeedbackKind = "selection"
	FeedbackTool      FeedbackKind = "tool"
	FeedbackSuccess   FeedbackKind = "success"
	FeedbackWarning   FeedbackKind = "warning"
	FeedbackError     FeedbackKind = "error"
)

// Feedback plays native feedback effects. The store calls it on its own
// goroutine, so a slow implementation never holds up state updates.
type Feedback interface {
	Trigger(kind FeedbackKind)
}

// FeedbackFunc adapts a function to Feedback.
type FeedbackFunc func(kind FeedbackKind)

func (f FeedbackFunc) Trigger(kind FeedbackKind) { f(kind) }

// LogFeedback records feedback effects in the debug log. It is the default
// for hosts without a haptic engine.
type LogFeedback struct{}

func (LogFeedback) Trigger(kind FeedbackKind) {
	logger.Debug("Feedback", "kind", string(kind))
}

func hapticKind(payload string) FeedbackKind {
	switch payload {
	case "success":
		return FeedbackSuccess
	case "warning":
		return FeedbackWarning
	default:
		return FeedbackError
	}
}
