package bridge

import "github.com/slighter12/isocity-host-go/logger"

// Sink consumes validated web->native messages. Implementations must not block:
// they hand the message to the update loop and return.
type Sink interface {
	Receive(msg Message)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(msg Message)

func (f SinkFunc) Receive(msg Message) { f(msg) }

// Receiver is the single native entry point for messages posted by the page.
type Receiver struct {
	sink Sink
}

func NewReceiver(sink Sink) *Receiver {
	return &Receiver{sink: sink}
}

// Post accepts an envelope the transport already deserialized.
// Envelopes without an object body or a string type are dropped.
func (r *Receiver) Post(body any) bool {
	msg, err := FromPosted(body)
	if err != nil {
		logger.Debug("Dropping malformed bridge envelope", "error", err)
		return false
	}
	return r.deliver(msg)
}

// PostRaw accepts an envelope still in its transport encoding.
func (r *Receiver) PostRaw(data []byte) bool {
	msg, err := Decode(data)
	if err != nil {
		logger.Debug("Dropping undecodable bridge envelope", "error", err, "bytes", len(data))
		return false
	}
	return r.deliver(msg)
}

func (r *Receiver) deliver(msg Message) bool {
	if r == nil || r.sink == nil {
		return false
	}
	r.sink.Receive(msg)
	return true
}
