package bridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrUnencodable is returned when an envelope cannot be represented as JSON.
	ErrUnencodable = errors.New("bridge: envelope is not valid JSON")
	// ErrMalformedEnvelope is returned when a posted envelope is not a JSON object.
	ErrMalformedEnvelope = errors.New("bridge: envelope is not an object")
	// ErrMissingType is returned when the envelope has no non-blank string "type" member.
	ErrMissingType = errors.New("bridge: envelope type missing")
)

// Message is one bridge envelope: a dot-namespaced type plus a free-form payload.
type Message struct {
	Type    string `json:"type"`
	Payload Value  `json:"payload"`
}

type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Encode serializes an envelope for transport. Any failure leaves nothing to
// send: callers drop the message.
func Encode(msgType string, payload any) ([]byte, error) {
	if strings.TrimSpace(msgType) == "" {
		return nil, ErrMissingType
	}
	if v, ok := payload.(Value); ok {
		payload = v.Raw()
	}
	data, err := json.Marshal(envelope{Type: msgType, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnencodable, err)
	}
	return data, nil
}

// Decode parses a transport string into a Message.
func Decode(raw []byte) (Message, error) {
	body, err := decodeJSON(raw)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return FromPosted(body)
}

// FromPosted validates an envelope that the transport already deserialized.
func FromPosted(body any) (Message, error) {
	obj, ok := body.(map[string]any)
	if !ok {
		return Message{}, ErrMalformedEnvelope
	}
	msgType, ok := obj["type"].(string)
	if !ok || strings.TrimSpace(msgType) == "" {
		return Message{}, ErrMissingType
	}
	msg := Message{Type: msgType}
	if payload, exists := obj["payload"]; exists {
		msg.Payload = ValueOf(payload)
	}
	return msg, nil
}

func decodeJSON(raw []byte) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var body any
	if err := decoder.Decode(&body); err != nil {
		return nil, err
	}
	if _, err := decoder.Token(); err != io.EOF {
		return nil, errors.New("trailing data after JSON value")
	}
	return body, nil
}
