package bridge

import (
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payloads := []any{
		nil,
		true,
		"hello",
		42.0,
		[]any{1.0, "two", false, nil},
		map[string]any{
			"cityName": "Test",
			"stats":    map[string]any{"population": 100.0, "money": -5.5},
			"tiles":    []any{map[string]any{"x": 3.0, "y": 4.0}},
		},
	}

	for _, payload := range payloads {
		data, err := Encode("host.state", payload)
		if err != nil {
			t.Fatalf("encode %v: %v", payload, err)
		}
		msg, err := Decode(data)
		if err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
		if msg.Type != "host.state" {
			t.Fatalf("expected type host.state, got %q", msg.Type)
		}
		if !reflect.DeepEqual(msg.Payload.Plain(), payload) {
			t.Fatalf("payload mismatch: got %#v want %#v", msg.Payload.Plain(), payload)
		}
	}
}

func TestEncodeFailsClosed(t *testing.T) {
	cases := map[string]any{
		"channel":  map[string]any{"ch": make(chan int)},
		"function": func() {},
		"nan":      math.NaN(),
	}
	for name, payload := range cases {
		data, err := Encode("tool.set", payload)
		if !errors.Is(err, ErrUnencodable) {
			t.Fatalf("%s: expected ErrUnencodable, got %v", name, err)
		}
		if data != nil {
			t.Fatalf("%s: expected no partial output, got %q", name, data)
		}
	}

	if _, err := Encode("  ", nil); !errors.Is(err, ErrMissingType) {
		t.Fatalf("expected ErrMissingType for blank type, got %v", err)
	}
}

func TestDecodeRejectsMalformedEnvelopes(t *testing.T) {
	cases := []struct {
		raw  string
		want error
	}{
		{`not json`, ErrMalformedEnvelope},
		{`[1,2,3]`, ErrMalformedEnvelope},
		{`"host.ready"`, ErrMalformedEnvelope},
		{`{"type":"a"} {"type":"b"}`, ErrMalformedEnvelope},
		{`{"payload":{}}`, ErrMissingType},
		{`{"type":7,"payload":{}}`, ErrMissingType},
		{`{"type":null}`, ErrMissingType},
		{`{"type":""}`, ErrMissingType},
		{`{"type":"  ","payload":{}}`, ErrMissingType},
	}
	for _, tc := range cases {
		_, err := Decode([]byte(tc.raw))
		if !errors.Is(err, tc.want) {
			t.Errorf("Decode(%s): expected %v, got %v", tc.raw, tc.want, err)
		}
	}
}

func TestDecodeMissingPayloadIsNull(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"host.ready"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Payload.Present() {
		t.Fatal("expected absent payload")
	}
	if !msg.Payload.IsNull() {
		t.Fatal("absent payload should read as null")
	}
}

func TestFromPostedAcceptsTransportMaps(t *testing.T) {
	msg, err := FromPosted(map[string]any{
		"type":    "camera.changed",
		"payload": map[string]any{"zoom": 1.5},
	})
	if err != nil {
		t.Fatalf("from posted: %v", err)
	}
	if got := msg.Payload.Get("zoom").FloatOr(0); got != 1.5 {
		t.Fatalf("expected zoom 1.5, got %v", got)
	}

	if _, err := FromPosted("camera.changed"); !errors.Is(err, ErrMalformedEnvelope) {
		t.Fatalf("expected ErrMalformedEnvelope, got %v", err)
	}
}

func TestMessageMarshalsAsEnvelope(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"perf.fps","payload":{"fps":59.6}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"type":"perf.fps","payload":{"fps":59.6}}` {
		t.Fatalf("unexpected envelope %s", data)
	}
}
