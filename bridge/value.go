package bridge

import (
	"encoding/json"
	"math"
	"strconv"
)

// Kind classifies a decoded JSON value.
type Kind int

const (
	KindMissing Kind = iota
	KindNull
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindMissing:
		return "missing"
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "invalid"
	}
}

// Value is a loosely-typed JSON value as posted across the bridge.
//
// Every accessor takes a fallback and returns it whenever the underlying value
// has the wrong shape, so decoding a payload never fails half way through.
// The zero Value is "missing".
type Value struct {
	raw     any
	present bool
}

// ValueOf wraps an already-decoded value. Numbers may arrive as json.Number,
// any Go integer or float type.
func ValueOf(raw any) Value {
	return Value{raw: raw, present: true}
}

// Raw returns the wrapped value, nil for missing and null.
func (v Value) Raw() any {
	return v.raw
}

func (v Value) Kind() Kind {
	if !v.present {
		return KindMissing
	}
	switch v.raw.(type) {
	case nil:
		return KindNull
	case bool:
		return KindBool
	case json.Number, float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return KindNumber
	case string:
		return KindString
	case []any:
		return KindArray
	case map[string]any:
		return KindObject
	default:
		return KindInvalid
	}
}

// IsNull reports whether the value is missing or an explicit null.
func (v Value) IsNull() bool {
	k := v.Kind()
	return k == KindMissing || k == KindNull
}

// Present reports whether the key this value was read from existed.
func (v Value) Present() bool {
	return v.present
}

// Get returns the member named key, or a missing Value when v is not an object.
func (v Value) Get(key string) Value {
	obj, ok := v.raw.(map[string]any)
	if !ok {
		return Value{}
	}
	member, exists := obj[key]
	if !exists {
		return Value{}
	}
	return ValueOf(member)
}

// Index returns element i, or a missing Value when out of range or not an array.
func (v Value) Index(i int) Value {
	arr, ok := v.raw.([]any)
	if !ok || i < 0 || i >= len(arr) {
		return Value{}
	}
	return ValueOf(arr[i])
}

// Object returns the members of an object value.
func (v Value) Object() (map[string]Value, bool) {
	obj, ok := v.raw.(map[string]any)
	if !ok {
		return nil, false
	}
	out := make(map[string]Value, len(obj))
	for key, member := range obj {
		out[key] = ValueOf(member)
	}
	return out, true
}

// Array returns the elements of an array value.
func (v Value) Array() ([]Value, bool) {
	arr, ok := v.raw.([]any)
	if !ok {
		return nil, false
	}
	out := make([]Value, len(arr))
	for i, element := range arr {
		out[i] = ValueOf(element)
	}
	return out, true
}

// Float64 returns the numeric value, unwrapping json.Number and integer types.
func (v Value) Float64() (float64, bool) {
	var f float64
	switch n := v.raw.(type) {
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Int64 returns the numeric value truncated toward zero.
func (v Value) Int64() (int64, bool) {
	switch n := v.raw.(type) {
	case json.Number:
		if parsed, err := strconv.ParseInt(string(n), 10, 64); err == nil {
			return parsed, true
		}
	case int:
		return int64(n), true
	case int64:
		return n, true
	case int32:
		return int64(n), true
	}
	f, ok := v.Float64()
	if !ok {
		return 0, false
	}
	f = math.Trunc(f)
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// IntOr returns the value as an int, or fallback for non-numeric values.
func (v Value) IntOr(fallback int) int {
	n, ok := v.Int64()
	if !ok || n < math.MinInt || n > math.MaxInt {
		return fallback
	}
	return int(n)
}

// FloatOr returns the value as a float64, or fallback for non-numeric values.
func (v Value) FloatOr(fallback float64) float64 {
	f, ok := v.Float64()
	if !ok {
		return fallback
	}
	return f
}

// StringOr returns the value when it is a JSON string, otherwise fallback.
func (v Value) StringOr(fallback string) string {
	s, ok := v.raw.(string)
	if !ok {
		return fallback
	}
	return s
}

// BoolOr returns the value when it is a JSON boolean, otherwise fallback.
func (v Value) BoolOr(fallback bool) bool {
	b, ok := v.raw.(bool)
	if !ok {
		return fallback
	}
	return b
}

// Plain converts the value into encoding/json's default representation
// (float64 numbers, map[string]any, []any).
func (v Value) Plain() any {
	return plain(v.raw)
}

func plain(raw any) any {
	switch t := raw.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for key, member := range t {
			out[key] = plain(member)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, element := range t {
			out[i] = plain(element)
		}
		return out
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return string(t)
	default:
		return raw
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	if !v.present {
		return []byte("null"), nil
	}
	return json.Marshal(v.raw)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	raw, err := decodeJSON(data)
	if err != nil {
		return err
	}
	*v = ValueOf(raw)
	return nil
}
