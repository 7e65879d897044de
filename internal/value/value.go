// Package value implements the Shelf leaf payload: a small, closed sum type
// of JSON-like scalars plus arrays, ordered by a fixed type rank so that two
// replicas holding incomparable clocks can still agree deterministically on
// which value wins a merge.
package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Kind discriminates the Value union.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindFloat
	KindInt
	KindString
	KindArray
)

// rank gives the total order over Kind used as the deterministic tiebreaker
// described in spec §3.1: Null < Bool < Float < Int < String < Array.
func (k Kind) rank() int {
	switch k {
	case KindNull:
		return 0
	case KindBool:
		return 1
	case KindFloat:
		return 2
	case KindInt:
		return 3
	case KindString:
		return 4
	case KindArray:
		return 5
	default:
		panic(fmt.Sprintf("value: unknown kind %d", k))
	}
}

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindFloat:
		return "float"
	case KindInt:
		return "int"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	default:
		return "unknown"
	}
}

// Value is a tagged union. The zero Value is Null.
type Value struct {
	kind Kind
	b    bool
	f    float32
	i    int64
	s    string
	arr  []Value
}

func Null() Value                { return Value{kind: KindNull} }
func Bool(b bool) Value          { return Value{kind: KindBool, b: b} }
func Float(f float32) Value      { return Value{kind: KindFloat, f: f} }
func Int(i int64) Value          { return Value{kind: KindInt, i: i} }
func String(s string) Value      { return Value{kind: KindString, s: s} }
func Array(items ...Value) Value { return Value{kind: KindArray, arr: items} }

func (v Value) Kind() Kind      { return v.kind }
func (v Value) AsBool() bool    { return v.b }
func (v Value) AsFloat() float32 { return v.f }
func (v Value) AsInt() int64    { return v.i }
func (v Value) AsString() string { return v.s }
func (v Value) AsArray() []Value { return v.arr }

// Equal reports structural equality: same kind and same natively-equal
// payload. NaN floats are never equal to anything, including themselves.
func Equal(a, b Value) bool {
	order, ok := PartialCompare(a, b)
	return ok && order == 0
}

// PartialCompare implements spec §4.1: compare type ranks first; within
// equal rank compare natively. Floats follow IEEE 754 (a NaN on either side
// makes the pair incomparable). Arrays compare element-wise, lexicographic.
// ok is false exactly when the two values are incomparable.
func PartialCompare(a, b Value) (order int, ok bool) {
	if a.kind != b.kind {
		return cmpInt(a.kind.rank(), b.kind.rank()), true
	}
	switch a.kind {
	case KindNull:
		return 0, true
	case KindBool:
		return cmpBool(a.b, b.b), true
	case KindFloat:
		if isNaN(a.f) || isNaN(b.f) {
			return 0, false
		}
		return cmpFloat(a.f, b.f), true
	case KindInt:
		return cmpInt64(a.i, b.i), true
	case KindString:
		return cmpString(a.s, b.s), true
	case KindArray:
		return compareArrays(a.arr, b.arr)
	default:
		panic(fmt.Sprintf("value: unknown kind %d", a.kind))
	}
}

func compareArrays(a, b []Value) (int, bool) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		order, ok := PartialCompare(a[i], b[i])
		if !ok {
			return 0, false
		}
		if order != 0 {
			return order, true
		}
	}
	return cmpInt(len(a), len(b)), true
}

func isNaN(f float32) bool { return f != f }

func cmpBool(a, b bool) int {
	if a == b {
		return 0
	}
	if !a && b {
		return -1
	}
	return 1
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpFloat(a, b float32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// LexicalBytes renders a deterministic, order-stable byte form of the value.
// It is the last-resort tiebreaker used by merge rule §4.3.4 when two values
// of the same type rank are otherwise incomparable (e.g. NaN floats).
func LexicalBytes(v Value) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// encoding/json rejects NaN and infinite floats; fall back to fmt's
		// deterministic rendering of the Value so they still get a stable
		// byte form.
		return []byte(fmt.Sprintf("%v", v))
	}
	return b
}

// MarshalJSON renders the Value using its native JSON shape: null, a bool,
// a number, a string, or an array. This keeps Value wire-compatible with any
// JSON tooling inspecting a decoded Shelf, matching the "JSON-like scalars"
// framing of spec §3.1.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindFloat:
		return marshalFloat(v.f)
	case KindInt:
		return json.Marshal(v.i)
	case KindString:
		return json.Marshal(v.s)
	case KindArray:
		return json.Marshal(v.arr)
	default:
		return nil, fmt.Errorf("value: unknown kind %d", v.kind)
	}
}

// marshalFloat renders f the same way json.Marshal would, except a
// whole-number float always keeps an explicit ".0": Go's json package
// otherwise renders 1.0 as "1", byte-identical to an Int's wire form, which
// is exactly what lets FromInterface's json.Number branch below tell a
// decoded Float apart from a decoded Int of the same magnitude.
func marshalFloat(f float32) ([]byte, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	if !bytes.ContainsAny(b, ".eE") {
		b = append(b, '.', '0')
	}
	return b, nil
}

// UnmarshalJSON wraps a plain JSON scalar/array into a Value. Objects are
// rejected: Value never embeds a map, that structure belongs to Shelf.
// Numbers are decoded with json.Number rather than Go's default float64 so
// the original literal's shape (an integer token vs. one with a decimal
// point or exponent) survives into FromInterface, instead of collapsing
// both into the same float64 and losing which one a whole-number float was.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := FromInterface(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// FromInterface converts a decoded JSON value into a Value. raw is usually
// a json.Number (this package's own UnmarshalJSON decodes with UseNumber,
// which is what lets a whole-number Float survive a wire round-trip as
// Float rather than silently becoming Int); the plain float64 case exists
// for callers handing in the result of encoding/json's default
// Unmarshal-into-interface{}, which has already discarded that distinction
// and so falls back to the whole-number heuristic.
func FromInterface(raw interface{}) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case float64:
		if t == float64(int64(t)) {
			return Int(int64(t)), nil
		}
		return Float(float32(t)), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("value: cannot parse number %q: %w", t, err)
		}
		return Float(float32(f)), nil
	case string:
		return String(t), nil
	case []interface{}:
		items := make([]Value, len(t))
		for i, item := range t {
			v, err := FromInterface(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return Array(items...), nil
	default:
		return Value{}, fmt.Errorf("value: cannot represent %T as a Value (maps belong to Shelf, not Value)", raw)
	}
}

// SortedKeys returns m's keys in ascending order, a tiny helper used by
// callers that need deterministic iteration over value-shaped maps
// (serialization, tests).
func SortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
