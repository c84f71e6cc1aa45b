package query

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
)

type valueKind uint8

const (
	kindUnset valueKind = iota
	kindScalar
	kindArray
	kindOp
)

// QueryValue is what a location spec asks for one key: drop it, replace it
// with a scalar or an array, or apply an add/remove set operation against
// the values the key currently holds.
type QueryValue struct {
	kind   valueKind
	items  []string
	add    bool
	remove bool
}

// Unset drops the key.
func Unset() QueryValue { return QueryValue{} }

// Scalar replaces the key with one value.
func Scalar(v string) QueryValue { return QueryValue{kind: kindScalar, items: []string{v}} }

// Array replaces the key with the given values.
func Array(vs ...string) QueryValue {
	return QueryValue{kind: kindArray, items: append([]string{}, vs...)}
}

// Add unions vs into the current values, keeping first-seen order.
func Add(vs ...string) QueryValue {
	return QueryValue{kind: kindOp, items: append([]string{}, vs...), add: true}
}

// Remove subtracts vs from the current values.
func Remove(vs ...string) QueryValue {
	return QueryValue{kind: kindOp, items: append([]string{}, vs...), remove: true}
}

// IsUnset reports whether the value drops its key.
func (v QueryValue) IsUnset() bool { return v.kind == kindUnset }

// Items returns a copy of the carried values.
func (v QueryValue) Items() []string { return append([]string{}, v.items...) }

// apply computes the new value of a key given what it holds now. ok is
// false when the key must be dropped.
func (v QueryValue) apply(current Value, present bool) (Value, bool) {
	switch v.kind {
	case kindScalar:
		return S(v.items[0]), true
	case kindArray:
		return A(v.items...), true
	case kindOp:
		if len(v.items) == 0 || (!v.add && !v.remove) {
			return current, present
		}
		var have []string
		if present {
			have = current.Items
		}
		if v.add {
			return A(union(have, v.items)...), true
		}
		left := without(have, v.items)
		if len(left) == 0 {
			return Value{}, false
		}
		return A(left...), true
	default:
		return Value{}, false
	}
}

func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func without(a, b []string) []string {
	drop := make(map[string]bool, len(b))
	for _, s := range b {
		drop[s] = true
	}
	out := make([]string, 0, len(a))
	for _, s := range a {
		if !drop[s] {
			out = append(out, s)
		}
	}
	return out
}

// MarshalJSON mirrors the server's location builder format.
func (v QueryValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case kindScalar:
		return json.Marshal(v.items[0])
	case kindArray:
		return json.Marshal(v.items)
	case kindOp:
		op := struct {
			Values []string `json:"values"`
			Add    bool     `json:"add,omitempty"`
			Remove bool     `json:"remove,omitempty"`
		}{v.items, v.add, v.remove}
		return json.Marshal(op)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts null, scalars, arrays, and {value|values, add,
// remove} objects.
func (v *QueryValue) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	qv, err := ValueFrom(raw)
	if err != nil {
		return err
	}
	*v = qv
	return nil
}

// ValueFrom converts a loosely typed value, as decoded from JSON or handed
// over by a script, into a QueryValue.
func ValueFrom(raw any) (QueryValue, error) {
	switch x := raw.(type) {
	case nil:
		return Unset(), nil
	case QueryValue:
		return x, nil
	case Value:
		if x.Array {
			return Array(x.Items...), nil
		}
		return Scalar(x.First()), nil
	case string:
		return Scalar(x), nil
	case []string:
		return Array(x...), nil
	case []any:
		items := make([]string, 0, len(x))
		for _, it := range x {
			items = append(items, scalarString(it))
		}
		return Array(items...), nil
	case map[string]any:
		return opFromMap(x)
	}

	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		items := make([]string, rv.Len())
		for i := range items {
			items[i] = scalarString(rv.Index(i).Interface())
		}
		return Array(items...), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Scalar(strconv.FormatInt(rv.Int(), 10)), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Scalar(strconv.FormatUint(rv.Uint(), 10)), nil
	case reflect.Float32, reflect.Float64:
		return Scalar(formatFloat(rv.Float())), nil
	case reflect.Bool:
		return Scalar(strconv.FormatBool(rv.Bool())), nil
	case reflect.Map, reflect.Struct:
		return QueryValue{}, fmt.Errorf("unsupported query value %T", raw)
	}
	return Scalar(fmt.Sprint(raw)), nil
}

func opFromMap(m map[string]any) (QueryValue, error) {
	values, ok := m["values"]
	if !ok {
		values = m["value"]
	}
	add, _ := m["add"].(bool)
	remove, _ := m["remove"].(bool)

	var items []string
	switch x := values.(type) {
	case nil:
	case string:
		if x != "" {
			items = []string{x}
		}
	default:
		inner, err := ValueFrom(x)
		if err != nil {
			return QueryValue{}, err
		}
		items = inner.items
	}
	return QueryValue{kind: kindOp, items: items, add: add, remove: remove}, nil
}

// LocationSpec describes how an action rewrites the address.
type LocationSpec struct {
	URL                 string                `json:"url,omitempty"`
	Query               map[string]QueryValue `json:"query,omitempty"`
	MergeQuery          bool                  `json:"mergeQuery,omitempty"`
	StringQuery         string                `json:"stringQuery,omitempty"`
	ClearMergeQueryKeys []string              `json:"clearMergeQueryKeys,omitempty"`
	StringifyOptions    *StringifyOptions     `json:"stringifyOptions,omitempty"`
}

// Clone returns a deep copy. A nil spec clones to nil.
func (l *LocationSpec) Clone() *LocationSpec {
	if l == nil {
		return nil
	}
	out := *l
	if l.Query != nil {
		out.Query = make(map[string]QueryValue, len(l.Query))
		for k, v := range l.Query {
			v.items = append([]string{}, v.items...)
			out.Query[k] = v
		}
	}
	out.ClearMergeQueryKeys = append([]string(nil), l.ClearMergeQueryKeys...)
	if l.StringifyOptions != nil {
		so := *l.StringifyOptions
		out.StringifyOptions = &so
	}
	return &out
}

// QueryKeys returns the declared query keys in sorted order.
func (l *LocationSpec) QueryKeys() []string {
	keys := make([]string, 0, len(l.Query))
	for k := range l.Query {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LocationFrom converts a loosely typed value into a LocationSpec. It
// accepts *LocationSpec, LocationSpec, *PushedState, JSON text or bytes,
// and map[string]any as produced by scripts.
func LocationFrom(v any) (*LocationSpec, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case *LocationSpec:
		return x.Clone(), nil
	case LocationSpec:
		return x.Clone(), nil
	case *PushedState:
		return x.Location(), nil
	case string:
		return decodeLocation([]byte(x))
	case []byte:
		return decodeLocation(x)
	case json.RawMessage:
		return decodeLocation(x)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode location: %w", err)
	}
	return decodeLocation(data)
}

func decodeLocation(data []byte) (*LocationSpec, error) {
	var loc LocationSpec
	if err := json.Unmarshal(data, &loc); err != nil {
		return nil, fmt.Errorf("decode location: %w", err)
	}
	return &loc, nil
}
