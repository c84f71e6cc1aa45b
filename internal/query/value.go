// Package query implements the URL side of the plaid runtime: parsing and
// serializing query strings in the comma-array format, applying location
// specs (merge, clear, add/remove set operations) against the current
// address, and deriving both the fetch URL and the history URL of an action.
package query

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Value is one query parameter. A scalar holds exactly one item; an array
// may hold any number, and a single-item array still serializes and
// round-trips as an array in pushed state.
type Value struct {
	Items []string
	Array bool
}

// S builds a scalar value.
func S(v string) Value {
	return Value{Items: []string{v}}
}

// A builds an array value.
func A(vs ...string) Value {
	items := make([]string, len(vs))
	copy(items, vs)
	return Value{Items: items, Array: true}
}

// First returns the first item or "".
func (v Value) First() string {
	if len(v.Items) == 0 {
		return ""
	}
	return v.Items[0]
}

func (v Value) clone() Value {
	items := make([]string, len(v.Items))
	copy(items, v.Items)
	return Value{Items: items, Array: v.Array}
}

func (v Value) equal(o Value) bool {
	if v.Array != o.Array || len(v.Items) != len(o.Items) {
		return false
	}
	for i := range v.Items {
		if v.Items[i] != o.Items[i] {
			return false
		}
	}
	return true
}

// MarshalJSON writes scalars as strings and arrays as string arrays.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.Array {
		if v.Items == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.Items)
	}
	return json.Marshal(v.First())
}

// UnmarshalJSON accepts a string, a number, a bool, or an array of those.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch x := raw.(type) {
	case []any:
		items := make([]string, 0, len(x))
		for _, it := range x {
			items = append(items, scalarString(it))
		}
		*v = Value{Items: items, Array: true}
	case nil:
		*v = S("")
	case map[string]any:
		return fmt.Errorf("query value must be a string or array, got object")
	default:
		*v = S(scalarString(x))
	}
	return nil
}

// Query is a parsed query string.
type Query map[string]Value

// Clone returns a deep copy.
func (q Query) Clone() Query {
	if q == nil {
		return nil
	}
	out := make(Query, len(q))
	for k, v := range q {
		out[k] = v.clone()
	}
	return out
}

// Keys returns the parameter names in sorted order.
func (q Query) Keys() []string {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the first item of key.
func (q Query) Get(key string) string {
	return q[key].First()
}

// Equal compares two queries item by item.
func (q Query) Equal(o Query) bool {
	if len(q) != len(o) {
		return false
	}
	for k, v := range q {
		ov, ok := o[k]
		if !ok || !v.equal(ov) {
			return false
		}
	}
	return true
}

func scalarString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return formatFloat(x)
	case bool:
		if x {
			return "true"
		}
		return "false"
	case json.Number:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
