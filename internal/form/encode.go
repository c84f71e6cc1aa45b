package form

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"time"
)

// ControlKind is the type of an input control.
type ControlKind string

const (
	KindText     ControlKind = "text"
	KindNumber   ControlKind = "number"
	KindHidden   ControlKind = "hidden"
	KindCheckbox ControlKind = "checkbox"
	KindRadio    ControlKind = "radio"
	KindFile     ControlKind = "file"
	KindSelect   ControlKind = "select"
	KindTextarea ControlKind = "textarea"
	// KindCustom is a component exposing a value or modelValue prop.
	KindCustom ControlKind = "custom"
)

// Control is the current state of a DOM input control.
type Control struct {
	Kind    ControlKind
	Value   string
	Checked bool
	Files   []*File
}

// Snapshotter exposes the current contents of a reactive object.
type Snapshotter interface {
	Snapshot() map[string]any
}

// SetValue writes v under name and reports whether the form changed.
//
// Controls write according to their kind: a checked checkbox writes its
// value and an unchecked one deletes the field, an unchecked radio leaves
// the form untouched, and file inputs write each file. nil writes "".
// Slices write one entry per item. Writing a value identical to the
// current one reports false.
func SetValue(t Target, name string, v any) bool {
	if name == "" {
		return false
	}

	switch x := v.(type) {
	case nil:
		return setScalar(t, name, "")
	case Control:
		return setControl(t, name, &x)
	case *Control:
		if x == nil {
			return setScalar(t, name, "")
		}
		return setControl(t, name, x)
	case *File:
		if x == nil {
			return setScalar(t, name, "")
		}
		t.SetFile(name, x)
		return true
	case []*File:
		return setFiles(t, name, x)
	case string:
		return setScalar(t, name, x)
	}

	if items, ok := sliceItems(v); ok {
		return setList(t, name, items)
	}
	return setScalar(t, name, Stringify(v))
}

func setControl(t Target, name string, c *Control) bool {
	switch c.Kind {
	case KindFile:
		return setFiles(t, name, c.Files)
	case KindCheckbox:
		if c.Checked {
			return setScalar(t, name, c.Value)
		}
		if t.Has(name) {
			t.Delete(name)
			return true
		}
		return false
	case KindRadio:
		if c.Checked {
			return setScalar(t, name, c.Value)
		}
		return false
	default:
		return setScalar(t, name, c.Value)
	}
}

func setScalar(t Target, name, value string) bool {
	if cur, ok := t.Get(name); ok && cur == value && len(t.GetAll(name)) == 1 {
		return false
	}
	t.Set(name, value)
	return true
}

func setFiles(t Target, name string, files []*File) bool {
	changed := t.Has(name)
	t.Delete(name)
	for _, f := range files {
		if f == nil {
			continue
		}
		t.AppendFile(name, f)
		changed = true
	}
	return changed
}

func setList(t Target, name string, items []any) bool {
	values := make([]string, 0, len(items))
	allScalar := true
	for _, it := range items {
		if _, ok := it.(*File); ok {
			allScalar = false
			break
		}
		values = append(values, Stringify(it))
	}

	if allScalar && t.Has(name) && equalStrings(t.GetAll(name), values) {
		return false
	}

	changed := t.Has(name)
	t.Delete(name)
	for _, it := range items {
		if f, ok := it.(*File); ok {
			t.AppendFile(name, f)
		} else {
			t.Append(name, Stringify(it))
		}
		changed = true
	}
	return changed
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// sliceItems returns the elements of any slice or array except []byte.
func sliceItems(v any) ([]any, bool) {
	switch x := v.(type) {
	case []any:
		return x, true
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out, true
	case []byte:
		return nil, false
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// Stringify renders a scalar the way a form field carries it.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case json.Number:
		return x.String()
	case time.Time:
		return x.Format(time.RFC3339)
	case []byte:
		return string(x)
	case fmt.Stringer:
		return x.String()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Pointer:
		if rv.IsNil() {
			return ""
		}
		return Stringify(rv.Elem().Interface())
	}
	return fmt.Sprint(v)
}

// Encode writes obj into t. Maps, structs and reactive objects become
// dotted paths (A.B), slices of objects become indexed paths (A[0].B), and
// slices of scalars or files become repeated entries under their own name.
func Encode(obj any, t Target, parentKey string) {
	if rv := reflect.ValueOf(obj); obj == nil || (rv.Kind() == reflect.Pointer && rv.IsNil()) {
		if parentKey != "" {
			SetValue(t, parentKey, nil)
		}
		return
	}

	switch x := obj.(type) {
	case Snapshotter:
		encodeMap(x.Snapshot(), t, parentKey)
		return
	case map[string]any:
		encodeMap(x, t, parentKey)
		return
	case Control, *Control, *File, []*File, time.Time, *time.Time:
		if parentKey != "" {
			SetValue(t, parentKey, obj)
		}
		return
	}

	if items, ok := sliceItems(obj); ok {
		if leafList(items) {
			SetValue(t, parentKey, items)
			return
		}
		for i, it := range items {
			Encode(it, t, childKey(parentKey, strconv.Itoa(i), true))
		}
		return
	}

	rv := reflect.ValueOf(obj)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			if parentKey != "" {
				SetValue(t, parentKey, nil)
			}
			return
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		encodeMap(m, t, parentKey)
		return
	case reflect.Struct:
		encodeStruct(rv, t, parentKey)
		return
	}

	if parentKey != "" {
		SetValue(t, parentKey, rv.Interface())
	}
}

func encodeMap(m map[string]any, t Target, parentKey string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		encodeChild(m[k], t, childKey(parentKey, k, false))
	}
}

func encodeStruct(rv reflect.Value, t Target, parentKey string) {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() {
			continue
		}
		name := f.Name
		if tag := f.Tag.Get("form"); tag != "" {
			if tag == "-" {
				continue
			}
			name = tag
		}
		encodeChild(rv.Field(i).Interface(), t, childKey(parentKey, name, false))
	}
}

func encodeChild(v any, t Target, key string) {
	if isLeaf(v) {
		SetValue(t, key, v)
		return
	}
	Encode(v, t, key)
}

// isLeaf reports whether v is written directly instead of being walked.
// leafList reports whether items encode as repeated entries: every item is
// a leaf or nil, and at least one is a leaf.
func leafList(items []any) bool {
	leaves := 0
	for _, it := range items {
		switch {
		case it == nil:
		case isLeaf(it):
			leaves++
		default:
			return false
		}
	}
	return leaves > 0
}

func isLeaf(v any) bool {
	switch v.(type) {
	case nil:
		return false
	case string, bool, *File, Control, *Control, time.Time, json.Number, []byte:
		return true
	case Snapshotter, map[string]any:
		return false
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map, reflect.Struct, reflect.Slice, reflect.Array:
		return false
	}
	return true
}

func childKey(parent, key string, index bool) string {
	switch {
	case parent == "":
		return key
	case index:
		return parent + "[" + key + "]"
	default:
		return parent + "." + key
	}
}
