// Package scope implements the reactive state containers shared between
// nested view regions. A State is always passed by pointer: two scopes
// holding the same *State observe each other's writes.
package scope

import (
	"sort"
	"strings"
	"sync"

	"github.com/qor5/web/internal/form"
)

// Change describes one write to a State.
type Change struct {
	Key     string
	Old     any
	New     any
	Deleted bool
}

// Ref is implemented by values that stand in for a *State, such as script
// proxies.
type Ref interface {
	StateRef() *State
}

// Resolve returns the *State behind v, if any.
func Resolve(v any) (*State, bool) {
	switch x := v.(type) {
	case *State:
		return x, x != nil
	case Ref:
		s := x.StateRef()
		return s, s != nil
	}
	return nil, false
}

// State is a reactive string-keyed container.
type State struct {
	mu       sync.RWMutex
	values   map[string]any
	watchers map[int]func(Change)
	nextID   int
}

// NewState returns a State seeded with a shallow copy of each init map in
// order; later maps win.
func NewState(init ...map[string]any) *State {
	s := &State{values: make(map[string]any), watchers: make(map[int]func(Change))}
	for _, m := range init {
		for k, v := range m {
			s.values[k] = v
		}
	}
	return s
}

// StateRef makes *State satisfy Ref.
func (s *State) StateRef() *State { return s }

func (s *State) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Value returns the value of key or nil.
func (s *State) Value(key string) any {
	v, _ := s.Get(key)
	return v
}

// Set stores v under key and notifies watchers.
func (s *State) Set(key string, v any) {
	s.mu.Lock()
	old, existed := s.values[key]
	s.values[key] = v
	watchers := s.watcherList()
	s.mu.Unlock()

	c := Change{Key: key, New: v}
	if existed {
		c.Old = old
	}
	for _, w := range watchers {
		w(c)
	}
}

// SetMissing stores v only when key is absent. It reports whether it wrote.
func (s *State) SetMissing(key string, v any) bool {
	s.mu.Lock()
	if _, ok := s.values[key]; ok {
		s.mu.Unlock()
		return false
	}
	s.values[key] = v
	watchers := s.watcherList()
	s.mu.Unlock()

	for _, w := range watchers {
		w(Change{Key: key, New: v})
	}
	return true
}

func (s *State) Delete(key string) {
	s.mu.Lock()
	old, existed := s.values[key]
	if !existed {
		s.mu.Unlock()
		return
	}
	delete(s.values, key)
	watchers := s.watcherList()
	s.mu.Unlock()

	for _, w := range watchers {
		w(Change{Key: key, Old: old, Deleted: true})
	}
}

func (s *State) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.values[key]
	return ok
}

// Keys returns the keys in sorted order.
func (s *State) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Snapshot returns a shallow copy of the contents. Nested *State values are
// kept by reference.
func (s *State) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Lookup walks a dotted path through nested States and maps.
func (s *State) Lookup(path string) (any, bool) {
	var cur any = s
	for _, part := range strings.Split(path, ".") {
		switch x := cur.(type) {
		case *State:
			v, ok := x.Get(part)
			if !ok {
				return nil, false
			}
			cur = v
		case map[string]any:
			v, ok := x[part]
			if !ok {
				return nil, false
			}
			cur = v
		default:
			return nil, false
		}
	}
	return cur, true
}

// SetPath writes through a dotted path, creating nested States for missing
// intermediate keys.
func (s *State) SetPath(path string, v any) {
	parts := strings.Split(path, ".")
	cur := s
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur.Get(part)
		if st, isState := Resolve(next); ok && isState {
			cur = st
			continue
		}
		if m, isMap := next.(map[string]any); ok && isMap {
			st := NewState(m)
			cur.Set(part, st)
			cur = st
			continue
		}
		st := NewState()
		cur.Set(part, st)
		cur = st
	}
	cur.Set(parts[len(parts)-1], v)
}

// Watch registers fn for every change. The returned function unregisters
// it.
func (s *State) Watch(fn func(Change)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

func (s *State) watcherList() []func(Change) {
	ids := make([]int, 0, len(s.watchers))
	for id := range s.watchers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(Change), len(ids))
	for i, id := range ids {
		out[i] = s.watchers[id]
	}
	return out
}

// Target exposes s to the form encoder so a field binding can write into a
// reactive object instead of a multipart form.
func (s *State) Target() form.Target {
	return stateTarget{s}
}

type stateTarget struct{ s *State }

func (t stateTarget) Has(key string) bool { return t.s.Has(key) }

func (t stateTarget) Get(key string) (string, bool) {
	v, ok := t.s.Get(key)
	if !ok {
		return "", false
	}
	if items, isList := v.([]string); isList {
		if len(items) == 0 {
			return "", true
		}
		return items[0], true
	}
	return form.Stringify(v), true
}

func (t stateTarget) GetAll(key string) []string {
	v, ok := t.s.Get(key)
	if !ok {
		return nil
	}
	if items, isList := v.([]string); isList {
		return append([]string(nil), items...)
	}
	return []string{form.Stringify(v)}
}

func (t stateTarget) Set(key, value string) { t.s.Set(key, value) }

// Append turns key into a list if needed and adds value.
func (t stateTarget) Append(key, value string) {
	t.s.Set(key, append(t.GetAll(key), value))
}

func (t stateTarget) SetFile(key string, f *form.File) { t.s.Set(key, f) }

func (t stateTarget) AppendFile(key string, f *form.File) {
	v, _ := t.s.Get(key)
	files, _ := v.([]*form.File)
	t.s.Set(key, append(append([]*form.File(nil), files...), f))
}

func (t stateTarget) Delete(key string) { t.s.Delete(key) }
