// Package binding attaches form fields to input elements: the field is
// seeded from the element on attach and rewritten on every input or change
// event until the binding is detached.
package binding

import (
	"sort"
	"sync"

	"github.com/qor5/web/internal/form"
)

// Event names an element emits.
const (
	EventInput  = "input"
	EventChange = "change"
)

// Event is delivered to element listeners. Detail carries the value a
// custom component emitted; native controls leave it nil.
type Event struct {
	Name   string
	Detail any
}

// Element is anything a field can be bound to.
type Element interface {
	Control() form.Control
	AddEventListener(name string, fn func(Event)) (remove func())
	Dispatch(name string, detail any)
}

// Input is a headless input control. Its mutators behave like a user
// interacting with the control and fire the matching events.
type Input struct {
	mu        sync.Mutex
	control   form.Control
	listeners map[string]map[int]func(Event)
	nextID    int
}

// NewInput creates a control of kind holding value.
func NewInput(kind form.ControlKind, value string) *Input {
	return FromControl(form.Control{Kind: kind, Value: value})
}

// FromControl creates an input in the state c describes.
func FromControl(c form.Control) *Input {
	c.Files = append([]*form.File(nil), c.Files...)
	return &Input{
		control:   c,
		listeners: make(map[string]map[int]func(Event)),
	}
}

// Control returns the control's current state.
func (in *Input) Control() form.Control {
	in.mu.Lock()
	defer in.mu.Unlock()
	c := in.control
	c.Files = append([]*form.File(nil), in.control.Files...)
	return c
}

// Listeners returns how many listeners are registered for name.
func (in *Input) Listeners(name string) int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.listeners[name])
}

func (in *Input) AddEventListener(name string, fn func(Event)) func() {
	in.mu.Lock()
	id := in.nextID
	in.nextID++
	if in.listeners[name] == nil {
		in.listeners[name] = make(map[int]func(Event))
	}
	in.listeners[name][id] = fn
	in.mu.Unlock()

	return func() {
		in.mu.Lock()
		delete(in.listeners[name], id)
		in.mu.Unlock()
	}
}

func (in *Input) Dispatch(name string, detail any) {
	in.mu.Lock()
	ids := make([]int, 0, len(in.listeners[name]))
	for id := range in.listeners[name] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, in.listeners[name][id])
	}
	in.mu.Unlock()

	ev := Event{Name: name, Detail: detail}
	for _, fn := range fns {
		fn(ev)
	}
}

// Type replaces the value and fires input.
func (in *Input) Type(value string) {
	in.mu.Lock()
	in.control.Value = value
	in.mu.Unlock()
	in.Dispatch(EventInput, nil)
}

// Select picks an option and fires change.
func (in *Input) Select(value string) {
	in.mu.Lock()
	in.control.Value = value
	in.mu.Unlock()
	in.Dispatch(EventChange, nil)
}

// SetChecked toggles a checkbox or radio and fires change.
func (in *Input) SetChecked(checked bool) {
	in.mu.Lock()
	in.control.Checked = checked
	in.mu.Unlock()
	in.Dispatch(EventChange, nil)
}

// ChooseFiles replaces the selected files and fires change.
func (in *Input) ChooseFiles(files ...*form.File) {
	in.mu.Lock()
	in.control.Files = append([]*form.File(nil), files...)
	in.mu.Unlock()
	in.Dispatch(EventChange, nil)
}

// Emit fires name with value as its detail, the way a custom component
// reports a new model value.
func (in *Input) Emit(name string, value any) {
	in.Dispatch(name, value)
}
