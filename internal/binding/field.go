package binding

import (
	"sync"
	"time"

	"github.com/qor5/web/internal/debounce"
	"github.com/qor5/web/internal/form"
)

// DefaultDebounce is the quiet period of a debounced binding when none is
// given.
const DefaultDebounce = 800 * time.Millisecond

// DebouncedSuffix is appended to an event name for its debounced echo.
const DebouncedSuffix = ":debounced"

// Dirtier is implemented by targets that track unsaved changes.
type Dirtier interface {
	SetDirty(bool)
}

// Options configure a field binding.
type Options struct {
	// Debounce, when set, also re-emits DebounceEvent as
	// "<event>:debounced" once the element has been quiet this long.
	Debounce      time.Duration
	DebounceEvent string
}

// Field binds one named field of a form target to an element.
type Field struct {
	el     Element
	target form.Target
	name   string

	mu       sync.Mutex
	removers []func()
	attached bool
}

// Attach writes the element's current value into target under name and
// keeps it in sync on input and change events. Seeding does not mark the
// target dirty.
func Attach(el Element, target form.Target, name string, opts Options) *Field {
	f := &Field{el: el, target: target, name: name, attached: true}
	form.SetValue(target, name, el.Control())

	f.removers = append(f.removers,
		el.AddEventListener(EventChange, func(ev Event) { f.write(ev.Detail) }),
		el.AddEventListener(EventInput, func(ev Event) { f.write(ev.Detail) }),
	)
	if opts.Debounce > 0 {
		f.removers = append(f.removers, Debounce(el, opts.DebounceEvent, opts.Debounce))
	}
	return f
}

// write stores detail, or the element's control when detail is nil. A
// change marks a Dirtier target dirty; identical writes leave it alone.
func (f *Field) write(detail any) bool {
	f.mu.Lock()
	attached := f.attached
	f.mu.Unlock()
	if !attached {
		return false
	}

	v := detail
	if v == nil {
		v = f.el.Control()
	}
	changed := form.SetValue(f.target, f.name, v)
	if d, ok := f.target.(Dirtier); ok && changed {
		d.SetDirty(true)
	}
	return changed
}

// Name returns the bound field name.
func (f *Field) Name() string { return f.name }

// Detach removes every listener and cancels a pending debounced event.
func (f *Field) Detach() {
	f.mu.Lock()
	if !f.attached {
		f.mu.Unlock()
		return
	}
	f.attached = false
	removers := f.removers
	f.removers = nil
	f.mu.Unlock()

	for _, remove := range removers {
		remove()
	}
}

// Debounce re-emits event on el as "<event>:debounced" after el has not
// fired event for delay. event defaults to input and delay to
// DefaultDebounce. The returned function detaches it.
func Debounce(el Element, event string, delay time.Duration) func() {
	if event == "" {
		event = EventInput
	}
	if delay <= 0 {
		delay = DefaultDebounce
	}
	d := debounce.New(delay)
	remove := el.AddEventListener(event, func(ev Event) {
		d.Trigger(func() { el.Dispatch(event+DebouncedSuffix, ev.Detail) })
	})
	return func() {
		remove()
		d.Stop()
	}
}
