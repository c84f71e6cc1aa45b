// Package portal tracks the named regions of a page that the server can
// refill independently of the root view.
package portal

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Handle is what the registry knows about a mounted portal.
type Handle interface {
	Name() string
	UpdateTemplate(body string)
	Reload(ctx context.Context) error
}

// Event represents a change in the registry
type Event struct {
	Type      EventType
	Name      string
	Handle    Handle
	Timestamp time.Time
}

// EventType represents the type of registry event
type EventType int

const (
	EventTypeAdded EventType = iota
	EventTypeUpdated
	EventTypeRemoved
)

func (t EventType) String() string {
	switch t {
	case EventTypeAdded:
		return "added"
	case EventTypeUpdated:
		return "updated"
	case EventTypeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Registry maps portal names to mounted handles. One registry is owned by
// each runtime.
type Registry struct {
	handles  map[string]Handle
	mutex    sync.RWMutex
	watchers []chan Event
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		handles:  make(map[string]Handle),
		watchers: make([]chan Event, 0),
	}
}

// Register binds h under its name, replacing any previous handle.
func (r *Registry) Register(h Handle) {
	name := h.Name()
	if name == "" {
		return
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	eventType := EventTypeAdded
	if _, exists := r.handles[name]; exists {
		eventType = EventTypeUpdated
	}
	r.handles[name] = h
	r.notify(Event{Type: eventType, Name: name, Handle: h, Timestamp: time.Now()})
}

// Unregister removes name only while it is still bound to h, so a portal
// unmounting after a newer one took its name leaves the newer one alone.
func (r *Registry) Unregister(name string, h Handle) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	cur, exists := r.handles[name]
	if !exists || cur != h {
		return false
	}
	delete(r.handles, name)
	r.notify(Event{Type: EventTypeRemoved, Name: name, Handle: h, Timestamp: time.Now()})
	return true
}

func (r *Registry) notify(event Event) {
	for _, watcher := range r.watchers {
		select {
		case watcher <- event:
		default:
			// Skip if channel is full
		}
	}
}

// Get retrieves a handle by name
func (r *Registry) Get(name string) (Handle, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	h, exists := r.handles[name]
	return h, exists
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.handles))
	for name := range r.handles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered portals
func (r *Registry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return len(r.handles)
}

// Watch returns a channel that receives registry events
func (r *Registry) Watch() <-chan Event {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	ch := make(chan Event, 100)
	r.watchers = append(r.watchers, ch)
	return ch
}

// UnWatch removes a watcher channel and closes it
func (r *Registry) UnWatch(ch <-chan Event) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for i, watcher := range r.watchers {
		if watcher == ch {
			close(watcher)
			r.watchers = append(r.watchers[:i], r.watchers[i+1:]...)
			break
		}
	}
}
