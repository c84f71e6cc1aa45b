package browser

import (
	"sync"
)

// History is the native session history the runtime writes to.
type History interface {
	PushState(state any, title, url string)
	ReplaceState(state any, title, url string)
	State() any
	Length() int
	Back()
	Forward()
	Go(delta int)
	// OnPopState subscribes fn to traversals. The returned function
	// unsubscribes it.
	OnPopState(fn func(PopStateEvent)) func()
}

// PopStateEvent is fired after a traversal moved the current entry.
type PopStateEvent struct {
	State any
	URL   string
}

type sessionEntry struct {
	state any
	title string
	url   string
}

// SessionHistory is an in-memory session history bound to a Window.
// Writes move the window's address; traversals additionally fire popstate.
type SessionHistory struct {
	mu        sync.Mutex
	window    *Window
	entries   []sessionEntry
	index     int
	listeners map[int]func(PopStateEvent)
	nextID    int
}

func newSessionHistory(w *Window, href string) *SessionHistory {
	return &SessionHistory{
		window:    w,
		entries:   []sessionEntry{{url: href}},
		listeners: make(map[int]func(PopStateEvent)),
	}
}

func (h *SessionHistory) PushState(state any, title, url string) {
	href := h.window.Resolve(url)
	h.mu.Lock()
	h.entries = append(h.entries[:h.index+1], sessionEntry{state: state, title: title, url: href})
	h.index = len(h.entries) - 1
	h.mu.Unlock()
	h.window.setHref(href)
}

func (h *SessionHistory) ReplaceState(state any, title, url string) {
	href := h.window.Resolve(url)
	h.mu.Lock()
	h.entries[h.index] = sessionEntry{state: state, title: title, url: href}
	h.mu.Unlock()
	h.window.setHref(href)
}

func (h *SessionHistory) State() any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entries[h.index].state
}

func (h *SessionHistory) Length() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Index returns the position of the current entry.
func (h *SessionHistory) Index() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.index
}

func (h *SessionHistory) Back()    { h.Go(-1) }
func (h *SessionHistory) Forward() { h.Go(1) }

// Go moves delta entries. Moves past either end are ignored.
func (h *SessionHistory) Go(delta int) {
	h.mu.Lock()
	target := h.index + delta
	if delta == 0 || target < 0 || target >= len(h.entries) {
		h.mu.Unlock()
		return
	}
	h.index = target
	entry := h.entries[target]
	listeners := h.listenerList()
	h.mu.Unlock()

	h.window.setHref(entry.url)
	ev := PopStateEvent{State: entry.state, URL: entry.url}
	for _, fn := range listeners {
		fn(ev)
	}
}

func (h *SessionHistory) OnPopState(fn func(PopStateEvent)) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.listeners[id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.listeners, id)
		h.mu.Unlock()
	}
}

func (h *SessionHistory) listenerList() []func(PopStateEvent) {
	out := make([]func(PopStateEvent), 0, len(h.listeners))
	for id := 0; id < h.nextID; id++ {
		if fn, ok := h.listeners[id]; ok {
			out = append(out, fn)
		}
	}
	return out
}

// Restore replaces every entry, used when resuming a persisted session.
// index is clamped to the valid range.
func (h *SessionHistory) Restore(urls []string, states []any, index int) {
	if len(urls) == 0 {
		return
	}
	entries := make([]sessionEntry, len(urls))
	for i, u := range urls {
		entries[i] = sessionEntry{url: h.window.Resolve(u)}
		if i < len(states) {
			entries[i].state = states[i]
		}
	}

	h.mu.Lock()
	h.entries = entries
	if index < 0 {
		index = 0
	}
	if index >= len(h.entries) {
		index = len(h.entries) - 1
	}
	h.index = index
	href := h.entries[index].url
	h.mu.Unlock()
	h.window.setHref(href)
}
