// Package browser provides the headless stand-ins for the browser
// capabilities the runtime depends on: the address bar, the document
// title, session history, window events and the alert dialog.
package browser

import (
	"net/url"
	"sync"

	"github.com/qor5/web/internal/query"
)

// Window event names.
const (
	EventFetchStart = "fetchStart"
	EventFetchEnd   = "fetchEnd"
)

// Event is a custom event dispatched on the window.
type Event struct {
	Name   string
	Detail any
}

// Alerter shows a blocking message to the user.
type Alerter interface {
	Alert(msg string)
}

// AlertFunc adapts a function to Alerter.
type AlertFunc func(msg string)

func (f AlertFunc) Alert(msg string) { f(msg) }

// Option configures a Window.
type Option func(*Window)

// WithAlerter routes alerts to a.
func WithAlerter(a Alerter) Option {
	return func(w *Window) { w.alerter = a }
}

// WithTitle sets the initial document title.
func WithTitle(title string) Option {
	return func(w *Window) { w.title = title }
}

// Window is a headless browser window.
type Window struct {
	mu         sync.RWMutex
	href       string
	title      string
	history    *SessionHistory
	alerter    Alerter
	alerts     []string
	listeners  map[string]map[int]func(Event)
	nextID     int
	onNavigate []func(string)
}

// NewWindow opens a window at href.
func NewWindow(href string, opts ...Option) *Window {
	w := &Window{
		href:      href,
		listeners: make(map[string]map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.history = newSessionHistory(w, href)
	return w
}

// Href returns the full current address.
func (w *Window) Href() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.href
}

// PathAndQuery returns the current address without origin or fragment.
func (w *Window) PathAndQuery() string {
	return query.PathAndQuery(w.Href())
}

func (w *Window) Title() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.title
}

func (w *Window) SetTitle(title string) {
	w.mu.Lock()
	w.title = title
	w.mu.Unlock()
}

func (w *Window) History() *SessionHistory { return w.history }

// Replace navigates to rawURL without adding a history entry, the way
// location.replace does. Navigation handlers run after the address moved.
func (w *Window) Replace(rawURL string) {
	href := w.Resolve(rawURL)
	w.history.mu.Lock()
	w.history.entries[w.history.index] = sessionEntry{url: href}
	w.history.mu.Unlock()
	w.setHref(href)

	w.mu.RLock()
	handlers := append([]func(string){}, w.onNavigate...)
	w.mu.RUnlock()
	for _, fn := range handlers {
		fn(href)
	}
}

// OnNavigate registers fn to run after every full navigation.
func (w *Window) OnNavigate(fn func(href string)) {
	w.mu.Lock()
	w.onNavigate = append(w.onNavigate, fn)
	w.mu.Unlock()
}

// AddEventListener subscribes fn to events named name.
func (w *Window) AddEventListener(name string, fn func(Event)) func() {
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	if w.listeners[name] == nil {
		w.listeners[name] = make(map[int]func(Event))
	}
	w.listeners[name][id] = fn
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		delete(w.listeners[name], id)
		w.mu.Unlock()
	}
}

// Dispatch delivers an event to every listener in subscription order.
func (w *Window) Dispatch(name string, detail any) {
	w.mu.RLock()
	var fns []func(Event)
	for id := 0; id < w.nextID; id++ {
		if fn, ok := w.listeners[name][id]; ok {
			fns = append(fns, fn)
		}
	}
	w.mu.RUnlock()

	ev := Event{Name: name, Detail: detail}
	for _, fn := range fns {
		fn(ev)
	}
}

// Alert forwards msg to the configured Alerter and records it.
func (w *Window) Alert(msg string) {
	w.mu.Lock()
	w.alerts = append(w.alerts, msg)
	a := w.alerter
	w.mu.Unlock()
	if a != nil {
		a.Alert(msg)
	}
}

// Alerts returns every message shown so far.
func (w *Window) Alerts() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string(nil), w.alerts...)
}

func (w *Window) setHref(href string) {
	w.mu.Lock()
	w.href = href
	w.mu.Unlock()
}

// Resolve makes ref absolute against the current address.
func (w *Window) Resolve(ref string) string {
	cur := w.Href()
	if ref == "" {
		return cur
	}
	base, err := url.Parse(cur)
	if err != nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}
