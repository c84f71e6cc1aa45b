// Package history keeps a shadow copy of the session history so the
// runtime can tell which record a traversal landed on and what preceded
// it.
package history

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/qor5/web/internal/browser"
	"github.com/qor5/web/internal/errors"
	"github.com/qor5/web/internal/logging"
	"github.com/qor5/web/internal/query"
)

// Record is one entry of the shadow stack. The initial record has no ID
// and a nil State.
type Record struct {
	ID    string `json:"id,omitempty"`
	State any    `json:"state"`
	Title string `json:"title,omitempty"`
	URL   string `json:"url"`
}

// Tagged is the value written to the native history. It carries the
// record ID next to the caller's state.
type Tagged struct {
	ID    string `json:"__uniqueId"`
	State any    `json:"state"`
}

// Stack mirrors a native history. All writes must go through it.
type Stack struct {
	mu        sync.Mutex
	native    browser.History
	logger    logging.Logger
	records   []Record
	index     int
	listeners map[int]func(state any, ev browser.PopStateEvent)
	nextID    int
	unsub     func()
}

// New seeds the stack with a state-less record for href and subscribes to
// native traversals. A traversal that matches no record panics: the stack
// can no longer answer Current or Last truthfully.
func New(native browser.History, href string, logger logging.Logger) *Stack {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	s := &Stack{
		native:    native,
		logger:    logger.WithComponent("history"),
		records:   []Record{{URL: query.PathAndQuery(href)}},
		listeners: make(map[int]func(any, browser.PopStateEvent)),
	}
	s.unsub = native.OnPopState(func(ev browser.PopStateEvent) {
		if err := s.HandlePopState(ev); err != nil {
			panic(err)
		}
	})
	return s
}

// Close detaches the stack from the native history.
func (s *Stack) Close() {
	if s.unsub != nil {
		s.unsub()
	}
}

// Push tags state with a fresh ID, drops every record after the current
// one, appends, and forwards to the native history.
func (s *Stack) Push(state any, title, url string) {
	tagged := &Tagged{ID: uuid.NewString(), State: state}

	s.mu.Lock()
	s.records = append(s.records[:s.index+1], Record{ID: tagged.ID, State: state, Title: title, URL: url})
	s.index = len(s.records) - 1
	s.mu.Unlock()

	s.logger.Debug(context.Background(), "pushState", "id", tagged.ID, "url", url)
	s.native.PushState(tagged, title, url)
}

// Replace re-tags state and overwrites the current record.
func (s *Stack) Replace(state any, title, url string) error {
	tagged := &Tagged{ID: uuid.NewString(), State: state}

	s.mu.Lock()
	if s.index < 0 || s.index >= len(s.records) {
		s.mu.Unlock()
		return errors.NewHistoryError(errors.ErrCodeHistoryEmpty, "replaceState before any record exists")
	}
	s.records[s.index] = Record{ID: tagged.ID, State: state, Title: title, URL: url}
	s.mu.Unlock()

	s.logger.Debug(context.Background(), "replaceState", "id", tagged.ID, "url", url)
	s.native.ReplaceState(tagged, title, url)
	return nil
}

// HandlePopState moves the current index to the record ev refers to and
// then notifies subscribers with the caller's original state.
func (s *Stack) HandlePopState(ev browser.PopStateEvent) error {
	tagged, _ := ev.State.(*Tagged)

	s.mu.Lock()
	found := s.find(tagged, ev.URL)
	if found < 0 {
		s.mu.Unlock()
		id := ""
		if tagged != nil {
			id = tagged.ID
		} else if ev.State != nil {
			id = fmt.Sprintf("%v", ev.State)
		}
		return errors.ErrHistoryDesync(id)
	}
	s.index = found
	listeners := s.listenerList()
	s.mu.Unlock()

	var state any
	if tagged != nil {
		state = tagged.State
	}
	for _, fn := range listeners {
		fn(state, ev)
	}
	return nil
}

// find locates the record a traversal landed on. State-less traversals
// match a state-less record, preferring one with the same address.
func (s *Stack) find(tagged *Tagged, href string) int {
	if tagged != nil {
		for i, r := range s.records {
			if r.ID == tagged.ID {
				return i
			}
		}
		return -1
	}
	found := -1
	target := query.PathAndQuery(href)
	for i, r := range s.records {
		if r.ID != "" {
			continue
		}
		if href != "" && r.URL == target {
			return i
		}
		if found < 0 {
			found = i
		}
	}
	return found
}

// Reset turns the current record back into a state-less one at href. It
// follows a full navigation, which discards the current entry's state.
func (s *Stack) Reset(href string) {
	s.mu.Lock()
	s.records[s.index] = Record{URL: query.PathAndQuery(href)}
	s.mu.Unlock()
}

// OnPopState subscribes fn to traversals. fn runs after the stack has
// moved and receives the state originally pushed, or nil for the initial
// record.
func (s *Stack) OnPopState(fn func(state any, ev browser.PopStateEvent)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Stack) listenerList() []func(any, browser.PopStateEvent) {
	out := make([]func(any, browser.PopStateEvent), 0, len(s.listeners))
	for id := 0; id < s.nextID; id++ {
		if fn, ok := s.listeners[id]; ok {
			out = append(out, fn)
		}
	}
	return out
}

// Current returns the record at the current index.
func (s *Stack) Current() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[s.index]
}

// Last returns the record before the current one, or nil at the start.
func (s *Stack) Last() *Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index == 0 {
		return nil
	}
	r := s.records[s.index-1]
	return &r
}

// Records returns a copy of every record.
func (s *Stack) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...)
}

func (s *Stack) CurrentIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

// Restore reloads persisted records into both the stack and the native
// history when the native side supports it.
func (s *Stack) Restore(records []Record, index int) error {
	if len(records) == 0 {
		return errors.NewHistoryError(errors.ErrCodeHistoryEmpty, "no records to restore")
	}
	if index < 0 || index >= len(records) {
		return errors.NewHistoryError(errors.ErrCodeHistoryEmpty,
			fmt.Sprintf("restore index %d out of range", index))
	}

	s.mu.Lock()
	s.records = append([]Record(nil), records...)
	s.index = index
	s.mu.Unlock()

	if r, ok := s.native.(interface {
		Restore(urls []string, states []any, index int)
	}); ok {
		urls := make([]string, len(records))
		states := make([]any, len(records))
		for i, rec := range records {
			urls[i] = rec.URL
			if rec.ID != "" {
				states[i] = &Tagged{ID: rec.ID, State: rec.State}
			}
		}
		r.Restore(urls, states, index)
	}
	return nil
}
