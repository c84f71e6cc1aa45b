// Package testutils provides a fake plaid server and file helpers for
// tests.
package testutils

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/a-h/templ"

	"github.com/qor5/web/internal/plaid"
	"github.com/qor5/web/internal/query"
)

// Request is one event request received by the Server.
type Request struct {
	EventID string
	Method  string
	Path    string
	// RawQuery excludes nothing; it is exactly what the client sent.
	RawQuery string
	Query    query.Query
	Form     map[string][]string
	Files    map[string][]*multipart.FileHeader
	Header   http.Header
}

// Field returns the first value of a form field.
func (r *Request) Field(name string) string {
	if vs := r.Form[name]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// Handler answers one event.
type Handler func(r *Request) (*plaid.EventResponse, error)

// Server is an httptest server speaking the plaid event protocol. Reload
// events without a handler render the registered page for the path, or an
// echo of the request.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	handlers  map[string]Handler
	pages     map[string]templ.Component
	redirects map[string]string
	requests  []*Request
}

// NewServer starts a server that is closed when t finishes.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		handlers:  make(map[string]Handler),
		pages:     make(map[string]templ.Component),
		redirects: make(map[string]string),
	}
	s.Server = httptest.NewServer(s)
	t.Cleanup(s.Close)
	return s
}

// Handle registers h for eventID.
func (s *Server) Handle(eventID string, h Handler) {
	s.mu.Lock()
	s.handlers[eventID] = h
	s.mu.Unlock()
}

// Respond registers a handler that always returns r.
func (s *Server) Respond(eventID string, r *plaid.EventResponse) {
	s.Handle(eventID, func(*Request) (*plaid.EventResponse, error) { return r, nil })
}

// Page sets the body rendered for reloads of path.
func (s *Server) Page(path string, c templ.Component) {
	s.mu.Lock()
	s.pages[path] = c
	s.mu.Unlock()
}

// Redirect makes every request to path answer with an HTTP redirect.
func (s *Server) Redirect(path, target string) {
	s.mu.Lock()
	s.redirects[path] = target
	s.mu.Unlock()
}

// Requests returns every event request received so far.
func (s *Server) Requests() []*Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Request(nil), s.requests...)
}

// Last returns the most recent event request, or nil.
func (s *Server) Last() *Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return nil
	}
	return s.requests[len(s.requests)-1]
}

// URL joins path onto the server address.
func (s *Server) URL(path string) string {
	return s.Server.URL + path
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	target, redirect := s.redirects[r.URL.Path]
	s.mu.Unlock()
	if redirect {
		http.Redirect(w, r, target, http.StatusFound)
		return
	}

	eventID := r.URL.Query().Get(query.EventParam)
	if eventID == "" {
		// a plain page load after a redirect
		s.renderPage(w, r)
		return
	}

	req, err := s.record(r, eventID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	h, ok := s.handlers[eventID]
	page, hasPage := s.pages[r.URL.Path]
	s.mu.Unlock()

	var resp *plaid.EventResponse
	switch {
	case ok:
		resp, err = h(req)
	case eventID == plaid.ReloadEventID:
		if !hasPage {
			page = Echo(req)
		}
		var body string
		body, err = Render(r.Context(), page)
		resp = &plaid.EventResponse{Body: body}
	default:
		http.Error(w, fmt.Sprintf("no handler for event %q", eventID), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) renderPage(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	page, ok := s.pages[r.URL.Path]
	s.mu.Unlock()
	if !ok {
		page = Echo(&Request{Path: r.URL.Path, Query: query.Parse(r.URL.RawQuery)})
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = page.Render(r.Context(), w)
}

func (s *Server) record(r *http.Request, eventID string) (*Request, error) {
	req := &Request{
		EventID:  eventID,
		Method:   r.Method,
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
		Query:    query.Parse(r.URL.RawQuery),
		Form:     map[string][]string{},
		Files:    map[string][]*multipart.FileHeader{},
		Header:   r.Header.Clone(),
	}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			return nil, err
		}
		req.Form = r.MultipartForm.Value
		req.Files = r.MultipartForm.File
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	return req, nil
}

// Render renders c to a string.
func Render(ctx context.Context, c templ.Component) (string, error) {
	var b strings.Builder
	if err := c.Render(ctx, &b); err != nil {
		return "", err
	}
	return b.String(), nil
}

// HTML is a component that writes markup verbatim.
func HTML(markup string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		_, err := io.WriteString(w, markup)
		return err
	})
}

// Echo renders the request path and its query keys in sorted order.
func Echo(r *Request) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		keys := make([]string, 0, len(r.Query))
		for k := range r.Query {
			if k != query.EventParam {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)

		var b strings.Builder
		b.WriteString(`<main data-path="` + templ.EscapeString(r.Path) + `">`)
		for _, k := range keys {
			b.WriteString(`<p data-key="` + templ.EscapeString(k) + `">` +
				templ.EscapeString(strings.Join(r.Query[k].Items, ",")) + `</p>`)
		}
		b.WriteString(`</main>`)
		_, err := io.WriteString(w, b.String())
		return err
	})
}
