package plaid

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/qor5/web/internal/errors"
	"github.com/qor5/web/internal/form"
	"github.com/qor5/web/internal/query"
	"github.com/qor5/web/internal/script"
)

// ReloadEventID is the event that re-renders the current page.
const ReloadEventID = "__reload__"

// Deferred is a value computed when the intent is resolved, against the
// finalized Context.
type Deferred func(c *Context) any

// Field is one form entry accumulated by FieldValue. Value may be a
// Deferred.
type Field struct {
	Name  string
	Value any
}

type lazyKind uint8

const (
	lazyQuery lazyKind = iota
	lazyStringQuery
	lazyStringifyOptions
	lazyURL
)

// lazyLocation is a location part whose value is deferred.
type lazyLocation struct {
	kind lazyKind
	key  string
	fn   Deferred
}

// Intent is everything a Builder accumulated. It is plain data; Builders
// never mutate an Intent they share.
type Intent struct {
	EventID  string
	URL      string
	Method   string
	Location *query.LocationSpec
	// Form is the caller's form container, encoded first. nil after an
	// explicit Form(nil).
	Form   any
	Fields []Field
	// PushState is a bool or a Deferred.
	PushState      any
	Vars           any
	Locals         any
	Dash           any
	BeforeFetch    func(*FetchRequest)
	Popstate       bool
	LoadPortalBody bool
	UpdateRoot     func(body string)

	formCleared bool
	lazy        []lazyLocation
}

func (in Intent) clone() Intent {
	out := in
	out.Location = in.Location.Clone()
	out.Fields = append([]Field(nil), in.Fields...)
	out.lazy = append([]lazyLocation(nil), in.lazy...)
	return out
}

// Context is the snapshot deferred values are computed against: every
// non-deferred part of the intent, resolved.
type Context struct {
	EventID  string
	URL      string
	Method   string
	Location *query.LocationSpec
	Form     *form.Data
	Vars     any
	Locals   any
	Dash     any
}

// Field returns the first value of a resolved form field.
func (c *Context) Field(name string) string {
	v, _ := c.Form.Get(name)
	return v
}

// FetchRequest is handed to the before-fetch hook, which may rewrite any
// part of it.
type FetchRequest struct {
	URL         string
	Method      string
	Body        io.Reader
	ContentType string
}

// snapshot is a fully resolved intent.
type snapshot struct {
	in        Intent
	url       string
	method    string
	location  *query.LocationSpec
	form      *form.Data
	pushState bool
	result    query.Result
}

// resolve evaluates the intent in two phases: static values first, then
// every deferred value against the resulting Context. currentURL stands in
// for an unset URL.
func (in Intent) resolve(currentURL string, convert script.Converter) *snapshot {
	s := &snapshot{in: in, url: in.URL, method: in.Method}
	if s.url == "" {
		s.url = currentURL
	}
	if s.method == "" {
		s.method = http.MethodPost
	}

	loc := in.Location.Clone()
	if loc == nil && len(in.lazy) > 0 {
		loc = &query.LocationSpec{}
	}

	fd := encodeContainer(in.Form)
	var base *form.Data
	deferredFields := make(map[int]Deferred)
	for i, f := range in.Fields {
		if fn, ok := asDeferred(f.Value, convert); ok {
			if base == nil {
				base = fd.Clone()
			}
			deferredFields[i] = fn
			continue
		}
		form.Encode(f.Value, fd, f.Name)
	}
	pushFn, pushDeferred := asDeferred(in.PushState, convert)
	if !pushDeferred {
		s.pushState = truthy(in.PushState)
	}

	ctx := &Context{
		EventID:  in.EventID,
		URL:      s.url,
		Method:   s.method,
		Location: loc.Clone(),
		Form:     fd.Clone(),
		Vars:     in.Vars,
		Locals:   in.Locals,
		Dash:     in.Dash,
	}

	// Deferred values see the static fields; every field is then written
	// again in insertion order so a later FieldValue wins either way.
	if base != nil {
		values := make(map[int]any, len(deferredFields))
		for i := range in.Fields {
			if fn, ok := deferredFields[i]; ok {
				values[i] = fn(ctx)
			}
		}
		fd = base
		for i, f := range in.Fields {
			v := f.Value
			if _, ok := deferredFields[i]; ok {
				v = values[i]
			}
			form.Encode(v, fd, f.Name)
		}
	}
	if pushDeferred {
		s.pushState = truthy(pushFn(ctx))
	}
	for _, l := range in.lazy {
		applyLazy(loc, l, l.fn(ctx))
	}

	s.location = loc
	s.form = fd
	s.result = query.Build(in.EventID, s.url, loc)
	return s
}

func applyLazy(loc *query.LocationSpec, l lazyLocation, v any) {
	switch l.kind {
	case lazyQuery:
		if loc.Query == nil {
			loc.Query = make(map[string]query.QueryValue)
		}
		loc.Query[l.key] = mustQueryValue(l.key, v)
	case lazyStringQuery:
		loc.StringQuery = form.Stringify(v)
	case lazyStringifyOptions:
		loc.StringifyOptions = mustStringifyOptions(v)
	case lazyURL:
		loc.URL = form.Stringify(v)
	}
}

func encodeContainer(container any) *form.Data {
	switch x := container.(type) {
	case nil:
		return form.NewData()
	case *form.Data:
		return x.Clone()
	}
	fd := form.NewData()
	form.Encode(container, fd, "")
	return fd
}

// asDeferred recognizes Go deferreds and, through convert, script
// functions.
func asDeferred(v any, convert script.Converter) (Deferred, bool) {
	switch fn := v.(type) {
	case nil:
		return nil, false
	case Deferred:
		return fn, fn != nil
	case func(*Context) any:
		return Deferred(fn), fn != nil
	case func(*Context) string:
		return func(c *Context) any { return fn(c) }, fn != nil
	case func(*Context) bool:
		return func(c *Context) any { return fn(c) }, fn != nil
	}
	if convert != nil {
		if call, ok := convert(v); ok {
			return func(c *Context) any { return call(c) }, true
		}
	}
	return nil, false
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		b, err := strconv.ParseBool(x)
		if err != nil {
			return x != ""
		}
		return b
	case int64:
		return x != 0
	case int:
		return x != 0
	case float64:
		return x != 0
	}
	return true
}

func mustQueryValue(key string, v any) query.QueryValue {
	qv, err := query.ValueFrom(v)
	if err != nil {
		panic(errors.NewMisuseError(errors.ErrCodeInvalidValue, err.Error()).WithContext("query", key))
	}
	return qv
}

func mustStringifyOptions(v any) *query.StringifyOptions {
	switch x := v.(type) {
	case nil:
		return nil
	case query.StringifyOptions:
		return &x
	case *query.StringifyOptions:
		return x
	}
	data, err := json.Marshal(v)
	if err == nil {
		var opts query.StringifyOptions
		if err = json.Unmarshal(data, &opts); err == nil {
			return &opts
		}
	}
	panic(errors.NewMisuseError(errors.ErrCodeInvalidValue, fmt.Sprintf("invalid stringify options: %v", err)))
}
