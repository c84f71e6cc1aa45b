package plaid

import (
	"context"
	"fmt"

	"github.com/qor5/web/internal/errors"
	"github.com/qor5/web/internal/form"
	"github.com/qor5/web/internal/query"
	"github.com/qor5/web/internal/script"
	"github.com/qor5/web/internal/textutil"
)

// Builder accumulates one action. Every setter returns a new Builder and
// leaves the receiver untouched, so a partially built Builder can be
// shared, for example as a portal loader.
type Builder struct {
	rt      *Runtime
	in      Intent
	convert script.Converter
}

func (b *Builder) with(fn func(in *Intent)) *Builder {
	nb := &Builder{rt: b.rt, in: b.in.clone(), convert: b.convert}
	fn(&nb.in)
	return nb
}

func (b *Builder) withLocation(fn func(loc *query.LocationSpec)) *Builder {
	return b.with(func(in *Intent) {
		if in.Location == nil {
			in.Location = &query.LocationSpec{}
		}
		fn(in.Location)
	})
}

// Intent returns a copy of everything accumulated so far.
func (b *Builder) Intent() Intent { return b.in.clone() }

// BindScript returns a copy of b that accepts functions of the script
// runtime identified by convert wherever a deferred value is allowed.
func (b *Builder) BindScript(convert script.Converter) any {
	return &Builder{rt: b.rt, in: b.in.clone(), convert: convert}
}

func (b *Builder) EventFunc(id string) *Builder {
	return b.with(func(in *Intent) { in.EventID = id })
}

func (b *Builder) Reload() *Builder { return b.EventFunc(ReloadEventID) }

// URL sets the request target. Without it the current address is used.
func (b *Builder) URL(v string) *Builder {
	return b.with(func(in *Intent) { in.URL = v })
}

func (b *Builder) Method(m string) *Builder {
	return b.with(func(in *Intent) { in.Method = m })
}

// Query declares one query key. v is a QueryValue, a scalar, a list, an
// {add, remove} operation, nil to drop the key, or a deferred value.
func (b *Builder) Query(key string, v any) *Builder {
	if fn, ok := asDeferred(v, b.convert); ok {
		return b.with(func(in *Intent) {
			in.lazy = append(in.lazy, lazyLocation{kind: lazyQuery, key: key, fn: fn})
		})
	}
	qv := mustQueryValue(key, v)
	return b.withLocation(func(loc *query.LocationSpec) {
		if loc.Query == nil {
			loc.Query = make(map[string]query.QueryValue)
		}
		loc.Query[key] = qv
	})
}

// Queries replaces every declared query key.
func (b *Builder) Queries(v map[string]any) *Builder {
	q := make(map[string]query.QueryValue, len(v))
	for k, raw := range v {
		q[k] = mustQueryValue(k, raw)
	}
	return b.withLocation(func(loc *query.LocationSpec) { loc.Query = q })
}

func (b *Builder) MergeQuery(v bool) *Builder {
	return b.withLocation(func(loc *query.LocationSpec) { loc.MergeQuery = v })
}

// ClearMergeQuery merges the current query minus keys.
func (b *Builder) ClearMergeQuery(keys []string) *Builder {
	return b.withLocation(func(loc *query.LocationSpec) {
		loc.MergeQuery = true
		loc.ClearMergeQueryKeys = append([]string(nil), keys...)
	})
}

func (b *Builder) StringQuery(v any) *Builder {
	if fn, ok := asDeferred(v, b.convert); ok {
		return b.with(func(in *Intent) {
			in.lazy = append(in.lazy, lazyLocation{kind: lazyStringQuery, fn: fn})
		})
	}
	return b.withLocation(func(loc *query.LocationSpec) { loc.StringQuery = form.Stringify(v) })
}

func (b *Builder) StringifyOptions(v any) *Builder {
	if fn, ok := asDeferred(v, b.convert); ok {
		return b.with(func(in *Intent) {
			in.lazy = append(in.lazy, lazyLocation{kind: lazyStringifyOptions, fn: fn})
		})
	}
	opts := mustStringifyOptions(v)
	return b.withLocation(func(loc *query.LocationSpec) { loc.StringifyOptions = opts })
}

// Location replaces the whole location spec. It accepts anything
// query.LocationFrom does, including a pushed history state.
func (b *Builder) Location(v any) *Builder {
	loc, err := query.LocationFrom(v)
	if err != nil {
		panic(errors.NewMisuseError(errors.ErrCodeInvalidLocation, err.Error()))
	}
	return b.with(func(in *Intent) {
		in.Location = loc
		in.lazy = nil
	})
}

// PushState takes a bool or a deferred bool.
func (b *Builder) PushState(v any) *Builder {
	return b.with(func(in *Intent) { in.PushState = v })
}

// PushStateURL sets the location URL and turns on PushState.
func (b *Builder) PushStateURL(v any) *Builder {
	if fn, ok := asDeferred(v, b.convert); ok {
		return b.with(func(in *Intent) {
			in.lazy = append(in.lazy, lazyLocation{kind: lazyURL, fn: fn})
			in.PushState = true
		})
	}
	return b.withLocation(func(loc *query.LocationSpec) { loc.URL = form.Stringify(v) }).PushState(true)
}

// Form sets the form container. nil clears it, after which FieldValue
// panics.
func (b *Builder) Form(v any) *Builder {
	return b.with(func(in *Intent) {
		in.Form = v
		in.formCleared = v == nil
		in.Fields = nil
	})
}

// FieldValue adds one field to the request body. v may be deferred.
func (b *Builder) FieldValue(name string, v any) *Builder {
	if b.in.formCleared {
		panic(errors.ErrFormNotSet(name))
	}
	if fn, ok := asDeferred(v, b.convert); ok {
		v = fn
	}
	return b.with(func(in *Intent) { in.Fields = append(in.Fields, Field{Name: name, Value: v}) })
}

func (b *Builder) Vars(v any) *Builder   { return b.with(func(in *Intent) { in.Vars = v }) }
func (b *Builder) Locals(v any) *Builder { return b.with(func(in *Intent) { in.Locals = v }) }
func (b *Builder) Dash(v any) *Builder   { return b.with(func(in *Intent) { in.Dash = v }) }

// BeforeFetch installs a hook that may rewrite the outgoing request.
func (b *Builder) BeforeFetch(v any) *Builder {
	var hook func(*FetchRequest)
	switch fn := v.(type) {
	case nil:
	case func(*FetchRequest):
		hook = fn
	default:
		call, ok := b.convertFunc(v)
		if !ok {
			panic(errors.NewMisuseError(errors.ErrCodeInvalidValue, fmt.Sprintf("beforeFetch: unsupported hook %T", v)))
		}
		hook = func(req *FetchRequest) { call(req) }
	}
	return b.with(func(in *Intent) { in.BeforeFetch = hook })
}

func (b *Builder) Popstate(v bool) *Builder {
	return b.with(func(in *Intent) { in.Popstate = v })
}

// LoadPortalBody makes the dispatch return the response instead of
// replacing the root view with its body.
func (b *Builder) LoadPortalBody(v bool) *Builder {
	return b.with(func(in *Intent) { in.LoadPortalBody = v })
}

// UpdateRootTemplate sets the function that receives a new root body.
func (b *Builder) UpdateRootTemplate(v any) *Builder {
	var update func(string)
	switch fn := v.(type) {
	case nil:
	case func(string):
		update = fn
	default:
		call, ok := b.convertFunc(v)
		if !ok {
			panic(errors.NewMisuseError(errors.ErrCodeInvalidValue, fmt.Sprintf("updateRootTemplate: unsupported %T", v)))
		}
		update = func(body string) { call(body) }
	}
	return b.with(func(in *Intent) { in.UpdateRoot = update })
}

// Run applies fn to b and returns its result. A string is executed as a
// script with this bound to b, for its side effects only.
func (b *Builder) Run(v any) *Builder {
	switch fn := v.(type) {
	case func(*Builder) *Builder:
		return fn(b)
	case string:
		if err := b.rt.runner.Run(b.rt.ctx, fn, b, b.env(nil)); err != nil {
			b.rt.logger.Warn(b.rt.ctx, err, "run script failed")
		}
		return b
	}
	if call, ok := b.convertFunc(v); ok {
		if out, isBuilder := call(b).(*Builder); isBuilder {
			return out
		}
		return b
	}
	panic(errors.NewMisuseError(errors.ErrCodeInvalidValue, fmt.Sprintf("run: unsupported %T", v)))
}

// Emit notifies every scope observing name and returns how many ran.
func (b *Builder) Emit(name string, payload any) int {
	return b.rt.scopes.Notify(name, payload)
}

// EncodeObjectToQuery serializes obj according to tags as produced by a
// script: objects with name, json_name, omitempty and an optional encoder
// function returning the raw "k=v" pairs to append.
func (b *Builder) EncodeObjectToQuery(obj map[string]any, tags []map[string]any) string {
	qtags := make([]query.QueryTag, 0, len(tags))
	for _, t := range tags {
		tag := query.QueryTag{
			Name:      form.Stringify(t["name"]),
			JSONName:  form.Stringify(t["json_name"]),
			OmitEmpty: truthy(t["omitempty"]),
		}
		if call, ok := b.convertFunc(t["encoder"]); ok {
			tag.Encoder = func(value any, queries *[]string, tag query.QueryTag) {
				out := call(map[string]any{
					"value": value,
					"tag":   map[string]any{"name": tag.Name, "json_name": tag.JSONName, "omitempty": tag.OmitEmpty},
				})
				switch x := out.(type) {
				case string:
					if x != "" {
						*queries = append(*queries, x)
					}
				case []any:
					for _, it := range x {
						*queries = append(*queries, form.Stringify(it))
					}
				}
			}
		}
		qtags = append(qtags, tag)
	}
	s, err := query.EncodeObjectToQuery(obj, qtags)
	if err != nil {
		panic(errors.NewMisuseError(errors.ErrCodeInvalidValue, err.Error()))
	}
	return s
}

func (b *Builder) IsRawQuerySubset(sup, sub string) bool { return query.IsRawQuerySubset(sup, sub) }

func (b *Builder) Slug(v string) string { return textutil.Slug(v) }

// BuildFetchURL returns the request URL, including the event parameter.
func (b *Builder) BuildFetchURL() string {
	return b.resolve().result.FetchURL
}

// BuildPushStateArgs returns the arguments for a history push.
func (b *Builder) BuildPushStateArgs() (state *query.PushedState, title, url string) {
	r := b.resolve().result
	return r.State, "", r.HistoryURL
}

// Go sends the action and applies the response.
func (b *Builder) Go(ctx context.Context) (*EventResponse, error) {
	return b.rt.dispatch(ctx, b)
}

// Submit is Go bound to the runtime context, for scripts.
func (b *Builder) Submit() (*EventResponse, error) {
	return b.Go(b.rt.ctx)
}

// OnPopState reloads the page for a history traversal. A nil state
// reloads the current address.
func (b *Builder) OnPopState(ctx context.Context, state any) (*EventResponse, error) {
	nb := b.Popstate(true).Reload()
	if state == nil {
		return nb.URL(b.rt.window.PathAndQuery()).Go(ctx)
	}
	return nb.Location(state).Go(ctx)
}

// LoadPortal makes b usable as a portal loader: it fetches without
// touching the root view and returns the response body.
func (b *Builder) LoadPortal(ctx context.Context) (string, error) {
	r, err := b.LoadPortalBody(true).Go(ctx)
	if err != nil {
		return "", err
	}
	if r == nil {
		return "", nil
	}
	return r.Body, nil
}

func (b *Builder) resolve() *snapshot {
	return b.in.resolve(b.rt.window.PathAndQuery(), b.convert)
}

func (b *Builder) convertFunc(v any) (func(any) any, bool) {
	if v == nil || b.convert == nil {
		return nil, false
	}
	return b.convert(v)
}

// env is the script environment for code running on behalf of b. Without
// FieldValue entries, form is the container itself so scripts mutate it in
// place. With entries, form is the resolved form data, container merged
// with fields; resolved may carry it already, otherwise b is resolved.
func (b *Builder) env(resolved *snapshot) script.Env {
	var fields any = b.in.Form
	if len(b.in.Fields) > 0 {
		if resolved == nil {
			resolved = b.resolve()
		}
		fields = resolved.form
	}
	return script.Env{
		"vars":   b.in.Vars,
		"locals": b.in.Locals,
		"form":   fields,
		"dash":   b.in.Dash,
		"plaid":  Factory(b.child),
	}
}

// child starts a new builder that shares b's references.
func (b *Builder) child() *Builder {
	return b.rt.Plaid().with(func(in *Intent) {
		in.Vars = b.in.Vars
		in.Locals = b.in.Locals
		in.Form = b.in.Form
		in.formCleared = b.in.formCleared
		in.Dash = b.in.Dash
		in.UpdateRoot = b.in.UpdateRoot
	})
}

// Factory creates builders. Scripts receive it as plaid().
type Factory func() *Builder

// BindScript binds every builder the factory creates to convert.
func (f Factory) BindScript(convert script.Converter) any {
	return func() *Builder {
		return f().BindScript(convert).(*Builder)
	}
}
