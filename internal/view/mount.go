package view

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/qor5/web/internal/binding"
	"github.com/qor5/web/internal/errors"
	"github.com/qor5/web/internal/form"
	"github.com/qor5/web/internal/plaid"
	"github.com/qor5/web/internal/portal"
	"github.com/qor5/web/internal/scope"
	"github.com/qor5/web/internal/script"
)

// Element and attribute names understood by the view.
const (
	TagScope  = "go-plaid-scope"
	TagPortal = "go-plaid-portal"

	AttrFieldName   = "v-field-name"
	AttrInitContext = "v-init-context"
	AttrAssign      = "v-assign"
	AttrDebounce    = "v-debounce"
)

// render parses body as the children of parent and mounts them in region.
// It returns the portals found, which the caller mounts once a.mu is
// released. Callers hold a.mu.
func (a *App) render(parent *html.Node, body string, region *scope.Node) []*portal.Portal {
	nodes, err := html.ParseFragment(strings.NewReader(body), newElement("div"))
	if err != nil {
		a.logger.Error(a.ctx, err, "Failed to parse body")
		return nil
	}

	var pending []*portal.Portal
	for _, n := range nodes {
		parent.AppendChild(n)
		a.walk(n, region, &pending)
	}
	return pending
}

func (a *App) walk(n *html.Node, region *scope.Node, pending *[]*portal.Portal) {
	if n.Type != html.ElementNode {
		return
	}

	a.applyDirectives(n, region)

	switch n.Data {
	case TagScope:
		child, err := a.mountScope(n, region)
		if err != nil {
			a.logger.Warn(a.ctx, err, "Skipping scope")
			return
		}
		region = child
	case TagPortal:
		p, err := a.newPortal(n, region)
		if err != nil {
			a.logger.Warn(a.ctx, err, "Skipping portal")
			return
		}
		*pending = append(*pending, p)
		return
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		a.walk(c, region, pending)
	}
}

func (a *App) mountScope(n *html.Node, parent *scope.Node) (*scope.Node, error) {
	env := a.env(parent)

	locals, _, err := a.prop(n, "init", env)
	if err != nil {
		return nil, err
	}
	formInit, _, err := a.prop(n, "form-init", env)
	if err != nil {
		return nil, err
	}
	opts := scope.Options{Init: locals, FormInit: formInit}

	if v, ok, err := a.prop(n, "use-debounce", env); err != nil {
		return nil, err
	} else if ok {
		opts.UseDebounce = millis(v)
	}

	var node *scope.Node
	if code, ok := handlerFor(n, "change-debounced"); ok {
		opts.OnChange = func(ev scope.ChangeEvent) {
			err := a.runHandler(a.ctx, node, code, map[string]any{
				"locals":    ev.Locals,
				"form":      ev.Form,
				"oldLocals": ev.OldLocals,
				"oldForm":   ev.OldForm,
			})
			if err != nil {
				a.logger.Warn(a.ctx, err, "Scope change handler failed")
			}
		}
	}

	if v, ok, err := a.prop(n, "observers", env); err != nil {
		return nil, err
	} else if ok {
		opts.Observers = a.observers(v, func() *scope.Node { return node })
	}

	node, err = parent.NewChild(opts)
	if err != nil {
		return nil, errors.NewValidationError(TagScope, err.Error())
	}
	return node, nil
}

// observers reads [{name, script}] into scope observers.
func (a *App) observers(v any, node func() *scope.Node) []scope.Observer {
	items, _ := v.([]any)
	out := make([]scope.Observer, 0, len(items))
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		code, _ := m["script"].(string)
		if name == "" || code == "" {
			continue
		}
		out = append(out, scope.Observer{
			Name: name,
			Handle: func(n scope.Notification) {
				env := a.env(node()).With(script.Env{"name": n.Name, "payload": n.Payload})
				if err := a.rt.Runner().Run(a.ctx, code, nil, env); err != nil {
					a.logger.Warn(a.ctx, err, "Observer failed", "observer", name)
				}
			},
		})
	}
	return out
}

func (a *App) newPortal(n *html.Node, region *scope.Node) (*portal.Portal, error) {
	env := a.env(region)
	opts := portal.Options{
		Locals: region.Locals(),
		Form:   region.Form(),
		Logger: a.logger,
	}

	if v, ok, err := a.prop(n, "portal-name", env); err != nil {
		return nil, err
	} else if ok {
		opts.Name = form.Stringify(v)
	}
	if v, ok, err := a.prop(n, "loader", env); err != nil {
		return nil, err
	} else if ok {
		loader, isLoader := v.(portal.Loader)
		if !isLoader {
			return nil, errors.NewValidationError("loader", "must evaluate to a plaid builder")
		}
		opts.Loader = loader
	}
	if v, ok, err := a.prop(n, "visible", env); err != nil {
		return nil, err
	} else if ok {
		opts.Hidden = !visible(v)
	}
	if v, ok, err := a.prop(n, "auto-reload-interval", env); err != nil {
		return nil, err
	} else if ok {
		opts.AutoReloadInterval = millis(v)
	}

	if slot := innerHTML(n); strings.TrimSpace(slot) != "" {
		opts.Slot = slot
	}
	clearChildren(n)

	opts.Render = func(c portal.Content) { a.renderPortal(n, region, c) }
	p := portal.New(opts)
	region.OnUnmount(p.Unmount)
	return p, nil
}

// applyDirectives mounts the directive attributes of n. Callers hold a.mu.
func (a *App) applyDirectives(n *html.Node, region *scope.Node) {
	env := a.env(region)

	for _, at := range n.Attr {
		name, arg, _ := strings.Cut(at.Key, ":")
		switch name {
		case AttrInitContext:
			a.initContext(region, arg, at.Val, env)
		case AttrAssign:
			a.assign(at.Val, env)
		}
	}

	var in *binding.Input
	if expr, ok := attr(n, AttrFieldName); ok {
		in = a.bindField(n, region, expr, env)
	}
	for _, at := range n.Attr {
		name, event, _ := strings.Cut(at.Key, ":")
		if name != AttrDebounce {
			continue
		}
		if in == nil {
			in = a.input(n, region)
		}
		delay := millis(at.Val)
		if delay <= 0 {
			delay = a.debounce
		}
		stop := binding.Debounce(in, event, delay)
		region.OnUnmount(stop)
	}

	events := handlers(n)
	if len(events) == 0 {
		return
	}
	a.regions[n] = region
	region.OnUnmount(func() { delete(a.regions, n) })
	if in == nil {
		return
	}
	for event, code := range events {
		code := code
		remove := in.AddEventListener(event, func(ev binding.Event) {
			if err := a.runHandler(a.ctx, region, code, ev.Detail); err != nil {
				a.logger.Warn(a.ctx, err, "Event handler failed", "event", ev.Name)
			}
		})
		region.OnUnmount(remove)
	}
}

// initContext copies the keys of the object expr evaluates to into the
// vars, or the scope part named by arg, skipping keys already present.
func (a *App) initContext(region *scope.Node, arg, expr string, env script.Env) {
	v, err := a.rt.Runner().Eval(a.ctx, expr, env)
	if err != nil {
		a.logger.Warn(a.ctx, err, "v-init-context failed")
		return
	}
	m, ok := v.(map[string]any)
	if !ok {
		return
	}

	target := a.rt.Scopes().Vars()
	switch arg {
	case "locals":
		target = region.Locals()
	case "form":
		target = region.Form()
	}
	for k, val := range m {
		target.SetMissing(k, val)
	}
}

// assign merges an object into a scope part: [target, {k: v}].
func (a *App) assign(expr string, env script.Env) {
	v, err := a.rt.Runner().Eval(a.ctx, expr, env)
	if err != nil {
		a.logger.Warn(a.ctx, err, "v-assign failed")
		return
	}
	pair, ok := v.([]any)
	if !ok || len(pair) != 2 {
		return
	}
	values, _ := pair[1].(map[string]any)
	if state, isState := scope.Resolve(pair[0]); isState {
		for k, val := range values {
			state.Set(k, val)
		}
		return
	}
	if fd, isForm := pair[0].(*form.Data); isForm {
		for k, val := range values {
			form.SetValue(fd, k, val)
		}
	}
}

// bindField attaches the control n to the field its directive names:
// either [form, "name"] or just "name" for the enclosing scope's form.
func (a *App) bindField(n *html.Node, region *scope.Node, expr string, env script.Env) *binding.Input {
	v, err := a.rt.Runner().Eval(a.ctx, expr, env)
	if err != nil {
		a.logger.Warn(a.ctx, err, "v-field-name failed")
		return nil
	}

	var target form.Target = region.Form().Target()
	var name string
	switch x := v.(type) {
	case string:
		name = x
	case []any:
		if len(x) != 2 {
			return nil
		}
		name = form.Stringify(x[1])
		switch t := x[0].(type) {
		case *form.Data:
			target = t
		default:
			if state, ok := scope.Resolve(t); ok {
				target = state.Target()
			}
		}
	}
	if name == "" {
		return nil
	}

	in := a.input(n, region)
	if mv, ok, err := a.prop(n, "model-value", env); err == nil && ok && in.Control().Kind == form.KindCustom && mv != nil {
		in = binding.FromControl(form.Control{Kind: form.KindCustom, Value: form.Stringify(mv)})
		a.inputs[n] = in
	}

	f := binding.Attach(in, target, name, binding.Options{})
	region.OnUnmount(f.Detach)
	return in
}

// input returns the control for n, creating it from n's markup. It is
// forgotten when region unmounts.
func (a *App) input(n *html.Node, region *scope.Node) *binding.Input {
	if in, ok := a.inputs[n]; ok {
		return in
	}
	in := binding.FromControl(controlOf(n))
	a.inputs[n] = in
	region.OnUnmount(func() { delete(a.inputs, n) })
	return in
}

func (a *App) runHandler(ctx context.Context, region *scope.Node, code string, event any) error {
	env := a.env(region).With(script.Env{"$event": event})
	return a.rt.Runner().Run(ctx, code, nil, env)
}

// env is the script environment of code rendered inside region.
func (a *App) env(region *scope.Node) script.Env {
	vars := a.rt.Scopes().Vars()
	var locals, fd *scope.State
	if region != nil {
		locals, fd = region.Locals(), region.Form()
	}
	return script.Env{
		"vars":   vars,
		"locals": locals,
		"form":   fd,
		"plaid": plaid.Factory(func() *plaid.Builder {
			return a.rt.Plaid().Vars(vars).Locals(locals).Form(fd)
		}),
	}
}

// prop reads a component property. ":name" and "v-bind:name" are
// evaluated as expressions; a plain attribute is a literal, decoded as
// JSON when it looks like an object or list.
func (a *App) prop(n *html.Node, name string, env script.Env) (any, bool, error) {
	for _, key := range []string{":" + name, "v-bind:" + name} {
		if expr, ok := attr(n, key); ok {
			v, err := a.rt.Runner().Eval(a.ctx, expr, env)
			return v, true, err
		}
	}
	raw, ok := attr(n, name)
	if !ok {
		return nil, false, nil
	}
	if t := strings.TrimSpace(raw); strings.HasPrefix(t, "{") || strings.HasPrefix(t, "[") {
		var v any
		if err := json.Unmarshal([]byte(t), &v); err != nil {
			return nil, true, errors.NewValidationError(name, err.Error())
		}
		return v, true, nil
	}
	return raw, true, nil
}

func attr(n *html.Node, key string) (string, bool) {
	for _, at := range n.Attr {
		if at.Key == key {
			return at.Val, true
		}
	}
	return "", false
}

// handlers collects "@event" and "v-on:event" attributes.
func handlers(n *html.Node) map[string]string {
	var out map[string]string
	for _, at := range n.Attr {
		var event string
		switch {
		case strings.HasPrefix(at.Key, "@"):
			event = at.Key[1:]
		case strings.HasPrefix(at.Key, "v-on:"):
			event = at.Key[len("v-on:"):]
		default:
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[event] = at.Val
	}
	return out
}

func handlerFor(n *html.Node, event string) (string, bool) {
	code, ok := handlers(n)[event]
	return code, ok
}

func millis(v any) time.Duration {
	switch x := v.(type) {
	case float64:
		return time.Duration(x) * time.Millisecond
	case int64:
		return time.Duration(x) * time.Millisecond
	case int:
		return time.Duration(x) * time.Millisecond
	case string:
		ms, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0
		}
		return time.Duration(ms) * time.Millisecond
	}
	return 0
}

func visible(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != "false" && x != "0"
	}
	return true
}

func innerHTML(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		_ = html.Render(&sb, c)
	}
	return sb.String()
}
