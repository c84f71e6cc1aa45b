// Package view renders plaid pages headlessly. Bodies are parsed into an
// HTML tree and the go-plaid-scope, go-plaid-portal and directive
// attributes they carry are mounted against a plaid runtime, so a page can
// be inspected and driven without a browser.
package view

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/qor5/web/internal/binding"
	"github.com/qor5/web/internal/errors"
	"github.com/qor5/web/internal/logging"
	"github.com/qor5/web/internal/plaid"
	"github.com/qor5/web/internal/portal"
	"github.com/qor5/web/internal/scope"
)

// Options configure an App.
type Options struct {
	Logger logging.Logger
	// Debounce is the delay of a v-debounce directive without a value.
	// Zero uses binding.DefaultDebounce.
	Debounce time.Duration
}

// App is the mounted root view of one runtime.
type App struct {
	rt       *plaid.Runtime
	logger   logging.Logger
	debounce time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	root    *html.Node
	region  *scope.Node
	regions map[*html.Node]*scope.Node
	inputs  map[*html.Node]*binding.Input
	portals map[*html.Node]*scope.Node
}

// New creates an empty app and installs it as the runtime's root updater.
func New(rt *plaid.Runtime, opts Options) *App {
	logger := opts.Logger
	if logger == nil {
		logger = rt.Logger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		rt:       rt,
		logger:   logger.WithComponent("view"),
		debounce: opts.Debounce,
		ctx:      ctx,
		cancel:   cancel,
		root:     newElement("div", "id", "app"),
		regions:  make(map[*html.Node]*scope.Node),
		inputs:   make(map[*html.Node]*binding.Input),
		portals:  make(map[*html.Node]*scope.Node),
	}
	rt.SetRootUpdater(a.Replace)
	return a
}

// Close unmounts the current body.
func (a *App) Close() {
	a.cancel()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.region != nil {
		a.region.Unmount()
		a.region = nil
	}
}

// Replace unmounts the current body and mounts body in its place.
func (a *App) Replace(body string) {
	a.mu.Lock()
	if a.region != nil {
		a.region.Unmount()
	}
	clearChildren(a.root)

	region, err := a.rt.Scopes().Root().NewChild(scope.Options{})
	if err != nil {
		a.mu.Unlock()
		a.logger.Error(a.ctx, err, "Failed to create root scope")
		return
	}
	a.region = region
	pending := a.render(a.root, body, region)
	a.mu.Unlock()

	a.mountPortals(pending)
}

// Region returns the scope the root body is mounted in.
func (a *App) Region() *scope.Node {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.region
}

// HTML renders the mounted tree.
func (a *App) HTML() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var sb strings.Builder
	for c := a.root.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&sb, c); err != nil {
			a.logger.Warn(a.ctx, err, "Failed to render node")
		}
	}
	return sb.String()
}

// InnerText returns the text content of the mounted tree.
func (a *App) InnerText() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return strings.TrimSpace(htmlquery.InnerText(a.root))
}

// Find returns the first node matching the XPath expression.
func (a *App) Find(xpath string) (*html.Node, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n, err := htmlquery.Query(a.root, xpath)
	if err != nil {
		return nil, errors.NewValidationError("xpath", err.Error())
	}
	if n == nil {
		return nil, errors.NewValidationError("xpath", fmt.Sprintf("no node matches %s", xpath))
	}
	return n, nil
}

// FindAll returns every node matching the XPath expression.
func (a *App) FindAll(xpath string) ([]*html.Node, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	nodes, err := htmlquery.QueryAll(a.root, xpath)
	if err != nil {
		return nil, errors.NewValidationError("xpath", err.Error())
	}
	return nodes, nil
}

// Text returns the inner text of the first node matching xpath.
func (a *App) Text(xpath string) (string, error) {
	n, err := a.Find(xpath)
	if err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return strings.TrimSpace(htmlquery.InnerText(n)), nil
}

// Input returns the headless control mounted for the node matching xpath.
func (a *App) Input(xpath string) (*binding.Input, error) {
	n, err := a.Find(xpath)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	in, ok := a.inputs[n]
	if !ok {
		return nil, errors.NewValidationError("xpath", fmt.Sprintf("%s is not a bound control", xpath))
	}
	return in, nil
}

// Click fires click on the node matching xpath.
func (a *App) Click(ctx context.Context, xpath string) error {
	return a.Trigger(ctx, xpath, "click", nil)
}

// Trigger fires event on the node matching xpath. A bound control
// delivers it to its listeners; any other node runs its handler directly.
func (a *App) Trigger(ctx context.Context, xpath, event string, detail any) error {
	n, err := a.Find(xpath)
	if err != nil {
		return err
	}

	a.mu.Lock()
	in, isInput := a.inputs[n]
	region, ok := a.regions[n]
	a.mu.Unlock()

	if isInput {
		in.Dispatch(event, detail)
		return nil
	}
	code, hasHandler := handlerFor(n, event)
	if !ok || !hasHandler {
		return errors.NewValidationError("event", fmt.Sprintf("%s has no %s handler", xpath, event))
	}
	return a.runHandler(ctx, region, code, detail)
}

// renderPortal mounts a portal body inside the portal element.
func (a *App) renderPortal(el *html.Node, parent *scope.Node, c portal.Content) {
	a.mu.Lock()
	if !parent.Mounted() {
		a.mu.Unlock()
		return
	}
	if prev, ok := a.portals[el]; ok {
		prev.Unmount()
	}
	clearChildren(el)

	region, err := parent.NewChild(scope.Options{Init: c.Locals, FormInit: c.Form})
	if err != nil {
		a.mu.Unlock()
		a.logger.Error(a.ctx, err, "Failed to create portal scope")
		return
	}
	a.portals[el] = region
	region.OnUnmount(func() { delete(a.portals, el) })
	pending := a.render(el, c.Body, region)
	a.mu.Unlock()

	a.mountPortals(pending)
}

func (a *App) mountPortals(pending []*portal.Portal) {
	for _, p := range pending {
		if err := p.Mount(a.ctx, a.rt.Portals()); err != nil {
			a.logger.Warn(a.ctx, err, "Portal mount failed", "portal", p.Name())
		}
	}
}

func newElement(tag string, kv ...string) *html.Node {
	n := &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
	for i := 0; i+1 < len(kv); i += 2 {
		n.Attr = append(n.Attr, html.Attribute{Key: kv[i], Val: kv[i+1]})
	}
	return n
}

func clearChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
}
