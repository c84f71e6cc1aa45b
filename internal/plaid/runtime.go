// Package plaid drives a plaid server from Go: a fluent Builder describes
// an action, and the Runtime sends it and applies the response to the
// window, history, portals and root view it owns.
package plaid

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/qor5/web/internal/browser"
	"github.com/qor5/web/internal/errors"
	"github.com/qor5/web/internal/history"
	"github.com/qor5/web/internal/logging"
	"github.com/qor5/web/internal/portal"
	"github.com/qor5/web/internal/scope"
	"github.com/qor5/web/internal/script"
	"github.com/qor5/web/internal/transport"
)

// DefaultMaxRedirects bounds follow-up reloads after server redirects.
const DefaultMaxRedirects = 5

// Options configure a Runtime. Only BaseURL or Window is required.
type Options struct {
	// BaseURL is the initial address when Window is nil.
	BaseURL string
	Window  *browser.Window
	Client  *transport.Client
	Runner  script.Runner
	Portals *portal.Registry
	Scopes  *scope.Tree
	// Vars seeds the global vars when Scopes is nil.
	Vars   *scope.State
	Logger logging.Logger
	// UpdateRoot receives every new root body.
	UpdateRoot func(body string)
	// FollowRedirects reloads the page after a server redirect instead of
	// only moving the address.
	FollowRedirects bool
	MaxRedirects    int
}

// Runtime owns one page: its window, history stack, portals and scopes.
type Runtime struct {
	ctx    context.Context
	cancel context.CancelFunc

	window  *browser.Window
	history *history.Stack
	client  *transport.Client
	runner  script.Runner
	portals *portal.Registry
	scopes  *scope.Tree
	logger  logging.Logger
	errs    *errors.ErrorHandler

	followRedirects bool
	maxRedirects    int

	mu         sync.RWMutex
	updateRoot func(body string)
	body       string

	gen     atomic.Uint64
	applied atomic.Uint64

	unsubscribe func()
}

// New creates a runtime. The returned runtime must be closed.
func New(opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.WithComponent("plaid")

	window := opts.Window
	if window == nil {
		if opts.BaseURL == "" {
			return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, "base URL is required")
		}
		window = browser.NewWindow(opts.BaseURL)
	}

	client := opts.Client
	if client == nil {
		var err error
		client, err = transport.NewClient(transport.Options{Logger: logger})
		if err != nil {
			return nil, err
		}
	}

	runner := opts.Runner
	if runner == nil {
		runner = script.NewGoja(script.DefaultTimeout, logger)
	}
	portals := opts.Portals
	if portals == nil {
		portals = portal.NewRegistry()
	}
	scopes := opts.Scopes
	if scopes == nil {
		scopes = scope.NewTree(opts.Vars)
	}
	maxRedirects := opts.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = DefaultMaxRedirects
	}

	ctx, cancel := context.WithCancel(context.Background())
	rt := &Runtime{
		ctx:             ctx,
		cancel:          cancel,
		window:          window,
		history:         history.New(window.History(), window.Href(), logger),
		client:          client,
		runner:          runner,
		portals:         portals,
		scopes:          scopes,
		logger:          logger,
		followRedirects: opts.FollowRedirects,
		maxRedirects:    maxRedirects,
		updateRoot:      opts.UpdateRoot,
	}
	rt.errs = errors.NewErrorHandler(logger, alertNotifier{window})

	unsubPop := rt.history.OnPopState(func(state any, _ browser.PopStateEvent) {
		if _, err := rt.Plaid().OnPopState(rt.ctx, state); err != nil {
			rt.logger.Debug(rt.ctx, "popstate reload failed", "error", err)
		}
	})
	window.OnNavigate(func(href string) { rt.history.Reset(href) })
	rt.unsubscribe = unsubPop
	return rt, nil
}

// Plaid starts a new action bound to the runtime. Its vars are the
// global vars of the scope tree.
func (rt *Runtime) Plaid() *Builder {
	return &Builder{rt: rt, in: Intent{EventID: ReloadEventID, Vars: rt.scopes.Vars()}}
}

// Open loads the current address into the root view.
func (rt *Runtime) Open(ctx context.Context) (*EventResponse, error) {
	return rt.Plaid().Reload().Go(ctx)
}

// Close stops background work and detaches from the window history.
func (rt *Runtime) Close() {
	rt.cancel()
	if rt.unsubscribe != nil {
		rt.unsubscribe()
	}
	rt.history.Close()
}

// SetRootUpdater replaces the function that receives new root bodies.
func (rt *Runtime) SetRootUpdater(fn func(body string)) {
	rt.mu.Lock()
	rt.updateRoot = fn
	rt.mu.Unlock()
}

// Body returns the last root body applied.
func (rt *Runtime) Body() string {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.body
}

func (rt *Runtime) Window() *browser.Window   { return rt.window }
func (rt *Runtime) History() *history.Stack   { return rt.history }
func (rt *Runtime) Client() *transport.Client { return rt.client }
func (rt *Runtime) Portals() *portal.Registry { return rt.portals }
func (rt *Runtime) Scopes() *scope.Tree       { return rt.scopes }
func (rt *Runtime) Runner() script.Runner     { return rt.runner }
func (rt *Runtime) Logger() logging.Logger    { return rt.logger }

// replaceRoot hands body to the root updater unless a newer dispatch has
// already replaced the root.
func (rt *Runtime) replaceRoot(gen uint64, update func(string), body string) bool {
	for {
		last := rt.applied.Load()
		if gen < last {
			rt.logger.Debug(rt.ctx, "dropping stale root body", "generation", gen, "applied", last)
			return false
		}
		if rt.applied.CompareAndSwap(last, gen) {
			break
		}
	}

	rt.mu.Lock()
	rt.body = body
	if update == nil {
		update = rt.updateRoot
	}
	rt.mu.Unlock()
	if update != nil {
		update(body)
	}
	return true
}

// alertNotifier shows the generic failure message through the window.
type alertNotifier struct {
	window *browser.Window
}

func (n alertNotifier) NotifyError(_ context.Context, _ error) error {
	n.window.Alert(UnknownErrorMessage)
	return nil
}
