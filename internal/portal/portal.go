package portal

import (
	"context"
	"sync"
	"time"

	"github.com/qor5/web/internal/logging"
	"github.com/qor5/web/internal/scope"
)

// Loader fetches a portal body.
type Loader interface {
	LoadPortal(ctx context.Context) (string, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context) (string, error)

func (f LoaderFunc) LoadPortal(ctx context.Context) (string, error) { return f(ctx) }

// Content is what a portal hands to its renderer.
type Content struct {
	Body   string
	Locals *scope.State
	Form   *scope.State
}

// Options configure a Portal.
type Options struct {
	Name   string
	Loader Loader
	// Slot is static content rendered instead of calling the loader.
	Slot string
	// Locals and Form are shared by reference with the rendered body.
	Locals *scope.State
	Form   *scope.State
	// Hidden starts the portal invisible.
	Hidden             bool
	AutoReloadInterval time.Duration
	// Render receives every accepted body.
	Render func(Content)
	Logger logging.Logger
}

// Portal is a named region whose body is loaded independently of the root
// view. Results are applied in dispatch order: a body from a load that was
// overtaken by a newer load or template update is dropped.
type Portal struct {
	opts   Options
	logger logging.Logger

	mu       sync.Mutex
	body     string
	visible  bool
	gen      uint64
	registry *Registry
	ticker   *time.Ticker
	stopTick chan struct{}
	interval time.Duration
	mounted  bool
}

// New creates an unmounted portal.
func New(opts Options) *Portal {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if opts.Locals == nil {
		opts.Locals = scope.NewState()
	}
	if opts.Form == nil {
		opts.Form = scope.NewState()
	}
	return &Portal{
		opts:    opts,
		logger:  logger.WithComponent("portal").With("portal", opts.Name),
		visible: !opts.Hidden,
	}
}

func (p *Portal) Name() string         { return p.opts.Name }
func (p *Portal) Locals() *scope.State { return p.opts.Locals }
func (p *Portal) Form() *scope.State   { return p.opts.Form }

// Body returns the last accepted body.
func (p *Portal) Body() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.body
}

func (p *Portal) Visible() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visible
}

// SetVisible shows or hides the portal. Showing a portal that has never
// rendered loads it.
func (p *Portal) SetVisible(ctx context.Context, v bool) error {
	p.mu.Lock()
	was := p.visible
	p.visible = v
	empty := p.body == ""
	p.mu.Unlock()

	if v && !was && empty {
		return p.Reload(ctx)
	}
	return nil
}

// Mount registers the portal, performs the first load and starts the
// auto-reload ticker.
func (p *Portal) Mount(ctx context.Context, r *Registry) error {
	p.mu.Lock()
	p.mounted = true
	p.registry = r
	p.mu.Unlock()

	if r != nil {
		r.Register(p)
	}
	if p.opts.AutoReloadInterval > 0 {
		p.SetAutoReloadInterval(p.opts.AutoReloadInterval)
	}
	if !p.Visible() {
		return nil
	}
	return p.Reload(ctx)
}

// Unmount stops the ticker, drops any in-flight load and unregisters.
func (p *Portal) Unmount() {
	p.mu.Lock()
	if !p.mounted {
		p.mu.Unlock()
		return
	}
	p.mounted = false
	p.gen++
	r := p.registry
	p.stopTickerLocked()
	p.mu.Unlock()

	if r != nil {
		r.Unregister(p.opts.Name, p)
	}
}

// Reload refreshes the body from the slot or the loader.
func (p *Portal) Reload(ctx context.Context) error {
	if p.opts.Slot != "" {
		p.accept(p.next(), p.opts.Slot)
		return nil
	}
	if p.opts.Loader == nil {
		return nil
	}

	gen := p.next()
	body, err := p.opts.Loader.LoadPortal(ctx)
	if err != nil {
		p.logger.Warn(ctx, err, "Portal load failed")
		return err
	}
	if !p.accept(gen, body) {
		p.logger.Debug(ctx, "Dropped stale portal body", "generation", gen)
	}
	return nil
}

// UpdateTemplate replaces the body directly.
func (p *Portal) UpdateTemplate(body string) {
	p.accept(p.next(), body)
}

// SetAutoReloadInterval starts, restarts or with d == 0 stops periodic
// reloads. Ticks are skipped while the portal is hidden.
func (p *Portal) SetAutoReloadInterval(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if d == p.interval && p.ticker != nil {
		return
	}
	p.stopTickerLocked()
	p.interval = d
	if d <= 0 || !p.mounted {
		return
	}

	ticker := time.NewTicker(d)
	stop := make(chan struct{})
	p.ticker, p.stopTick = ticker, stop
	go func() {
		for {
			select {
			case <-ticker.C:
				if p.Visible() {
					_ = p.Reload(context.Background())
				}
			case <-stop:
				return
			}
		}
	}()
}

func (p *Portal) stopTickerLocked() {
	if p.ticker == nil {
		return
	}
	p.ticker.Stop()
	close(p.stopTick)
	p.ticker, p.stopTick = nil, nil
}

func (p *Portal) next() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gen++
	return p.gen
}

func (p *Portal) accept(gen uint64, body string) bool {
	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return false
	}
	p.body = body
	render := p.opts.Render
	p.mu.Unlock()

	if render != nil {
		render(Content{Body: body, Locals: p.opts.Locals, Form: p.opts.Form})
	}
	return true
}
