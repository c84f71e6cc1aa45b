package transport

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/qor5/web/internal/query"
)

// reloadMarker identifies page reload requests, the only ones that drive
// the progress bar.
const reloadMarker = query.EventParam + "=__reload__"

// Progress is a snapshot of the progress bar.
type Progress struct {
	Show  bool
	Value int
}

// ProgressBar mirrors the global progress indicator: 20 when a reload
// starts, then 80, 100 and finally hidden once it ends.
type ProgressBar struct {
	mu       sync.Mutex
	state    Progress
	onChange func(Progress)
	// Steps are the pauses between 80 and 100 and between 100 and hidden.
	Steps [2]time.Duration
}

// NewProgressBar creates a hidden bar. onChange may be nil.
func NewProgressBar(onChange func(Progress)) *ProgressBar {
	return &ProgressBar{
		onChange: onChange,
		Steps:    [2]time.Duration{100 * time.Millisecond, 150 * time.Millisecond},
	}
}

// State returns the current bar.
func (p *ProgressBar) State() Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Start shows the bar for reload requests.
func (p *ProgressBar) Start(resource string) {
	if !strings.Contains(resource, reloadMarker) {
		return
	}
	p.set(Progress{Show: true, Value: 20})
}

// End walks the bar to completion for reload requests. It blocks for the
// configured steps.
func (p *ProgressBar) End(resource string) {
	if !strings.Contains(resource, reloadMarker) {
		return
	}
	p.set(Progress{Show: true, Value: 80})
	time.Sleep(p.Steps[0])
	p.set(Progress{Show: true, Value: 100})
	time.Sleep(p.Steps[1])
	p.set(Progress{})
}

// Hooks wires the bar into an Interceptor. The end animation runs in the
// background so it never delays the response.
func (p *ProgressBar) Hooks() Hooks {
	return Hooks{
		OnRequest: func(_ string, req *http.Request) { p.Start(req.URL.String()) },
		OnResponse: func(_ string, _ *http.Response, req *http.Request) {
			go p.End(req.URL.String())
		},
	}
}

func (p *ProgressBar) set(s Progress) {
	p.mu.Lock()
	p.state = s
	fn := p.onChange
	p.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}
