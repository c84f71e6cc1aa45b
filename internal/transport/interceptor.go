package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qor5/web/internal/logging"
)

// Hooks observe requests passing through an Interceptor. Either field may
// be nil.
type Hooks struct {
	OnRequest  func(id string, req *http.Request)
	OnResponse func(id string, resp *http.Response, req *http.Request)
}

// Interceptor is a round tripper that tags every request with a unique id
// and reports it to the registered hooks before and after the exchange.
// OnResponse is not called for failed exchanges.
type Interceptor struct {
	next   http.RoundTripper
	logger logging.Logger

	mu       sync.RWMutex
	hooks    []Hooks
	inflight map[string]*http.Request
}

// NewInterceptor wraps next.
func NewInterceptor(next http.RoundTripper, logger logging.Logger) *Interceptor {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Interceptor{
		next:     next,
		logger:   logger,
		inflight: make(map[string]*http.Request),
	}
}

// Use appends h to the hook chain.
func (i *Interceptor) Use(h Hooks) {
	i.mu.Lock()
	i.hooks = append(i.hooks, h)
	i.mu.Unlock()
}

// InFlight returns the number of requests awaiting a response.
func (i *Interceptor) InFlight() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.inflight)
}

func (i *Interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	id := uuid.NewString()

	i.mu.Lock()
	i.inflight[id] = req
	hooks := append([]Hooks(nil), i.hooks...)
	i.mu.Unlock()

	for _, h := range hooks {
		if h.OnRequest != nil {
			h.OnRequest(id, req)
		}
	}

	start := time.Now()
	resp, err := i.next.RoundTrip(req)

	i.mu.Lock()
	delete(i.inflight, id)
	i.mu.Unlock()

	if err != nil {
		i.logger.Debug(context.Background(), "Fetch error",
			"request_id", id,
			"url", req.URL.String(),
			"error", err.Error())
		return nil, err
	}

	for _, h := range hooks {
		if h.OnResponse != nil {
			h.OnResponse(id, resp, req)
		}
	}
	i.logger.Debug(req.Context(), "Fetch completed",
		"request_id", id,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())
	return resp, nil
}
