// Package middleware composes the HTTP middleware the push relay runs
// behind.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/qor5/web/internal/errors"
	"github.com/qor5/web/internal/logging"
)

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// Chain is an ordered middleware stack. The first middleware added is the
// outermost.
type Chain struct {
	middlewares []Middleware
}

// NewChain returns a chain of mws.
func NewChain(mws ...Middleware) *Chain {
	c := &Chain{middlewares: make([]Middleware, 0, len(mws))}
	for _, mw := range mws {
		c.Use(mw)
	}
	return c
}

// Use appends mw. A nil middleware panics.
func (c *Chain) Use(mw Middleware) {
	if mw == nil {
		panic("middleware: nil middleware")
	}
	c.middlewares = append(c.middlewares, mw)
}

// Len returns the number of middlewares.
func (c *Chain) Len() int { return len(c.middlewares) }

// Apply wraps handler with every middleware, outermost first.
func (c *Chain) Apply(handler http.Handler) http.Handler {
	if handler == nil {
		panic("middleware: nil handler")
	}
	wrapped := handler
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		wrapped = c.middlewares[i](wrapped)
	}
	return wrapped
}

// Logging logs every request after it completes. The response writer is
// passed through untouched so websocket upgrades keep working.
func Logging(logger logging.Logger) Middleware {
	logger = logger.WithComponent("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug(r.Context(), "Request handled",
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"duration_ms", time.Since(start).Milliseconds())
		})
	}
}

// Recover turns a handler panic into a 500 and logs it.
func Recover(logger logging.Logger) Middleware {
	logger = logger.WithComponent("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					if v == http.ErrAbortHandler {
						panic(v)
					}
					err := errors.NewInternalError(errors.ErrCodeInternalError, fmt.Sprintf("handler panic: %v", v), nil)
					logger.Error(context.WithoutCancel(r.Context()), err, "Recovered from panic", "path", r.URL.Path)
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// AllowMethods rejects requests whose method is not listed.
func AllowMethods(methods ...string) Middleware {
	allowed := make(map[string]bool, len(methods))
	for _, m := range methods {
		allowed[m] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !allowed[r.Method] {
				http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
