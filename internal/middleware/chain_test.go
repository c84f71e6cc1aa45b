package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/qor5/web/internal/logging"
)

func tag(name string, order *[]string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			*order = append(*order, name)
			next.ServeHTTP(w, r)
		})
	}
}

func TestChain_ApplyOrder(t *testing.T) {
	var order []string
	c := NewChain(tag("outer", &order), tag("inner", &order))
	assert.Equal(t, 2, c.Len())

	h := c.Apply(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestChain_Panics(t *testing.T) {
	assert.Panics(t, func() { NewChain().Use(nil) })
	assert.Panics(t, func() { NewChain().Apply(nil) })
}

func TestRecover(t *testing.T) {
	h := NewChain(Recover(logging.NewNopLogger())).Apply(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAllowMethods(t *testing.T) {
	h := NewChain(Logging(logging.NewNopLogger()), AllowMethods(http.MethodPost)).Apply(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }))

	tests := []struct {
		method string
		want   int
	}{
		{http.MethodPost, http.StatusNoContent},
		{http.MethodGet, http.StatusMethodNotAllowed},
		{http.MethodDelete, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, "/", strings.NewReader("")))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
