package testutils

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qor5/web/internal/plaid"
)

func TestServer_EchoesReloads(t *testing.T) {
	s := NewServer(t)

	res, err := http.Post(s.URL("/items?__execute_event__=__reload__&b=2&a=1"), "text/plain", strings.NewReader(""))
	require.NoError(t, err)
	defer res.Body.Close()

	r, err := plaid.DecodeResponse(readAll(t, res))
	require.NoError(t, err)
	assert.Equal(t, `<main data-path="/items"><p data-key="a">1</p><p data-key="b">2</p></main>`, r.Body)

	last := s.Last()
	require.NotNil(t, last)
	assert.Equal(t, "__reload__", last.EventID)
	assert.Equal(t, "/items", last.Path)
}

func TestServer_RoutesEventsAndPages(t *testing.T) {
	s := NewServer(t)
	s.Page("/", HTML("<h1>home</h1>"))
	s.Respond("save", &plaid.EventResponse{PageTitle: "saved"})

	res, err := http.Post(s.URL("/?__execute_event__=save"), "text/plain", nil)
	require.NoError(t, err)
	r, err := plaid.DecodeResponse(readAll(t, res))
	res.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "saved", r.PageTitle)

	res, err = http.Post(s.URL("/?__execute_event__=__reload__"), "text/plain", nil)
	require.NoError(t, err)
	r, err = plaid.DecodeResponse(readAll(t, res))
	res.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "<h1>home</h1>", r.Body)

	res, err = http.Post(s.URL("/?__execute_event__=missing"), "text/plain", nil)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	assert.Len(t, s.Requests(), 3)
}

func TestRender(t *testing.T) {
	out, err := Render(context.Background(), Echo(&Request{Path: `/a"b`}))
	require.NoError(t, err)
	assert.Equal(t, `<main data-path="/a&#34;b"></main>`, out)
}

func readAll(t *testing.T, res *http.Response) []byte {
	t.Helper()
	var b strings.Builder
	_, err := io.Copy(&b, res.Body)
	require.NoError(t, err)
	return []byte(b.String())
}
