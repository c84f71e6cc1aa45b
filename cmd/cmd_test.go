package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qor5/web/internal/history"
	"github.com/qor5/web/internal/logging"
	"github.com/qor5/web/internal/plaid"
	"github.com/qor5/web/internal/push"
	"github.com/qor5/web/internal/session"
	"github.com/qor5/web/internal/testutils"
)

// setupCLI points the session store at a temp dir and silences logs.
func setupCLI(t *testing.T) {
	t.Helper()
	viper.Reset()
	viper.Set("session.path", filepath.Join(t.TempDir(), "session.db"))
	viper.Set("log.level", "error")
	t.Cleanup(viper.Reset)
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	out, err := executeErr(t, args...)
	require.NoError(t, err, out)
	return out
}

func executeErr(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func decodeHistory(t *testing.T, out string) []historyEntry {
	t.Helper()
	var entries []historyEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries), out)
	return entries
}

func TestCLI_OpenEventBackHistory(t *testing.T) {
	setupCLI(t)
	s := testutils.NewServer(t)
	s.Page("/orders", testutils.HTML(`<h1>Orders</h1>`))
	s.Handle("search", func(*testutils.Request) (*plaid.EventResponse, error) {
		return &plaid.EventResponse{Body: `<p>results</p>`}, nil
	})

	out := execute(t, "open", s.URL("/orders"), "-o", "text")
	assert.Contains(t, out, "Orders")

	out = execute(t, "event", "search", "--query", "q=go", "--push", "--field", "name=felix", "-o", "json")
	var printed struct {
		Href     string               `json:"href"`
		Response *plaid.EventResponse `json:"response"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &printed), out)
	assert.True(t, strings.HasSuffix(printed.Href, "/orders?q=go"), printed.Href)
	require.NotNil(t, printed.Response)
	assert.Equal(t, "<p>results</p>", printed.Response.Body)

	last := s.Last()
	require.NotNil(t, last)
	assert.Equal(t, "search", last.EventID)
	assert.Equal(t, "felix", last.Field("name"))

	entries := decodeHistory(t, execute(t, "history", "-f", "json"))
	require.Len(t, entries, 2)
	assert.Equal(t, "/orders", entries[0].URL)
	assert.True(t, entries[1].Current)

	out = execute(t, "back", "-o", "text")
	assert.Contains(t, out, "Orders")
	assert.Equal(t, "__reload__", s.Last().EventID)

	entries = decodeHistory(t, execute(t, "history", "-f", "json"))
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Current)
	assert.False(t, entries[1].Current)

	_, err := executeErr(t, "back")
	assert.Error(t, err)
}

func TestCLI_NoPageOpen(t *testing.T) {
	setupCLI(t)

	_, err := executeErr(t, "reload")
	assert.Error(t, err)

	out := execute(t, "history", "-f", "json")
	assert.Contains(t, out, `No session named "default"`)
}

func TestCLI_Sessions(t *testing.T) {
	setupCLI(t)
	s := testutils.NewServer(t)
	s.Page("/", testutils.HTML(`<h1>Home</h1>`))

	execute(t, "open", s.URL("/"), "-o", "html")
	assert.Equal(t, "default\n", execute(t, "session", "list"))

	execute(t, "session", "delete", "default")
	assert.Equal(t, "No sessions stored.\n", execute(t, "session", "list"))
}

func TestCLI_Version(t *testing.T) {
	setupCLI(t)

	out := execute(t, "version", "--format", "json")
	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &info), out)
	assert.NotEmpty(t, info["version"])
	assert.NotEmpty(t, info["go_version"])

	_, err := executeErr(t, "version", "--format", "xml")
	assert.Error(t, err)
	versionFormat = "text"
}

func TestCLI_ConfigValidate(t *testing.T) {
	setupCLI(t)
	dir := t.TempDir()

	good := filepath.Join(dir, "good.yml")
	require.NoError(t, os.WriteFile(good, []byte("client:\n  base_url: http://localhost:9000\n"), 0o600))
	out := execute(t, "config", "validate", "--file", good)
	assert.Contains(t, out, "is valid")

	bad := filepath.Join(dir, "bad.yml")
	require.NoError(t, os.WriteFile(bad, []byte("client:\n  base_url: ftp://localhost\n"), 0o600))
	_, err := executeErr(t, "config", "validate", "--file", bad)
	assert.Error(t, err)

	_, err = executeErr(t, "config", "validate", "--file", filepath.Join(dir, "missing.yml"))
	assert.Error(t, err)
}

func TestSplitPair(t *testing.T) {
	tests := []struct {
		in        string
		name      string
		value     string
		expectErr bool
	}{
		{"name=felix", "name", "felix", false},
		{"name=", "name", "", false},
		{"q=a=b", "q", "a=b", false},
		{"=x", "", "", true},
		{"name", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			name, value, err := SplitPair(tt.in)
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.value, value)
		})
	}
}

func TestGroupPairs(t *testing.T) {
	grouped, order, err := groupPairs([]string{"b=1", "a=2", "b=3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, order)
	assert.Equal(t, map[string][]string{"b": {"1", "3"}, "a": {"2"}}, grouped)
}

func TestStandardFlags_ValidateFlags(t *testing.T) {
	tests := []struct {
		name      string
		flags     StandardFlags
		expectErr bool
	}{
		{"defaults", StandardFlags{Method: "POST"}, false},
		{"fields", StandardFlags{Fields: []string{"a=1"}, FieldFiles: []string{"f=./x"}}, false},
		{"bad field", StandardFlags{Fields: []string{"a"}}, true},
		{"bad query", StandardFlags{Queries: []string{"=1"}}, true},
		{"merge without query", StandardFlags{MergeQuery: true}, true},
		{"lowercase method", StandardFlags{Method: "delete"}, false},
		{"unknown method", StandardFlags{Method: "BREW"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.flags.ValidateFlags()
			if tt.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOutputHistory(t *testing.T) {
	snap := &session.Snapshot{
		Index: 1,
		Records: []history.Record{
			{URL: "/orders"},
			{ID: "abc", URL: "/orders?page=2", Title: "Orders", State: map[string]any{"url": "/orders?page=2"}},
		},
	}
	entries := historyEntries(snap)

	var buf bytes.Buffer
	require.NoError(t, outputHistory(&buf, "json", entries))
	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "history_json", buf.Bytes())

	buf.Reset()
	require.NoError(t, outputHistory(&buf, "yaml", entries))
	assert.Contains(t, buf.String(), "url: /orders?page=2")
	assert.Contains(t, buf.String(), "current: true")

	buf.Reset()
	require.NoError(t, outputHistory(&buf, "table", entries))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "POS")
	assert.True(t, strings.HasPrefix(lines[2], "*"))
	assert.Contains(t, lines[2], "Orders")

	assert.Error(t, outputHistory(&buf, "csv", entries))
}

func TestRelayHandler(t *testing.T) {
	hub := push.NewHub(push.HubOptions{})
	srv := httptest.NewServer(relayHandler(hub, logging.NewNopLogger()))
	defer srv.Close()

	res, err := http.Get(srv.URL + "/publish")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)

	res, err = http.Post(srv.URL+"/publish", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, err = http.Post(srv.URL+"/publish", "application/json", strings.NewReader(`{"runScript":"vars.n = 1"}`))
	require.NoError(t, err)
	var body map[string]int
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, 0, body["clients"])

	require.NoError(t, hub.Shutdown(t.Context()))
	res, err = http.Post(srv.URL+"/publish", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
}
