package plaid_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qor5/web/internal/browser"
	"github.com/qor5/web/internal/form"
	"github.com/qor5/web/internal/logging"
	"github.com/qor5/web/internal/plaid"
	"github.com/qor5/web/internal/portal"
	"github.com/qor5/web/internal/query"
	"github.com/qor5/web/internal/scope"
	"github.com/qor5/web/internal/testutils"
)

type rootRecorder struct {
	mu     sync.Mutex
	bodies []string
}

func (r *rootRecorder) update(body string) {
	r.mu.Lock()
	r.bodies = append(r.bodies, body)
	r.mu.Unlock()
}

func (r *rootRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.bodies...)
}

func newServerRuntime(t *testing.T, s *testutils.Server, path string, opts ...func(*plaid.Options)) (*plaid.Runtime, *rootRecorder) {
	t.Helper()
	root := &rootRecorder{}
	o := plaid.Options{BaseURL: s.URL(path), UpdateRoot: root.update}
	for _, fn := range opts {
		fn(&o)
	}
	rt, err := plaid.New(o)
	require.NoError(t, err)
	t.Cleanup(rt.Close)
	return rt, root
}

func TestGo_PostsFormAndReplacesRoot(t *testing.T) {
	s := testutils.NewServer(t)
	s.Handle("save", func(r *testutils.Request) (*plaid.EventResponse, error) {
		return &plaid.EventResponse{Body: "<p>saved " + r.Field("name") + "</p>"}, nil
	})
	rt, root := newServerRuntime(t, s, "/users")

	var events []string
	rt.Window().AddEventListener(browser.EventFetchStart, func(e browser.Event) { events = append(events, e.Name) })
	rt.Window().AddEventListener(browser.EventFetchEnd, func(e browser.Event) { events = append(events, e.Name) })

	r, err := rt.Plaid().
		EventFunc("save").
		Form(map[string]any{"name": "old", "tags": []string{"a", "b"}}).
		FieldValue("name", "felix").
		Go(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "<p>saved felix</p>", r.Body)
	assert.Equal(t, []string{"<p>saved felix</p>"}, root.all())
	assert.Equal(t, "<p>saved felix</p>", rt.Body())
	assert.Equal(t, []string{"fetchStart", "fetchEnd"}, events)

	last := s.Last()
	require.NotNil(t, last)
	assert.Equal(t, http.MethodPost, last.Method)
	assert.Equal(t, "/users", last.Path)
	assert.Equal(t, []string{"felix"}, last.Form["name"])
	assert.Equal(t, []string{"a", "b"}, last.Form["tags"])
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestGo_LogsFormFieldsRedacted(t *testing.T) {
	s := testutils.NewServer(t)
	s.Respond("login", &plaid.EventResponse{})
	var out lockedBuffer
	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LevelDebug, Format: "json", Output: &out})
	rt, _ := newServerRuntime(t, s, "/login", func(o *plaid.Options) { o.Logger = logger })

	_, err := rt.Plaid().
		EventFunc("login").
		FieldValue("name", "felix").
		FieldValue("password", "hunter2").
		FieldValue("api_token", "tok-123").
		Go(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "hunter2", s.Last().Field("password"))

	logs := out.String()
	assert.Contains(t, logs, `"form fields"`)
	assert.Contains(t, logs, "name=felix")
	assert.Contains(t, logs, "password=[REDACTED]")
	assert.Contains(t, logs, "api_token=[REDACTED]")
	assert.NotContains(t, logs, "hunter2")
	assert.NotContains(t, logs, "tok-123")
}

func TestGo_GetSendsNoBody(t *testing.T) {
	s := testutils.NewServer(t)
	rt, _ := newServerRuntime(t, s, "/")

	_, err := rt.Plaid().Method(http.MethodGet).FieldValue("ignored", "x").Go(context.Background())
	require.NoError(t, err)

	last := s.Last()
	assert.Equal(t, http.MethodGet, last.Method)
	assert.Empty(t, last.Form)
}

func TestGo_PushStateWritesHistory(t *testing.T) {
	s := testutils.NewServer(t)
	rt, root := newServerRuntime(t, s, "/items")

	_, err := rt.Plaid().Query("page", "2").PushState(true).Go(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/items?page=2", rt.Window().PathAndQuery())
	assert.Len(t, rt.History().Records(), 2)

	// same address again replaces
	_, err = rt.Plaid().Query("page", "2").PushState(true).Go(context.Background())
	require.NoError(t, err)
	assert.Len(t, rt.History().Records(), 2)
	assert.Equal(t, 1, rt.History().CurrentIndex())

	// no push leaves history alone
	_, err = rt.Plaid().Query("page", "3").Go(context.Background())
	require.NoError(t, err)
	assert.Len(t, rt.History().Records(), 2)

	bodies := root.all()
	require.Len(t, bodies, 3)
	assert.Equal(t, `<main data-path="/items"><p data-key="page">3</p></main>`, bodies[2])
}

func TestGo_RawQueryIsEscapedOnTheWire(t *testing.T) {
	s := testutils.NewServer(t)
	s.Respond("e", &plaid.EventResponse{})
	rt, _ := newServerRuntime(t, s, "/p")

	b := rt.Plaid().EventFunc("e").Query("q", []string{"a b", "c"}).StringifyOptions(query.Raw()).PushState(true)
	assert.Equal(t, "/p?__execute_event__=e&q=a b,c", b.BuildFetchURL())

	_, err := b.Go(context.Background())
	require.NoError(t, err)

	last := s.Last()
	require.NotNil(t, last)
	assert.Equal(t, "e", last.EventID)
	assert.Equal(t, "__execute_event__=e&q=a%20b,c", last.RawQuery)
	assert.Equal(t, []string{"a b", "c"}, last.Query["q"].Items)
	assert.Equal(t, "/p?q=a b,c", rt.History().Current().URL)
}

func TestGo_DeferredPushState(t *testing.T) {
	s := testutils.NewServer(t)
	rt, _ := newServerRuntime(t, s, "/")

	push := func(c *plaid.Context) bool { return c.Field("mode") == "nav" }

	_, err := rt.Plaid().Query("q", "a").FieldValue("mode", "stay").PushState(push).Go(context.Background())
	require.NoError(t, err)
	assert.Len(t, rt.History().Records(), 1)

	_, err = rt.Plaid().Query("q", "b").FieldValue("mode", "nav").PushState(push).Go(context.Background())
	require.NoError(t, err)
	assert.Len(t, rt.History().Records(), 2)
	assert.Equal(t, "/?q=b", rt.History().Current().URL)
}

func TestOnPopState_ReloadsWithoutHistoryWrite(t *testing.T) {
	s := testutils.NewServer(t)
	rt, root := newServerRuntime(t, s, "/list")

	for _, page := range []string{"1", "2"} {
		_, err := rt.Plaid().Query("page", page).PushState(true).Go(context.Background())
		require.NoError(t, err)
	}
	require.Len(t, rt.History().Records(), 3)

	rt.Window().History().Back()

	last := s.Last()
	require.NotNil(t, last)
	assert.Equal(t, plaid.ReloadEventID, last.EventID)
	assert.Equal(t, "1", last.Query.Get("page"))
	assert.Len(t, rt.History().Records(), 3)
	assert.Equal(t, 1, rt.History().CurrentIndex())

	rt.Window().History().Back()
	last = s.Last()
	assert.Empty(t, last.Query.Get("page"))
	assert.Equal(t, "/list", last.Path)
	assert.Equal(t, 0, rt.History().CurrentIndex())

	bodies := root.all()
	assert.Equal(t, `<main data-path="/list"></main>`, bodies[len(bodies)-1])
}

func TestApply_PipelineOrder(t *testing.T) {
	s := testutils.NewServer(t)
	s.Handle("load", func(*testutils.Request) (*plaid.EventResponse, error) {
		return &plaid.EventResponse{Body: "<b>sidebar</b>"}, nil
	})
	rt, root := newServerRuntime(t, s, "/")

	sidebar := portal.New(portal.Options{Name: "sidebar", Loader: rt.Plaid().EventFunc("load"), Hidden: true})
	require.NoError(t, sidebar.Mount(context.Background(), rt.Portals()))
	header := portal.New(portal.Options{Name: "header"})
	require.NoError(t, header.Mount(context.Background(), rt.Portals()))

	r := &plaid.EventResponse{
		RunScript:     `vars.seen = true`,
		PageTitle:     "Done",
		ReloadPortals: []string{"missing", "sidebar"},
		UpdatePortals: []*plaid.PortalUpdate{{Name: "header", Body: "<h1>new</h1>"}, {Name: "gone", Body: "x"}},
		Body:          "<main>root</main>",
	}

	applied, err := rt.Apply(context.Background(), r)
	require.NoError(t, err)
	assert.Same(t, r, applied)

	assert.Equal(t, true, rt.Scopes().Vars().Value("seen"))
	assert.Equal(t, "Done", rt.Window().Title())
	assert.Equal(t, "<b>sidebar</b>", sidebar.Body())
	assert.Equal(t, "<h1>new</h1>", header.Body())
	assert.Equal(t, []string{"<main>root</main>"}, root.all())
}

func TestGo_RunScriptMutatesInPlace(t *testing.T) {
	s := testutils.NewServer(t)
	s.Respond("inc", &plaid.EventResponse{
		RunScript: `locals.count = locals.count + 1; form.touched = "yes"; vars.last = "inc"`,
	})
	rt, root := newServerRuntime(t, s, "/")

	locals := scope.NewState(map[string]any{"count": 1})
	formState := scope.NewState()
	vars := rt.Scopes().Vars()

	_, err := rt.Plaid().EventFunc("inc").Vars(vars).Locals(locals).Form(formState).Go(context.Background())
	require.NoError(t, err)

	assert.EqualValues(t, 2, locals.Value("count"))
	assert.Equal(t, "yes", formState.Value("touched"))
	assert.Equal(t, "inc", vars.Value("last"))
	assert.Empty(t, root.all())
}

func TestGo_RunScriptSeesFieldValues(t *testing.T) {
	s := testutils.NewServer(t)
	s.Respond("check", &plaid.EventResponse{
		RunScript: `vars.seen = form.base + "/" + form.name`,
	})
	rt, _ := newServerRuntime(t, s, "/")
	vars := rt.Scopes().Vars()

	container := form.NewData()
	container.Set("base", "b")
	container.Set("name", "old")

	_, err := rt.Plaid().EventFunc("check").Vars(vars).Form(container).FieldValue("name", "felix").Go(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "b/felix", vars.Value("seen"))
	name, _ := container.Get("name")
	assert.Equal(t, "old", name)
}

func TestGo_RunScriptPlaidFactory(t *testing.T) {
	s := testutils.NewServer(t)
	s.Respond("first", &plaid.EventResponse{
		RunScript: `plaid().eventFunc("second").query("from", function(c) { return c.field("who") }).fieldValue("who", "script").go()`,
	})
	s.Respond("second", &plaid.EventResponse{Body: "<p>second</p>"})
	rt, root := newServerRuntime(t, s, "/")

	_, err := rt.Plaid().EventFunc("first").Go(context.Background())
	require.NoError(t, err)

	last := s.Last()
	require.NotNil(t, last)
	assert.Equal(t, "second", last.EventID)
	assert.Equal(t, "script", last.Query.Get("from"))
	assert.Equal(t, "script", last.Field("who"))
	assert.Equal(t, []string{"<p>second</p>"}, root.all())
}

func TestGo_RedirectURLIsTerminal(t *testing.T) {
	s := testutils.NewServer(t)
	s.Respond("logout", &plaid.EventResponse{RedirectURL: "/login", Body: "<p>ignored</p>", PageTitle: "Bye"})
	rt, root := newServerRuntime(t, s, "/account")

	_, err := rt.Plaid().EventFunc("logout").Go(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "/login", rt.Window().PathAndQuery())
	assert.Equal(t, "Bye", rt.Window().Title())
	assert.Empty(t, root.all())
	assert.Equal(t, "/login", rt.History().Current().URL)
}

func TestGo_TransportRedirectReplacesLocation(t *testing.T) {
	s := testutils.NewServer(t)
	s.Redirect("/old", "/new")
	rt, root := newServerRuntime(t, s, "/old")

	r, err := rt.Plaid().Go(context.Background())
	require.NoError(t, err)
	require.NotNil(t, r)

	assert.Equal(t, "/new", rt.Window().PathAndQuery())
	assert.Empty(t, root.all())
}

func TestGo_FollowRedirectsReloads(t *testing.T) {
	s := testutils.NewServer(t)
	s.Redirect("/old", "/new")
	s.Page("/new", testutils.HTML("<p>new</p>"))
	rt, root := newServerRuntime(t, s, "/old", func(o *plaid.Options) { o.FollowRedirects = true })

	r, err := rt.Plaid().Go(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "<p>new</p>", r.Body)
	assert.Equal(t, []string{"<p>new</p>"}, root.all())
}

func TestGo_RedirectLoopIsBounded(t *testing.T) {
	s := testutils.NewServer(t)
	s.Respond("loop", &plaid.EventResponse{RedirectURL: "/loop"})
	s.Handle(plaid.ReloadEventID, func(*testutils.Request) (*plaid.EventResponse, error) {
		return &plaid.EventResponse{RedirectURL: "/loop"}, nil
	})
	rt, _ := newServerRuntime(t, s, "/", func(o *plaid.Options) {
		o.FollowRedirects = true
		o.MaxRedirects = 2
	})

	_, err := rt.Plaid().EventFunc("loop").Go(context.Background())
	require.Error(t, err)
	assert.Len(t, s.Requests(), 3)
	assert.Equal(t, []string{plaid.UnknownErrorMessage}, rt.Window().Alerts())
}

func TestGo_PushStateResponseDispatchesAgain(t *testing.T) {
	s := testutils.NewServer(t)
	s.Respond("filter", &plaid.EventResponse{
		PushState: &query.LocationSpec{MergeQuery: true, Query: map[string]query.QueryValue{"status": query.Scalar("done")}},
		Body:      "<p>ignored</p>",
	})
	rt, root := newServerRuntime(t, s, "/tasks?page=1")

	_, err := rt.Plaid().EventFunc("filter").Go(context.Background())
	require.NoError(t, err)

	reqs := s.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, plaid.ReloadEventID, reqs[1].EventID)
	assert.Equal(t, "done", reqs[1].Query.Get("status"))
	assert.Equal(t, "/tasks?page=1&status=done", rt.Window().PathAndQuery())
	assert.Len(t, rt.History().Records(), 2)

	bodies := root.all()
	require.Len(t, bodies, 1)
	assert.Contains(t, bodies[0], `data-key="status"`)
}

func TestGo_BeforeFetchRewritesRequest(t *testing.T) {
	s := testutils.NewServer(t)
	rt, _ := newServerRuntime(t, s, "/")

	_, err := rt.Plaid().BeforeFetch(func(req *plaid.FetchRequest) {
		req.URL += "&extra=1"
		req.Method = http.MethodPut
	}).Go(context.Background())
	require.NoError(t, err)

	last := s.Last()
	assert.Equal(t, "1", last.Query.Get("extra"))
	assert.Equal(t, http.MethodPut, last.Method)
}

func TestGo_UnknownErrorAlerts(t *testing.T) {
	s := testutils.NewServer(t)
	rt, root := newServerRuntime(t, s, "/")

	var ended bool
	rt.Window().AddEventListener(browser.EventFetchEnd, func(browser.Event) { ended = true })

	_, err := rt.Plaid().EventFunc("missing").Go(context.Background())
	require.Error(t, err)
	assert.True(t, ended)
	assert.Equal(t, []string{plaid.UnknownErrorMessage}, rt.Window().Alerts())
	assert.Empty(t, root.all())
}

func TestGo_ScriptErrorAlerts(t *testing.T) {
	s := testutils.NewServer(t)
	s.Respond("bad", &plaid.EventResponse{RunScript: `throw new Error("boom")`, Body: "<p>x</p>"})
	rt, root := newServerRuntime(t, s, "/")

	_, err := rt.Plaid().EventFunc("bad").Go(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{plaid.UnknownErrorMessage}, rt.Window().Alerts())
	assert.Empty(t, root.all())
}

func TestGo_OfflineIsSilent(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	addr := dead.URL
	dead.Close()

	rt, err := plaid.New(plaid.Options{BaseURL: addr + "/"})
	require.NoError(t, err)
	defer rt.Close()

	var ended bool
	rt.Window().AddEventListener(browser.EventFetchEnd, func(browser.Event) { ended = true })

	_, err = rt.Plaid().Go(context.Background())
	require.Error(t, err)
	assert.True(t, ended)
	assert.Empty(t, rt.Window().Alerts())
}

func TestGo_StaleRootIsDropped(t *testing.T) {
	s := testutils.NewServer(t)
	release := make(chan struct{})
	s.Handle("slow", func(*testutils.Request) (*plaid.EventResponse, error) {
		<-release
		return &plaid.EventResponse{Body: "slow"}, nil
	})
	s.Respond("fast", &plaid.EventResponse{Body: "fast"})
	rt, root := newServerRuntime(t, s, "/")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = rt.Plaid().EventFunc("slow").Go(context.Background())
	}()
	require.Eventually(t, func() bool { return len(s.Requests()) == 1 }, time.Second, 5*time.Millisecond)

	_, err := rt.Plaid().EventFunc("fast").Go(context.Background())
	require.NoError(t, err)
	close(release)
	<-done

	assert.Equal(t, []string{"fast"}, root.all())
	assert.Equal(t, "fast", rt.Body())
}

func TestLoadPortal_ReturnsBodyWithoutRootUpdate(t *testing.T) {
	s := testutils.NewServer(t)
	s.Respond("panel", &plaid.EventResponse{Body: "<aside>panel</aside>"})
	rt, root := newServerRuntime(t, s, "/")

	p := portal.New(portal.Options{Name: "panel", Loader: rt.Plaid().EventFunc("panel")})
	require.NoError(t, p.Mount(context.Background(), rt.Portals()))
	defer p.Unmount()

	assert.Equal(t, "<aside>panel</aside>", p.Body())
	assert.Empty(t, root.all())
}

func TestBuilder_EmitNotifiesScopes(t *testing.T) {
	rt := newRuntime(t, "http://localhost/")

	var got []any
	_, err := rt.Scopes().Root().NewChild(scope.Options{Observers: []scope.Observer{{
		Name:   "saved",
		Handle: func(n scope.Notification) { got = append(got, n.Payload) },
	}}})
	require.NoError(t, err)

	assert.Equal(t, 1, rt.Plaid().Emit("saved", "id-1"))
	assert.Equal(t, []any{"id-1"}, got)
}

func TestNew_RequiresAddress(t *testing.T) {
	_, err := plaid.New(plaid.Options{})
	assert.Error(t, err)
}
