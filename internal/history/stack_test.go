package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qor5/web/internal/browser"
	"github.com/qor5/web/internal/errors"
)

func newStack(t *testing.T) (*Stack, *browser.Window) {
	t.Helper()
	w := browser.NewWindow("http://localhost/start?x=1")
	s := New(w.History(), w.Href(), nil)
	t.Cleanup(s.Close)
	return s, w
}

func TestNew_SeedsInitialRecord(t *testing.T) {
	s, _ := newStack(t)

	assert.Equal(t, 0, s.CurrentIndex())
	assert.Equal(t, Record{URL: "/start?x=1"}, s.Current())
	assert.Nil(t, s.Last())
}

func TestStack_PushTagsAndForwards(t *testing.T) {
	s, w := newStack(t)

	s.Push("a", "", "/a")
	s.Push("b", "", "/b")

	assert.Equal(t, 2, s.CurrentIndex())
	cur := s.Current()
	assert.NotEmpty(t, cur.ID)
	assert.Equal(t, "b", cur.State)
	require.NotNil(t, s.Last())
	assert.Equal(t, "a", s.Last().State)
	assert.NotEqual(t, cur.ID, s.Last().ID)

	tagged, ok := w.History().State().(*Tagged)
	require.True(t, ok)
	assert.Equal(t, cur.ID, tagged.ID)
	assert.Equal(t, "http://localhost/b", w.Href())
}

func TestHistoryTruncation(t *testing.T) {
	s, w := newStack(t)
	s.Push("a", "", "/a")
	s.Push("b", "", "/b")
	s.Push("c", "", "/c")

	w.History().Go(-2)
	assert.Equal(t, 1, s.CurrentIndex())

	s.Push("d", "", "/d")

	records := s.Records()
	require.Len(t, records, 3)
	assert.Equal(t, 2, s.CurrentIndex())
	assert.Nil(t, records[0].State)
	assert.Equal(t, "a", records[1].State)
	assert.Equal(t, "d", records[2].State)
}

func TestStack_ReplaceRetagsInPlace(t *testing.T) {
	s, _ := newStack(t)
	s.Push("a", "", "/a")
	before := s.Current().ID

	require.NoError(t, s.Replace("a2", "", "/a?y=2"))

	assert.Len(t, s.Records(), 2)
	assert.Equal(t, "a2", s.Current().State)
	assert.Equal(t, "/a?y=2", s.Current().URL)
	assert.NotEqual(t, before, s.Current().ID)
}

func TestStack_PopStateDeliversOriginalState(t *testing.T) {
	s, w := newStack(t)
	s.Push(map[string]any{"page": 2}, "", "/p2")

	var got []any
	cancel := s.OnPopState(func(state any, _ browser.PopStateEvent) { got = append(got, state) })
	defer cancel()

	w.History().Back()
	w.History().Forward()

	require.Len(t, got, 2)
	assert.Nil(t, got[0])
	assert.Equal(t, map[string]any{"page": 2}, got[1])
	assert.Equal(t, 1, s.CurrentIndex())
}

func TestStack_PopStateDesync(t *testing.T) {
	s, _ := newStack(t)

	err := s.HandlePopState(browser.PopStateEvent{State: &Tagged{ID: "missing"}})
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeHistory, errors.TypeOf(err))
	assert.Equal(t, 0, s.CurrentIndex())
}

func TestStack_NativeDesyncPanics(t *testing.T) {
	w := browser.NewWindow("http://localhost/")
	s := New(w.History(), w.Href(), nil)
	defer s.Close()

	// A write that bypasses the stack leaves a record it cannot find.
	w.History().PushState(&Tagged{ID: "foreign"}, "", "/x")
	w.History().PushState(nil, "", "/y")

	assert.Panics(t, func() { w.History().Back() })
}

func TestStack_ResetAfterNavigation(t *testing.T) {
	s, w := newStack(t)
	s.Push("a", "", "/a")

	w.Replace("/login")
	s.Reset(w.Href())

	assert.Equal(t, Record{URL: "/login"}, s.Current())

	w.History().Back()
	assert.Equal(t, 0, s.CurrentIndex())
}

func TestStack_Restore(t *testing.T) {
	s, w := newStack(t)

	records := []Record{
		{URL: "/start"},
		{ID: "r1", State: "one", URL: "/one"},
		{ID: "r2", State: "two", URL: "/two"},
	}
	require.NoError(t, s.Restore(records, 1))

	assert.Equal(t, 1, s.CurrentIndex())
	assert.Equal(t, "http://localhost/one", w.Href())

	w.History().Forward()
	assert.Equal(t, 2, s.CurrentIndex())
	assert.Equal(t, "two", s.Current().State)

	assert.Error(t, s.Restore(nil, 0))
	assert.Error(t, s.Restore(records, 3))
}
