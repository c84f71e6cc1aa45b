package portal

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qor5/web/internal/scope"
)

func TestPortal_MountLoadsAndRegisters(t *testing.T) {
	registry := NewRegistry()
	var rendered []Content
	p := New(Options{
		Name:   "detail",
		Loader: LoaderFunc(func(context.Context) (string, error) { return "<p>loaded</p>", nil }),
		Render: func(c Content) { rendered = append(rendered, c) },
	})

	require.NoError(t, p.Mount(context.Background(), registry))

	got, ok := registry.Get("detail")
	require.True(t, ok)
	assert.Same(t, p, got)
	assert.Equal(t, "<p>loaded</p>", p.Body())
	require.Len(t, rendered, 1)
	assert.Same(t, p.Locals(), rendered[0].Locals)

	p.Unmount()
	_, ok = registry.Get("detail")
	assert.False(t, ok)
}

func TestPortal_SlotWinsOverLoader(t *testing.T) {
	called := false
	p := New(Options{
		Slot:   "<b>static</b>",
		Loader: LoaderFunc(func(context.Context) (string, error) { called = true; return "x", nil }),
	})

	require.NoError(t, p.Mount(context.Background(), nil))
	assert.False(t, called)
	assert.Equal(t, "<b>static</b>", p.Body())
}

func TestPortal_SharesLocalsByReference(t *testing.T) {
	locals := scope.NewState(map[string]any{"n": 1})
	p := New(Options{Locals: locals, Slot: "x"})

	assert.Same(t, locals, p.Locals())
	p.Locals().Set("n", 2)
	assert.Equal(t, 2, locals.Value("n"))
}

func TestPortal_LoaderError(t *testing.T) {
	boom := errors.New("boom")
	p := New(Options{
		Name:   "broken",
		Loader: LoaderFunc(func(context.Context) (string, error) { return "", boom }),
	})

	err := p.Mount(context.Background(), NewRegistry())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "", p.Body())
}

func TestPortal_StaleLoadIsDropped(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	p := New(Options{
		Name: "race",
		Loader: LoaderFunc(func(context.Context) (string, error) {
			close(started)
			<-release
			return "stale", nil
		}),
	})

	done := make(chan error)
	go func() { done <- p.Reload(context.Background()) }()

	<-started
	p.UpdateTemplate("fresh")
	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, "fresh", p.Body())
}

func TestPortal_HiddenDoesNotLoadUntilShown(t *testing.T) {
	var calls atomic.Int32
	p := New(Options{
		Hidden: true,
		Loader: LoaderFunc(func(context.Context) (string, error) {
			calls.Add(1)
			return "body", nil
		}),
	})

	require.NoError(t, p.Mount(context.Background(), nil))
	assert.Equal(t, int32(0), calls.Load())

	require.NoError(t, p.SetVisible(context.Background(), true))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "body", p.Body())

	require.NoError(t, p.SetVisible(context.Background(), true))
	assert.Equal(t, int32(1), calls.Load())
}

func TestPortal_AutoReload(t *testing.T) {
	var calls atomic.Int32
	p := New(Options{
		AutoReloadInterval: 10 * time.Millisecond,
		Loader: LoaderFunc(func(context.Context) (string, error) {
			calls.Add(1)
			return "tick", nil
		}),
	})

	require.NoError(t, p.Mount(context.Background(), nil))
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)

	p.Unmount()
	settled := calls.Load()
	time.Sleep(40 * time.Millisecond)
	assert.LessOrEqual(t, calls.Load(), settled+1)
}

func TestPortal_AutoReloadSkipsHidden(t *testing.T) {
	var calls atomic.Int32
	p := New(Options{
		Hidden:             true,
		AutoReloadInterval: 5 * time.Millisecond,
		Loader: LoaderFunc(func(context.Context) (string, error) {
			calls.Add(1)
			return "tick", nil
		}),
	})
	require.NoError(t, p.Mount(context.Background(), nil))
	defer p.Unmount()

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())

	require.NoError(t, p.SetVisible(context.Background(), true))
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)

	require.NoError(t, p.SetVisible(context.Background(), false))
	time.Sleep(20 * time.Millisecond)
	settled := calls.Load()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, settled, calls.Load())
}

func TestPortal_AutoReloadStopsAtZero(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	p := New(Options{
		AutoReloadInterval: 10 * time.Millisecond,
		Loader: LoaderFunc(func(context.Context) (string, error) {
			mu.Lock()
			calls++
			mu.Unlock()
			return "", nil
		}),
	})
	require.NoError(t, p.Mount(context.Background(), nil))
	defer p.Unmount()

	p.SetAutoReloadInterval(0)
	mu.Lock()
	before := calls
	mu.Unlock()
	time.Sleep(40 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, calls, before+1)
}
