package portal

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct {
	name    string
	mu      sync.Mutex
	body    string
	reloads int
}

func (h *fakeHandle) Name() string { return h.name }

func (h *fakeHandle) UpdateTemplate(body string) {
	h.mu.Lock()
	h.body = body
	h.mu.Unlock()
}

func (h *fakeHandle) Reload(context.Context) error {
	h.mu.Lock()
	h.reloads++
	h.mu.Unlock()
	return nil
}

func TestNewRegistry(t *testing.T) {
	registry := NewRegistry()

	assert.NotNil(t, registry)
	assert.NotNil(t, registry.handles)
	assert.Equal(t, 0, registry.Count())
	assert.Empty(t, registry.Names())
}

func TestRegistry_RegisterAndReplace(t *testing.T) {
	registry := NewRegistry()

	first := &fakeHandle{name: "sidebar"}
	second := &fakeHandle{name: "sidebar"}

	registry.Register(first)
	registry.Register(second)

	got, exists := registry.Get("sidebar")
	assert.True(t, exists)
	assert.Same(t, second, got)
	assert.Equal(t, 1, registry.Count())
}

func TestRegistry_IgnoresUnnamed(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&fakeHandle{})
	assert.Equal(t, 0, registry.Count())
}

func TestRegistry_UnregisterOnlyCurrentHandle(t *testing.T) {
	registry := NewRegistry()

	old := &fakeHandle{name: "dialog"}
	current := &fakeHandle{name: "dialog"}
	registry.Register(old)
	registry.Register(current)

	assert.False(t, registry.Unregister("dialog", old))
	_, exists := registry.Get("dialog")
	assert.True(t, exists)

	assert.True(t, registry.Unregister("dialog", current))
	_, exists = registry.Get("dialog")
	assert.False(t, exists)

	assert.False(t, registry.Unregister("dialog", current))
}

func TestRegistry_Names(t *testing.T) {
	registry := NewRegistry()
	for _, name := range []string{"c", "a", "b"} {
		registry.Register(&fakeHandle{name: name})
	}
	assert.Equal(t, []string{"a", "b", "c"}, registry.Names())
}

func TestRegistry_Watch(t *testing.T) {
	registry := NewRegistry()
	events := registry.Watch()

	h := &fakeHandle{name: "list"}
	registry.Register(h)
	registry.Register(h)
	registry.Unregister("list", h)

	var got []EventType
	for i := 0; i < 3; i++ {
		select {
		case ev := <-events:
			assert.Equal(t, "list", ev.Name)
			got = append(got, ev.Type)
		case <-time.After(time.Second):
			t.Fatal("missing event")
		}
	}
	assert.Equal(t, []EventType{EventTypeAdded, EventTypeUpdated, EventTypeRemoved}, got)

	registry.UnWatch(events)
	_, open := <-events
	assert.False(t, open)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	registry := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h := &fakeHandle{name: fmt.Sprintf("portal-%d", i)}
			registry.Register(h)
			_, _ = registry.Get(h.name)
			_ = registry.Names()
			if i%2 == 0 {
				registry.Unregister(h.name, h)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 10, registry.Count())
}
