package scope

import (
	"fmt"
	"sync"
	"time"

	"github.com/qor5/web/internal/debounce"
	"github.com/qor5/web/internal/form"
)

// Bindings are the names a scope exposes to everything rendered inside it.
type Bindings struct {
	Vars   *State
	Locals *State
	Form   *State
}

// ChangeEvent is delivered to a scope's debounced change callback.
type ChangeEvent struct {
	Locals    map[string]any
	Form      map[string]any
	OldLocals map[string]any
	OldForm   map[string]any
}

// Notification is a named message broadcast to every observing scope.
type Notification struct {
	Name    string
	Payload any
	Locals  *State
	Form    *State
}

// Observer reacts to notifications with a matching name.
type Observer struct {
	Name   string
	Handle func(Notification)
}

// Options configure a new scope.
type Options struct {
	// Init seeds locals: a map, a list of maps merged in order, or a *State
	// which is adopted as is.
	Init any
	// FormInit seeds form the same way.
	FormInit any
	// UseDebounce delays OnChange until writes stop for this long.
	UseDebounce time.Duration
	OnChange    func(ChangeEvent)
	Observers   []Observer
}

// Tree owns the root scope and the global vars shared by every scope.
type Tree struct {
	vars *State
	root *Node
}

// NewTree creates a tree around vars. A nil vars gets a fresh State.
func NewTree(vars *State) *Tree {
	if vars == nil {
		vars = NewState()
	}
	t := &Tree{vars: vars}
	t.root = &Node{tree: t, locals: NewState(), form: NewState(), mounted: true}
	return t
}

func (t *Tree) Vars() *State { return t.vars }
func (t *Tree) Root() *Node  { return t.root }

// Notify delivers a notification to every mounted observer named name and
// returns how many observers ran.
func (t *Tree) Notify(name string, payload any) int {
	var targets []func()
	t.root.walk(func(n *Node) {
		for _, o := range n.observers {
			if o.Name != name || o.Handle == nil {
				continue
			}
			o, n := o, n
			targets = append(targets, func() {
				o.Handle(Notification{Name: name, Payload: payload, Locals: n.locals, Form: n.form})
			})
		}
	})
	for _, fn := range targets {
		fn()
	}
	return len(targets)
}

// Node is one mounted scope.
type Node struct {
	tree      *Tree
	parent    *Node
	mu        sync.Mutex
	children  []*Node
	locals    *State
	form      *State
	observers []Observer
	cleanups  []func()
	debouncer *debounce.Debouncer
	mounted   bool
}

// NewChild mounts a nested scope under n.
func (n *Node) NewChild(opts Options) (*Node, error) {
	locals, err := seedState(opts.Init)
	if err != nil {
		return nil, fmt.Errorf("scope init: %w", err)
	}
	formState, err := seedState(opts.FormInit)
	if err != nil {
		return nil, fmt.Errorf("scope form init: %w", err)
	}

	child := &Node{
		tree:      n.tree,
		parent:    n,
		locals:    locals,
		form:      formState,
		observers: append([]Observer(nil), opts.Observers...),
		mounted:   true,
	}
	if opts.OnChange != nil {
		child.watchChanges(opts.OnChange, opts.UseDebounce)
	}

	n.mu.Lock()
	n.children = append(n.children, child)
	n.mu.Unlock()
	return child, nil
}

func (n *Node) watchChanges(fn func(ChangeEvent), delay time.Duration) {
	var mu sync.Mutex
	oldLocals := n.locals.Snapshot()
	oldForm := n.form.Snapshot()

	emit := func() {
		mu.Lock()
		ev := ChangeEvent{
			Locals:    n.locals.Snapshot(),
			Form:      n.form.Snapshot(),
			OldLocals: oldLocals,
			OldForm:   oldForm,
		}
		oldLocals, oldForm = ev.Locals, ev.Form
		mu.Unlock()
		fn(ev)
	}

	onChange := emit
	if delay > 0 {
		n.debouncer = debounce.New(delay)
		onChange = func() { n.debouncer.Trigger(emit) }
	}

	n.cleanups = append(n.cleanups,
		n.locals.Watch(func(Change) { onChange() }),
		n.form.Watch(func(Change) { onChange() }),
	)
}

func (n *Node) Locals() *State { return n.locals }
func (n *Node) Form() *State   { return n.form }
func (n *Node) Parent() *Node  { return n.parent }
func (n *Node) Tree() *Tree    { return n.tree }

// Children returns the mounted child scopes.
func (n *Node) Children() []*Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*Node(nil), n.children...)
}

// Slot returns the bindings visible to content rendered inside n.
func (n *Node) Slot() Bindings {
	return Bindings{Vars: n.tree.vars, Locals: n.locals, Form: n.form}
}

// OnUnmount registers fn to run when the scope is destroyed.
func (n *Node) OnUnmount(fn func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.mounted {
		go fn()
		return
	}
	n.cleanups = append(n.cleanups, fn)
}

func (n *Node) Mounted() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.mounted
}

// Unmount destroys n and its descendants, running every cleanup and
// cancelling any pending change callback.
func (n *Node) Unmount() {
	n.mu.Lock()
	if !n.mounted {
		n.mu.Unlock()
		return
	}
	n.mounted = false
	children := n.children
	n.children = nil
	cleanups := n.cleanups
	n.cleanups = nil
	n.mu.Unlock()

	for _, c := range children {
		c.Unmount()
	}
	if n.debouncer != nil {
		n.debouncer.Stop()
	}
	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}

	if p := n.parent; p != nil {
		p.mu.Lock()
		for i, c := range p.children {
			if c == n {
				p.children = append(p.children[:i], p.children[i+1:]...)
				break
			}
		}
		p.mu.Unlock()
	}
}

func (n *Node) walk(fn func(*Node)) {
	if !n.Mounted() {
		return
	}
	fn(n)
	for _, c := range n.Children() {
		c.walk(fn)
	}
}

func seedState(init any) (*State, error) {
	switch x := init.(type) {
	case nil:
		return NewState(), nil
	case *State:
		if x == nil {
			return NewState(), nil
		}
		return x, nil
	case Ref:
		return x.StateRef(), nil
	case map[string]any:
		return NewState(x), nil
	case []map[string]any:
		return NewState(x...), nil
	case form.Snapshotter:
		return NewState(x.Snapshot()), nil
	case []any:
		maps := make([]map[string]any, 0, len(x))
		for i, it := range x {
			switch m := it.(type) {
			case map[string]any:
				maps = append(maps, m)
			case form.Snapshotter:
				maps = append(maps, m.Snapshot())
			case nil:
			default:
				return nil, fmt.Errorf("init[%d] must be an object, got %T", i, it)
			}
		}
		return NewState(maps...), nil
	}
	return nil, fmt.Errorf("init must be an object or a list of objects, got %T", init)
}
