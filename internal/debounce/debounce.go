// Package debounce provides trailing-edge debouncing for input bindings,
// scope change callbacks, and file watching.
package debounce

import (
	"sync"
	"time"
)

// Debouncer runs the most recently triggered function once the triggers
// stop for the configured delay.
type Debouncer struct {
	delay   time.Duration
	mutex   sync.Mutex
	timer   *time.Timer
	pending func()
	seq     uint64
	stopped bool
}

// New creates a debouncer. A zero delay still defers to a timer.
func New(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay}
}

// Trigger (re)starts the quiet period and replaces the pending function.
func (d *Debouncer) Trigger(fn func()) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.stopped {
		return
	}
	d.pending = fn
	d.seq++
	if d.timer != nil {
		d.timer.Stop()
	}
	seq := d.seq
	d.timer = time.AfterFunc(d.delay, func() { d.fire(seq) })
}

// fire runs the pending function only if no trigger arrived after the
// timer identified by seq was armed. A stopped timer whose callback was
// already queued therefore cannot run a newer function early.
func (d *Debouncer) fire(seq uint64) {
	d.mutex.Lock()
	if seq != d.seq || d.stopped {
		d.mutex.Unlock()
		return
	}
	fn := d.pending
	d.pending = nil
	d.mutex.Unlock()

	if fn != nil {
		fn()
	}
}

// Flush runs the pending function now, if any.
func (d *Debouncer) Flush() {
	d.mutex.Lock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.seq++
	seq := d.seq
	d.mutex.Unlock()
	d.fire(seq)
}

// Pending reports whether a function is waiting to run.
func (d *Debouncer) Pending() bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.pending != nil
}

// Stop cancels the pending function and ignores later triggers.
func (d *Debouncer) Stop() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.stopped = true
	d.pending = nil
	if d.timer != nil {
		d.timer.Stop()
	}
}

// Batcher groups values triggered in quick succession and hands them to
// the flush function as one batch.
type Batcher[T any] struct {
	delay   time.Duration
	flushFn func([]T)
	mutex   sync.Mutex
	timer   *time.Timer
	pending []T
	seq     uint64
	stopped bool
}

// NewBatcher creates a batcher calling flush after delay of quiet.
func NewBatcher[T any](delay time.Duration, flush func([]T)) *Batcher[T] {
	return &Batcher[T]{delay: delay, flushFn: flush}
}

// Add queues v and resets the timer.
func (b *Batcher[T]) Add(v T) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.stopped {
		return
	}
	b.pending = append(b.pending, v)
	b.seq++
	if b.timer != nil {
		b.timer.Stop()
	}
	seq := b.seq
	b.timer = time.AfterFunc(b.delay, func() { b.flush(seq) })
}

func (b *Batcher[T]) flush(seq uint64) {
	b.mutex.Lock()
	if seq != b.seq || len(b.pending) == 0 || b.stopped {
		b.mutex.Unlock()
		return
	}
	batch := b.pending
	b.pending = nil
	b.mutex.Unlock()

	b.flushFn(batch)
}

// Stop drops pending values and ignores later ones.
func (b *Batcher[T]) Stop() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.stopped = true
	b.pending = nil
	if b.timer != nil {
		b.timer.Stop()
	}
}
