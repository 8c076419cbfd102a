// Package persist batches the position and size changes produced by drag and
// resize gestures and writes them to the store once the gesture goes quiet.
package persist

import (
	"sync"
	"time"

	"boardrelay/api/internal/clock"
)

// DefaultDelay is the quiet period after which pending changes are flushed.
const DefaultDelay = 500 * time.Millisecond

// debouncer collects values keyed by id and hands the whole set to flush
// once no new value has arrived for delay. A later value for the same id
// replaces the earlier one. The pending set is swapped out before flush runs,
// so values recorded during a slow flush start a new batch.
type debouncer[T any] struct {
	mu      sync.Mutex
	clock   clock.Clock
	delay   time.Duration
	timer   clock.Timer
	pending map[string]T
	order   []string
	closed  bool
	flush   func(ids []string, values map[string]T)
	// merge, when set, combines a pending value with its replacement.
	merge func(prev, next T) T
}

func newDebouncer[T any](c clock.Clock, delay time.Duration, flush func([]string, map[string]T)) *debouncer[T] {
	return &debouncer[T]{
		clock:   c,
		delay:   delay,
		pending: make(map[string]T),
		flush:   flush,
	}
}

func (d *debouncer[T]) add(id string, value T) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	if prev, exists := d.pending[id]; !exists {
		d.order = append(d.order, id)
	} else if d.merge != nil {
		value = d.merge(prev, value)
	}
	d.pending[id] = value
	if d.timer == nil {
		d.timer = d.clock.AfterFunc(d.delay, d.fire)
	} else {
		d.timer.Reset(d.delay)
	}
	return true
}

func (d *debouncer[T]) fire() {
	ids, values := d.take()
	if len(ids) > 0 {
		d.flush(ids, values)
	}
}

func (d *debouncer[T]) take() ([]string, map[string]T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids, values := d.order, d.pending
	d.order = nil
	d.pending = make(map[string]T)
	return ids, values
}

func (d *debouncer[T]) get(id string) (T, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.pending[id]
	return v, ok
}

func (d *debouncer[T]) size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// close stops the timer and returns whatever is still pending.
func (d *debouncer[T]) close() ([]string, map[string]T) {
	d.mu.Lock()
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.mu.Unlock()
	return d.take()
}
