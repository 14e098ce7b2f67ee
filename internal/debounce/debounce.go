// Package debounce collapses bursts of keyed requests into a single flush per
// key once the key has been quiet for a configured period.
package debounce

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value V
	timer *time.Timer
	gen   uint64
}

// Debouncer holds at most one pending value per key. Each new request for a
// key merges into the pending value and restarts that key's timer.
type Debouncer[V any] struct {
	quiet time.Duration
	merge func(prev, next V) V
	flush func(key string, value V)

	mu      sync.Mutex
	pending map[string]*entry[V]
	closed  bool
}

// New builds a Debouncer. merge may be nil, in which case the latest value wins.
func New[V any](quiet time.Duration, merge func(prev, next V) V, flush func(key string, value V)) *Debouncer[V] {
	if merge == nil {
		merge = func(_, next V) V { return next }
	}
	return &Debouncer[V]{
		quiet:   quiet,
		merge:   merge,
		flush:   flush,
		pending: make(map[string]*entry[V]),
	}
}

// Request records value for key. After Close, values are flushed immediately.
func (d *Debouncer[V]) Request(key string, value V) {
	d.mu.Lock()
	if d.closed || d.quiet <= 0 {
		d.mu.Unlock()
		d.flush(key, value)
		return
	}
	e, ok := d.pending[key]
	if ok {
		e.timer.Stop()
		e.value = d.merge(e.value, value)
	} else {
		e = &entry[V]{value: value}
		d.pending[key] = e
	}
	e.gen++
	gen := e.gen
	e.timer = time.AfterFunc(d.quiet, func() { d.fire(key, gen) })
	d.mu.Unlock()
}

// fire flushes key unless a newer request re-armed it after this timer started.
func (d *Debouncer[V]) fire(key string, gen uint64) {
	d.mu.Lock()
	e, ok := d.pending[key]
	if !ok || e.gen != gen {
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	d.mu.Unlock()
	d.flush(key, e.value)
}

// Pending reports how many keys are waiting for their quiet period.
func (d *Debouncer[V]) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Flush delivers every pending value now.
func (d *Debouncer[V]) Flush() {
	d.mu.Lock()
	drained := d.pending
	d.pending = make(map[string]*entry[V])
	d.mu.Unlock()
	for key, e := range drained {
		e.timer.Stop()
		d.flush(key, e.value)
	}
}

// Close flushes pending values; later requests bypass the timer.
func (d *Debouncer[V]) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.Flush()
}
