// Package debounce collapses bursts of triggers into a single call.
package debounce

import (
	"sync"
	"time"

	"github.com/Veraticus/inactivity-detector/pkg/clock"
)

// Debouncer calls fn with the most recent triggered value once no trigger
// has arrived for the configured delay. Every trigger restarts the window.
type Debouncer[T any] struct {
	clock clock.Clock
	delay time.Duration
	fn    func(T)

	mu      sync.Mutex
	timer   clock.Timer
	gen     uint64
	last    T
	pending bool
}

// New creates a debouncer. A nil clock uses clock.System.
func New[T any](c clock.Clock, delay time.Duration, fn func(T)) *Debouncer[T] {
	if c == nil {
		c = clock.System
	}
	return &Debouncer[T]{
		clock: c,
		delay: delay,
		fn:    fn,
	}
}

// Trigger records v and restarts the quiet window.
func (d *Debouncer[T]) Trigger(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.last = v
	d.pending = true

	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = d.clock.AfterFunc(d.delay, func() { d.fire(gen) })
}

// fire delivers the pending value if gen is still the latest window.
func (d *Debouncer[T]) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || !d.pending {
		d.mu.Unlock()
		return
	}

	v := d.last
	var zero T
	d.last = zero
	d.pending = false
	d.timer = nil
	d.mu.Unlock()

	d.fn(v)
}

// Stop cancels a pending window. It reports whether a value was pending.
func (d *Debouncer[T]) Stop() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++

	wasPending := d.pending
	var zero T
	d.last = zero
	d.pending = false
	return wasPending
}

// Pending reports whether a trigger is waiting for its quiet window.
func (d *Debouncer[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}
