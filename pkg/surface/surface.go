// Package surface provides the observed surface that activity events are
// read from: named-event subscription over an in-process document, plus a
// WebSocket bridge that feeds browser events into it.
package surface

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrClosed is returned when subscribing to a closed document.
	ErrClosed = errors.New("surface closed")
	// ErrInvalidEventName is returned for an empty event name.
	ErrInvalidEventName = errors.New("invalid event name")
)

// Event is a single raw activity event.
type Event struct {
	Type string
	Time time.Time
	Data map[string]any
}

// Surface supports named-event subscription. The returned remove func
// unsubscribes the listener and is safe to call more than once.
type Surface interface {
	AddEventListener(name string, fn func(Event)) (remove func(), err error)
}

// Dispatcher delivers events into a surface.
type Dispatcher interface {
	Dispatch(ev Event) int
}

type listener struct {
	id uint64
	fn func(Event)
}

// Document is an in-process Surface. Listeners run synchronously on the
// goroutine calling Dispatch.
type Document struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[string][]listener
	closed    bool
}

// Ensure Document implements Surface and Dispatcher
var (
	_ Surface    = (*Document)(nil)
	_ Dispatcher = (*Document)(nil)
)

var defaultDocument = NewDocument()

// Default returns the process-wide document.
func Default() *Document {
	return defaultDocument
}

// NewDocument creates an empty document.
func NewDocument() *Document {
	return &Document{
		listeners: make(map[string][]listener),
	}
}

// AddEventListener registers fn for events named name.
func (d *Document) AddEventListener(name string, fn func(Event)) (func(), error) {
	if name == "" {
		return nil, ErrInvalidEventName
	}
	if fn == nil {
		return nil, fmt.Errorf("nil listener for %q", name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}

	d.nextID++
	id := d.nextID
	d.listeners[name] = append(d.listeners[name], listener{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { d.remove(name, id) })
	}, nil
}

func (d *Document) remove(name string, id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	current := d.listeners[name]
	for i, l := range current {
		if l.id == id {
			updated := make([]listener, 0, len(current)-1)
			updated = append(updated, current[:i]...)
			updated = append(updated, current[i+1:]...)
			if len(updated) == 0 {
				delete(d.listeners, name)
			} else {
				d.listeners[name] = updated
			}
			return
		}
	}
}

// Dispatch delivers ev to the listeners registered for ev.Type, in
// registration order, and returns how many were called. Listeners are
// snapshotted when Dispatch starts.
func (d *Document) Dispatch(ev Event) int {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	d.mu.RLock()
	snapshot := d.listeners[ev.Type]
	d.mu.RUnlock()

	for _, l := range snapshot {
		l.fn(ev)
	}
	return len(snapshot)
}

// ListenerCount returns the number of listeners registered for name.
func (d *Document) ListenerCount(name string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners[name])
}

// Close drops every listener and rejects further subscriptions.
func (d *Document) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true
	d.listeners = make(map[string][]listener)
}
