// Package inactivity watches a surface for activity events and signals
// when none has arrived for a configured threshold.
package inactivity

import (
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Veraticus/inactivity-detector/pkg/clock"
	"github.com/Veraticus/inactivity-detector/pkg/debounce"
	"github.com/Veraticus/inactivity-detector/pkg/interfaces"
	"github.com/Veraticus/inactivity-detector/pkg/surface"
)

// Reset is delivered to reset handlers once per debounced burst of
// activity.
type Reset struct {
	// Event is the last raw event of the burst.
	Event surface.Event
	// Elapsed is the time since the previous reset, timeout or start, in
	// fractional minutes.
	Elapsed float64
}

// Monitor emits a timeout each time the threshold elapses without
// debounced activity, and a reset each time activity resumes. The timeout
// rearms from its own firing, so sustained inactivity produces one timeout
// per threshold period.
//
// Timer expirations are serialized: handlers never run concurrently with
// each other. Handlers run without the state lock held and may call Stop.
type Monitor struct {
	// dispatchMu serializes expirations and the handlers they invoke.
	dispatchMu sync.Mutex

	mu           sync.Mutex
	opts         Options
	clock        clock.Clock
	log          logrus.FieldLogger
	active       bool
	session      uint64
	timerGen     uint64
	lastActivity time.Time
	timer        clock.Timer
	debouncer    *debounce.Debouncer[surface.Event]
	removers     []func()

	nextHandlerID   uint64
	timeoutHandlers []timeoutHandler
	resetHandlers   []resetHandler
}

type timeoutHandler struct {
	id uint64
	fn func()
}

type resetHandler struct {
	id uint64
	fn func(Reset)
}

// Ensure Monitor implements IdleDetector
var _ interfaces.IdleDetector = (*Monitor)(nil)

// New creates a stopped monitor.
func New() *Monitor {
	return &Monitor{
		clock: clock.System,
		log:   discardLogger(),
	}
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// OnTimeout registers fn to run on every timeout. The returned func
// unregisters it.
func (m *Monitor) OnTimeout(fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextHandlerID++
	id := m.nextHandlerID
	m.timeoutHandlers = append(m.timeoutHandlers, timeoutHandler{id: id, fn: fn})

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, h := range m.timeoutHandlers {
			if h.id == id {
				m.timeoutHandlers = append(m.timeoutHandlers[:i:i], m.timeoutHandlers[i+1:]...)
				return
			}
		}
	}
}

// OnReset registers fn to run on every reset. The returned func
// unregisters it.
func (m *Monitor) OnReset(fn func(Reset)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextHandlerID++
	id := m.nextHandlerID
	m.resetHandlers = append(m.resetHandlers, resetHandler{id: id, fn: fn})

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, h := range m.resetHandlers {
			if h.id == id {
				m.resetHandlers = append(m.resetHandlers[:i:i], m.resetHandlers[i+1:]...)
				return
			}
		}
	}
}

// Start subscribes to every configured event on the surface and arms the
// first timeout. Errors from the surface are returned as is, after any
// subscriptions already made are released.
func (m *Monitor) Start(opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	if opts.Surface == nil {
		opts.Surface = surface.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clock.System
	}
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active {
		return ErrAlreadyStarted
	}

	m.session++
	session := m.session
	m.opts = opts
	m.clock = opts.Clock
	m.log = opts.Logger

	deb := debounce.New(opts.Clock, opts.Debounce, func(ev surface.Event) {
		m.handleActivity(session, ev)
	})

	removers := make([]func(), 0, len(opts.Events))
	for _, name := range opts.Events {
		remove, err := opts.Surface.AddEventListener(name, func(ev surface.Event) {
			deb.Trigger(ev)
		})
		if err != nil {
			for _, r := range removers {
				r()
			}
			deb.Stop()
			return err
		}
		removers = append(removers, remove)
	}

	m.debouncer = deb
	m.removers = removers
	m.active = true
	m.lastActivity = m.clock.Now()
	m.armLocked()

	m.log.WithFields(logrus.Fields{
		"threshold": opts.Threshold,
		"debounce":  opts.Debounce,
		"events":    opts.Events,
	}).Debug("inactivity monitor started")

	return nil
}

// Stop cancels the timer and any pending debounce window and unsubscribes
// from the surface. It is idempotent and may be called from a handler, in
// which case the remaining handlers of that signal are skipped.
//
// Stop does not wait for a signal being dispatched on another goroutine.
// A handler of that signal may still start just after Stop returns, but
// handlers after it are skipped and no new signal is emitted.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active {
		return
	}
	m.active = false

	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.debouncer != nil {
		m.debouncer.Stop()
		m.debouncer = nil
	}
	for _, remove := range m.removers {
		remove()
	}
	m.removers = nil

	m.log.Debug("inactivity monitor stopped")
}

// Active reports whether the monitor is listening.
func (m *Monitor) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// LastActivity returns the current baseline: the last start, reset or
// timeout.
func (m *Monitor) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActivity
}

// IsUserIdle reports whether at least threshold has passed since the
// baseline. A monitor that was never started is never idle.
func (m *Monitor) IsUserIdle(threshold time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastActivity.IsZero() {
		return false, nil
	}
	return m.clock.Now().Sub(m.lastActivity) >= threshold, nil
}

// armLocked replaces the timeout timer with one a full threshold away.
func (m *Monitor) armLocked() {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timerGen++
	gen := m.timerGen
	m.timer = m.clock.AfterFunc(m.opts.Threshold, func() {
		m.handleTimeout(gen)
	})
}

func (m *Monitor) handleTimeout(gen uint64) {
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()

	m.mu.Lock()
	if !m.active || gen != m.timerGen {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.lastActivity = m.clock.Now()
	m.armLocked()

	session := m.session
	handlers := make([]func(), len(m.timeoutHandlers))
	for i, h := range m.timeoutHandlers {
		handlers[i] = h.fn
	}
	log := m.log
	m.mu.Unlock()

	log.Debug("inactivity timeout")

	for _, fn := range handlers {
		if !m.running(session) {
			return
		}
		fn()
	}
}

func (m *Monitor) handleActivity(session uint64, ev surface.Event) {
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()

	m.mu.Lock()
	if !m.active || session != m.session {
		m.mu.Unlock()
		return
	}
	now := m.clock.Now()
	elapsed := now.Sub(m.lastActivity)
	if elapsed < 0 {
		elapsed = 0
	}
	m.lastActivity = now
	m.armLocked()

	reset := Reset{
		Event:   ev,
		Elapsed: float64(elapsed) / float64(time.Minute),
	}
	handlers := make([]func(Reset), len(m.resetHandlers))
	for i, h := range m.resetHandlers {
		handlers[i] = h.fn
	}
	log := m.log
	m.mu.Unlock()

	log.WithFields(logrus.Fields{
		"event":           ev.Type,
		"elapsed_minutes": reset.Elapsed,
	}).Debug("inactivity timer reset")

	for _, fn := range handlers {
		if !m.running(session) {
			return
		}
		fn(reset)
	}
}

func (m *Monitor) running(session uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active && m.session == session
}
