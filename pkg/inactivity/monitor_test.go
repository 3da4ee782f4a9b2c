package inactivity

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/inactivity-detector/pkg/surface"
	"github.com/Veraticus/inactivity-detector/pkg/testutil"
)

// signalRecorder captures emissions with the fake time they happened at.
type signalRecorder struct {
	mu       sync.Mutex
	clock    *testutil.FakeClock
	start    time.Time
	timeouts []time.Duration
	resets   []Reset
	resetAt  []time.Duration
}

func newSignalRecorder(m *Monitor, clk *testutil.FakeClock) *signalRecorder {
	r := &signalRecorder{clock: clk, start: clk.Now()}
	m.OnTimeout(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.timeouts = append(r.timeouts, clk.Now().Sub(r.start))
	})
	m.OnReset(func(reset Reset) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.resets = append(r.resets, reset)
		r.resetAt = append(r.resetAt, clk.Now().Sub(r.start))
	})
	return r
}

func (r *signalRecorder) timeoutTimes() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]time.Duration, len(r.timeouts))
	copy(result, r.timeouts)
	return result
}

func (r *signalRecorder) resetCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.resets)
}

func (r *signalRecorder) lastReset() Reset {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resets[len(r.resets)-1]
}

func testOptions(clk *testutil.FakeClock, doc *surface.Document) Options {
	opts := DefaultOptions()
	opts.Clock = clk
	opts.Surface = doc
	return opts
}

func TestMonitor_StartValidation(t *testing.T) {
	tests := []struct {
		name      string
		threshold time.Duration
		debounce  time.Duration
		wantErr   bool
	}{
		{name: "defaults", threshold: DefaultThreshold, debounce: DefaultDebounce},
		{name: "zero debounce", threshold: time.Minute, debounce: 0},
		{name: "zero threshold", threshold: 0, debounce: time.Second, wantErr: true},
		{name: "negative threshold", threshold: -time.Minute, debounce: time.Second, wantErr: true},
		{name: "negative debounce", threshold: time.Minute, debounce: -time.Millisecond, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := testutil.NewFakeClock()
			doc := surface.NewDocument()
			m := New()

			opts := testOptions(clk, doc)
			opts.Threshold = tt.threshold
			opts.Debounce = tt.debounce

			err := m.Start(opts)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidConfig)
				assert.False(t, m.Active())
				assert.Equal(t, 0, doc.ListenerCount(EventKeyPress))
				assert.Equal(t, 0, clk.PendingTimers())
				return
			}
			require.NoError(t, err)
			defer m.Stop()
			assert.True(t, m.Active())
		})
	}
}

func TestMonitor_StartTwice(t *testing.T) {
	clk := testutil.NewFakeClock()
	m := New()
	require.NoError(t, m.Start(testOptions(clk, surface.NewDocument())))
	defer m.Stop()

	err := m.Start(testOptions(clk, surface.NewDocument()))
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestMonitor_SubscribesToConfiguredEvents(t *testing.T) {
	clk := testutil.NewFakeClock()
	doc := surface.NewDocument()
	m := New()

	require.NoError(t, m.Start(testOptions(clk, doc)))
	for _, name := range DefaultEvents() {
		assert.Equal(t, 1, doc.ListenerCount(name), name)
	}

	m.Stop()
	for _, name := range DefaultEvents() {
		assert.Equal(t, 0, doc.ListenerCount(name), name)
	}
}

func TestMonitor_RepeatedTimeoutsWithoutActivity(t *testing.T) {
	clk := testutil.NewFakeClock()
	m := New()
	rec := newSignalRecorder(m, clk)

	opts := testOptions(clk, surface.NewDocument())
	opts.Threshold = time.Minute
	opts.Debounce = time.Second
	require.NoError(t, m.Start(opts))
	defer m.Stop()

	clk.Advance(59999 * time.Millisecond)
	assert.Empty(t, rec.timeoutTimes())

	clk.Advance(time.Millisecond)
	assert.Equal(t, []time.Duration{60 * time.Second}, rec.timeoutTimes())

	clk.Advance(60 * time.Second)
	assert.Equal(t, []time.Duration{60 * time.Second, 120 * time.Second}, rec.timeoutTimes())

	clk.Advance(3 * time.Minute)
	assert.Equal(t, []time.Duration{
		1 * time.Minute, 2 * time.Minute, 3 * time.Minute, 4 * time.Minute, 5 * time.Minute,
	}, rec.timeoutTimes())
	assert.Equal(t, 0, rec.resetCount())

	// Exactly one timer stays armed across refirings
	assert.Equal(t, 1, clk.PendingTimers())
}

func TestMonitor_TimeoutsForArbitraryThresholds(t *testing.T) {
	thresholds := []time.Duration{
		time.Millisecond,
		1500 * time.Millisecond,
		time.Minute,
		MinutesToDuration(2.5),
	}
	debounces := []time.Duration{0, 10 * time.Millisecond, time.Second}

	for _, threshold := range thresholds {
		for _, delay := range debounces {
			clk := testutil.NewFakeClock()
			m := New()
			rec := newSignalRecorder(m, clk)

			opts := testOptions(clk, surface.NewDocument())
			opts.Threshold = threshold
			opts.Debounce = delay
			require.NoError(t, m.Start(opts))

			clk.Advance(4 * threshold)
			m.Stop()

			want := []time.Duration{threshold, 2 * threshold, 3 * threshold, 4 * threshold}
			assert.Equal(t, want, rec.timeoutTimes(), "threshold=%v debounce=%v", threshold, delay)
		}
	}
}

func TestMonitor_BurstProducesSingleReset(t *testing.T) {
	clk := testutil.NewFakeClock()
	doc := surface.NewDocument()
	m := New()
	rec := newSignalRecorder(m, clk)

	require.NoError(t, m.Start(testOptions(clk, doc)))
	defer m.Stop()

	// 50 pointer moves, 100ms apart: always inside the 1s debounce window
	for i := 0; i < 50; i++ {
		doc.Dispatch(surface.Event{Type: EventMouseMove, Data: map[string]any{"i": i}})
		clk.Advance(100 * time.Millisecond)
	}
	assert.Equal(t, 0, rec.resetCount())

	clk.Advance(900 * time.Millisecond)
	require.Equal(t, 1, rec.resetCount())

	reset := rec.lastReset()
	assert.Equal(t, EventMouseMove, reset.Event.Type)
	assert.Equal(t, 49, reset.Event.Data["i"], "reset carries the last raw event")

	clk.Advance(10 * time.Second)
	assert.Equal(t, 1, rec.resetCount())
}

func TestMonitor_SeparatedEventsProduceSeparateResets(t *testing.T) {
	clk := testutil.NewFakeClock()
	doc := surface.NewDocument()
	m := New()
	rec := newSignalRecorder(m, clk)

	require.NoError(t, m.Start(testOptions(clk, doc)))
	defer m.Stop()

	doc.Dispatch(surface.Event{Type: EventKeyPress})
	clk.Advance(1500 * time.Millisecond)
	doc.Dispatch(surface.Event{Type: EventWheel})
	clk.Advance(1500 * time.Millisecond)

	require.Equal(t, 2, rec.resetCount())
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, EventKeyPress, rec.resets[0].Event.Type)
	assert.Equal(t, EventWheel, rec.resets[1].Event.Type)
	assert.Equal(t, []time.Duration{time.Second, 2500 * time.Millisecond}, rec.resetAt)
	assert.InDelta(t, 1.0/60, rec.resets[0].Elapsed, 1e-9)
	assert.InDelta(t, 1.5/60, rec.resets[1].Elapsed, 1e-9)
}

func TestMonitor_ResetRearmsFullThreshold(t *testing.T) {
	clk := testutil.NewFakeClock()
	doc := surface.NewDocument()
	m := New()
	rec := newSignalRecorder(m, clk)

	opts := testOptions(clk, doc)
	opts.Threshold = 10 * time.Minute
	opts.Debounce = time.Second
	require.NoError(t, m.Start(opts))
	defer m.Stop()

	clk.Advance(5 * time.Second)
	doc.Dispatch(surface.Event{Type: EventMouseDown})
	clk.Advance(time.Second)

	require.Equal(t, 1, rec.resetCount())
	assert.InDelta(t, 6000.0/60000.0, rec.lastReset().Elapsed, 1e-9)
	assert.Equal(t, clk.Now(), m.LastActivity())

	// Not at the pre-reset 600s mark
	clk.Advance(600*time.Second - 6*time.Second)
	assert.Empty(t, rec.timeoutTimes())

	clk.Advance(6*time.Second - time.Millisecond)
	assert.Empty(t, rec.timeoutTimes())

	clk.Advance(time.Millisecond)
	assert.Equal(t, []time.Duration{606 * time.Second}, rec.timeoutTimes())
}

func TestMonitor_ElapsedMeasuredFromTimeout(t *testing.T) {
	clk := testutil.NewFakeClock()
	doc := surface.NewDocument()
	m := New()
	rec := newSignalRecorder(m, clk)

	opts := testOptions(clk, doc)
	opts.Threshold = time.Minute
	opts.Debounce = 0
	require.NoError(t, m.Start(opts))
	defer m.Stop()

	clk.Advance(90 * time.Second)
	require.Len(t, rec.timeoutTimes(), 1)

	doc.Dispatch(surface.Event{Type: EventTouchEnd})
	clk.Advance(0)

	require.Equal(t, 1, rec.resetCount())
	assert.InDelta(t, 0.5, rec.lastReset().Elapsed, 1e-9)
}

func TestMonitor_EmptyEventList(t *testing.T) {
	clk := testutil.NewFakeClock()
	doc := surface.NewDocument()
	m := New()
	rec := newSignalRecorder(m, clk)

	opts := testOptions(clk, doc)
	opts.Threshold = time.Minute
	opts.Events = nil
	require.NoError(t, m.Start(opts))
	defer m.Stop()

	for _, name := range DefaultEvents() {
		doc.Dispatch(surface.Event{Type: name})
	}
	clk.Advance(3 * time.Minute)

	assert.Equal(t, 0, rec.resetCount())
	assert.Len(t, rec.timeoutTimes(), 3)
}

func TestMonitor_UnconfiguredEventsIgnored(t *testing.T) {
	clk := testutil.NewFakeClock()
	doc := surface.NewDocument()
	m := New()
	rec := newSignalRecorder(m, clk)

	opts := testOptions(clk, doc)
	opts.Events = []string{EventKeyPress}
	require.NoError(t, m.Start(opts))
	defer m.Stop()

	doc.Dispatch(surface.Event{Type: EventMouseMove})
	clk.Advance(2 * time.Second)
	assert.Equal(t, 0, rec.resetCount())

	doc.Dispatch(surface.Event{Type: EventKeyPress})
	clk.Advance(2 * time.Second)
	assert.Equal(t, 1, rec.resetCount())
}

func TestMonitor_StopSilencesEverything(t *testing.T) {
	clk := testutil.NewFakeClock()
	doc := surface.NewDocument()
	m := New()
	rec := newSignalRecorder(m, clk)

	opts := testOptions(clk, doc)
	opts.Threshold = time.Minute
	require.NoError(t, m.Start(opts))

	// A pending debounce window and an armed timer
	doc.Dispatch(surface.Event{Type: EventKeyPress})
	m.Stop()

	assert.False(t, m.Active())
	assert.Equal(t, 0, clk.PendingTimers())

	doc.Dispatch(surface.Event{Type: EventKeyPress})
	clk.Advance(time.Hour)

	assert.Equal(t, 0, rec.resetCount())
	assert.Empty(t, rec.timeoutTimes())
}

func TestMonitor_StopIdempotent(t *testing.T) {
	m := New()
	m.Stop()

	clk := testutil.NewFakeClock()
	require.NoError(t, m.Start(testOptions(clk, surface.NewDocument())))
	m.Stop()
	m.Stop()
	assert.False(t, m.Active())
}

func TestMonitor_StopFromTimeoutHandler(t *testing.T) {
	clk := testutil.NewFakeClock()
	m := New()

	timeouts := 0
	m.OnTimeout(func() {
		timeouts++
		m.Stop()
	})
	second := 0
	m.OnTimeout(func() { second++ })

	opts := testOptions(clk, surface.NewDocument())
	opts.Threshold = time.Minute
	require.NoError(t, m.Start(opts))

	clk.Advance(10 * time.Minute)

	assert.Equal(t, 1, timeouts)
	assert.Equal(t, 0, second, "handlers after Stop are skipped")
	assert.Equal(t, 0, clk.PendingTimers(), "timer must not rearm after Stop")
}

func TestMonitor_StopFromResetHandler(t *testing.T) {
	clk := testutil.NewFakeClock()
	doc := surface.NewDocument()
	m := New()

	resets := 0
	m.OnReset(func(Reset) {
		resets++
		m.Stop()
	})
	timeouts := 0
	m.OnTimeout(func() { timeouts++ })

	require.NoError(t, m.Start(testOptions(clk, doc)))

	doc.Dispatch(surface.Event{Type: EventWheel})
	clk.Advance(time.Hour)

	assert.Equal(t, 1, resets)
	assert.Equal(t, 0, timeouts)
	assert.Equal(t, 0, doc.ListenerCount(EventWheel))
}

func TestMonitor_StopDuringDispatchOnAnotherGoroutine(t *testing.T) {
	clk := testutil.NewFakeClock()
	m := New()

	entered := make(chan struct{})
	release := make(chan struct{})
	m.OnTimeout(func() {
		close(entered)
		<-release
	})
	var advancing sync.WaitGroup
	laterCalls := 0
	m.OnTimeout(func() { laterCalls++ })

	opts := testOptions(clk, surface.NewDocument())
	opts.Threshold = time.Minute
	require.NoError(t, m.Start(opts))

	advancing.Add(1)
	go func() {
		defer advancing.Done()
		clk.Advance(time.Minute)
	}()
	<-entered

	stopped := make(chan struct{})
	go func() {
		m.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop waited for a running handler")
	}
	assert.False(t, m.Active())

	close(release)
	advancing.Wait()

	clk.Advance(time.Hour)
	assert.Equal(t, 0, laterCalls, "handlers after Stop are skipped")
	assert.Equal(t, 0, clk.PendingTimers())
}

func TestMonitor_RestartAfterStop(t *testing.T) {
	clk := testutil.NewFakeClock()
	doc := surface.NewDocument()
	m := New()
	rec := newSignalRecorder(m, clk)

	opts := testOptions(clk, doc)
	opts.Threshold = time.Minute
	require.NoError(t, m.Start(opts))

	doc.Dispatch(surface.Event{Type: EventKeyPress})
	m.Stop()

	clk.Advance(30 * time.Second)
	require.NoError(t, m.Start(opts))
	defer m.Stop()

	clk.Advance(59 * time.Second)
	assert.Empty(t, rec.timeoutTimes())
	assert.Equal(t, 0, rec.resetCount(), "debounce window from the first session is discarded")

	clk.Advance(time.Second)
	assert.Equal(t, []time.Duration{90 * time.Second}, rec.timeoutTimes())
}

func TestMonitor_UnregisterHandlers(t *testing.T) {
	clk := testutil.NewFakeClock()
	m := New()

	calls := 0
	remove := m.OnTimeout(func() { calls++ })

	opts := testOptions(clk, surface.NewDocument())
	opts.Threshold = time.Minute
	require.NoError(t, m.Start(opts))
	defer m.Stop()

	clk.Advance(time.Minute)
	remove()
	remove()
	clk.Advance(time.Minute)

	assert.Equal(t, 1, calls)
}

type failingSurface struct {
	doc     *surface.Document
	failOn  string
	err     error
	removed int
}

func (f *failingSurface) AddEventListener(name string, fn func(surface.Event)) (func(), error) {
	if name == f.failOn {
		return nil, f.err
	}
	remove, err := f.doc.AddEventListener(name, fn)
	if err != nil {
		return nil, err
	}
	return func() {
		f.removed++
		remove()
	}, nil
}

func TestMonitor_SubscriptionErrorPropagates(t *testing.T) {
	clk := testutil.NewFakeClock()
	subErr := errors.New("surface unavailable")
	fs := &failingSurface{doc: surface.NewDocument(), failOn: EventWheel, err: subErr}

	m := New()
	opts := DefaultOptions()
	opts.Clock = clk
	opts.Surface = fs

	err := m.Start(opts)
	require.ErrorIs(t, err, subErr)
	assert.False(t, m.Active())

	// mousedown, mousemove, touchend and touchmove were registered before wheel failed
	assert.Equal(t, 4, fs.removed)
	assert.Equal(t, 0, clk.PendingTimers())
}

func TestMonitor_IsUserIdle(t *testing.T) {
	clk := testutil.NewFakeClock()
	doc := surface.NewDocument()
	m := New()

	idle, err := m.IsUserIdle(time.Second)
	require.NoError(t, err)
	assert.False(t, idle, "never started")

	require.NoError(t, m.Start(testOptions(clk, doc)))
	defer m.Stop()

	clk.Advance(30 * time.Second)
	idle, err = m.IsUserIdle(time.Minute)
	require.NoError(t, err)
	assert.False(t, idle)

	idle, err = m.IsUserIdle(30 * time.Second)
	require.NoError(t, err)
	assert.True(t, idle)
}

func TestMonitor_RealClock(t *testing.T) {
	doc := surface.NewDocument()
	m := New()

	var mu sync.Mutex
	timeouts := 0
	resets := 0
	m.OnTimeout(func() {
		mu.Lock()
		timeouts++
		mu.Unlock()
	})
	m.OnReset(func(Reset) {
		mu.Lock()
		resets++
		mu.Unlock()
	})

	require.NoError(t, m.Start(Options{
		Threshold: 50 * time.Millisecond,
		Debounce:  10 * time.Millisecond,
		Events:    DefaultEvents(),
		Surface:   doc,
	}))

	doc.Dispatch(surface.Event{Type: EventKeyPress})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return resets == 1 && timeouts >= 2
	}, 2*time.Second, 5*time.Millisecond)

	m.Stop()

	mu.Lock()
	after := timeouts
	mu.Unlock()
	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, after, timeouts)
	assert.Equal(t, 1, resets)
}
