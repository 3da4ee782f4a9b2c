package inactivity

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Veraticus/inactivity-detector/pkg/clock"
	"github.com/Veraticus/inactivity-detector/pkg/surface"
)

var (
	// ErrInvalidConfig is returned by Start for a non-positive threshold or
	// a negative debounce delay.
	ErrInvalidConfig = errors.New("invalid inactivity configuration")
	// ErrAlreadyStarted is returned by Start on a running monitor.
	ErrAlreadyStarted = errors.New("inactivity monitor already started")
)

const (
	// DefaultThreshold is the inactivity period before a timeout fires.
	DefaultThreshold = 10 * time.Minute
	// DefaultDebounce is the quiet period that ends a burst of activity.
	DefaultDebounce = time.Second
)

// Activity event names observed by default.
const (
	EventMouseDown = "mousedown"
	EventMouseMove = "mousemove"
	EventTouchEnd  = "touchend"
	EventTouchMove = "touchmove"
	EventWheel     = "wheel"
	EventKeyPress  = "keypress"
)

// DefaultEvents returns the default activity event names.
func DefaultEvents() []string {
	return []string{
		EventMouseDown,
		EventMouseMove,
		EventTouchEnd,
		EventTouchMove,
		EventWheel,
		EventKeyPress,
	}
}

// Options configures a Monitor. An empty Events list is valid: only
// timeouts will ever fire.
type Options struct {
	Threshold time.Duration
	Debounce  time.Duration
	Events    []string

	// Surface defaults to surface.Default().
	Surface surface.Surface
	// Clock defaults to clock.System.
	Clock clock.Clock
	// Logger receives debug traces. Nil discards them.
	Logger logrus.FieldLogger
}

// DefaultOptions returns options with the default threshold, debounce
// delay and event list.
func DefaultOptions() Options {
	return Options{
		Threshold: DefaultThreshold,
		Debounce:  DefaultDebounce,
		Events:    DefaultEvents(),
	}
}

// Validate checks the threshold and debounce delay.
func (o Options) Validate() error {
	if o.Threshold <= 0 {
		return fmt.Errorf("%w: threshold must be positive, got %v", ErrInvalidConfig, o.Threshold)
	}
	if o.Debounce < 0 {
		return fmt.Errorf("%w: debounce must be non-negative, got %v", ErrInvalidConfig, o.Debounce)
	}
	return nil
}

// MinutesToDuration converts a threshold in (possibly fractional) minutes.
func MinutesToDuration(minutes float64) time.Duration {
	return time.Duration(minutes * float64(time.Minute))
}

// MillisToDuration converts a debounce delay in milliseconds.
func MillisToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
