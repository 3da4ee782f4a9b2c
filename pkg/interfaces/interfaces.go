// Package interfaces defines the core interfaces used throughout the application.
package interfaces

import "time"

// IdleDetector detects user activity/inactivity.
type IdleDetector interface {
	IsUserIdle(threshold time.Duration) (bool, error)
	LastActivity() time.Time
}

// InputHandler receives raw terminal input before it reaches the wrapped process.
type InputHandler interface {
	HandleInput(data []byte)
}

// RateLimiter limits notification frequency.
type RateLimiter interface {
	Allow() bool
	Reset()
}

// StatusReporter reports notification delivery status.
type StatusReporter interface {
	ReportSending()
	ReportSuccess()
	ReportFailure()
}

// IdleStateHandler is told when the user becomes idle or active again.
// RecordTimeout is called once per timeout with the total idle minutes.
type IdleStateHandler interface {
	SetIdleState(isIdle bool)
	RecordTimeout(idleMinutes float64)
}
