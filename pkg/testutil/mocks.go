package testutil

import (
	"sync"
	"time"

	"github.com/Veraticus/inactivity-detector/pkg/interfaces"
	"github.com/Veraticus/inactivity-detector/pkg/notification"
)

// MockNotifier is a thread-safe mock implementation of notification.Notifier
type MockNotifier struct {
	mu            sync.Mutex
	notifications []notification.Notification
	attempts      []notification.Notification
	sendErr       error
	sendDelay     time.Duration
	sent          chan struct{}
}

var _ notification.Notifier = (*MockNotifier)(nil)

// NewMockNotifier creates a new mock notifier
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{
		sent: make(chan struct{}, 64),
	}
}

// Send records the attempt and fails with the configured error, if any
func (m *MockNotifier) Send(n notification.Notification) error {
	m.mu.Lock()
	delay := m.sendDelay
	m.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.attempts = append(m.attempts, n)
	select {
	case m.sent <- struct{}{}:
	default:
	}

	if m.sendErr != nil {
		return m.sendErr
	}
	m.notifications = append(m.notifications, n)
	return nil
}

// WaitForAttempts blocks until at least n sends were attempted or timeout
// passes, and reports whether they were.
func (m *MockNotifier) WaitForAttempts(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if len(m.GetAttempts()) >= n {
			return true
		}
		select {
		case <-m.sent:
		case <-deadline:
			return len(m.GetAttempts()) >= n
		}
	}
}

// GetNotifications returns a copy of successfully sent notifications
func (m *MockNotifier) GetNotifications() []notification.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]notification.Notification, len(m.notifications))
	copy(result, m.notifications)
	return result
}

// GetAttempts returns a copy of all attempted sends, failures included
func (m *MockNotifier) GetAttempts() []notification.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]notification.Notification, len(m.attempts))
	copy(result, m.attempts)
	return result
}

// SetError sets the error to return on Send calls
func (m *MockNotifier) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// SetDelay sets a delay before each Send call
func (m *MockNotifier) SetDelay(delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendDelay = delay
}

// Clear resets the mock state
func (m *MockNotifier) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = nil
	m.attempts = nil
	m.sendErr = nil
	m.sendDelay = 0
}

// MockRateLimiter returns a fixed Allow result and counts calls
type MockRateLimiter struct {
	mu          sync.Mutex
	allowResult bool
	allowCount  int
	resetCount  int
}

var _ interfaces.RateLimiter = (*MockRateLimiter)(nil)

// NewMockRateLimiter creates a new mock rate limiter
func NewMockRateLimiter(allowResult bool) *MockRateLimiter {
	return &MockRateLimiter{allowResult: allowResult}
}

// Allow implements interfaces.RateLimiter
func (m *MockRateLimiter) Allow() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowCount++
	return m.allowResult
}

// Reset implements interfaces.RateLimiter
func (m *MockRateLimiter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetCount++
}

// SetAllowResult sets the result that Allow returns
func (m *MockRateLimiter) SetAllowResult(allow bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowResult = allow
}

// GetAllowCount returns how many times Allow was called
func (m *MockRateLimiter) GetAllowCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allowCount
}

// GetResetCount returns how many times Reset was called
func (m *MockRateLimiter) GetResetCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resetCount
}

// MockStatusReporter records status transitions in order
type MockStatusReporter struct {
	mu     sync.Mutex
	events []string
}

var _ interfaces.StatusReporter = (*MockStatusReporter)(nil)

func (m *MockStatusReporter) record(event string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

// ReportSending implements interfaces.StatusReporter
func (m *MockStatusReporter) ReportSending() { m.record("sending") }

// ReportSuccess implements interfaces.StatusReporter
func (m *MockStatusReporter) ReportSuccess() { m.record("success") }

// ReportFailure implements interfaces.StatusReporter
func (m *MockStatusReporter) ReportFailure() { m.record("failure") }

// Events returns the recorded transitions
func (m *MockStatusReporter) Events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}
