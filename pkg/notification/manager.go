package notification

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Veraticus/inactivity-detector/pkg/interfaces"
)

// Manager orchestrates notification sending with quiet mode, rate limiting
// and status reporting
type Manager struct {
	notifier    Notifier
	rateLimiter interfaces.RateLimiter
	quiet       bool
	logger      logrus.FieldLogger

	mu             sync.Mutex
	statusReporter interfaces.StatusReporter
	closed         bool
	wg             sync.WaitGroup
}

// NewManager creates a new notification manager. rateLimiter and logger
// may be nil.
func NewManager(notifier Notifier, rateLimiter interfaces.RateLimiter, quiet bool, logger logrus.FieldLogger) *Manager {
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		logger = l
	}
	return &Manager{
		notifier:    notifier,
		rateLimiter: rateLimiter,
		quiet:       quiet,
		logger:      logger,
	}
}

// SetStatusReporter sets the status reporter for notification status updates
func (m *Manager) SetStatusReporter(reporter interfaces.StatusReporter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusReporter = reporter
}

// Send delivers a notification synchronously. Quiet mode and rate limiting
// drop it silently.
func (m *Manager) Send(notification Notification) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil
	}
	return m.send(notification)
}

func (m *Manager) send(notification Notification) error {
	m.mu.Lock()
	if m.quiet {
		m.mu.Unlock()
		return nil
	}
	if m.rateLimiter != nil && !m.rateLimiter.Allow() {
		m.mu.Unlock()
		m.logger.WithField("title", notification.Title).Debug("notification dropped by rate limit")
		return nil
	}
	reporter := m.statusReporter
	m.mu.Unlock()

	if reporter != nil {
		reporter.ReportSending()
	}

	if err := m.notifier.Send(notification); err != nil {
		if reporter != nil {
			reporter.ReportFailure()
		}
		return err
	}

	if reporter != nil {
		reporter.ReportSuccess()
	}
	return nil
}

// Notify sends in the background. Failures are logged since there is no
// caller to return them to.
func (m *Manager) Notify(notification Notification) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		if err := m.send(notification); err != nil {
			m.logger.WithError(err).Warn("failed to send notification")
		}
	}()
}

// Close waits for background sends and rejects further notifications
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.wg.Wait()
	return nil
}
