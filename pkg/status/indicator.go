// Package status draws a one-line inactivity indicator at the bottom of the terminal.
package status

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/Veraticus/inactivity-detector/pkg/interfaces"
)

// Status represents the current notification status
type Status int

const (
	StatusIdle Status = iota
	StatusSending
	StatusSuccess
	StatusFailed
)

const (
	refreshInterval = 2 * time.Second
	successVisible  = 30 * time.Second
)

// Indicator manages the status display in the terminal
type Indicator struct {
	mu       sync.Mutex
	status   Status
	lastSent time.Time
	enabled  bool
	writer   io.Writer
	now      func() time.Time

	// Inactivity state
	isIdle      bool
	timeouts    int
	idleMinutes float64

	refreshChan chan struct{}
}

// NewIndicator creates a new status indicator
func NewIndicator(writer io.Writer, enabled bool) *Indicator {
	return &Indicator{
		status:      StatusIdle,
		writer:      writer,
		enabled:     enabled,
		now:         time.Now,
		refreshChan: make(chan struct{}, 1),
	}
}

// SetStatus updates the current notification status
func (i *Indicator) SetStatus(status Status) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.status = status
	if status == StatusSuccess {
		i.lastSent = i.now()
	}

	// Best effort - don't fail if we can't update the display
	_ = i.draw()
}

// SetIdleState updates the idle marker. Going active clears the timeout
// count.
func (i *Indicator) SetIdleState(isIdle bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.isIdle = isIdle
	if !isIdle {
		i.timeouts = 0
		i.idleMinutes = 0
	}
	_ = i.draw()
}

// RecordTimeout marks the user idle and counts one more timeout.
func (i *Indicator) RecordTimeout(idleMinutes float64) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.isIdle = true
	i.timeouts++
	i.idleMinutes = idleMinutes
	_ = i.draw()
}

// Timeouts returns the number of timeouts since the user was last active.
func (i *Indicator) Timeouts() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.timeouts
}

// IsIdle reports the current idle marker.
func (i *Indicator) IsIdle() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.isIdle
}

// draw renders the status indicator. Callers hold mu.
func (i *Indicator) draw() error {
	if !i.enabled || i.writer == nil {
		return nil
	}

	// \0337 save cursor, \033[r reset scroll region, \033[999;1H last line
	// (clamped by the terminal), \033[2K clear it, \0338 restore cursor.
	sequence := fmt.Sprintf("\0337\033[r\033[999;1H\033[2K%s\0338", i.getStatusText())

	_, err := fmt.Fprint(i.writer, sequence)
	return err
}

// getStatusText returns the status text with color
func (i *Indicator) getStatusText() string {
	var parts []string

	if i.isIdle {
		idle := "\033[33mⓏ idle" // Yellow Z for idle
		if i.timeouts > 0 {
			idle += fmt.Sprintf(" %s ×%d", formatMinutes(i.idleMinutes), i.timeouts)
		}
		parts = append(parts, idle+"\033[0m")
	} else {
		parts = append(parts, "\033[32m▶ active\033[0m") // Green play for active
	}

	switch i.status {
	case StatusSending:
		parts = append(parts, "\033[33m⟳ ntfy\033[0m")
	case StatusSuccess:
		age := i.now().Sub(i.lastSent)
		switch {
		case age >= successVisible:
			// faded
		case age >= time.Second:
			parts = append(parts, fmt.Sprintf("\033[32m✓ ntfy (%ds)\033[0m", int(age.Seconds())))
		default:
			parts = append(parts, "\033[32m✓ ntfy\033[0m")
		}
	case StatusFailed:
		parts = append(parts, "\033[31m✗ ntfy\033[0m")
	}

	return strings.Join(parts, " ")
}

func formatMinutes(m float64) string {
	if m == float64(int64(m)) {
		return fmt.Sprintf("%dm", int64(m))
	}
	return fmt.Sprintf("%.1fm", m)
}

// Clear removes the status indicator
func (i *Indicator) Clear() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.enabled || i.writer == nil {
		return nil
	}

	_, err := fmt.Fprint(i.writer, "\0337\033[999;1H\033[2K\0338")
	return err
}

// Refresh requests an immediate redraw from the auto-refresh loop.
func (i *Indicator) Refresh() {
	if !i.enabled {
		return
	}
	select {
	case i.refreshChan <- struct{}{}:
	default:
		// refresh already pending
	}
}

// StartAutoRefresh redraws periodically, since the wrapped program may
// overwrite the last line. The line is cleared when stopChan closes.
func (i *Indicator) StartAutoRefresh(stopChan <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				i.mu.Lock()
				_ = i.draw()
				i.mu.Unlock()
			case <-i.refreshChan:
				i.mu.Lock()
				_ = i.draw()
				i.mu.Unlock()
			case <-stopChan:
				_ = i.Clear()
				return
			}
		}
	}()
}

// ReportSending shows that an inactivity notification is on its way.
func (i *Indicator) ReportSending() { i.SetStatus(StatusSending) }

// ReportSuccess shows a delivered notification until it fades.
func (i *Indicator) ReportSuccess() { i.SetStatus(StatusSuccess) }

// ReportFailure shows a failed delivery until the next attempt.
func (i *Indicator) ReportFailure() { i.SetStatus(StatusFailed) }

// Ensure Indicator implements IdleStateHandler and StatusReporter
var (
	_ interfaces.IdleStateHandler = (*Indicator)(nil)
	_ interfaces.StatusReporter   = (*Indicator)(nil)
)
