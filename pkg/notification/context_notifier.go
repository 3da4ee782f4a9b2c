package notification

import (
	"os"
	"path/filepath"
)

// ContextNotifier wraps another notifier and names where the alert came
// from in the title.
type ContextNotifier struct {
	underlying Notifier
	context    string
}

// NewContextNotifier creates a context notifier. label, when non-empty,
// is usually the wrapped command; the working directory basename is
// always included.
func NewContextNotifier(underlying Notifier, label string) *ContextNotifier {
	context := ""
	if cwd, err := os.Getwd(); err == nil {
		context = filepath.Base(cwd)
	}
	if label != "" {
		if context != "" {
			context = context + " - " + label
		} else {
			context = label
		}
	}

	return &ContextNotifier{
		underlying: underlying,
		context:    context,
	}
}

// Context returns the text added to titles.
func (cn *ContextNotifier) Context() string {
	return cn.context
}

// Send implements the Notifier interface
func (cn *ContextNotifier) Send(notification Notification) error {
	if cn.context != "" {
		if notification.Title != "" {
			notification.Title = notification.Title + " (" + cn.context + ")"
		} else {
			notification.Title = cn.context
		}
	}
	return cn.underlying.Send(notification)
}
