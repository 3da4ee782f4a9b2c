package notification

import (
	"fmt"
	"io"
	"os"
)

// StdoutNotifier prints notifications instead of publishing them. It is
// used when no ntfy topic is configured.
type StdoutNotifier struct {
	out io.Writer
}

// NewStdoutNotifier creates a new stdout notifier
func NewStdoutNotifier() *StdoutNotifier {
	return &StdoutNotifier{out: os.Stdout}
}

// NewWriterNotifier creates a notifier printing to w.
func NewWriterNotifier(w io.Writer) *StdoutNotifier {
	return &StdoutNotifier{out: w}
}

// Send prints the notification
func (n *StdoutNotifier) Send(notification Notification) error {
	_, err := fmt.Fprintf(n.out, "[NOTIFICATION] %s: %s\n",
		notification.Title,
		notification.Message)
	return err
}
