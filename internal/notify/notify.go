// Package notify announces run outcomes to configured channels.
package notify

// Type classifies a notification.
type Type int

const (
	Info Type = iota
	Success
	Warning
	Failure
)

// Notification describes one run-outcome announcement.
type Notification struct {
	Title   string
	Message string
	Type    Type
	RunID   string // Optional run reference
}

// Notifier is the interface for sending notifications.
type Notifier interface {
	Send(n Notification) error
}

// Multi sends to multiple notifiers.
type Multi struct {
	notifiers []Notifier
}

// NewMulti creates a notifier that sends to all provided notifiers.
func NewMulti(notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers}
}

// Send sends the notification to all notifiers, returning the last error.
func (m *Multi) Send(n Notification) error {
	var lastErr error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Noop does nothing (for testing or disabled notifications).
type Noop struct{}

func (Noop) Send(n Notification) error { return nil }
