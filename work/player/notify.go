package player

import (
	"sync"
	"time"

	"stalker-player/work/logger"
)

// Severity grades user-facing notifications.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warning"
	SeverityError Severity = "error"
)

// Notification is a user-facing playback message, the kind a UI would show
// as a toast. Kept in a bounded ring so a status client can show recent
// history.
type Notification struct {
	Severity    Severity  `json:"severity"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	At          time.Time `json:"at"`
}

const notificationHistory = 32

// Notifier records playback notifications and mirrors them to the log.
type Notifier struct {
	mu     sync.Mutex
	recent []Notification
}

func NewNotifier() *Notifier {
	return &Notifier{}
}

func (n *Notifier) push(severity Severity, title, description string) {
	n.mu.Lock()
	n.recent = append(n.recent, Notification{
		Severity:    severity,
		Title:       title,
		Description: description,
		At:          time.Now(),
	})
	if len(n.recent) > notificationHistory {
		n.recent = n.recent[len(n.recent)-notificationHistory:]
	}
	n.mu.Unlock()
}

func (n *Notifier) Info(title, description string) {
	logger.Info("{player/notify} %s: %s", title, description)
	n.push(SeverityInfo, title, description)
}

func (n *Notifier) Warn(title, description string) {
	logger.Warn("{player/notify} %s: %s", title, description)
	n.push(SeverityWarn, title, description)
}

func (n *Notifier) Error(title, description string) {
	logger.Error("{player/notify} %s: %s", title, description)
	n.push(SeverityError, title, description)
}

// Recent returns the notification history, oldest first.
func (n *Notifier) Recent() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()

	result := make([]Notification, len(n.recent))
	copy(result, n.recent)
	return result
}
