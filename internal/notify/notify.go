// Package notify de-duplicates user-facing status notifications.
//
// The session controller can emit the same error many times in quick
// succession (the vendor SDK fires error callbacks per retry). Subscribers
// such as the control API should see each distinct message at most once
// per cooldown window.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Severity labels a notification for subscribers.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notification is a single user-facing message.
type Notification struct {
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
	Time     time.Time `json:"time"`
}

// Handler receives notifications that passed the cooldown filter.
type Handler func(Notification)

// Notifier fans notifications out to subscribers, suppressing repeats of
// the same message within the cooldown window.
type Notifier struct {
	log      *slog.Logger
	cooldown time.Duration
	now      func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
	handlers map[int]Handler
	nextID   int
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(n *Notifier) { n.now = now }
}

// New creates a Notifier with the given repeat-suppression window.
func New(log *slog.Logger, cooldown time.Duration, opts ...Option) *Notifier {
	n := &Notifier{
		log:      log,
		cooldown: cooldown,
		now:      time.Now,
		lastSent: make(map[string]time.Time),
		handlers: make(map[int]Handler),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Subscribe registers a handler for future notifications and returns a
// function that removes it again.
func (n *Notifier) Subscribe(h Handler) (cancel func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++
	n.handlers[id] = h
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.handlers, id)
	}
}

// Notify publishes a message unless the same message was published within
// the cooldown window. Returns whether the message was delivered.
func (n *Notifier) Notify(sev Severity, message string) bool {
	now := n.now()

	n.mu.Lock()
	if last, ok := n.lastSent[message]; ok && now.Sub(last) < n.cooldown {
		n.mu.Unlock()
		n.log.Debug("notification suppressed by cooldown", "message", message)
		return false
	}
	n.lastSent[message] = now
	handlers := make([]Handler, 0, len(n.handlers))
	for _, h := range n.handlers {
		handlers = append(handlers, h)
	}
	n.mu.Unlock()

	note := Notification{Severity: sev, Message: message, Time: now}
	n.log.LogAttrs(context.Background(), severityLevel(sev), "notification",
		slog.String("severity", string(sev)), slog.String("message", message))
	for _, h := range handlers {
		h(note)
	}
	return true
}

// Info publishes an informational message.
func (n *Notifier) Info(message string) bool { return n.Notify(SeverityInfo, message) }

// Warn publishes a warning.
func (n *Notifier) Warn(message string) bool { return n.Notify(SeverityWarning, message) }

// Error publishes an error message.
func (n *Notifier) Error(message string) bool { return n.Notify(SeverityError, message) }

func severityLevel(sev Severity) slog.Level {
	switch sev {
	case SeverityError:
		return slog.LevelError
	case SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
