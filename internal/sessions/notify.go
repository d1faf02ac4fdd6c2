package sessions

import "github.com/beeunity/beeunity/client/pkg/logger"

// EventKind names a user-facing session notification.
type EventKind string

const (
	EventSignedIn       EventKind = "signed_in"
	EventSignInFailed   EventKind = "sign_in_failed"
	EventSessionExpired EventKind = "session_expired"
	EventSignedOut      EventKind = "signed_out"
)

// Event is a notification for the user. Title and Message are ready to show.
type Event struct {
	Kind    EventKind
	Title   string
	Message string
}

// Notifier delivers session events to whatever surface the user watches.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

func (f NotifierFunc) Notify(e Event) { f(e) }

// LogNotifier writes events to the process log.
type LogNotifier struct{}

func (LogNotifier) Notify(e Event) {
	switch e.Kind {
	case EventSignInFailed, EventSessionExpired:
		logger.Warnf("%s: %s", e.Title, e.Message)
	default:
		logger.Infof("%s: %s", e.Title, e.Message)
	}
}
