// Package notify delivers rendered messages over an email transport.
//
// Dispatch happens synchronously before the HTTP response is returned and
// is at-most-once: nothing here queues or retries, and a failed send
// surfaces to the caller for an explicit retry.
package notify

import "context"

// Kind labels a message for metrics and logging.
type Kind string

const (
	KindConsent Kind = "consent"
	KindNudge   Kind = "nudge"
)

// Message is a fully rendered outbound notification. Template composition
// and branding live outside this core; services build plain-text bodies.
type Message struct {
	Kind    Kind
	To      string
	Subject string
	Body    string
}

// Dispatcher delivers one message or reports a typed transport failure.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message) error
}
