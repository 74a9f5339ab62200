package proctor

import (
	"context"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// PresentationGateway is the only component allowed to engage or release the
// locked full-screen presentation mode.
type PresentationGateway interface {
	// Engage requests presentation mode and blocks until the environment
	// confirms or refuses it.
	Engage(ctx context.Context) error
	// Release leaves presentation mode.
	Release(ctx context.Context) error
	// IsEngaged reports the current presentation state.
	IsEngaged() bool
	// OnDisengage registers fn for presentation exits the session did not request.
	OnDisengage(fn func()) (unsubscribe func())
}

// VisibilitySource delivers page visibility transitions.
type VisibilitySource interface {
	Subscribe(fn func(visible bool)) (unsubscribe func())
}

// Grader receives the answers of a completed session, exactly once.
type Grader interface {
	Submit(ctx context.Context, sub model.Submission) error
}

// Notifier receives the session's outbound notifications in order. Notify is
// called from the session loop and must not block for long.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(n Notification)

// Notify calls f(n).
func (f NotifierFunc) Notify(n Notification) { f(n) }

// Notification is one of TickUpdate, Warning or Completed.
type Notification interface {
	notification()
}

// TickUpdate reports the remaining time after a countdown tick.
type TickUpdate struct {
	Remaining int
	Urgency   Urgency
}

// Warning reports a tolerated violation.
type Warning struct {
	Ordinal int
	Max     int
	Kind    ViolationKind
}

// Completed reports the terminal outcome of a session.
type Completed struct {
	Reason         model.CompletionReason
	Answers        Snapshot
	ViolationCount int
}

func (TickUpdate) notification() {}
func (Warning) notification()    {}
func (Completed) notification()  {}

type nopNotifier struct{}

func (nopNotifier) Notify(Notification) {}

type nopVisibility struct{}

func (nopVisibility) Subscribe(func(bool)) func() { return func() {} }
