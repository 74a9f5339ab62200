package proctor

import "errors"

var (
	// ErrPresentationModeDenied is returned by Begin and Reengage when the
	// gateway could not engage presentation mode. The session stays in its
	// current phase and the call may be retried.
	ErrPresentationModeDenied = errors.New("presentation mode denied")

	// ErrInvalidReference is returned when a question or option id does not
	// belong to the session's question set.
	ErrInvalidReference = errors.New("invalid question or option reference")

	// ErrOutOfRange is returned by JumpTo for an index outside the question sequence.
	ErrOutOfRange = errors.New("question index out of range")

	// ErrBeginPending is returned when Begin is called while an earlier
	// presentation request is still outstanding.
	ErrBeginPending = errors.New("presentation request already pending")

	// ErrSessionClosed is returned by Begin on a session that was abandoned or
	// has already completed.
	ErrSessionClosed = errors.New("session closed")

	// ErrInvalidParams is returned by NewSession for an unusable question set
	// or time limit.
	ErrInvalidParams = errors.New("invalid session parameters")

	// ErrTimerRunning is returned by Countdown.Start on a timer that was already
	// started or stopped.
	ErrTimerRunning = errors.New("countdown already started or stopped")
)
