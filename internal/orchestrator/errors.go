package orchestrator

import "errors"

// Sentinel errors for session operations.
var (
	// ErrNoPointsDue indicates a fresh session was requested for a set with
	// nothing due.
	ErrNoPointsDue = errors.New("no recall points due")

	// ErrNoActiveSession indicates an operation that needs a session ran
	// before StartSession.
	ErrNoActiveSession = errors.New("no active session")

	// ErrSessionClosed indicates the session already completed or was
	// abandoned.
	ErrSessionClosed = errors.New("session closed")

	// ErrSessionPaused indicates a conversational input reached a paused
	// session.
	ErrSessionPaused = errors.New("session paused")

	// ErrNoTangent indicates a tangent control with nothing to act on.
	ErrNoTangent = errors.New("no tangent to act on")

	// ErrIncomplete indicates finalize was requested before every target
	// point was resolved.
	ErrIncomplete = errors.New("session has unrecalled points")

	// ErrEmptyMessage indicates a blank learner message.
	ErrEmptyMessage = errors.New("empty message")
)
