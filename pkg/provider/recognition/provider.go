// Package recognition defines the Provider interface for speech-recognition
// capabilities.
//
// A recognition provider wraps a platform recogniser (for example the Web
// Speech API of a browser shell connected over the bridge) and exposes a
// uniform session-oriented interface. The central abstraction is
// SessionHandle: once opened, a session listens in a single language and
// delivers at most one final Result before it ends. Callers that want to keep
// listening must open a new session after each result.
//
// Implementations must be safe for concurrent use.
package recognition

import (
	"context"
	"errors"
)

// ErrClosed is returned by providers when a session is requested on a
// provider that has been shut down or has no platform attached.
var ErrClosed = errors.New("recognition: provider closed")

// SessionConfig describes how a new recognition session should listen.
type SessionConfig struct {
	// Language is the BCP-47 language tag for recognition (e.g., "en-US",
	// "hi-IN"). It also selects the command vocabulary used to interpret the
	// session's result.
	Language string

	// FinalOnly requests that only finalised results are delivered. Interim
	// hypotheses are never surfaced when this is set.
	FinalOnly bool
}

// Alternative is a single transcript hypothesis for an utterance.
type Alternative struct {
	// Transcript is the recognised text as reported by the platform.
	Transcript string

	// Confidence is the platform's confidence score (0.0–1.0). May be zero if
	// the platform does not report confidence.
	Confidence float64
}

// Result is one finalised recognition result. Alternatives are ordered from
// most to least likely.
type Result struct {
	Alternatives []Alternative
}

// Best returns the top alternative. ok is false when the result carries no
// alternatives.
func (r Result) Best() (alt Alternative, ok bool) {
	if len(r.Alternatives) == 0 {
		return Alternative{}, false
	}
	return r.Alternatives[0], true
}

// SessionHandle represents one open recognition session.
//
// Results emits at most one Result and is closed when the session ends for
// any reason: after the result, when the platform reports the end of the
// session, when the platform reports an error, or after Close. Err reports
// the error that ended the session, if any, and is only meaningful once
// Results has been closed.
type SessionHandle interface {
	// Results returns the channel the session's result is delivered on.
	Results() <-chan Result

	// Err returns the error that terminated the session, or nil if it ended
	// normally or was closed by the caller.
	Err() error

	// Close stops listening and releases the session. Calling Close more than
	// once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any recognition backend.
type Provider interface {
	// StartSession opens a new recognition session configured by cfg. The
	// returned handle is already listening.
	//
	// Returns an error if the platform cannot start listening (e.g., no shell
	// attached, microphone permission denied, or ctx already cancelled).
	StartSession(ctx context.Context, cfg SessionConfig) (SessionHandle, error)
}
