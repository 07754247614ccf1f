// Package synthesis defines the Provider interface for speech-synthesis
// capabilities.
//
// The synthesis output is a process-wide exclusive resource: only one
// utterance plays at a time. Callers that start a new utterance are expected
// to Cancel the in-flight one first ("cancel then speak").
package synthesis

import "context"

// DefaultLanguage is the language used for read-aloud playback. Playback does
// not follow the recognition language.
const DefaultLanguage = "en-US"

// Utterance is a single piece of text to be spoken.
type Utterance struct {
	// Text is the plain text to speak.
	Text string

	// Language is the BCP-47 tag of the voice to use.
	Language string
}

// Provider is the abstraction over any speech-synthesis backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Speak queues u for playback and returns once the platform accepted it.
	// It does not wait for playback to finish.
	Speak(ctx context.Context, u Utterance) error

	// Cancel stops the in-flight utterance and discards anything queued.
	// Cancelling with nothing playing is a no-op.
	Cancel(ctx context.Context) error
}
