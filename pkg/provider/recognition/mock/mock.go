// Package mock provides test doubles for the recognition package interfaces.
//
// Use Provider to verify that the caller opens sessions with the expected
// SessionConfig, and use the Session values it hands out to deliver results,
// end sessions, or inject errors.
//
// Example:
//
//	p := &mock.Provider{}
//	h, _ := p.StartSession(ctx, recognition.SessionConfig{Language: "en-US"})
//	p.Last().Deliver("scroll down")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxreader/pkg/provider/recognition"
)

// StartSessionCall records a single invocation of Provider.StartSession.
type StartSessionCall struct {
	// Ctx is the context passed to StartSession.
	Ctx context.Context
	// Cfg is the SessionConfig passed to StartSession.
	Cfg recognition.SessionConfig
}

// Provider is a mock implementation of recognition.Provider. Every successful
// StartSession call creates a fresh Session.
type Provider struct {
	mu sync.Mutex

	// StartSessionErr, if non-nil, is returned as the error from StartSession.
	StartSessionErr error

	// StartSessionCalls records every call to StartSession.
	StartSessionCalls []StartSessionCall

	// Sessions holds every session handed out, in order.
	Sessions []*Session

	// started is signalled (non-blocking) after each successful StartSession.
	started chan struct{}
}

// StartSession records the call and returns a new Session or StartSessionErr.
func (p *Provider) StartSession(ctx context.Context, cfg recognition.SessionConfig) (recognition.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartSessionCalls = append(p.StartSessionCalls, StartSessionCall{Ctx: ctx, Cfg: cfg})
	if p.StartSessionErr != nil {
		return nil, p.StartSessionErr
	}
	s := NewSession()
	p.Sessions = append(p.Sessions, s)
	if p.started != nil {
		select {
		case p.started <- struct{}{}:
		default:
		}
	}
	return s, nil
}

// Started returns a channel that receives a value after every successful
// StartSession call. Callers must request it before the sessions they want to
// observe are started.
func (p *Provider) Started() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started == nil {
		p.started = make(chan struct{}, 16)
	}
	return p.started
}

// SetStartErr sets StartSessionErr under the lock.
func (p *Provider) SetStartErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartSessionErr = err
}

// Last returns the most recently opened session, or nil.
func (p *Provider) Last() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Sessions) == 0 {
		return nil
	}
	return p.Sessions[len(p.Sessions)-1]
}

// SessionCount returns the number of sessions opened so far.
func (p *Provider) SessionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Sessions)
}

// OpenCount returns the number of sessions that have not been closed or
// ended.
func (p *Provider) OpenCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.Sessions {
		if !s.Ended() {
			n++
		}
	}
	return n
}

// Calls returns a copy of the recorded StartSession calls.
func (p *Provider) Calls() []StartSessionCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]StartSessionCall, len(p.StartSessionCalls))
	copy(out, p.StartSessionCalls)
	return out
}

// Reset clears all recorded calls and sessions. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartSessionCalls = nil
	p.Sessions = nil
}

// Ensure Provider implements recognition.Provider at compile time.
var _ recognition.Provider = (*Provider)(nil)

// Session is a mock implementation of recognition.SessionHandle. Its results
// channel is buffered so Deliver never blocks.
type Session struct {
	mu      sync.Mutex
	results chan recognition.Result
	err     error
	ended   bool

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewSession returns an open Session.
func NewSession() *Session {
	return &Session{results: make(chan recognition.Result, 1)}
}

// Results returns the session's result channel.
func (s *Session) Results() <-chan recognition.Result { return s.results }

// Err returns the error the session ended with.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the session without an error.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	s.endLocked(nil)
	return nil
}

// Deliver emits a single-alternative result and ends the session, the way a
// platform recogniser does after a final result. It is a no-op on an ended
// session.
func (s *Session) Deliver(transcript string) {
	s.DeliverResult(recognition.Result{
		Alternatives: []recognition.Alternative{{Transcript: transcript, Confidence: 0.9}},
	})
}

// DeliverResult emits r and ends the session.
func (s *Session) DeliverResult(r recognition.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.results <- r
	s.endLocked(nil)
}

// End ends the session with err (nil for a normal end without a result).
func (s *Session) End(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLocked(err)
}

// Ended reports whether the session has ended or been closed.
func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Closes returns CloseCallCount under the lock.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}

func (s *Session) endLocked(err error) {
	if s.ended {
		return
	}
	s.ended = true
	s.err = err
	close(s.results)
}

// Ensure Session implements recognition.SessionHandle at compile time.
var _ recognition.SessionHandle = (*Session)(nil)
