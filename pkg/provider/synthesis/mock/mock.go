// Package mock provides a test double for the synthesis.Provider interface.
//
// Calls are recorded in a single ordered log so tests can assert the
// cancel-then-speak discipline:
//
//	p := &mock.Provider{}
//	_ = p.Cancel(ctx)
//	_ = p.Speak(ctx, synthesis.Utterance{Text: "Hello", Language: "en-US"})
//	// p.Ops() == []string{"cancel", "speak"}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxreader/pkg/provider/synthesis"
)

// Call records a single invocation of Speak or Cancel.
type Call struct {
	// Op is "speak" or "cancel".
	Op string
	// Utterance is the utterance passed to Speak. Zero for cancel calls.
	Utterance synthesis.Utterance
}

// Provider is a mock implementation of synthesis.Provider.
type Provider struct {
	mu sync.Mutex

	// SpeakErr, if non-nil, is returned by every Speak call.
	SpeakErr error

	// CancelErr, if non-nil, is returned by every Cancel call.
	CancelErr error

	// CallLog records every call in order.
	CallLog []Call
}

// Speak records the call and returns SpeakErr.
func (p *Provider) Speak(_ context.Context, u synthesis.Utterance) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallLog = append(p.CallLog, Call{Op: "speak", Utterance: u})
	return p.SpeakErr
}

// Cancel records the call and returns CancelErr.
func (p *Provider) Cancel(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallLog = append(p.CallLog, Call{Op: "cancel"})
	return p.CancelErr
}

// Ops returns the recorded operation names in order.
func (p *Provider) Ops() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ops := make([]string, len(p.CallLog))
	for i, c := range p.CallLog {
		ops[i] = c.Op
	}
	return ops
}

// Spoken returns the utterances passed to Speak, in order.
func (p *Provider) Spoken() []synthesis.Utterance {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []synthesis.Utterance
	for _, c := range p.CallLog {
		if c.Op == "speak" {
			out = append(out, c.Utterance)
		}
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallLog = nil
}

// Ensure Provider implements synthesis.Provider at compile time.
var _ synthesis.Provider = (*Provider)(nil)
