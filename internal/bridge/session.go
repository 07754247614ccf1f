package bridge

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/MrWong99/voxreader/pkg/provider/recognition"
)

// StartSession asks the shell to start listening in cfg.Language. Each
// session carries a fresh id so results of a session that already ended on
// this side are recognised and dropped.
//
// StartSession implements [recognition.Provider].
func (b *Bridge) StartSession(ctx context.Context, cfg recognition.SessionConfig) (recognition.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	sh := b.shell
	if sh == nil {
		b.mu.Unlock()
		return nil, ErrNoShell
	}
	s := &session{
		id:      uuid.NewString(),
		bridge:  b,
		shell:   sh,
		results: make(chan recognition.Result, 1),
	}
	prev := b.sess
	b.sess = s
	b.mu.Unlock()

	if prev != nil {
		prev.end(nil)
	}

	err := b.writeTo(sh, recognitionStartOp{
		Type:      opRecognitionStart,
		Session:   s.id,
		Lang:      cfg.Language,
		FinalOnly: cfg.FinalOnly,
	})
	if err != nil {
		b.detach(s)
		s.end(err)
		return nil, err
	}
	slog.Debug("bridge: recognition session started", "session", s.id, "lang", cfg.Language)
	return s, nil
}

// detach forgets s if it is the current session. It reports whether it was.
func (b *Bridge) detach(s *session) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sess != s {
		return false
	}
	b.sess = nil
	return true
}

// current returns the live session with the given id, or nil.
func (b *Bridge) current(id string) *session {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sess == nil || b.sess.id != id {
		return nil
	}
	return b.sess
}

func (b *Bridge) routeResult(ev *event) {
	s := b.current(ev.Session)
	if s == nil {
		slog.Debug("bridge: dropping result of stale session", "session", ev.Session)
		return
	}

	var res recognition.Result
	switch {
	case len(ev.Alternatives) > 0:
		for _, a := range ev.Alternatives {
			res.Alternatives = append(res.Alternatives, recognition.Alternative{
				Transcript: a.Transcript,
				Confidence: a.Confidence,
			})
		}
	default:
		res.Alternatives = []recognition.Alternative{{Transcript: ev.Transcript, Confidence: ev.Confidence}}
	}

	b.detach(s)
	s.deliver(res)
	s.end(nil)
}

func (b *Bridge) routeEnd(id string, err error) {
	s := b.current(id)
	if s == nil {
		return
	}
	b.detach(s)
	s.end(err)
}

// session is one recognition session running in the shell.
type session struct {
	id      string
	bridge  *Bridge
	shell   *shell
	results chan recognition.Result

	mu    sync.Mutex
	ended bool
	err   error
}

var _ recognition.SessionHandle = (*session)(nil)

// Results implements [recognition.SessionHandle].
func (s *session) Results() <-chan recognition.Result { return s.results }

// Err implements [recognition.SessionHandle].
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close asks the shell to stop listening and ends the session without error.
func (s *session) Close() error {
	if s.bridge.detach(s) {
		if err := s.bridge.writeTo(s.shell, recognitionStopOp{Type: opRecognitionStop, Session: s.id}); err != nil {
			slog.Debug("bridge: recognition stop not delivered", "session", s.id, "err", err)
		}
	}
	s.end(nil)
	return nil
}

func (s *session) deliver(r recognition.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	select {
	case s.results <- r:
	default:
	}
}

// end closes Results once, recording err as the reason.
func (s *session) end(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.err = err
	close(s.results)
}
