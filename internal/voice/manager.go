// Package voice runs the continuous listen → interpret → act loop.
//
// The platform recogniser delivers at most one final result per session, so
// the [Manager] keeps listening by re-opening a session after each result,
// following a short restart delay. The loop moves between three states:
//
//	Idle ──Start──▶ Listening ──result/end──▶ AwaitingRestart ──delay──▶ Listening
//	  ▲                │                              │
//	  └──Stop/error/inactivity──────────────────────────┘
//
// At most one recognition session is open at any time. Every transition out
// of a session bumps a generation counter, so callbacks from a superseded
// session (a late result, a pending restart timer) are dropped.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxreader/internal/command"
	"github.com/MrWong99/voxreader/internal/observe"
	"github.com/MrWong99/voxreader/internal/watchdog"
	"github.com/MrWong99/voxreader/pkg/provider/recognition"
)

const (
	// DefaultRestartDelay is the pause between a session ending and the next
	// one being opened.
	DefaultRestartDelay = 500 * time.Millisecond

	// DefaultScrollStep is the vertical distance of one scroll command.
	DefaultScrollStep = 100

	// DefaultLanguage is the recognition language selected at startup.
	DefaultLanguage = "en-US"
)

// ErrAlreadyActive is returned by [Manager.Start] when the manager is not idle.
var ErrAlreadyActive = errors.New("voice: session already active")

// State is the lifecycle state of the listening loop.
type State int

const (
	// Idle means no session is open and nothing is scheduled.
	Idle State = iota

	// Listening means exactly one recognition session is open.
	Listening

	// AwaitingRestart means the previous session ended and a new one is
	// scheduled after the restart delay.
	AwaitingRestart
)

// String returns the wire name of the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case AwaitingRestart:
		return "awaiting_restart"
	default:
		return "unknown"
	}
}

// Viewport is the scrollable content view driven by scroll commands.
// Implementations must not call back into the [Manager].
type Viewport interface {
	// ScrollBy scrolls the view vertically by dy; positive is down.
	ScrollBy(ctx context.Context, dy int) error
}

// RecognitionError reports a recognition session that could not be started
// or that the platform ended with an error.
type RecognitionError struct {
	// Language is the language the failing session listened in.
	Language string

	// Err is the underlying platform error.
	Err error
}

// Error implements error.
func (e *RecognitionError) Error() string {
	return fmt.Sprintf("voice: recognition failed (%s): %v", e.Language, e.Err)
}

// Unwrap returns the underlying error.
func (e *RecognitionError) Unwrap() error { return e.Err }

// ManagerConfig holds all dependencies for a [Manager].
type ManagerConfig struct {
	// Recognizer opens recognition sessions. Required.
	Recognizer recognition.Provider

	// Viewport receives scroll commands. Required.
	Viewport Viewport

	// Interpreter maps utterances to actions. Defaults to [command.NewTable].
	Interpreter command.Interpreter

	// Language is the initially selected recognition language.
	// Defaults to [DefaultLanguage].
	Language string

	// ScrollStep defaults to [DefaultScrollStep].
	ScrollStep int

	// RestartDelay defaults to [DefaultRestartDelay].
	RestartDelay time.Duration

	// InactivityTimeout defaults to [watchdog.DefaultTimeout].
	InactivityTimeout time.Duration

	// OnError receives asynchronous failures (a session ending in error or a
	// restart that could not open a session). Errors are *RecognitionError.
	OnError func(error)

	// OnStateChange is called after every state transition with the new
	// state and the selected language.
	OnStateChange func(State, string)

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Manager owns the listening loop. All exported methods are safe for
// concurrent use.
type Manager struct {
	mu          sync.Mutex
	state       State
	lang        string
	gen         uint64
	ctx         context.Context
	handle      recognition.SessionHandle
	sessionLang string
	restart     *time.Timer

	// activity is bumped by every accepted result. An inactivity expiry
	// only stops the loop when no result arrived since it was armed.
	activity uint64
	watchdog *watchdog.Watchdog

	recognizer    recognition.Provider
	viewport      Viewport
	interpreter   command.Interpreter
	step          int
	restartDelay  time.Duration
	timeout       time.Duration
	onError       func(error)
	onStateChange func(State, string)
	metrics       *observe.Metrics
}

// NewManager creates an idle Manager.
func NewManager(cfg ManagerConfig) *Manager {
	m := &Manager{
		state:         Idle,
		lang:          cfg.Language,
		watchdog:      watchdog.New(),
		recognizer:    cfg.Recognizer,
		viewport:      cfg.Viewport,
		interpreter:   cfg.Interpreter,
		step:          cfg.ScrollStep,
		restartDelay:  cfg.RestartDelay,
		timeout:       cfg.InactivityTimeout,
		onError:       cfg.OnError,
		onStateChange: cfg.OnStateChange,
		metrics:       cfg.Metrics,
	}
	if m.lang == "" {
		m.lang = DefaultLanguage
	}
	if m.interpreter == nil {
		m.interpreter = command.NewTable()
	}
	if m.step <= 0 {
		m.step = DefaultScrollStep
	}
	if m.restartDelay <= 0 {
		m.restartDelay = DefaultRestartDelay
	}
	if m.timeout <= 0 {
		m.timeout = watchdog.DefaultTimeout
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// Start opens a recognition session in the selected language and arms the
// inactivity watchdog. ctx is kept for the lifetime of the loop and is used
// for every restart and scroll.
//
// Returns [ErrAlreadyActive] unless the manager is idle, or a
// *RecognitionError if the platform could not start listening; the manager
// is idle again in that case.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != Idle {
		m.mu.Unlock()
		return ErrAlreadyActive
	}
	m.gen++
	m.ctx = ctx
	if err := m.openLocked(m.gen); err != nil {
		lang := m.lang
		m.resetLocked()
		m.mu.Unlock()
		m.metrics.RecognitionErrors.Add(ctx, 1)
		return &RecognitionError{Language: lang, Err: err}
	}
	m.armWatchdogLocked()
	lang := m.lang
	m.mu.Unlock()

	slog.Info("voice: listening started", "language", lang)
	m.notify(Listening, lang)
	return nil
}

// Stop closes the open session, cancels any pending restart and disarms the
// watchdog. No session callback takes effect after Stop returns. Stopping an
// idle manager is a no-op.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.state == Idle {
		m.mu.Unlock()
		return
	}
	m.resetLocked()
	lang := m.lang
	m.mu.Unlock()

	slog.Info("voice: listening stopped")
	m.notify(Idle, lang)
}

// SetLanguage selects the recognition language. An open session keeps
// listening and interpreting in the language it was opened with; the new
// language applies from the next session onwards.
func (m *Manager) SetLanguage(code string) {
	m.mu.Lock()
	m.lang = code
	state := m.state
	m.mu.Unlock()

	slog.Debug("voice: language selected", "language", code)
	m.notify(state, code)
}

// Language returns the selected recognition language.
func (m *Manager) Language() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lang
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// openLocked opens a session in the selected language and starts consuming
// it. The caller holds m.mu.
func (m *Manager) openLocked(gen uint64) error {
	h, err := m.recognizer.StartSession(m.ctx, recognition.SessionConfig{
		Language:  m.lang,
		FinalOnly: true,
	})
	if err != nil {
		return err
	}
	m.handle = h
	m.sessionLang = m.lang
	m.state = Listening
	m.metrics.ActiveSessions.Add(m.ctx, 1)
	go m.consume(gen, h, m.sessionLang)
	return nil
}

// closeHandleLocked closes the open session, if any.
func (m *Manager) closeHandleLocked() {
	if m.handle == nil {
		return
	}
	if err := m.handle.Close(); err != nil {
		slog.Debug("voice: close session", "err", err)
	}
	m.handle = nil
	m.metrics.ActiveSessions.Add(m.ctx, -1)
}

// resetLocked returns the manager to Idle and invalidates every outstanding
// callback. The caller holds m.mu.
func (m *Manager) resetLocked() {
	m.gen++
	m.closeHandleLocked()
	if m.restart != nil {
		m.restart.Stop()
		m.restart = nil
	}
	m.watchdog.Cancel()
	m.state = Idle
}

// consume waits for the single result of one session.
func (m *Manager) consume(gen uint64, h recognition.SessionHandle, lang string) {
	res, ok := <-h.Results()
	if !ok {
		if err := h.Err(); err != nil {
			m.fail(gen, lang, err)
			return
		}
		// Ended without speech; keep listening.
		m.mu.Lock()
		m.scheduleRestartLocked(gen)
		state, sel := m.state, m.lang
		current := gen == m.gen
		m.mu.Unlock()
		if current {
			m.notify(state, sel)
		}
		return
	}
	m.handleResult(gen, lang, res)
}

func (m *Manager) handleResult(gen uint64, lang string, res recognition.Result) {
	m.mu.Lock()
	if gen != m.gen || m.state != Listening {
		m.mu.Unlock()
		return
	}
	ctx := m.ctx
	// Before the action runs: an expiry that fires while it is applied
	// must see this result.
	m.activity++

	var transcript string
	if alt, ok := res.Best(); ok {
		transcript = alt.Transcript
	}
	action := m.interpreter.Interpret(lang, command.Normalize(transcript))
	m.metrics.RecordUtterance(ctx, lang)
	m.metrics.RecordCommand(ctx, action.String())
	slog.Debug("voice: utterance", "language", lang, "transcript", transcript, "action", action)

	switch action {
	case command.StopListening:
		m.resetLocked()
		sel := m.lang
		m.mu.Unlock()
		slog.Info("voice: listening stopped by command")
		m.notify(Idle, sel)
		return
	case command.ScrollDown:
		m.scroll(ctx, m.step)
	case command.ScrollUp:
		m.scroll(ctx, -m.step)
	}

	m.armWatchdogLocked()
	m.scheduleRestartLocked(gen)
	state, sel := m.state, m.lang
	m.mu.Unlock()
	m.notify(state, sel)
}

func (m *Manager) scroll(ctx context.Context, dy int) {
	if err := m.viewport.ScrollBy(ctx, dy); err != nil {
		slog.Warn("voice: scroll failed", "dy", dy, "err", err)
	}
}

// scheduleRestartLocked closes the finished session and schedules the next
// one. The caller holds m.mu.
func (m *Manager) scheduleRestartLocked(gen uint64) {
	if gen != m.gen || m.state != Listening {
		return
	}
	m.closeHandleLocked()
	m.state = AwaitingRestart
	m.restart = time.AfterFunc(m.restartDelay, func() { m.restartSession(gen) })
}

func (m *Manager) restartSession(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != AwaitingRestart {
		m.mu.Unlock()
		return
	}
	m.restart = nil
	lang := m.lang
	if err := m.openLocked(gen); err != nil {
		ctx := m.ctx
		m.resetLocked()
		m.mu.Unlock()
		if ctx.Err() != nil {
			slog.Debug("voice: restart abandoned", "err", err)
			m.notify(Idle, lang)
			return
		}
		m.report(ctx, &RecognitionError{Language: lang, Err: err})
		m.notify(Idle, lang)
		return
	}
	m.mu.Unlock()
	m.notify(Listening, lang)
}

func (m *Manager) fail(gen uint64, lang string, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	ctx := m.ctx
	m.resetLocked()
	sel := m.lang
	m.mu.Unlock()

	m.report(ctx, &RecognitionError{Language: lang, Err: err})
	m.notify(Idle, sel)
}

func (m *Manager) report(ctx context.Context, err error) {
	m.metrics.RecognitionErrors.Add(ctx, 1)
	slog.Warn("voice: recognition error", "err", err)
	if m.onError != nil {
		m.onError(err)
	}
}

// armWatchdogLocked restarts the inactivity countdown for the current loop
// and activity. The caller holds m.mu.
func (m *Manager) armWatchdogLocked() {
	gen, act := m.gen, m.activity
	m.watchdog.Arm(m.timeout, func() { m.expire(gen, act) })
}

// expire stops the loop after the inactivity timeout, unless the loop was
// restarted or stopped, or a result was accepted after the countdown began.
func (m *Manager) expire(gen, act uint64) {
	m.mu.Lock()
	if gen != m.gen || act != m.activity || m.state == Idle {
		m.mu.Unlock()
		return
	}
	m.resetLocked()
	lang := m.lang
	m.mu.Unlock()

	slog.Info("voice: no speech detected, stopping")
	m.notify(Idle, lang)
}

func (m *Manager) notify(s State, lang string) {
	if m.onStateChange != nil {
		m.onStateChange(s, lang)
	}
}
