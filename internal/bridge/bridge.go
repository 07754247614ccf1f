// Package bridge connects the reader controller to a browser shell over a
// WebSocket.
//
// The shell is the platform: it owns the microphone, the speech synthesizer
// and the scrollable page. [Bridge] therefore implements
// [recognition.Provider], [synthesis.Provider] and [voice.Viewport] by
// sending operations to the shell, and [app.Listener] by pushing rendered
// markup, popup and state changes. Events coming back from the shell
// (recognition results, URL submissions, control activations) are routed to
// the bound [Controller].
//
// One shell is active at a time. A new connection replaces the previous
// one; recognition sessions opened through the old shell end with
// [ErrShellGone].
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/voxreader/internal/app"
	"github.com/MrWong99/voxreader/internal/dom"
	"github.com/MrWong99/voxreader/internal/observe"
	"github.com/MrWong99/voxreader/internal/translation"
	"github.com/MrWong99/voxreader/internal/voice"
	"github.com/MrWong99/voxreader/pkg/provider/recognition"
	"github.com/MrWong99/voxreader/pkg/provider/synthesis"
)

// DefaultWriteTimeout bounds a single frame write.
const DefaultWriteTimeout = 5 * time.Second

var (
	// ErrNoShell is returned by platform calls while no shell is connected.
	ErrNoShell = errors.New("bridge: no shell connected")

	// ErrShellGone ends recognition sessions whose shell disconnected or was
	// replaced.
	ErrShellGone = errors.New("bridge: shell disconnected")
)

// Controller is the part of the reader the shell drives. [*app.App]
// satisfies it.
type Controller interface {
	SubmitURL(ctx context.Context, url string) error
	ToggleListening(ctx context.Context) error
	StopListening()
	SetLanguage(code string)
	Activate(ctx context.Context, controlID, input string) (dom.Event, error)
	ClosePopup()
	Snapshot() (app.Snapshot, error)
	Languages() []string
}

// Option configures a [Bridge].
type Option func(*Bridge)

// WithOriginPatterns allows cross-origin shells whose Origin host matches
// one of patterns (see [websocket.AcceptOptions]).
func WithOriginPatterns(patterns ...string) Option {
	return func(b *Bridge) { b.origins = patterns }
}

// WithWriteTimeout overrides [DefaultWriteTimeout].
func WithWriteTimeout(d time.Duration) Option {
	return func(b *Bridge) { b.writeTimeout = d }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// Bridge is the WebSocket endpoint for the browser shell. Mount it at
// GET /bridge.
type Bridge struct {
	origins      []string
	writeTimeout time.Duration
	metrics      *observe.Metrics

	mu    sync.Mutex
	ctrl  Controller
	shell *shell
	sess  *session
}

// Compile-time interface assertions.
var (
	_ recognition.Provider = (*Bridge)(nil)
	_ synthesis.Provider   = (*Bridge)(nil)
	_ voice.Viewport       = (*Bridge)(nil)
	_ app.Listener         = (*Bridge)(nil)
	_ Controller           = (*app.App)(nil)
)

// New returns a Bridge with no controller bound.
func New(opts ...Option) *Bridge {
	b := &Bridge{writeTimeout: DefaultWriteTimeout}
	for _, o := range opts {
		o(b)
	}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}
	return b
}

// Bind sets the controller that receives shell events. The controller is
// usually built with the Bridge as its platform, hence the two-step setup.
func (b *Bridge) Bind(c Controller) {
	b.mu.Lock()
	b.ctrl = c
	b.mu.Unlock()
}

// Connected reports whether a shell is attached.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.shell != nil
}

// Close disconnects the current shell, if any, with StatusGoingAway.
// Hijacked connections are not closed by [http.Server.Shutdown].
func (b *Bridge) Close() error {
	b.mu.Lock()
	sh := b.shell
	b.mu.Unlock()
	if sh == nil {
		return nil
	}
	return sh.conn.Close(websocket.StatusGoingAway, "server shutting down")
}

// shell is one accepted connection.
type shell struct {
	id     string
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ServeHTTP upgrades the request and serves the shell until it disconnects.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: b.origins})
	if err != nil {
		observe.Logger(r.Context()).Warn("bridge: upgrade failed", "err", err)
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	sh := &shell{id: uuid.NewString(), conn: conn, ctx: ctx, cancel: cancel}
	log := slog.With("shell", sh.id)

	b.mu.Lock()
	old := b.shell
	b.shell = sh
	b.mu.Unlock()
	if old != nil {
		log.Info("bridge: replacing connected shell", "previous", old.id)
		old.conn.Close(websocket.StatusPolicyViolation, "replaced by a newer shell")
	}

	b.metrics.BridgeConnections.Add(ctx, 1)
	log.Info("bridge: shell connected", "remote", r.RemoteAddr)

	b.greet(sh)
	err = b.readLoop(sh)
	b.disconnect(sh)

	b.metrics.BridgeConnections.Add(context.Background(), -1)
	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || status == websocket.StatusPolicyViolation {
		log.Info("bridge: shell disconnected", "status", status.String())
	} else {
		log.Warn("bridge: shell connection lost", "err", err)
	}
}

// greet sends the initial state so a fresh shell can render immediately.
func (b *Bridge) greet(sh *shell) {
	ctrl := b.controller()
	if ctrl == nil {
		_ = b.writeTo(sh, readyOp{Type: opReady, State: voice.Idle.String()})
		return
	}
	snap, err := ctrl.Snapshot()
	if err != nil {
		slog.Warn("bridge: snapshot failed", "shell", sh.id, "err", err)
	}
	_ = b.writeTo(sh, readyOp{
		Type:      opReady,
		Languages: ctrl.Languages(),
		State:     snap.State.String(),
		Lang:      snap.Language,
	})
	_ = b.writeTo(sh, renderOp{Type: opRender, HTML: snap.HTML, Summary: snap.Summary})
	_ = b.writeTo(sh, popupOp{Type: opPopup, PopupState: snap.Popup})
}

func (b *Bridge) readLoop(sh *shell) error {
	for {
		_, data, err := sh.conn.Read(sh.ctx)
		if err != nil {
			return err
		}
		var ev event
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Debug("bridge: dropping malformed frame", "shell", sh.id, "err", err)
			continue
		}
		b.dispatch(sh, &ev)
	}
}

// disconnect detaches sh and ends everything that depended on it.
func (b *Bridge) disconnect(sh *shell) {
	b.mu.Lock()
	current := b.shell == sh
	if current {
		b.shell = nil
	}
	var orphan *session
	if b.sess != nil && b.sess.shell == sh {
		orphan = b.sess
		b.sess = nil
	}
	ctrl := b.ctrl
	b.mu.Unlock()

	if orphan != nil {
		orphan.end(ErrShellGone)
	}
	if current && ctrl != nil {
		ctrl.StopListening()
	}
	sh.cancel()
	sh.wg.Wait()
	sh.conn.Close(websocket.StatusNormalClosure, "")
}

func (b *Bridge) controller() Controller {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ctrl
}

func (b *Bridge) dispatch(sh *shell, ev *event) {
	switch ev.Type {
	case evRecognitionResult:
		b.routeResult(ev)
		return
	case evRecognitionError:
		msg := ev.Message
		if msg == "" {
			msg = "unknown"
		}
		b.routeEnd(ev.Session, fmt.Errorf("bridge: recognition error: %s", msg))
		return
	case evRecognitionEnd:
		b.routeEnd(ev.Session, nil)
		return
	}

	ctrl := b.controller()
	if ctrl == nil {
		slog.Debug("bridge: no controller bound; dropping event", "type", ev.Type)
		return
	}
	switch ev.Type {
	case evSubmit:
		b.async(sh, func(ctx context.Context) error { return ctrl.SubmitURL(ctx, ev.URL) })
	case evToggle:
		if err := ctrl.ToggleListening(sh.ctx); err != nil {
			b.reportTo(sh, err)
		}
	case evLanguage:
		if ev.Code == "" {
			slog.Debug("bridge: ignoring empty language selection", "shell", sh.id)
			return
		}
		ctrl.SetLanguage(ev.Code)
	case evActivate:
		b.async(sh, func(ctx context.Context) error {
			_, err := ctrl.Activate(ctx, ev.Control, ev.Input)
			return err
		})
	case evPopupClose:
		ctrl.ClosePopup()
	default:
		slog.Debug("bridge: unknown event", "type", ev.Type, "shell", sh.id)
	}
}

// async runs fn off the read loop so slow fetches and translations do not
// delay recognition events. Failures are reported to the shell.
func (b *Bridge) async(sh *shell, fn func(context.Context) error) {
	sh.wg.Add(1)
	go func() {
		defer sh.wg.Done()
		if err := fn(sh.ctx); err != nil && sh.ctx.Err() == nil {
			b.reportTo(sh, err)
		}
	}()
}

func (b *Bridge) reportTo(sh *shell, err error) {
	slog.Warn("bridge: action failed", "shell", sh.id, "err", err)
	_ = b.writeTo(sh, errorOp{Type: opError, Message: err.Error()})
}

// send writes v to the current shell.
func (b *Bridge) send(v any) error {
	b.mu.Lock()
	sh := b.shell
	b.mu.Unlock()
	if sh == nil {
		return ErrNoShell
	}
	return b.writeTo(sh, v)
}

func (b *Bridge) writeTo(sh *shell, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("bridge: marshal: %w", err)
	}
	ctx, cancel := context.WithTimeout(sh.ctx, b.writeTimeout)
	defer cancel()
	if err := sh.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("bridge: write: %w", err)
	}
	return nil
}

// --- synthesis.Provider ---

// Speak asks the shell to read u aloud.
func (b *Bridge) Speak(_ context.Context, u synthesis.Utterance) error {
	return b.send(speakOp{Type: opSpeak, Text: u.Text, Lang: u.Language})
}

// Cancel asks the shell to stop any playback.
func (b *Bridge) Cancel(_ context.Context) error {
	return b.send(simpleOp{Type: opCancel})
}

// --- voice.Viewport ---

// ScrollBy asks the shell to scroll its viewport by dy pixels.
func (b *Bridge) ScrollBy(_ context.Context, dy int) error {
	return b.send(scrollOp{Type: opScroll, DY: dy})
}

// --- app.Listener ---

// ContentChanged pushes the new document.
func (b *Bridge) ContentChanged(markup, summary string) {
	b.push(renderOp{Type: opRender, HTML: markup, Summary: summary})
}

// PopupChanged pushes the popup state.
func (b *Bridge) PopupChanged(s translation.PopupState) {
	b.push(popupOp{Type: opPopup, PopupState: s})
}

// StateChanged pushes the listening state.
func (b *Bridge) StateChanged(s voice.State, lang string) {
	b.push(stateOp{Type: opState, State: s.String(), Lang: lang})
}

// Error pushes an asynchronous failure.
func (b *Bridge) Error(err error) {
	b.push(errorOp{Type: opError, Message: err.Error()})
}

func (b *Bridge) push(v any) {
	if err := b.send(v); err != nil && !errors.Is(err, ErrNoShell) {
		slog.Debug("bridge: push failed", "err", err)
	}
}
