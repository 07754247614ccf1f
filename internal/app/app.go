// Package app ties the reader's subsystems into one controller.
//
// [App] owns the rendered document, the voice session manager, the content
// augmenter and the translation popup. A platform (the browser shell
// behind the bridge, or test doubles) supplies speech recognition, speech
// synthesis and the scrollable viewport; a [Listener] is told whenever
// something the user sees has changed.
//
// For testing, inject doubles via functional options (WithFetcher,
// WithTranslator, ...). When an option is not provided, New builds the real
// HTTP clients from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/voxreader/internal/augment"
	"github.com/MrWong99/voxreader/internal/command"
	"github.com/MrWong99/voxreader/internal/config"
	"github.com/MrWong99/voxreader/internal/content"
	"github.com/MrWong99/voxreader/internal/dom"
	"github.com/MrWong99/voxreader/internal/observe"
	"github.com/MrWong99/voxreader/internal/translation"
	"github.com/MrWong99/voxreader/internal/voice"
	"github.com/MrWong99/voxreader/pkg/provider/recognition"
	"github.com/MrWong99/voxreader/pkg/provider/synthesis"
)

// ErrUnknownControl is returned by [App.Activate] for an identifier that is
// not part of the current document.
var ErrUnknownControl = errors.New("app: unknown control")

// Platform holds the capabilities supplied by the environment the reader
// runs in. All fields are required.
type Platform struct {
	Recognizer recognition.Provider
	Synth      synthesis.Provider
	Viewport   voice.Viewport
}

// Listener is notified about user-visible changes. Calls may arrive from
// any goroutine and must not block for long.
type Listener interface {
	// ContentChanged is called after the document was replaced and
	// augmented.
	ContentChanged(markup, summary string)

	// PopupChanged is called whenever the translation popup changes.
	PopupChanged(state translation.PopupState)

	// StateChanged is called after every voice state transition and
	// language change.
	StateChanged(state voice.State, language string)

	// Error receives asynchronous failures, currently always
	// *voice.RecognitionError.
	Error(err error)
}

// Snapshot is the user-visible state at one point in time.
type Snapshot struct {
	SourceURL string
	HTML      string
	Summary   string
	Popup     translation.PopupState
	State     voice.State
	Language  string
}

// Option is a functional option for New.
type Option func(*App)

// WithFetcher replaces the backend content client.
func WithFetcher(f content.Fetcher) Option {
	return func(a *App) { a.fetcher = f }
}

// WithTranslator replaces the backend translation client.
func WithTranslator(t translation.Translator) Option {
	return func(a *App) { a.translator = t }
}

// WithInterpreter replaces the command table. Vocabulary from the config and
// [App.AddVocabulary] only apply to the built-in table.
func WithInterpreter(i command.Interpreter) Option {
	return func(a *App) { a.interpreter = i }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithListener sets the change listener.
func WithListener(l Listener) Option {
	return func(a *App) { a.listener = l }
}

// App is the reader controller. All exported methods are safe for
// concurrent use.
type App struct {
	platform    Platform
	fetcher     content.Fetcher
	translator  translation.Translator
	interpreter command.Interpreter
	table       *command.Table
	metrics     *observe.Metrics
	listener    Listener

	popup     *translation.Popup
	gateway   *translation.Gateway
	augmenter *augment.Augmenter
	voice     *voice.Manager

	mu        sync.Mutex
	doc       *dom.Document
	summary   string
	sourceURL string
	submitSeq uint64

	stopOnce sync.Once
}

// New builds an App from cfg. It does not start listening.
func New(cfg *config.Config, platform Platform, opts ...Option) (*App, error) {
	if platform.Recognizer == nil || platform.Synth == nil || platform.Viewport == nil {
		return nil, errors.New("app: platform requires a recognizer, a synthesizer and a viewport")
	}

	a := &App{platform: platform}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.listener == nil {
		a.listener = nopListener{}
	}
	if err := a.initClients(cfg); err != nil {
		return nil, err
	}
	if a.interpreter == nil {
		a.table = command.NewTable(command.WithFuzzy(cfg.Client.FuzzyThreshold))
		a.interpreter = a.table
		a.AddVocabulary(cfg.Client.Vocabulary)
	}

	a.popup = &translation.Popup{}
	a.popup.OnChange(func(s translation.PopupState) { a.listener.PopupChanged(s) })
	a.gateway = translation.NewGateway(a.translator, a.popup, a.metrics)

	a.augmenter = augment.New(augment.Config{
		Synth:             platform.Synth,
		Translator:        a.gateway,
		TranslateEnabled:  cfg.Client.TranslationEnabled(),
		SynthesisLanguage: cfg.Client.SynthesisLanguage,
		Metrics:           a.metrics,
	})

	a.voice = voice.NewManager(voice.ManagerConfig{
		Recognizer:        platform.Recognizer,
		Viewport:          platform.Viewport,
		Interpreter:       a.interpreter,
		Language:          cfg.Client.DefaultLanguage,
		ScrollStep:        cfg.Client.ScrollStep,
		RestartDelay:      cfg.Client.RestartDelay,
		InactivityTimeout: cfg.Client.InactivityTimeout,
		OnError:           func(err error) { a.listener.Error(err) },
		OnStateChange:     func(s voice.State, lang string) { a.listener.StateChanged(s, lang) },
		Metrics:           a.metrics,
	})
	return a, nil
}

func (a *App) initClients(cfg *config.Config) error {
	if a.fetcher != nil && a.translator != nil {
		return nil
	}
	client, err := content.NewClient(cfg.Client.BackendURL, content.WithMetrics(a.metrics))
	if err != nil {
		return fmt.Errorf("app: content client: %w", err)
	}
	if a.fetcher == nil {
		a.fetcher = client
	}
	if a.translator == nil {
		tc, err := translation.NewClient(client.BaseURL(), client.HTTPClient())
		if err != nil {
			return fmt.Errorf("app: translation client: %w", err)
		}
		a.translator = tc
	}
	return nil
}

// AddVocabulary registers extra command phrases. Phrases are appended after
// the existing entries of their language, so built-in phrases keep
// precedence. It is a no-op when a custom interpreter was injected.
func (a *App) AddVocabulary(vocab []config.LanguageVocabulary) {
	if a.table == nil {
		return
	}
	for _, v := range vocab {
		entries := make([]command.Entry, 0, len(v.Commands))
		for _, c := range v.Commands {
			entries = append(entries, command.Entry{Phrase: c.Phrase, Action: commandAction(c.Action)})
		}
		a.table.Register(v.Language, entries...)
		slog.Info("app: vocabulary registered", "language", v.Language, "phrases", len(entries))
	}
}

func commandAction(a config.CommandAction) command.Action {
	switch a {
	case config.ActionScrollUp:
		return command.ScrollUp
	case config.ActionScrollDown:
		return command.ScrollDown
	case config.ActionStopListening:
		return command.StopListening
	}
	return command.None
}

// SubmitURL fetches url through the backend and replaces the displayed
// content wholesale. On failure the previous content stays in place and the
// error is returned. If a newer submission has started meanwhile, the
// older result is discarded.
func (a *App) SubmitURL(ctx context.Context, url string) error {
	log := observe.Logger(ctx)

	a.mu.Lock()
	a.submitSeq++
	seq := a.submitSeq
	a.mu.Unlock()

	fetched, err := a.fetcher.Fetch(ctx, url)
	if err != nil {
		log.Warn("app: fetch failed; keeping current content", "url", url, "err", err)
		return err
	}
	doc, err := dom.Parse(fetched.BodyMarkup)
	if err != nil {
		log.Warn("app: parse failed; keeping current content", "url", url, "err", err)
		return fmt.Errorf("app: parse %q: %w", url, err)
	}

	a.mu.Lock()
	if seq != a.submitSeq {
		a.mu.Unlock()
		log.Debug("app: discarding superseded fetch", "url", url)
		return nil
	}
	a.doc = doc
	a.summary = fetched.Summary
	a.sourceURL = url
	a.mu.Unlock()

	a.popup.Hide()

	stats, err := a.augmenter.Augment(doc)
	switch {
	case errors.Is(err, augment.ErrNoContent):
		log.Debug("app: fetched document is empty", "url", url)
	case err != nil:
		return fmt.Errorf("app: augment: %w", err)
	}

	markup, err := doc.HTML()
	if err != nil {
		return fmt.Errorf("app: render: %w", err)
	}
	log.Info("app: content replaced", "url", url, "augmented", stats.Augmented, "summary", fetched.Summary != "")
	a.listener.ContentChanged(markup, fetched.Summary)
	return nil
}

// ToggleListening starts listening when idle and stops it otherwise. ctx
// must outlive the listening loop; see [voice.Manager.Start].
func (a *App) ToggleListening(ctx context.Context) error {
	if a.voice.State() == voice.Idle {
		return a.StartListening(ctx)
	}
	a.StopListening()
	return nil
}

// StartListening starts the voice loop.
func (a *App) StartListening(ctx context.Context) error {
	return a.voice.Start(ctx)
}

// StopListening stops the voice loop. It is a no-op when idle.
func (a *App) StopListening() {
	a.voice.Stop()
}

// SetLanguage selects the recognition language.
func (a *App) SetLanguage(code string) {
	a.voice.SetLanguage(code)
}

// Languages returns the languages with a command vocabulary, or nil when a
// custom interpreter is in use.
func (a *App) Languages() []string {
	if a.table == nil {
		return nil
	}
	return a.table.Languages()
}

// Activate dispatches an activation of the control identified by
// controlID. input carries the user's answer to the control's prompt, if
// any; for translate controls it is the target language code.
func (a *App) Activate(ctx context.Context, controlID, input string) (dom.Event, error) {
	a.mu.Lock()
	doc := a.doc
	a.mu.Unlock()
	if doc == nil {
		return dom.Event{}, augment.ErrNoContent
	}
	n := doc.NodeByAttr(augment.ControlAttr, controlID)
	if n == nil {
		return dom.Event{}, fmt.Errorf("%w: %q", ErrUnknownControl, controlID)
	}
	return doc.Click(ctx, n, input)
}

// ClosePopup hides the translation popup.
func (a *App) ClosePopup() {
	a.popup.Hide()
}

// Snapshot returns the current user-visible state.
func (a *App) Snapshot() (Snapshot, error) {
	a.mu.Lock()
	doc, summary, src := a.doc, a.summary, a.sourceURL
	a.mu.Unlock()

	s := Snapshot{
		SourceURL: src,
		Summary:   summary,
		Popup:     a.popup.Snapshot(),
		State:     a.voice.State(),
		Language:  a.voice.Language(),
	}
	if doc != nil {
		markup, err := doc.HTML()
		if err != nil {
			return Snapshot{}, fmt.Errorf("app: render: %w", err)
		}
		s.HTML = markup
	}
	return s, nil
}

// Shutdown stops listening and cancels any playback. Safe to call more
// than once.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		a.voice.Stop()
		if cerr := a.platform.Synth.Cancel(ctx); cerr != nil {
			err = fmt.Errorf("app: cancel synthesis: %w", cerr)
		}
		slog.Info("app: shut down")
	})
	return err
}

type nopListener struct{}

func (nopListener) ContentChanged(string, string) {}
func (nopListener) PopupChanged(translation.PopupState) {}
func (nopListener) StateChanged(voice.State, string) {}
func (nopListener) Error(error) {}
