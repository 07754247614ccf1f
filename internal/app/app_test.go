package app_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/voxreader/internal/app"
	"github.com/MrWong99/voxreader/internal/augment"
	"github.com/MrWong99/voxreader/internal/config"
	"github.com/MrWong99/voxreader/internal/content"
	"github.com/MrWong99/voxreader/internal/dom"
	"github.com/MrWong99/voxreader/internal/observe"
	"github.com/MrWong99/voxreader/internal/translation"
	"github.com/MrWong99/voxreader/internal/voice"
	recmock "github.com/MrWong99/voxreader/pkg/provider/recognition/mock"
	synthmock "github.com/MrWong99/voxreader/pkg/provider/synthesis/mock"
)

// fakeFetcher serves documents by URL.
type fakeFetcher struct {
	mu   sync.Mutex
	docs map[string]*content.Document
	errs map[string]error
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (*content.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[url]; err != nil {
		return nil, err
	}
	d, ok := f.docs[url]
	if !ok {
		return nil, &content.NetworkError{Op: "fetch", URL: url, StatusCode: 502, Err: errors.New("not found")}
	}
	return d, nil
}

// fakeTranslator answers "नमस्ते" for Hindi and echoes otherwise.
type fakeTranslator struct {
	mu    sync.Mutex
	calls []string
}

func (t *fakeTranslator) Translate(_ context.Context, text, target string) (string, error) {
	t.mu.Lock()
	t.calls = append(t.calls, text+"→"+target)
	t.mu.Unlock()
	if target == "hi" {
		return "नमस्ते", nil
	}
	if target == "xx" {
		return "", errors.New("unsupported language")
	}
	return text, nil
}

type fakeViewport struct {
	mu     sync.Mutex
	deltas []int
}

func (v *fakeViewport) ScrollBy(_ context.Context, dy int) error {
	v.mu.Lock()
	v.deltas = append(v.deltas, dy)
	v.mu.Unlock()
	return nil
}

func (v *fakeViewport) Deltas() []int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]int(nil), v.deltas...)
}

// recorder is a Listener that keeps everything it is told.
type recorder struct {
	mu     sync.Mutex
	markup []string
	popups []translation.PopupState
	states []voice.State
	langs  []string
	errs   []error
}

func (r *recorder) ContentChanged(markup, _ string) {
	r.mu.Lock()
	r.markup = append(r.markup, markup)
	r.mu.Unlock()
}

func (r *recorder) PopupChanged(s translation.PopupState) {
	r.mu.Lock()
	r.popups = append(r.popups, s)
	r.mu.Unlock()
}

func (r *recorder) StateChanged(s voice.State, lang string) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.langs = append(r.langs, lang)
	r.mu.Unlock()
}

func (r *recorder) Error(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *recorder) lastMarkup() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.markup) == 0 {
		return ""
	}
	return r.markup[len(r.markup)-1]
}

func (r *recorder) lastState() (voice.State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return voice.Idle, false
	}
	return r.states[len(r.states)-1], true
}

type harness struct {
	app     *app.App
	fetcher *fakeFetcher
	trans   *fakeTranslator
	rec     *recmock.Provider
	synth   *synthmock.Provider
	view    *fakeViewport
	events  *recorder
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	met, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	cfg := config.Default()
	cfg.Client.RestartDelay = 10 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}

	h := &harness{
		fetcher: &fakeFetcher{docs: map[string]*content.Document{
			"https://example.com/hello": {SourceURL: "https://example.com/hello", BodyMarkup: "<p>Hello</p>", Summary: "A greeting."},
			"https://example.com/links": {BodyMarkup: `<p>See <a href="https://elsewhere.example/">this</a></p><img src="https://example.com/cat.png">`},
			"https://example.com/empty": {BodyMarkup: ""},
		}},
		trans:  &fakeTranslator{},
		rec:    &recmock.Provider{},
		synth:  &synthmock.Provider{},
		view:   &fakeViewport{},
		events: &recorder{},
	}
	h.app, err = app.New(cfg,
		app.Platform{Recognizer: h.rec, Synth: h.synth, Viewport: h.view},
		app.WithFetcher(h.fetcher),
		app.WithTranslator(h.trans),
		app.WithMetrics(met),
		app.WithListener(h.events),
	)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(func() { _ = h.app.Shutdown(context.Background()) })
	return h
}

// controlID returns the activation identifier of the i-th element matching
// selector in markup.
func controlID(t *testing.T, markup, selector string, i int) string {
	t.Helper()
	doc, err := dom.Parse(markup)
	if err != nil {
		t.Fatalf("dom.Parse: %v", err)
	}
	nodes := doc.Find(selector)
	if len(nodes) <= i {
		t.Fatalf("%q matched %d nodes in %s", selector, len(nodes), markup)
	}
	id, ok := doc.Attr(nodes[i], augment.ControlAttr)
	if !ok {
		t.Fatalf("%q[%d] has no %s", selector, i, augment.ControlAttr)
	}
	return id
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNew_RequiresPlatform(t *testing.T) {
	t.Parallel()
	_, err := app.New(config.Default(), app.Platform{Synth: &synthmock.Provider{}})
	if err == nil {
		t.Fatal("expected error for incomplete platform")
	}
}

func TestSubmitURL_RendersControls(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	if err := h.app.SubmitURL(ctx, "https://example.com/hello"); err != nil {
		t.Fatalf("SubmitURL: %v", err)
	}
	markup := h.events.lastMarkup()
	if n := strings.Count(markup, `class="speaker"`); n != 1 {
		t.Errorf("speak controls = %d, want 1\n%s", n, markup)
	}
	if n := strings.Count(markup, `class="translate"`); n != 1 {
		t.Errorf("translate controls = %d, want 1\n%s", n, markup)
	}

	snap, err := h.app.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Summary != "A greeting." || snap.SourceURL != "https://example.com/hello" {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.HTML != markup {
		t.Error("snapshot HTML differs from the pushed markup")
	}
}

func TestTranslateControl_ShowsPopup(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	if err := h.app.SubmitURL(ctx, "https://example.com/hello"); err != nil {
		t.Fatalf("SubmitURL: %v", err)
	}
	markup := h.events.lastMarkup()
	id := controlID(t, markup, "button.translate", 0)

	if _, err := h.app.Activate(ctx, id, "hi"); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	snap, _ := h.app.Snapshot()
	if !snap.Popup.Visible || snap.Popup.Content != "नमस्ते" {
		t.Fatalf("popup = %+v, want visible नमस्ते", snap.Popup)
	}
	doc, _ := dom.Parse(markup)
	p := doc.Find("p")[0]
	if anchor, _ := doc.Attr(p, augment.AnchorAttr); snap.Popup.Anchor != anchor {
		t.Errorf("popup anchor = %q, want the paragraph's %q", snap.Popup.Anchor, anchor)
	}

	h.app.ClosePopup()
	if snap, _ := h.app.Snapshot(); snap.Popup.Visible {
		t.Error("popup still visible after ClosePopup")
	}

	h.events.mu.Lock()
	defer h.events.mu.Unlock()
	if len(h.events.popups) < 2 || !h.events.popups[len(h.events.popups)-2].Visible {
		t.Errorf("popup notifications = %+v", h.events.popups)
	}
}

func TestTranslateControl_Failures(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	if err := h.app.SubmitURL(ctx, "https://example.com/hello"); err != nil {
		t.Fatalf("SubmitURL: %v", err)
	}
	id := controlID(t, h.events.lastMarkup(), "button.translate", 0)

	if _, err := h.app.Activate(ctx, id, ""); err != nil {
		t.Errorf("dismissed prompt: err = %v, want nil", err)
	}
	_, err := h.app.Activate(ctx, id, "xx")
	var terr *translation.TranslationError
	if !errors.As(err, &terr) {
		t.Fatalf("err = %v, want *TranslationError", err)
	}
	if snap, _ := h.app.Snapshot(); snap.Popup.Visible {
		t.Error("popup shown after failures")
	}
}

func TestSpeakControl(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	if err := h.app.SubmitURL(ctx, "https://example.com/hello"); err != nil {
		t.Fatalf("SubmitURL: %v", err)
	}
	id := controlID(t, h.events.lastMarkup(), "button.speaker", 0)

	if _, err := h.app.Activate(ctx, id, ""); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	ops := h.synth.Ops()
	if len(ops) != 2 || ops[0] != "cancel" || ops[1] != "speak" {
		t.Fatalf("synth ops = %v, want [cancel speak]", ops)
	}
	u := h.synth.Spoken()[0]
	if u.Text != "Hello" || u.Language != "en-US" {
		t.Errorf("utterance = %+v", u)
	}
}

func TestActivate_LinksAndErrors(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.app.Activate(ctx, "anything", ""); !errors.Is(err, augment.ErrNoContent) {
		t.Errorf("before content: err = %v, want ErrNoContent", err)
	}

	if err := h.app.SubmitURL(ctx, "https://example.com/links"); err != nil {
		t.Fatalf("SubmitURL: %v", err)
	}
	markup := h.events.lastMarkup()

	ev, err := h.app.Activate(ctx, controlID(t, markup, "a", 0), "")
	if err != nil || !ev.DefaultPrevented {
		t.Errorf("anchor: ev=%+v err=%v, want navigation prevented", ev, err)
	}
	ev, err = h.app.Activate(ctx, controlID(t, markup, "img", 0), "")
	if err != nil || ev.DefaultPrevented {
		t.Errorf("image: ev=%+v err=%v, want logged only", ev, err)
	}
	if _, err := h.app.Activate(ctx, "no-such-control", ""); !errors.Is(err, app.ErrUnknownControl) {
		t.Errorf("unknown: err = %v, want ErrUnknownControl", err)
	}
}

func TestSubmitURL_FailureKeepsContent(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	if err := h.app.SubmitURL(ctx, "https://example.com/hello"); err != nil {
		t.Fatalf("SubmitURL: %v", err)
	}
	before, _ := h.app.Snapshot()

	err := h.app.SubmitURL(ctx, "https://example.com/missing")
	var nerr *content.NetworkError
	if !errors.As(err, &nerr) {
		t.Fatalf("err = %v, want *NetworkError", err)
	}
	after, _ := h.app.Snapshot()
	if after.HTML != before.HTML || after.SourceURL != before.SourceURL {
		t.Error("failed fetch replaced the content")
	}
}

func TestSubmitURL_ReplacesContentAndHidesPopup(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	if err := h.app.SubmitURL(ctx, "https://example.com/hello"); err != nil {
		t.Fatalf("SubmitURL: %v", err)
	}
	id := controlID(t, h.events.lastMarkup(), "button.translate", 0)
	if _, err := h.app.Activate(ctx, id, "hi"); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	if err := h.app.SubmitURL(ctx, "https://example.com/empty"); err != nil {
		t.Fatalf("SubmitURL(empty): %v", err)
	}
	snap, _ := h.app.Snapshot()
	if snap.HTML != "" {
		t.Errorf("HTML = %q, want empty", snap.HTML)
	}
	if snap.Popup.Visible {
		t.Error("popup survived a content replacement")
	}
	if _, err := h.app.Activate(ctx, id, "hi"); !errors.Is(err, app.ErrUnknownControl) {
		t.Errorf("old control: err = %v, want ErrUnknownControl", err)
	}
}

func TestVoice_ScrollAndToggle(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	started := h.rec.Started()

	if err := h.app.ToggleListening(ctx); err != nil {
		t.Fatalf("ToggleListening: %v", err)
	}
	<-started
	if s, _ := h.events.lastState(); s != voice.Listening {
		t.Fatalf("state = %v, want listening", s)
	}

	h.rec.Last().Deliver("please scroll down")
	waitFor(t, "scroll", func() bool { return len(h.view.Deltas()) == 1 })
	if d := h.view.Deltas()[0]; d != 100 {
		t.Errorf("scroll delta = %d, want 100", d)
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("session was not restarted")
	}

	if err := h.app.ToggleListening(ctx); err != nil {
		t.Fatalf("ToggleListening (stop): %v", err)
	}
	if s, _ := h.events.lastState(); s != voice.Idle {
		t.Errorf("state = %v, want idle", s)
	}
	if n := h.rec.OpenCount(); n != 0 {
		t.Errorf("open sessions after stop = %d", n)
	}
}

func TestVoice_ConfiguredVocabulary(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(c *config.Config) {
		c.Client.Vocabulary = []config.LanguageVocabulary{{
			Language: "de-DE",
			Commands: []config.CommandPhrase{{Phrase: "runter", Action: config.ActionScrollDown}},
		}}
	})
	ctx := context.Background()
	started := h.rec.Started()

	h.app.SetLanguage("de-DE")
	if err := h.app.StartListening(ctx); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	<-started
	if lang := h.rec.Calls()[0].Cfg.Language; lang != "de-DE" {
		t.Errorf("session language = %q, want de-DE", lang)
	}

	h.rec.Last().Deliver("bitte runter")
	waitFor(t, "scroll", func() bool { return len(h.view.Deltas()) == 1 })

	found := false
	for _, l := range h.app.Languages() {
		found = found || l == "de-DE"
	}
	if !found {
		t.Errorf("Languages() = %v, want de-DE included", h.app.Languages())
	}
}

func TestVoice_AddVocabularyLive(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	started := h.rec.Started()

	h.app.AddVocabulary([]config.LanguageVocabulary{{
		Language: "en-US",
		Commands: []config.CommandPhrase{{Phrase: "go up", Action: config.ActionScrollUp}},
	}})
	if err := h.app.StartListening(ctx); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	<-started
	h.rec.Last().Deliver("go up")
	waitFor(t, "scroll", func() bool { return len(h.view.Deltas()) == 1 })
	if d := h.view.Deltas()[0]; d != -100 {
		t.Errorf("delta = %d, want -100", d)
	}
}

func TestVoice_ErrorReachesListener(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	started := h.rec.Started()

	if err := h.app.StartListening(ctx); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	<-started
	h.rec.Last().End(errors.New("not-allowed"))

	waitFor(t, "error", func() bool {
		h.events.mu.Lock()
		defer h.events.mu.Unlock()
		return len(h.events.errs) == 1
	})
	var rerr *voice.RecognitionError
	h.events.mu.Lock()
	err := h.events.errs[0]
	h.events.mu.Unlock()
	if !errors.As(err, &rerr) {
		t.Fatalf("err = %v, want *RecognitionError", err)
	}
	waitFor(t, "idle", func() bool { s, _ := h.events.lastState(); return s == voice.Idle })
}

func TestShutdown(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	started := h.rec.Started()

	if err := h.app.StartListening(ctx); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	<-started

	if err := h.app.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := h.app.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if snap, _ := h.app.Snapshot(); snap.State != voice.Idle {
		t.Errorf("state = %v, want idle", snap.State)
	}
	if ops := h.synth.Ops(); len(ops) != 1 || ops[0] != "cancel" {
		t.Errorf("synth ops = %v, want one cancel", ops)
	}
}
