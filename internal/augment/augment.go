// Package augment decorates rendered content with reading controls.
//
// One [Augmenter.Augment] pass runs per content replacement. It walks the
// paragraphs and headings of the content host in document order and, for
// each element not yet marked, inserts a speak control and, when enabled, a
// translate control directly after it. The element is then marked with
// [MarkerClass], so a second pass over the same content adds nothing.
//
// The same pass intercepts anchors and images: anchors no longer navigate,
// images only log their activation. These handlers are assigned to the
// node's single handler slot, so repeated passes replace rather than stack
// them.
package augment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/net/html"

	"github.com/MrWong99/voxreader/internal/dom"
	"github.com/MrWong99/voxreader/internal/observe"
	"github.com/MrWong99/voxreader/pkg/provider/synthesis"
)

const (
	// MarkerClass marks an element that already carries its controls.
	MarkerClass = "speaker-added"

	// SpeakClass is the class of speak controls.
	SpeakClass = "speaker"

	// TranslateClass is the class of translate controls.
	TranslateClass = "translate"

	// ControlAttr holds the identifier a shell uses to activate a control.
	ControlAttr = "data-control"

	// AnchorAttr identifies the text element a control belongs to. The
	// translation popup is positioned by it.
	AnchorAttr = "data-anchor"

	// textSelector lists the textual elements that receive controls.
	textSelector = "p, h1, h2, h3, h4, h5, h6"
)

// ErrNoContent is returned when there is no rendered content to augment.
var ErrNoContent = errors.New("augment: no content to augment")

// Translator is the translation capability used by translate controls.
// [*translation.Gateway] satisfies it.
type Translator interface {
	Translate(ctx context.Context, anchor, text, targetLang string) (string, error)
}

// TargetPrompt collects the target language for a translate activation.
// ok is false when the user dismissed the prompt.
type TargetPrompt interface {
	TargetLanguage(ctx context.Context, ev *dom.Event) (code string, ok bool)
}

// EventInput is a [TargetPrompt] that reads the target language from the
// activation input. An empty input counts as a dismissed prompt.
type EventInput struct{}

// TargetLanguage implements [TargetPrompt].
func (EventInput) TargetLanguage(_ context.Context, ev *dom.Event) (string, bool) {
	return ev.Input, ev.Input != ""
}

// Config holds the dependencies of an [Augmenter].
type Config struct {
	// Synth plays speak activations. Required.
	Synth synthesis.Provider

	// Translator serves translate activations. Translate controls are only
	// inserted when it is non-nil and TranslateEnabled is set.
	Translator Translator

	// TranslateEnabled inserts translate controls.
	TranslateEnabled bool

	// Prompt defaults to [EventInput].
	Prompt TargetPrompt

	// SynthesisLanguage is the voice used for every speak control,
	// regardless of the recognition language. Defaults to
	// [synthesis.DefaultLanguage].
	SynthesisLanguage string

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Stats summarises one pass.
type Stats struct {
	// Augmented is the number of elements that received controls.
	Augmented int

	// Skipped is the number of elements that were already marked.
	Skipped int

	// Anchors and Images count intercepted nodes.
	Anchors int
	Images  int
}

// Augmenter attaches controls to rendered content.
type Augmenter struct {
	synth      synthesis.Provider
	translator Translator
	translate  bool
	prompt     TargetPrompt
	synthLang  string
	metrics    *observe.Metrics
}

// New returns an Augmenter.
func New(cfg Config) *Augmenter {
	a := &Augmenter{
		synth:      cfg.Synth,
		translator: cfg.Translator,
		translate:  cfg.TranslateEnabled && cfg.Translator != nil,
		prompt:     cfg.Prompt,
		synthLang:  cfg.SynthesisLanguage,
		metrics:    cfg.Metrics,
	}
	if a.prompt == nil {
		a.prompt = EventInput{}
	}
	if a.synthLang == "" {
		a.synthLang = synthesis.DefaultLanguage
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return a
}

// Augment decorates doc. It is idempotent: elements marked by an earlier
// pass are skipped, and interception handlers are reassigned in place.
func (a *Augmenter) Augment(doc *dom.Document) (Stats, error) {
	if doc == nil || doc.Empty() {
		return Stats{}, ErrNoContent
	}

	var st Stats
	for _, el := range doc.Find(textSelector) {
		if doc.HasClass(el, MarkerClass) {
			st.Skipped++
			continue
		}
		a.decorate(doc, el)
		st.Augmented++
	}

	for _, n := range doc.Find("a") {
		ensureControlID(doc, n)
		doc.SetOnClick(n, interceptAnchor)
		st.Anchors++
	}
	for _, n := range doc.Find("img") {
		ensureControlID(doc, n)
		doc.SetOnClick(n, logImage)
		st.Images++
	}

	slog.Debug("augment: pass complete",
		"augmented", st.Augmented, "skipped", st.Skipped,
		"anchors", st.Anchors, "images", st.Images)
	return st, nil
}

func (a *Augmenter) decorate(doc *dom.Document, el *html.Node) {
	anchor := uuid.NewString()
	doc.SetAttr(el, AnchorAttr, anchor)
	text := doc.Text(el)

	speak := dom.NewElement("button", "🔊",
		html.Attribute{Key: "class", Val: SpeakClass},
		html.Attribute{Key: "type", Val: "button"},
		html.Attribute{Key: "aria-label", Val: "Read aloud"},
		html.Attribute{Key: ControlAttr, Val: uuid.NewString()},
		html.Attribute{Key: AnchorAttr, Val: anchor},
	)
	doc.SetOnClick(speak, a.speakHandler(text))
	controls := []*html.Node{speak}

	if a.translate {
		tr := dom.NewElement("button", "Translate",
			html.Attribute{Key: "class", Val: TranslateClass},
			html.Attribute{Key: "type", Val: "button"},
			html.Attribute{Key: ControlAttr, Val: uuid.NewString()},
			html.Attribute{Key: AnchorAttr, Val: anchor},
		)
		doc.SetOnClick(tr, a.translateHandler(anchor, text))
		controls = append(controls, tr)
	}

	doc.InsertAfter(el, controls...)
	doc.AddClass(el, MarkerClass)
}

// speakHandler cancels whatever is playing and reads text aloud.
func (a *Augmenter) speakHandler(text string) dom.Handler {
	return func(ctx context.Context, _ *dom.Event) error {
		if err := a.synth.Cancel(ctx); err != nil {
			return fmt.Errorf("augment: cancel synthesis: %w", err)
		}
		if err := a.synth.Speak(ctx, synthesis.Utterance{Text: text, Language: a.synthLang}); err != nil {
			return fmt.Errorf("augment: speak: %w", err)
		}
		a.metrics.SpokenElements.Add(ctx, 1)
		return nil
	}
}

func (a *Augmenter) translateHandler(anchor, text string) dom.Handler {
	return func(ctx context.Context, ev *dom.Event) error {
		target, ok := a.prompt.TargetLanguage(ctx, ev)
		if !ok {
			return nil
		}
		_, err := a.translator.Translate(ctx, anchor, text, target)
		return err
	}
}

// ensureControlID gives n an activation identifier unless it has one.
func ensureControlID(doc *dom.Document, n *html.Node) {
	if _, ok := doc.Attr(n, ControlAttr); !ok {
		doc.SetAttr(n, ControlAttr, uuid.NewString())
	}
}

func interceptAnchor(ctx context.Context, ev *dom.Event) error {
	ev.PreventDefault()
	href := ""
	for _, at := range ev.Target.Attr {
		if at.Key == "href" {
			href = at.Val
		}
	}
	observe.Logger(ctx).Info("augment: link activation intercepted", "href", href)
	return nil
}

func logImage(ctx context.Context, ev *dom.Event) error {
	src := ""
	for _, at := range ev.Target.Attr {
		if at.Key == "src" {
			src = at.Val
		}
	}
	observe.Logger(ctx).Info("augment: image activated", "src", src)
	return nil
}
