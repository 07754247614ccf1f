// Package translation turns element text into a translated popup.
//
// A [Gateway] performs one translation request per call through a
// [Translator] and, on success, shows the result in the [Popup]. A failed
// translation leaves the popup untouched and returns a *TranslationError.
package translation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/voxreader/internal/observe"
)

// Translator performs a single translation request.
type Translator interface {
	Translate(ctx context.Context, text, targetLang string) (string, error)
}

// TranslationError reports a failed translation.
type TranslationError struct {
	// TargetLang is the requested target language.
	TargetLang string

	// Err is the underlying failure.
	Err error
}

// Error implements error.
func (e *TranslationError) Error() string {
	return fmt.Sprintf("translation: translate to %q: %v", e.TargetLang, e.Err)
}

// Unwrap returns the underlying error.
func (e *TranslationError) Unwrap() error { return e.Err }

// Gateway connects a Translator to a Popup.
type Gateway struct {
	translator Translator
	popup      *Popup
	metrics    *observe.Metrics
}

// NewGateway returns a Gateway that shows results in popup. A nil metrics
// falls back to [observe.DefaultMetrics].
func NewGateway(t Translator, popup *Popup, metrics *observe.Metrics) *Gateway {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Gateway{translator: t, popup: popup, metrics: metrics}
}

// Popup returns the popup this gateway writes to.
func (g *Gateway) Popup() *Popup { return g.popup }

// Translate translates text into targetLang and shows the result anchored at
// anchor. On failure the popup is not changed.
func (g *Gateway) Translate(ctx context.Context, anchor, text, targetLang string) (result string, err error) {
	ctx, span := observe.StartSpan(ctx, "translation.translate")
	span.SetAttributes(attribute.String("translation.target_lang", targetLang))
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		g.metrics.TranslationDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("status", status)))
		observe.EndSpan(span, err)
	}()

	out, err := g.translator.Translate(ctx, text, targetLang)
	if err != nil {
		return "", &TranslationError{TargetLang: targetLang, Err: err}
	}
	g.popup.Show(anchor, out)
	return out, nil
}
