// Package backend is the content service behind the reader.
//
// It answers three POST endpoints:
//
//   - /          {"url"} → {"html", "summary"}: the page with its resource
//     references made absolute, plus a short summary when an LLM is set up.
//   - /translate {"text", "target_lang"} → plain-text translation.
//   - /summarize {"text"} → plain-text summary of 400-character chunks.
//
// Inputs are checked with go-playground/validator, clients are throttled
// with per-address token buckets, and LLM calls go through whatever
// resilience wrapper the caller configured on the provider.
package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/MrWong99/voxreader/internal/observe"
)

// DefaultSummaryInput is the number of page-text characters summarised when
// a page is fetched.
const DefaultSummaryInput = 2000

// maxRequestBytes caps a request body.
const maxRequestBytes = 1 << 20

// Config holds the dependencies of a [Server].
type Config struct {
	// Pages fetches documents. Required.
	Pages *PageFetcher

	// Text serves translation and summaries. Required; it may be built
	// without a provider.
	Text *TextService

	// SummaryInput is how much page text is summarised on fetch. Zero
	// means [DefaultSummaryInput]; negative disables fetch summaries.
	SummaryInput int

	// RequestsPerSecond and Burst configure per-client throttling. Zero
	// disables it.
	RequestsPerSecond float64
	Burst             int

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

type fetchRequest struct {
	URL string `json:"url" validate:"required,http_url"`
}

type fetchResponse struct {
	HTML    string `json:"html"`
	Summary string `json:"summary"`
}

type translateRequest struct {
	Text       string `json:"text" validate:"required"`
	TargetLang string `json:"target_lang" validate:"required,max=35,bcp47_language_tag"`
}

type summarizeRequest struct {
	Text string `json:"text" validate:"required"`
}

// Server implements the content service endpoints.
type Server struct {
	pages        *PageFetcher
	text         *TextService
	summaryInput int
	validate     *validator.Validate
	limiter      *clientLimiter
	metrics      *observe.Metrics
}

// New returns a Server.
func New(cfg Config) *Server {
	s := &Server{
		pages:        cfg.Pages,
		text:         cfg.Text,
		summaryInput: cfg.SummaryInput,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		metrics:      cfg.Metrics,
	}
	if s.summaryInput == 0 {
		s.summaryInput = DefaultSummaryInput
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if cfg.RequestsPerSecond > 0 {
		s.limiter = newClientLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	}
	return s
}

// Register mounts the endpoints on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.Handle("POST /{$}", s.wrap(s.handleFetch))
	mux.Handle("POST /translate", s.wrap(s.handleTranslate))
	mux.Handle("POST /summarize", s.wrap(s.handleSummarize))
}

// TextAvailable reports whether translation and summaries are served.
func (s *Server) TextAvailable() bool { return s.text.Available() }

func (s *Server) wrap(h http.HandlerFunc) http.Handler {
	if s.limiter == nil {
		return h
	}
	return s.limiter.middleware(s.metrics, h)
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if !s.decode(w, r, &req) {
		return
	}
	log := observe.Logger(r.Context())

	page, err := s.pages.Fetch(r.Context(), req.URL)
	if err != nil {
		log.Warn("backend: fetch failed", "url", req.URL, "err", err)
		s.fail(w, err)
		return
	}

	var summary string
	if s.summaryInput > 0 && s.text.Available() && page.Text != "" {
		input := page.Text
		if runes := []rune(input); len(runes) > s.summaryInput {
			input = string(runes[:s.summaryInput])
		}
		if summary, err = s.text.Summarize(r.Context(), input); err != nil {
			log.Warn("backend: page summary failed; returning page without it", "url", req.URL, "err", err)
			summary = ""
		}
	}

	log.Info("backend: page fetched", "url", page.URL, "bytes", len(page.HTML), "summary", summary != "")
	writeJSON(w, http.StatusOK, fetchResponse{HTML: page.HTML, Summary: summary})
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req translateRequest
	if !s.decode(w, r, &req) {
		return
	}
	out, err := s.text.Translate(r.Context(), req.Text, req.TargetLang)
	if err != nil {
		observe.Logger(r.Context()).Warn("backend: translation failed", "target_lang", req.TargetLang, "err", err)
		s.fail(w, err)
		return
	}
	writeText(w, out)
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	var req summarizeRequest
	if !s.decode(w, r, &req) {
		return
	}
	out, err := s.text.Summarize(r.Context(), req.Text)
	if err != nil {
		observe.Logger(r.Context()).Warn("backend: summary failed", "chars", len(req.Text), "err", err)
		s.fail(w, err)
		return
	}
	writeText(w, out)
}

// decode reads a JSON body into dst and validates it, answering 400 on
// failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	if err := dec.Decode(dst); err != nil {
		http.Error(w, "invalid input: "+err.Error(), http.StatusBadRequest)
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		http.Error(w, "invalid input: "+describeValidation(err), http.StatusBadRequest)
		return false
	}
	return true
}

// describeValidation flattens validator errors into "field: tag" pairs.
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s: %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, ", ")
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrForbiddenHost):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, ErrNoProvider):
		http.Error(w, "service unavailable: no language model configured", http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, s string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, s)
}

func metricAttrs(key, value string) metric.MeasurementOption {
	return metric.WithAttributes(observe.Attr(key, value))
}
