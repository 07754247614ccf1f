package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxreader/internal/observe"
	"github.com/MrWong99/voxreader/pkg/provider/llm"
)

// ChunkSize is the length, in characters, of the pieces summarised
// independently.
const ChunkSize = 400

// maxParallelChunks bounds concurrent summary completions per request.
const maxParallelChunks = 4

// ErrNoProvider is returned when a text service is called without an LLM.
var ErrNoProvider = errors.New("backend: no llm provider configured")

const translatePrompt = `You are a translation engine. Translate the user's text into the language identified by the code %q. Reply with the translation only, without quotes, notes or explanations.`

const summarizePrompt = `Summarise the user's text in one or two sentences (20 to 50 words). Reply with the summary only.`

// TextService translates and summarises text through an [llm.Provider].
type TextService struct {
	llm      llm.Provider
	provider string
	metrics  *observe.Metrics
}

// NewTextService returns a TextService. p may be nil, in which case every
// call fails with [ErrNoProvider]. name labels metrics.
func NewTextService(p llm.Provider, name string, m *observe.Metrics) *TextService {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &TextService{llm: p, provider: name, metrics: m}
}

// Available reports whether an LLM is configured.
func (s *TextService) Available() bool { return s.llm != nil }

// Translate renders text in targetLang.
func (s *TextService) Translate(ctx context.Context, text, targetLang string) (string, error) {
	out, err := s.complete(ctx, "translate", llm.CompletionRequest{
		SystemPrompt: fmt.Sprintf(translatePrompt, targetLang),
		Messages:     []llm.Message{llm.UserMessage(text)},
		Temperature:  0.2,
	})
	if err != nil {
		return "", fmt.Errorf("backend: translate to %q: %w", targetLang, err)
	}
	return out, nil
}

// Summarize splits text into [ChunkSize] pieces, summarises each and joins
// the summaries with single spaces, in chunk order.
func (s *TextService) Summarize(ctx context.Context, text string) (string, error) {
	chunks := Chunk(text, ChunkSize)
	if len(chunks) == 0 {
		return "", nil
	}
	if s.llm == nil {
		return "", ErrNoProvider
	}

	summaries := make([]string, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelChunks)
	for i, c := range chunks {
		g.Go(func() error {
			out, err := s.complete(gctx, "summarize", llm.CompletionRequest{
				SystemPrompt: summarizePrompt,
				Messages:     []llm.Message{llm.UserMessage(c)},
				MaxTokens:    96,
			})
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			summaries[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", fmt.Errorf("backend: summarize: %w", err)
	}
	return strings.Join(summaries, " "), nil
}

func (s *TextService) complete(ctx context.Context, kind string, req llm.CompletionRequest) (string, error) {
	if s.llm == nil {
		return "", ErrNoProvider
	}
	ctx, span := observe.StartSpan(ctx, "backend."+kind)
	start := time.Now()
	resp, err := s.llm.Complete(ctx, req)
	s.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds(),
		metricAttrs("kind", kind))
	observe.EndSpan(span, err)
	if err != nil {
		s.metrics.RecordProviderRequest(ctx, s.provider, kind, "error")
		s.metrics.RecordProviderError(ctx, s.provider, kind)
		return "", err
	}
	s.metrics.RecordProviderRequest(ctx, s.provider, kind, "ok")
	return strings.TrimSpace(resp.Content), nil
}

// Chunk splits text into consecutive pieces of at most size characters.
// Multi-byte characters are never split.
func Chunk(text string, size int) []string {
	if text == "" || size <= 0 {
		return nil
	}
	var out []string
	for len(text) > 0 {
		if utf8.RuneCountInString(text) <= size {
			out = append(out, text)
			break
		}
		cut := 0
		for n := 0; n < size; n++ {
			_, w := utf8.DecodeRuneInString(text[cut:])
			cut += w
		}
		out = append(out, text[:cut])
		text = text[cut:]
	}
	return out
}
