// Package openai provides an LLM provider for the OpenAI chat completions
// API and the many servers that mimic it (Ollama, Groq, llama.cpp, ...).
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MrWong99/voxreader/pkg/provider/llm"
)

// ErrNoChoices is returned when the server answers without any choice.
var ErrNoChoices = errors.New("openai: response carries no choices")

// roles maps the generic message roles onto SDK message constructors.
var roles = map[string]func(string) oai.ChatCompletionMessageParamUnion{
	"system":    func(s string) oai.ChatCompletionMessageParamUnion { return oai.SystemMessage(s) },
	"user":      func(s string) oai.ChatCompletionMessageParamUnion { return oai.UserMessage(s) },
	"assistant": func(s string) oai.ChatCompletionMessageParamUnion { return oai.AssistantMessage(s) },
}

// Provider implements llm.Provider on top of the openai-go SDK.
type Provider struct {
	client oai.Client
	model  string

	// compat is set for non-OpenAI endpoints. Those generally only know the
	// older max_tokens field.
	compat bool
}

type settings struct {
	baseURL string
	org     string
	timeout time.Duration
}

// Option configures a Provider.
type Option func(*settings)

// WithBaseURL points the provider at an OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(s *settings) { s.baseURL = url }
}

// WithOrganization sends an OpenAI organization ID with every request.
func WithOrganization(org string) Option {
	return func(s *settings) { s.org = org }
}

// WithTimeout bounds each HTTP request. Zero means no client-side limit.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

// New returns a Provider for model. Local servers that ignore
// authentication still need a non-empty apiKey; any placeholder works.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	switch {
	case apiKey == "":
		return nil, errors.New("openai: api key is required")
	case model == "":
		return nil, errors.New("openai: model is required")
	}

	var s settings
	for _, o := range opts {
		o(&s)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   s.timeout,
		}),
	}
	if s.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(s.baseURL))
	}
	if s.org != "" {
		reqOpts = append(reqOpts, option.WithOrganization(s.org))
	}

	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  model,
		compat: s.baseURL != "" && !strings.Contains(s.baseURL, "api.openai.com"),
	}, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: %s: %w", p.model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoChoices
	}

	u := resp.Usage
	return &llm.CompletionResponse{
		Content: resp.Choices[0].Message.Content,
		Usage: llm.Usage{
			PromptTokens:     int(u.PromptTokens),
			CompletionTokens: int(u.CompletionTokens),
			TotalTokens:      int(u.TotalTokens),
		},
	}, nil
}

func (p *Provider) buildParams(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	var params oai.ChatCompletionNewParams
	if len(req.Messages) == 0 {
		return params, errors.New("openai: request has no messages")
	}

	params.Model = shared.ChatModel(p.model)
	params.Messages = make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		params.Messages = append(params.Messages, oai.SystemMessage(req.SystemPrompt))
	}
	for i, m := range req.Messages {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, fmt.Errorf("message %d: %w", i, err)
		}
		params.Messages = append(params.Messages, msg)
	}

	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if n := int64(req.MaxTokens); n > 0 {
		if p.compat {
			params.MaxTokens = param.NewOpt(n)
		} else {
			params.MaxCompletionTokens = param.NewOpt(n)
		}
	}
	return params, nil
}

func convertMessage(m llm.Message) (oai.ChatCompletionMessageParamUnion, error) {
	build, ok := roles[m.Role]
	if !ok {
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unsupported role %q", m.Role)
	}
	return build(m.Content), nil
}

var _ llm.Provider = (*Provider)(nil)
