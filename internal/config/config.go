// Package config provides the configuration schema, loader, provider registry
// and file watcher for voxreader.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// CommandAction names a viewer action in the vocabulary section.
type CommandAction string

const (
	ActionScrollUp      CommandAction = "scroll_up"
	ActionScrollDown    CommandAction = "scroll_down"
	ActionStopListening CommandAction = "stop_listening"
)

// IsValid reports whether a is a recognised action.
func (a CommandAction) IsValid() bool {
	switch a {
	case ActionScrollUp, ActionScrollDown, ActionStopListening:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Backend BackendConfig `yaml:"backend"`
	Client  ClientConfig  `yaml:"client"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":5000").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// AllowedOrigins lists extra Origin host patterns (e.g. "localhost:*")
	// accepted on the shell bridge. Same-origin shells are always accepted.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// BackendConfig configures the content service (page fetch, translation,
// summarisation).
type BackendConfig struct {
	// Enabled mounts the backend endpoints on this server. Disable it when
	// the client points at a remote backend.
	Enabled bool `yaml:"enabled"`

	// UserAgent is sent with every page fetch.
	UserAgent string `yaml:"user_agent"`

	// FetchTimeout bounds a single page fetch.
	FetchTimeout time.Duration `yaml:"fetch_timeout"`

	// AllowPrivateHosts lets page fetches reach loopback, private and
	// link-local addresses. Off by default; enable only for local testing.
	AllowPrivateHosts bool `yaml:"allow_private_hosts"`

	// RateLimit throttles incoming backend requests.
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Breaker guards calls to the LLM provider.
	Breaker BreakerConfig `yaml:"breaker"`

	// LLM selects the provider used to translate and summarise. When its
	// name is empty, /translate and /summarize answer 503 and pages are
	// returned without a summary.
	LLM ProviderEntry `yaml:"llm"`

	// Fallbacks are tried in order when LLM fails or its breaker is open.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// RateLimitConfig configures a token bucket.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate. Zero disables limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// Burst is the bucket size.
	Burst int `yaml:"burst"`
}

// BreakerConfig configures the circuit breaker around the LLM provider.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that open the circuit.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long the circuit stays open before probing again.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// ProviderEntry is the common configuration block for an LLM provider.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`
}

// ClientConfig configures the reader controller that drives a browser shell.
type ClientConfig struct {
	// BackendURL is the root of the content backend. Defaults to this
	// server's own listen address when the backend is enabled.
	BackendURL string `yaml:"backend_url"`

	// DefaultLanguage is the recognition language selected at startup.
	DefaultLanguage string `yaml:"default_language"`

	// SynthesisLanguage is the voice used for read-aloud playback. It does
	// not follow the recognition language.
	SynthesisLanguage string `yaml:"synthesis_language"`

	// InactivityTimeout stops listening after this much silence.
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"`

	// RestartDelay is the pause between recognition sessions.
	RestartDelay time.Duration `yaml:"restart_delay"`

	// ScrollStep is the distance of one scroll command.
	ScrollStep int `yaml:"scroll_step"`

	// TranslateEnabled inserts translate controls next to each text element.
	// Defaults to true.
	TranslateEnabled *bool `yaml:"translate_enabled"`

	// FuzzyThreshold enables fuzzy command matching when greater than zero
	// (Jaro-Winkler similarity, 0–1).
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`

	// Vocabulary adds command phrases on top of the built-in tables.
	Vocabulary []LanguageVocabulary `yaml:"vocabulary"`
}

// TranslationEnabled reports whether translate controls are inserted.
func (c ClientConfig) TranslationEnabled() bool {
	return c.TranslateEnabled == nil || *c.TranslateEnabled
}

// LanguageVocabulary lists extra command phrases for one language.
type LanguageVocabulary struct {
	// Language is the BCP-47 tag (e.g., "de-DE").
	Language string `yaml:"language"`

	// Commands are appended after the built-in entries for Language.
	Commands []CommandPhrase `yaml:"commands"`
}

// CommandPhrase maps one phrase to an action.
type CommandPhrase struct {
	Phrase string        `yaml:"phrase"`
	Action CommandAction `yaml:"action"`
}
