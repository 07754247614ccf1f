package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr        = ":5000"
	DefaultUserAgent         = "Mozilla/5.0 (compatible; voxreader/1.0)"
	DefaultFetchTimeout      = 15 * time.Second
	DefaultLanguage          = "en-US"
	DefaultInactivityTimeout = 30 * time.Second
	DefaultRestartDelay      = 500 * time.Millisecond
	DefaultScrollStep        = 100
	DefaultBreakerFailures   = 5
	DefaultBreakerReset      = 30 * time.Second
)

// ValidProviderNames lists known LLM provider names.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{
	"openai", "ollama", "groq", "deepseek", "mistral", "llamacpp",
	"anthropic", "gemini", "llamafile",
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{Backend: BackendConfig{Enabled: true}}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every unset field of cfg with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	if cfg.Backend.UserAgent == "" {
		cfg.Backend.UserAgent = DefaultUserAgent
	}
	if cfg.Backend.FetchTimeout <= 0 {
		cfg.Backend.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.Backend.Breaker.MaxFailures <= 0 {
		cfg.Backend.Breaker.MaxFailures = DefaultBreakerFailures
	}
	if cfg.Backend.Breaker.ResetTimeout <= 0 {
		cfg.Backend.Breaker.ResetTimeout = DefaultBreakerReset
	}
	if cfg.Backend.RateLimit.RequestsPerSecond > 0 && cfg.Backend.RateLimit.Burst <= 0 {
		cfg.Backend.RateLimit.Burst = max(1, int(cfg.Backend.RateLimit.RequestsPerSecond))
	}

	if cfg.Client.BackendURL == "" && cfg.Backend.Enabled {
		cfg.Client.BackendURL = localURL(cfg.Server.ListenAddr, cfg.Server.TLS != nil)
	}
	if cfg.Client.DefaultLanguage == "" {
		cfg.Client.DefaultLanguage = DefaultLanguage
	}
	if cfg.Client.SynthesisLanguage == "" {
		cfg.Client.SynthesisLanguage = DefaultLanguage
	}
	if cfg.Client.InactivityTimeout <= 0 {
		cfg.Client.InactivityTimeout = DefaultInactivityTimeout
	}
	if cfg.Client.RestartDelay <= 0 {
		cfg.Client.RestartDelay = DefaultRestartDelay
	}
	if cfg.Client.ScrollStep == 0 {
		cfg.Client.ScrollStep = DefaultScrollStep
	}
}

// localURL turns a listen address into a loopback URL for self-calls.
func localURL(listenAddr string, tls bool) string {
	host, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return ""
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	scheme := "http"
	if tls {
		scheme = "https"
	}
	return scheme + "://" + net.JoinHostPort(host, port)
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil && (cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Backend
	if cfg.Backend.RateLimit.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("backend.rate_limit.requests_per_second %.2f must not be negative", cfg.Backend.RateLimit.RequestsPerSecond))
	}
	validateProviderName(cfg.Backend.LLM.Name)
	for i, fb := range cfg.Backend.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("backend.fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName(fb.Name)
	}
	if len(cfg.Backend.Fallbacks) > 0 && cfg.Backend.LLM.Name == "" {
		errs = append(errs, errors.New("backend.fallbacks requires backend.llm"))
	}
	if cfg.Backend.Enabled && cfg.Backend.LLM.Name == "" {
		slog.Warn("backend.llm is not configured; translation and summaries are unavailable")
	}

	// Client
	if cfg.Client.BackendURL == "" {
		errs = append(errs, errors.New("client.backend_url is required when the backend is disabled"))
	} else if u, err := url.Parse(cfg.Client.BackendURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("client.backend_url %q must be an absolute http(s) URL", cfg.Client.BackendURL))
	}
	if cfg.Client.ScrollStep < 0 {
		errs = append(errs, fmt.Errorf("client.scroll_step %d must be positive", cfg.Client.ScrollStep))
	}
	if cfg.Client.FuzzyThreshold < 0 || cfg.Client.FuzzyThreshold > 1 {
		errs = append(errs, fmt.Errorf("client.fuzzy_threshold %.2f is out of range [0, 1]", cfg.Client.FuzzyThreshold))
	}
	for i, v := range cfg.Client.Vocabulary {
		prefix := fmt.Sprintf("client.vocabulary[%d]", i)
		if v.Language == "" {
			errs = append(errs, fmt.Errorf("%s.language is required", prefix))
		}
		for j, c := range v.Commands {
			if c.Phrase == "" {
				errs = append(errs, fmt.Errorf("%s.commands[%d].phrase is required", prefix, j))
			}
			if !c.Action.IsValid() {
				errs = append(errs, fmt.Errorf("%s.commands[%d].action %q is invalid; valid values: scroll_up, scroll_down, stop_listening", prefix, j, c.Action))
			}
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// [ValidProviderNames].
func validateProviderName(name string) {
	if name == "" || slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or a third-party provider",
		"kind", "llm",
		"name", name,
		"known", ValidProviderNames,
	)
}
