// Command voxreader serves the voice-controlled document reader: the content
// backend, the browser shell bridge and the reader controller that ties them
// together.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxreader/internal/app"
	"github.com/MrWong99/voxreader/internal/backend"
	"github.com/MrWong99/voxreader/internal/bridge"
	"github.com/MrWong99/voxreader/internal/config"
	"github.com/MrWong99/voxreader/internal/health"
	"github.com/MrWong99/voxreader/internal/observe"
	"github.com/MrWong99/voxreader/internal/resilience"
	"github.com/MrWong99/voxreader/pkg/provider/llm"
	"github.com/MrWong99/voxreader/pkg/provider/llm/anyllm"
	"github.com/MrWong99/voxreader/pkg/provider/llm/openai"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (built-in defaults when empty)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(os.Stderr, "voxreader: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
			} else {
				fmt.Fprintf(os.Stderr, "voxreader: %v\n", err)
			}
			return 1
		}
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("voxreader starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"backend", cfg.Backend.Enabled,
		"backend_url", cfg.Client.BackendURL,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		Registerer:     promReg,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	probes := health.New()
	probes.Register(mux)

	// ── Content backend (optional) ────────────────────────────────────────────
	if cfg.Backend.Enabled {
		srv, err := buildBackend(cfg, metrics, probes)
		if err != nil {
			slog.Error("failed to build backend", "err", err)
			return 1
		}
		srv.Register(mux)
		slog.Info("backend mounted", "translation", srv.TextAvailable())
	}

	// ── Shell bridge and reader controller ────────────────────────────────────
	br := bridge.New(
		bridge.WithOriginPatterns(cfg.Server.AllowedOrigins...),
		bridge.WithMetrics(metrics),
	)
	application, err := app.New(cfg,
		app.Platform{Recognizer: br, Synth: br, Viewport: br},
		app.WithMetrics(metrics),
		app.WithListener(br),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	br.Bind(application)
	mux.Handle("GET /bridge", br)
	probes.Add(health.Checker{
		Name:     "shell",
		Advisory: true,
		Check: func(context.Context) error {
			if !br.Connected() {
				return bridge.ErrNoShell
			}
			return nil
		},
	})

	// ── Config hot-reload ─────────────────────────────────────────────────────
	if *configPath != "" {
		w, err := config.NewWatcher(*configPath, onReload(&level, application))
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	server := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server ready; press Ctrl+C to shut down", "addr", server.Addr, "tls", cfg.Server.TLS != nil)
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping…")

		// ── Graceful shutdown ─────────────────────────────────────────────────
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		appErr := application.Shutdown(shutdownCtx)
		if err := br.Close(); err != nil {
			slog.Debug("bridge close", "err", err)
		}
		srvErr := server.Shutdown(shutdownCtx)
		return errors.Join(appErr, srvErr)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Backend wiring ────────────────────────────────────────────────────────────

// openAICompatible maps provider names to their default OpenAI-compatible
// endpoints. An empty URL means the SDK default.
var openAICompatible = map[string]string{
	"openai":   "",
	"ollama":   "http://localhost:11434/v1",
	"groq":     "https://api.groq.com/openai/v1",
	"deepseek": "https://api.deepseek.com/v1",
	"mistral":  "https://api.mistral.ai/v1",
	"llamacpp": "http://localhost:8080/v1",
}

// localProviders run on the user's machine and ignore the API key, which the
// SDK still requires to be non-empty.
var localProviders = map[string]bool{"ollama": true, "llamacpp": true}

// registerBuiltinProviders wires the built-in LLM factories into reg.
// OpenAI-compatible backends share the openai-go client and differ only in
// the default endpoint; the rest go through any-llm-go.
func registerBuiltinProviders(reg *config.Registry) {
	for name, defaultURL := range openAICompatible {
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []openai.Option
			switch {
			case entry.BaseURL != "":
				opts = append(opts, openai.WithBaseURL(entry.BaseURL))
			case defaultURL != "":
				opts = append(opts, openai.WithBaseURL(defaultURL))
			}
			if org := optString(entry.Options, "organization"); org != "" {
				opts = append(opts, openai.WithOrganization(org))
			}
			if t := optString(entry.Options, "timeout"); t != "" {
				d, err := time.ParseDuration(t)
				if err != nil {
					return nil, fmt.Errorf("options.timeout: %w", err)
				}
				opts = append(opts, openai.WithTimeout(d))
			}
			apiKey := entry.APIKey
			if apiKey == "" && localProviders[name] {
				apiKey = "local"
			}
			return openai.New(apiKey, entry.Model, opts...)
		})
	}

	for _, name := range anyllm.Names {
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}
	slog.Debug("registered llm providers", "names", reg.LLMNames())
}

// buildBackend assembles the content service. When an LLM is configured it
// is wrapped in a breaker-guarded fallback group whose health joins the
// readiness probe.
func buildBackend(cfg *config.Config, metrics *observe.Metrics, probes *health.Handler) (*backend.Server, error) {
	var transport http.RoundTripper = backend.PublicTransport()
	if cfg.Backend.AllowPrivateHosts {
		slog.Warn("backend may fetch loopback and private addresses")
		transport = http.DefaultTransport
	}
	httpClient := &http.Client{Transport: otelhttp.NewTransport(transport)}
	pages := backend.NewPageFetcher(httpClient, cfg.Backend.UserAgent, cfg.Backend.FetchTimeout, metrics)

	var (
		provider llm.Provider
		name     string
	)
	if cfg.Backend.LLM.Name != "" {
		reg := config.NewRegistry()
		registerBuiltinProviders(reg)

		fb, err := buildLLM(cfg.Backend, reg, metrics)
		if err != nil {
			return nil, err
		}
		provider, name = fb, cfg.Backend.LLM.Name
		probes.Add(health.Checker{
			Name: "llm",
			Check: func(context.Context) error {
				if !fb.Healthy() {
					return resilience.ErrCircuitOpen
				}
				return nil
			},
		})
	}

	return backend.New(backend.Config{
		Pages:             pages,
		Text:              backend.NewTextService(provider, name, metrics),
		RequestsPerSecond: cfg.Backend.RateLimit.RequestsPerSecond,
		Burst:             cfg.Backend.RateLimit.Burst,
		Metrics:           metrics,
	}), nil
}

func buildLLM(bc config.BackendConfig, reg *config.Registry, metrics *observe.Metrics) (*resilience.LLMFallback, error) {
	primary, err := reg.CreateLLM(bc.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", bc.LLM.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", bc.LLM.Name, "model", bc.LLM.Model)

	breaker := resilience.CircuitBreakerConfig{
		MaxFailures:  bc.Breaker.MaxFailures,
		ResetTimeout: bc.Breaker.ResetTimeout,
		OnStateChange: func(name string, _, to resilience.State) {
			metrics.RecordBreakerTransition(context.Background(), name, to.String())
		},
	}
	fb := resilience.NewLLMFallback(bc.LLM.Name, primary, breaker)

	for i, entry := range bc.Fallbacks {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("create llm fallback %d (%q): %w", i, entry.Name, err)
		}
		fb.AddFallback(fmt.Sprintf("%s#%d", entry.Name, i+1), p)
		slog.Info("provider created", "kind", "llm-fallback", "name", entry.Name, "model", entry.Model)
	}
	return fb, nil
}

// ── Config reload ─────────────────────────────────────────────────────────────

// onReload applies the live-reloadable part of a config change.
func onReload(level *slog.LevelVar, a *app.App) func(old, new *config.Config) {
	return func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("config reload: log level changed", "level", d.NewLogLevel)
		}
		if len(d.AddedCommands) > 0 {
			a.AddVocabulary(d.AddedCommands)
			slog.Info("config reload: command phrases added", "languages", len(d.AddedCommands))
		}
		if d.RestartRequired {
			slog.Warn("config reload: some changes take effect only after a restart")
		}
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
