// Command promptpane is the main entry point for the PromptPane interview
// copilot server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/promptpane/promptpane/internal/app"
	"github.com/promptpane/promptpane/internal/config"
	"github.com/promptpane/promptpane/internal/observe"
	"github.com/promptpane/promptpane/internal/resilience"
	"github.com/promptpane/promptpane/pkg/provider/answer"
	answerllm "github.com/promptpane/promptpane/pkg/provider/answer/llm"
	answermock "github.com/promptpane/promptpane/pkg/provider/answer/mock"
	answerws "github.com/promptpane/promptpane/pkg/provider/answer/ws"
	"github.com/promptpane/promptpane/pkg/provider/embeddings"
	embedmock "github.com/promptpane/promptpane/pkg/provider/embeddings/mock"
	oaembed "github.com/promptpane/promptpane/pkg/provider/embeddings/openai"
	visionoai "github.com/promptpane/promptpane/pkg/provider/vision/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "promptpane: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "promptpane: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, logLevel := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("promptpane starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "promptpane",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	if providers.Answer == nil {
		slog.Error("no answer provider configured; set providers.answer.name")
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyConfigChange(logLevel, config.Diff(old, new))
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// builtinProviders maps provider category names to the implementations that
// ship with PromptPane. Used for startup logging.
var builtinProviders = map[string][]string{
	"answer":     {"relay", "openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "mock"},
	"vision":     {"openai"},
	"embeddings": {"openai", "mock"},
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Answer ────────────────────────────────────────────────────────────────

	// The relay forwards questions to an external answer service over a
	// WebSocket; base_url carries the endpoint and api_key the bearer token.
	reg.RegisterAnswer("relay", func(entry config.ProviderEntry) (answer.Provider, error) {
		var opts []answerws.Option
		if entry.APIKey != "" {
			opts = append(opts, answerws.WithToken(entry.APIKey))
		}
		return answerws.New(entry.BaseURL, opts...), nil
	})

	// The in-process backends share the same pattern: optional APIKey +
	// optional BaseURL, mandatory model.
	for _, providerName := range []string{
		"openai", "anthropic", "gemini", "deepseek", "mistral", "groq",
	} {
		reg.RegisterAnswer(providerName, func(entry config.ProviderEntry) (answer.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return answerllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterAnswer("ollama", func(entry config.ProviderEntry) (answer.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return answerllm.New("ollama", entry.Model, opts...)
	})

	reg.RegisterAnswer("mock", func(entry config.ProviderEntry) (answer.Provider, error) {
		return &answermock.Provider{}, nil
	})

	// ── Vision ────────────────────────────────────────────────────────────────

	reg.RegisterVision("openai", func(entry config.ProviderEntry) (answer.Provider, error) {
		var opts []visionoai.Option
		if entry.BaseURL != "" {
			opts = append(opts, visionoai.WithBaseURL(entry.BaseURL))
		}
		return visionoai.New(entry.APIKey, entry.Model, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("mock", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return &embedmock.Provider{}, nil
	})

	// Debug log of all registered providers.
	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.Providers.Answer.Name; name != "" {
		p, err := reg.CreateAnswer(cfg.Providers.Answer)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "answer", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create answer provider %q: %w", name, err)
		} else {
			ps.Answer = p
			slog.Info("provider created", "kind", "answer", "name", name)
		}
	}

	if name := cfg.Providers.AnswerFallback.Name; name != "" && ps.Answer != nil {
		fb, err := reg.CreateAnswer(cfg.Providers.AnswerFallback)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "answer_fallback", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create answer fallback %q: %w", name, err)
		} else {
			chain := resilience.NewChain(ps.Answer, cfg.Providers.Answer.Name, resilience.BreakerSettings{})
			chain.Add(name, fb)
			ps.Answer = chain
			slog.Info("provider created", "kind", "answer_fallback", "name", name)
		}
	}

	if name := cfg.Providers.Vision.Name; name != "" {
		p, err := reg.CreateVision(cfg.Providers.Vision)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "vision", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create vision provider %q: %w", name, err)
		} else {
			ps.Vision = p
			slog.Info("provider created", "kind", "vision", "name", name)
		}
	}

	if name := cfg.Providers.Embeddings.Name; name != "" {
		p, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "embeddings", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		} else {
			ps.Embeddings = p
			slog.Info("provider created", "kind", "embeddings", "name", name)
		}
	}

	return ps, nil
}

// ── Config hot reload ─────────────────────────────────────────────────────────

// applyConfigChange applies the hot-reloadable parts of a config diff. The log
// level takes effect immediately; everything else needs a restart.
func applyConfigChange(logLevel *slog.LevelVar, diff config.ConfigDiff) {
	if !diff.Changed() {
		return
	}
	if diff.LogLevelChanged {
		logLevel.Set(slogLevel(diff.NewLogLevel))
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}
	if diff.TranscriptChanged {
		slog.Warn("transcript settings changed on disk; restart to apply")
	}
	if diff.ProfileChanged {
		slog.Warn("profile settings changed on disk; restart to apply")
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       PromptPane — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Answer", cfg.Providers.Answer.Name, cfg.Providers.Answer.Model)
	printProvider("Vision", cfg.Providers.Vision.Name, cfg.Providers.Vision.Model)
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	if cfg.Memory.PostgresDSN != "" {
		fmt.Printf("║  Memory          : %-19s ║\n", "postgres")
	} else {
		fmt.Printf("║  Memory          : %-19s ║\n", "(disabled)")
	}
	if cfg.Profile.ResumeFile != "" || cfg.Profile.JobDescriptionFile != "" {
		fmt.Printf("║  Profile         : %-19s ║\n", "configured")
	} else {
		fmt.Printf("║  Profile         : %-19s ║\n", "(disabled)")
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(slogLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), lvl
}

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
