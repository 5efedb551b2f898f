package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"answer":     {"relay", "openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "mock"},
	"vision":     {"openai"},
	"embeddings": {"openai", "mock"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			errs = append(errs, fmt.Errorf("server.tls requires both cert_file and key_file"))
		}
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("answer", cfg.Providers.Answer.Name)
	validateProviderName("answer", cfg.Providers.AnswerFallback.Name)
	validateProviderName("vision", cfg.Providers.Vision.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	// Answer provider cross-checks.
	if cfg.Providers.Answer.Name == "" {
		slog.Warn("no answer provider configured; questions cannot be answered")
	}
	errs = append(errs, validateAnswerEntry("providers.answer", cfg.Providers.Answer)...)
	errs = append(errs, validateAnswerEntry("providers.answer_fallback", cfg.Providers.AnswerFallback)...)
	if cfg.Providers.AnswerFallback.Name != "" && cfg.Providers.Answer.Name == "" {
		slog.Warn("providers.answer_fallback is configured without a primary answer provider")
	}

	// Transcript tuning.
	if cfg.Transcript.MaxLen < 0 {
		errs = append(errs, fmt.Errorf("transcript.max_len %d must not be negative", cfg.Transcript.MaxLen))
	}

	// Embeddings ↔ memory dimensions.
	if cfg.Providers.Embeddings.Name != "" && cfg.Memory.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but memory.embedding_dimensions is not set; defaulting to 1536")
	}
	if cfg.Memory.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("memory.embedding_dimensions %d must not be negative", cfg.Memory.EmbeddingDimensions))
	}
	if cfg.Memory.PostgresDSN == "" && cfg.Providers.Embeddings.Name != "" {
		slog.Warn("providers.embeddings is configured but memory.postgres_dsn is empty; embeddings will not be stored")
	}

	// Profile files must come as a pair of paths or not at all; a resume
	// without a role description produces a one-sided profile, which is
	// allowed but worth flagging.
	if cfg.Profile.ResumeFile != "" && cfg.Profile.JobDescriptionFile == "" {
		slog.Warn("profile.resume_file is set without profile.job_description_file")
	}

	return errors.Join(errs...)
}

// validateAnswerEntry checks the cross-field requirements of an answer
// provider entry: the relay needs a WebSocket URL, in-process model backends
// need a model name.
func validateAnswerEntry(prefix string, entry ProviderEntry) []error {
	var errs []error
	switch entry.Name {
	case "", "mock":
	case "relay":
		url := entry.BaseURL
		if url == "" {
			errs = append(errs, fmt.Errorf("%s.base_url is required when name is relay", prefix))
		} else if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
			errs = append(errs, fmt.Errorf("%s.base_url %q must use a ws:// or wss:// scheme", prefix, url))
		}
	default:
		if entry.Model == "" {
			errs = append(errs, fmt.Errorf("%s.model is required for provider %q", prefix, entry.Name))
		}
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
