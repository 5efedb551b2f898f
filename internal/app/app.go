// Package app wires all PromptPane subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithStore, WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/promptpane/promptpane/internal/config"
	"github.com/promptpane/promptpane/internal/observe"
	"github.com/promptpane/promptpane/internal/server"
	"github.com/promptpane/promptpane/internal/session"
	"github.com/promptpane/promptpane/internal/transcript"
	"github.com/promptpane/promptpane/pkg/memory"
	"github.com/promptpane/promptpane/pkg/memory/postgres"
	"github.com/promptpane/promptpane/pkg/provider/answer"
	"github.com/promptpane/promptpane/pkg/provider/embeddings"
)

// defaultEmbeddingDims matches OpenAI text-embedding-3-small.
const defaultEmbeddingDims = 1536

// shutdownGrace bounds the HTTP server drain during shutdown.
const shutdownGrace = 10 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	Answer     answer.Provider
	Vision     answer.Provider
	Embeddings embeddings.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics *observe.Metrics
	rolling *transcript.Rolling
	hub     *server.Hub
	coord   *session.Coordinator
	store   memory.Store
	httpSrv *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects an exchange store instead of creating one from config.
func WithStore(s memory.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects a metrics instance instead of the process default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initMemory(ctx); err != nil {
		return nil, fmt.Errorf("app: init memory: %w", err)
	}

	a.initTranscript()
	a.initSession()

	if err := a.initProfile(ctx); err != nil {
		return nil, fmt.Errorf("app: init profile: %w", err)
	}

	a.initHTTP()

	return a, nil
}

// initMemory connects the PostgreSQL exchange store unless one was injected.
// An empty DSN leaves persistence disabled.
func (a *App) initMemory(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	dsn := a.cfg.Memory.PostgresDSN
	if dsn == "" {
		slog.Info("memory.postgres_dsn is empty; exchanges will not be persisted")
		return nil
	}

	// Column width precedence: explicit config, then whatever the embedding
	// provider produces, then the ada/3-small default.
	dims := a.cfg.Memory.EmbeddingDimensions
	if dims == 0 && a.providers.Embeddings != nil {
		dims = a.providers.Embeddings.Dimensions()
	}
	if dims == 0 {
		dims = defaultEmbeddingDims
	}

	store, err := postgres.NewStore(ctx, dsn, dims)
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	model := "none"
	if a.providers.Embeddings != nil {
		model = a.providers.Embeddings.ModelID()
	}
	slog.Info("exchange store connected", "embedding_dims", dims, "embedding_model", model)
	return nil
}

// initTranscript builds the rolling transcript buffer from config.
func (a *App) initTranscript() {
	var opts []transcript.RollingOption
	if a.cfg.Transcript.MaxLen > 0 {
		opts = append(opts, transcript.WithMaxLen(a.cfg.Transcript.MaxLen))
	}
	if len(a.cfg.Transcript.Vocabulary) > 0 {
		opts = append(opts, transcript.WithVocabulary(transcript.NewVocabulary(a.cfg.Transcript.Vocabulary)))
	}
	a.rolling = transcript.NewRolling(opts...)
}

// initSession builds the display hub and the session coordinator.
func (a *App) initSession() {
	a.hub = server.NewHub(server.WithHubMetrics(a.metrics))

	coordOpts := []session.Option{
		session.WithTranscript(a.rolling),
		session.WithSink(a.hub),
		session.WithRecorder(a.metrics),
	}
	if a.providers.Vision != nil {
		coordOpts = append(coordOpts, session.WithVisionProvider(a.providers.Vision))
	}
	if a.store != nil {
		coordOpts = append(coordOpts, session.WithStore(a.store))
	}
	if a.providers.Embeddings != nil {
		coordOpts = append(coordOpts, session.WithEmbedder(a.providers.Embeddings))
	}

	a.coord = session.NewCoordinator(a.providers.Answer, coordOpts...)
}

// initProfile condenses the configured resume and job description into the
// candidate profile, when the answer provider supports it.
func (a *App) initProfile(ctx context.Context) error {
	if a.cfg.Profile.ResumeFile == "" && a.cfg.Profile.JobDescriptionFile == "" {
		return nil
	}

	initializer, ok := a.providers.Answer.(server.ProfileInitializer)
	if !ok {
		slog.Warn("profile files configured but the answer provider does not support profiles")
		return nil
	}

	resume, err := readOptionalFile(a.cfg.Profile.ResumeFile)
	if err != nil {
		return err
	}
	jd, err := readOptionalFile(a.cfg.Profile.JobDescriptionFile)
	if err != nil {
		return err
	}

	if err := initializer.InitProfile(ctx, resume, jd); err != nil {
		return fmt.Errorf("build candidate profile: %w", err)
	}
	slog.Info("candidate profile initialised",
		"resume", a.cfg.Profile.ResumeFile,
		"job_description", a.cfg.Profile.JobDescriptionFile,
	)
	return nil
}

// initHTTP assembles the HTTP server around the route table.
func (a *App) initHTTP() {
	srvOpts := []server.Option{server.WithMetrics(a.metrics)}
	if initializer, ok := a.providers.Answer.(server.ProfileInitializer); ok {
		srvOpts = append(srvOpts, server.WithProfileInitializer(initializer))
	}
	if a.store != nil {
		store := a.store
		srvOpts = append(srvOpts, server.WithChecker("memory", func(ctx context.Context) error {
			_, err := store.Recent(ctx, 1)
			return err
		}))
	}

	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	a.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           server.New(a.coord, a.rolling, a.hub, srvOpts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Coordinator exposes the session coordinator, mainly for tests.
func (a *App) Coordinator() *session.Coordinator { return a.coord }

// Transcript exposes the rolling transcript buffer, mainly for tests.
func (a *App) Transcript() *transcript.Rolling { return a.rolling }

// Handler exposes the HTTP route table, mainly for tests.
func (a *App) Handler() http.Handler { return a.httpSrv.Handler }

// Run serves HTTP until ctx is cancelled, then drains in-flight requests.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", a.httpSrv.Addr, "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpSrv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("app: serve http: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := a.httpSrv.Shutdown(drainCtx); err != nil {
			slog.Warn("http drain error", "err", err)
		}
		return gctx.Err()
	})

	return g.Wait()
}

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Abort any in-flight answer session before the store goes away.
		if a.coord != nil {
			a.coord.Close()
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// readOptionalFile reads path, returning "" for an empty path.
func readOptionalFile(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %q: %w", path, err)
	}
	return string(data), nil
}
