// Package app wires all roamfit subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithAdapterOptions, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roamfit/roamfit/internal/adapter"
	"github.com/roamfit/roamfit/internal/config"
	"github.com/roamfit/roamfit/internal/coordinator"
	"github.com/roamfit/roamfit/internal/health"
	"github.com/roamfit/roamfit/internal/httpapi"
	"github.com/roamfit/roamfit/internal/observe"
	"github.com/roamfit/roamfit/internal/store"
	"github.com/roamfit/roamfit/pkg/provider/llm"
)

const (
	// reapInterval is how often idle chat sessions are swept.
	reapInterval = 5 * time.Minute

	// serverStopTimeout bounds the HTTP server drain during shutdown.
	serverStopTimeout = 10 * time.Second
)

// Providers holds one LLM per reasoning role. Vision may be nil, in which
// case the LLM slot also serves image-routing capabilities. Populated by
// main.go via the config registry.
type Providers struct {
	LLM    llm.Provider
	Vision llm.Provider
}

// App owns all subsystem lifetimes and serves the orchestration API.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New, torn down in Shutdown.
	store    store.Store
	metrics  *observe.Metrics
	sessions *SessionManager
	adapters map[string]*adapter.Adapter
	coord    *coordinator.Coordinator
	server   *http.Server

	// logLevel, when set, lets config reloads adjust verbosity at runtime.
	logLevel *slog.LevelVar

	// adapterOpts are appended to every adapter construction. Tests use this
	// to swap the subprocess transport for in-memory channels.
	adapterOpts []adapter.Option

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a workout store instead of creating one from config.
func WithStore(st store.Store) Option {
	return func(a *App) { a.store = st }
}

// WithAdapterOptions appends options to every capability adapter built by New.
func WithAdapterOptions(opts ...adapter.Option) Option {
	return func(a *App) { a.adapterOpts = opts }
}

// WithLogLevelVar hands the app the level var behind the process logger so
// config reloads can retune verbosity.
func WithLogLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	if len(cfg.Capabilities) > 0 && providers.LLM == nil {
		return nil, fmt.Errorf("app: an LLM provider is required to drive capabilities")
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	a.metrics = observe.DefaultMetrics()
	a.initSessions()
	a.initCoordinator()
	a.initServer()

	return a, nil
}

// initStore connects PostgreSQL when a DSN is configured and falls back to
// the in-memory store otherwise.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	if dsn := a.cfg.Store.PostgresDSN; dsn != "" {
		pg, err := store.NewPostgres(ctx, dsn)
		if err != nil {
			return err
		}
		a.store = pg
		slog.Info("workout store connected", "backend", "postgres")
	} else {
		a.store = store.NewMem()
		slog.Warn("no postgres_dsn configured, workouts will not survive restarts")
	}

	a.closers = append(a.closers, func() error {
		a.store.Close()
		return nil
	})
	return nil
}

func (a *App) initSessions() {
	a.sessions = NewSessionManager(WithSessionCounter(func(delta int64) {
		a.metrics.ActiveSessions.Add(context.Background(), delta)
	}))
}

// initCoordinator builds one adapter per configured capability and assembles
// the planning loop around them.
func (a *App) initCoordinator() {
	planLLM := a.instrument(a.providers.LLM, a.cfg.Providers.LLM, "planning")

	a.adapters = make(map[string]*adapter.Adapter, len(a.cfg.Capabilities))
	invokers := make(map[string]coordinator.Invoker, len(a.cfg.Capabilities))
	specs := make(map[string]config.CapabilitySpec, len(a.cfg.Capabilities))

	for _, spec := range a.cfg.Capabilities {
		provider := a.providers.LLM
		entry := a.cfg.Providers.LLM
		purpose := "capability"
		if spec.Vision && a.providers.Vision != nil {
			provider = a.providers.Vision
			entry = a.cfg.Providers.Vision
			purpose = "vision"
		}

		ad := adapter.New(spec, a.instrument(provider, entry, purpose), a.adapterOpts...)
		a.adapters[spec.Name] = ad
		invokers[spec.Name] = ad
		specs[spec.Name] = spec
		slog.Info("capability registered",
			"name", spec.Name, "required", spec.Required, "vision", spec.Vision)
	}

	// Workout plans are persisted by the coordinator once the cycle settles,
	// never by a capability mid-flight.
	a.coord = coordinator.New(
		coordinator.NewLLMPlanner(planLLM, a.cfg.Capabilities),
		invokers, specs, a.cfg.Coordinator, a.store,
	)
}

func (a *App) initServer() {
	h := health.New(
		health.StoreCheck(a.store),
		health.CapabilitiesCheck(a.cfg.Capabilities),
	)

	api := httpapi.New(a.coord, a.sessions, a.store, h, a.metrics)

	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	a.server = &http.Server{
		Addr:              addr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// instrument wraps a provider with call logging and metrics. Nil providers
// pass through so optional slots stay optional.
func (a *App) instrument(p llm.Provider, entry config.ProviderEntry, purpose string) llm.Provider {
	if p == nil {
		return nil
	}
	return observe.InstrumentLLM(p, entry.Name, entry.Model, purpose, a.metrics, a.store)
}

// Run serves the HTTP API and sweeps idle sessions until ctx is cancelled,
// then drains the server and returns.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("server listening", "addr", a.server.Addr, "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	})

	g.Go(func() error {
		ticker := time.NewTicker(reapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if n := a.sessions.Reap(); n > 0 {
					slog.Debug("reaped idle sessions", "count", n)
				}
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), serverStopTimeout)
		defer cancel()
		return a.server.Shutdown(stopCtx)
	})

	return g.Wait()
}

// ApplyConfig applies a hot-reloadable config change. Capability instruction,
// timeout, and round-bound changes reach their adapters immediately; log
// level changes retune the process logger. Added or removed capabilities and
// changes to the required flag need a restart and are only logged.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}

	for _, cd := range d.CapabilityChanges {
		switch {
		case cd.Added, cd.Removed:
			slog.Warn("capability set changed, restart required to apply",
				"name", cd.Name, "added", cd.Added, "removed", cd.Removed)
		case cd.RequiredChanged && !cd.InstructionChanged && !cd.TimeoutChanged && !cd.BoundsChanged:
			slog.Warn("required flag changed, restart required to apply", "name", cd.Name)
		default:
			spec := new.Capability(cd.Name)
			ad := a.adapters[cd.Name]
			if spec == nil || ad == nil {
				continue
			}
			ad.UpdateSpec(*spec)
			slog.Info("capability spec updated", "name", cd.Name)
		}
	}
}

// slogLevel maps the config level to its slog equivalent.
func slogLevel(l config.LogLevel) slog.Level {
	switch l {
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

// Shutdown tears down all subsystems. It respects the context deadline: if
// ctx expires before all closers finish, remaining closers are skipped and
// the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("server shutdown error", "err", err)
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
