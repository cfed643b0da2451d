package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/llmpool/gateway/config"
	"github.com/llmpool/gateway/handlers"
	"github.com/llmpool/gateway/internal/adminauth"
	"github.com/llmpool/gateway/internal/dispatcher"
	"github.com/llmpool/gateway/internal/logsink"
	"github.com/llmpool/gateway/internal/logtail"
	"github.com/llmpool/gateway/internal/pool"
	"github.com/llmpool/gateway/internal/registry"
	"github.com/llmpool/gateway/internal/selector"
	"github.com/llmpool/gateway/internal/state"
	"github.com/llmpool/gateway/internal/store"
	"github.com/llmpool/gateway/internal/store/memory"
	"github.com/llmpool/gateway/internal/store/postgres"
	"github.com/llmpool/gateway/middleware"
)

// Dependencies holds every wired component. This is the central
// dependency-injection point the teacher's GrantPulse pattern uses:
// one struct, one NewDependencies, route registration reads off it.
type Dependencies struct {
	Config *config.Config
	Logger *zap.Logger

	Store    store.Store
	Registry *registry.Registry
	Health   *state.Store
	Logs     *logsink.Sink
	LogHub   *logtail.Hub
	Selector *selector.Selector
	Dispatch *dispatcher.Dispatcher
	Auth     *adminauth.Authenticator

	HealthHandler    *handlers.HealthHandler
	InferenceHandler *handlers.InferenceHandler
	AdminHandler     *handlers.AdminHandler
	AuthMiddleware   *middleware.AuthMiddleware
}

// NewDependencies wires the gateway: Store -> Registry (seeded from
// Store.LoadAll) -> State -> Selector -> LogSink -> Dispatcher -> auth
// -> handlers. Every later stage depends only on stages already built.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initStore(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	if err := deps.initRegistry(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize registry: %w", err)
	}

	deps.initRuntime(cfg)
	deps.initAuth(cfg)
	deps.initHandlers(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initStore opens the configured persistence backend and verifies
// connectivity.
func (d *Dependencies) initStore(ctx context.Context, cfg *config.Config) error {
	switch cfg.Store.Driver {
	case "postgres":
		s, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.Store.DatabaseURL,
			MaxOpenConns:    cfg.Store.MaxOpenConns,
			MaxIdleConns:    cfg.Store.MaxIdleConns,
			ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
		}, d.Logger)
		if err != nil {
			return err
		}
		d.Store = s
	case "memory":
		d.Store = memory.New()
	default:
		return fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	if err := d.Store.HealthCheck(ctx); err != nil {
		return fmt.Errorf("store health check failed: %w", err)
	}
	d.Logger.Info("store connection established", zap.String("driver", cfg.Store.Driver))
	return nil
}

// initRegistry builds the in-memory Registry and seeds it from
// whatever the store already has persisted.
func (d *Dependencies) initRegistry(ctx context.Context, cfg *config.Config) error {
	vmodels := make(registry.VirtualModels, len(cfg.VirtualModels))
	for name, tag := range cfg.VirtualModels {
		vmodels[name] = pool.Tag(tag)
	}
	d.Registry = registry.New(vmodels)

	providers, endpoints, configs, err := d.Store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load persisted state: %w", err)
	}
	for _, p := range providers {
		if _, err := d.Registry.CreateProvider(p); err != nil {
			return fmt.Errorf("failed to seed provider %q: %w", p.Name, err)
		}
	}
	for _, e := range endpoints {
		if _, err := d.Registry.CreateEndpoint(e); err != nil {
			return fmt.Errorf("failed to seed endpoint %d: %w", e.ID, err)
		}
	}
	for _, c := range configs {
		if _, err := d.Registry.UpdatePoolConfig(c.Tag, c.CooldownSeconds, c.TimeoutSeconds, c.MaxRetries); err != nil {
			return fmt.Errorf("failed to seed pool config %q: %w", c.Tag, err)
		}
	}

	d.Logger.Info("registry seeded",
		zap.Int("providers", len(providers)),
		zap.Int("endpoints", len(endpoints)),
		zap.Int("pool_configs", len(configs)))
	return nil
}

// initRuntime wires the request-dispatch path: endpoint health state,
// weighted selection, the dispatcher, and the bounded log sink feeding
// both the admin log API and the live log-tail websocket hub.
func (d *Dependencies) initRuntime(cfg *config.Config) {
	d.Health = state.New()
	d.Selector = selector.New(d.Registry, d.Health)
	d.Logs = logsink.New(cfg.Store.LogSinkCapacity)
	d.LogHub = logtail.NewHub()
	d.Logs.Subscribe(d.LogHub)

	client := &http.Client{Timeout: 120 * time.Second}
	d.Dispatch = dispatcher.New(d.Registry, d.Selector, d.Health, d.Logs, client, d.Logger)
}

// initAuth wires the admin API's single-operator authenticator and the
// middleware that enforces it.
func (d *Dependencies) initAuth(cfg *config.Config) {
	d.Auth = adminauth.New(cfg.Admin.Password, cfg.Admin.SessionSecret, cfg.Admin.SessionTTL)
	d.AuthMiddleware = middleware.NewAuthMiddleware(d.Auth, d.Logger)
}

// initHandlers builds the thin HTTP surface over the wired domain
// components.
func (d *Dependencies) initHandlers(cfg *config.Config) {
	d.HealthHandler = handlers.NewHealthHandler(d.Store, d.Logger)
	d.InferenceHandler = handlers.NewInferenceHandler(d.Dispatch, d.Registry, d.Logger)
	d.AdminHandler = handlers.NewAdminHandler(d.Registry, d.Health, d.Logs, d.LogHub, d.Store, d.Auth, d.Logger)
}

// Close gracefully shuts down every dependency that owns a resource.
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Logs != nil {
		d.Logs.Close()
	}

	if d.Store != nil {
		if err := d.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close store: %w", err))
		} else {
			d.Logger.Info("store connection closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}
	return nil
}
