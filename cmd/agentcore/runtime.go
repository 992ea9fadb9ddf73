package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/haasonsaas/agentcore/internal/agent"
	"github.com/haasonsaas/agentcore/internal/agent/providers"
	"github.com/haasonsaas/agentcore/internal/audit"
	"github.com/haasonsaas/agentcore/internal/config"
	"github.com/haasonsaas/agentcore/internal/media"
	"github.com/haasonsaas/agentcore/internal/multiagent"
	"github.com/haasonsaas/agentcore/internal/observability"
	"github.com/haasonsaas/agentcore/internal/screen"
	"github.com/haasonsaas/agentcore/internal/sessions"
	"github.com/haasonsaas/agentcore/internal/tools"
	"github.com/haasonsaas/agentcore/internal/tools/builtin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// runtime holds every component a command needs to run agents.
type runtime struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics
	catalog *tools.Catalog
	auditor *audit.Auditor
	loop    *agent.ExecutionLoop
	store   sessions.Store
	router  *multiagent.Router

	closers []func(context.Context) error
}

// newRuntime wires the configuration into a ready router. Log output goes to
// logOut.
func newRuntime(ctx context.Context, cfg *config.Config, logOut io.Writer) (rt *runtime, err error) {
	rt = &runtime{cfg: cfg}
	defer func() {
		if err != nil {
			_ = rt.Close(context.Background())
		}
	}()

	logCfg := cfg.Logging
	logCfg.Output = logOut
	rt.logger = observability.NewLogger(logCfg)
	slog.SetDefault(rt.logger)

	registry := prometheus.NewRegistry()
	rt.metrics = observability.NewMetrics(registry)
	if addr := cfg.Observability.MetricsAddr; addr != "" {
		if err := rt.serveMetrics(addr, registry); err != nil {
			return nil, err
		}
	}

	traceCfg := cfg.Observability.Tracing
	if traceCfg.ServiceVersion == "" {
		traceCfg.ServiceVersion = version
	}
	tracer, shutdownTracer := observability.NewTracer(traceCfg)
	rt.closers = append(rt.closers, shutdownTracer)

	client := providers.NewClient(providers.NewDefaultRegistry(cfg.ProviderEndpoints()), providers.ClientConfig{
		Timeout:           cfg.Providers.Timeout,
		StreamIdleTimeout: cfg.Providers.StreamIdleTimeout,
		MaxRetries:        cfg.Providers.MaxRetries,
		Logger:            rt.logger,
		Metrics:           rt.metrics,
		Tracer:            tracer,
	})

	rt.catalog, err = buildCatalog(cfg)
	if err != nil {
		return nil, err
	}

	auditLogger, err := audit.NewLogger(cfg.Audit)
	if err != nil {
		return nil, fmt.Errorf("audit logger: %w", err)
	}
	rt.closers = append(rt.closers, func(context.Context) error { return auditLogger.Close() })
	rt.auditor = audit.NewAuditor(auditLogger)

	arbiter := screen.NewArbiter(
		screen.WithMetrics(rt.metrics),
		screen.WithObserver(screen.ObserverFunc(func(active bool) {
			rt.logger.Info("desktop control changed", "active", active)
		})),
	)

	rt.loop = agent.NewExecutionLoop(client, rt.catalog, rt.auditor, arbiter, agent.LoopConfig{
		MaxIterations:          cfg.Loop.MaxIterations,
		AgentModeMaxIterations: cfg.Loop.AgentModeMaxIterations,
		ScreenSettleDelay:      cfg.Loop.ScreenSettleDelay,
		Stream:                 cfg.Loop.Stream,
		ImageOptions: media.Options{
			MaxSide:  cfg.Loop.ImageMaxSide,
			MaxBytes: cfg.Loop.ImageMaxBytes,
		},
		Logger:  rt.logger,
		Metrics: rt.metrics,
		Tracer:  tracer,
		Audit:   auditLogger,
	})

	rt.store, err = sessions.Open(ctx, cfg.Sessions)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	rt.closers = append(rt.closers, func(context.Context) error { return rt.store.Close() })

	rt.router, err = multiagent.NewRouter(rt.loop, rt.store, rt.catalog, cfg.Agents, multiagent.RouterConfig{
		DepthLimit:     cfg.Delegation.DepthLimit,
		AgentMode:      cfg.Loop.AgentMode,
		DesktopControl: cfg.Loop.DesktopControl,
		ModePrompt:     cfg.Loop.ModePrompt,
		Sessions:       rt.store,
		Logger:         rt.logger,
		Metrics:        rt.metrics,
		Audit:          auditLogger,
	})
	if err != nil {
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) serveMetrics(addr string, registry *prometheus.Registry) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error("metrics server stopped", "error", err)
		}
	}()
	rt.logger.Info("serving metrics", "addr", ln.Addr().String())
	rt.closers = append(rt.closers, srv.Shutdown)
	return nil
}

// Close releases components in reverse order of creation.
func (rt *runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// buildCatalog registers the built-in tools, narrowed to tools.enabled when
// it is set.
func buildCatalog(cfg *config.Config) (*tools.Catalog, error) {
	full := tools.NewCatalog()
	err := builtin.Register(full, builtin.Config{
		Workspace:      cfg.Tools.Workspace,
		AllowedDirs:    cfg.Tools.AllowedDirs,
		MaxReadBytes:   cfg.Tools.MaxReadBytes,
		MaxFetchBytes:  cfg.Tools.MaxFetchBytes,
		CommandTimeout: cfg.Tools.CommandTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}
	if len(cfg.Tools.Enabled) == 0 {
		return full, nil
	}
	catalog := tools.NewCatalog()
	for _, def := range full.Definitions(cfg.Tools.Enabled) {
		if err := catalog.Register(def); err != nil {
			return nil, fmt.Errorf("register tool %s: %w", def.Name, err)
		}
	}
	return catalog, nil
}
