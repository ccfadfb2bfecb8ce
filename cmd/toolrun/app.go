package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/haasonsaas/toolrun/internal/config"
	"github.com/haasonsaas/toolrun/internal/observability"
	"github.com/haasonsaas/toolrun/internal/responses"
	"github.com/haasonsaas/toolrun/internal/tools"
	"github.com/haasonsaas/toolrun/internal/tools/dashboard"
	"github.com/haasonsaas/toolrun/internal/tools/options"
)

// app holds the components shared by the server and the offline commands.
type app struct {
	cfg           *config.Config
	logger        *slog.Logger
	promRegistry  *prometheus.Registry
	metrics       *observability.Metrics
	tracer        *observability.Tracer
	traceShutdown func(context.Context) error
	responseStore responses.Store
	guard         *responses.Guard
	toolStore     *tools.FileStore
	registry      *tools.Registry
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := observability.NewLogger(observability.LogConfig{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Output:    os.Stderr,
		AddSource: cfg.Logging.AddSource,
	})
	slog.SetDefault(logger)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(promRegistry)

	traceCfg := observability.TraceConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		SamplingRate:   cfg.Tracing.SamplingRate,
		EnableInsecure: cfg.Tracing.Insecure,
	}
	if cfg.Tracing.Enabled {
		traceCfg.Endpoint = cfg.Tracing.Endpoint
	}
	tracer, traceShutdown := observability.NewTracer(traceCfg)

	store, err := responses.OpenStore(ctx, cfg.Responses)
	if err != nil {
		_ = traceShutdown(ctx)
		return nil, fmt.Errorf("open response store: %w", err)
	}
	guard := responses.NewGuard(store,
		responses.WithThreshold(cfg.Responses.ThresholdBytes),
		responses.WithLogger(logger),
		responses.WithMetrics(metrics),
	)

	toolStore, err := tools.NewFileStore(cfg.Tools.Dir)
	if err != nil {
		_ = store.Close()
		_ = traceShutdown(ctx)
		return nil, fmt.Errorf("open tools dir: %w", err)
	}

	engine := tools.NewScriptEngine(tools.ScriptConfig{
		MaxSteps:     cfg.Tools.Script.MaxSteps,
		Timeout:      cfg.Tools.Script.Timeout,
		EnvAllowlist: cfg.Tools.Script.EnvAllowlist,
		Logger:       logger,
	})
	catalog := tools.NewCatalog(engine)
	uw := cfg.Tools.Builtin.UnusualWhales
	options.Register(catalog, options.NewClient(options.Config{
		BaseURL: uw.BaseURL,
		APIKey:  uw.APIKey,
		Timeout: uw.Timeout,
	}))
	dashboard.Register(catalog, dashboard.NewOpenAI(
		cfg.Assistant.APIKey,
		cfg.Assistant.BaseURL,
		cfg.Tools.Builtin.Dashboard.Model,
	))

	registry := tools.NewRegistry(toolStore, catalog, tools.RegistryOptions{
		Guard:   guard,
		Logger:  logger,
		Metrics: metrics,
		Tracer:  tracer,
	})

	return &app{
		cfg:           cfg,
		logger:        logger,
		promRegistry:  promRegistry,
		metrics:       metrics,
		tracer:        tracer,
		traceShutdown: traceShutdown,
		responseStore: store,
		guard:         guard,
		toolStore:     toolStore,
		registry:      registry,
	}, nil
}

// Close releases the response store and flushes pending spans.
func (a *app) Close(ctx context.Context) error {
	return errors.Join(a.responseStore.Close(), a.traceShutdown(ctx))
}
