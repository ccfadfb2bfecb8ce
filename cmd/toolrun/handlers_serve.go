package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/toolrun/internal/assistant"
	"github.com/haasonsaas/toolrun/internal/gateway"
	"github.com/haasonsaas/toolrun/internal/responses"
	"github.com/haasonsaas/toolrun/internal/runloop"
	"github.com/haasonsaas/toolrun/internal/tools"
)

// runServe wires every component and serves until SIGINT/SIGTERM.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := a.Close(shutdownCtx); err != nil {
			a.logger.Warn("shutdown cleanup failed", "error", err)
		}
	}()

	a.logger.Info("starting toolrun",
		"version", version,
		"commit", commit,
		"http_addr", cfg.Server.Addr(),
		"tools_dir", cfg.Tools.Dir,
		"responses_backend", cfg.Responses.Backend,
	)

	if err := a.registry.Load(ctx); err != nil {
		return fmt.Errorf("load tools: %w", err)
	}
	a.logger.Info("tools loaded", "count", a.registry.Len())

	backend, err := assistant.NewOpenAIBackend(assistant.OpenAIConfig{
		APIKey:         cfg.Assistant.APIKey,
		BaseURL:        cfg.Assistant.BaseURL,
		Model:          cfg.Assistant.Model,
		Name:           cfg.Assistant.Name,
		Instructions:   cfg.Assistant.Instructions,
		RequestTimeout: cfg.Assistant.RequestTimeout,
		Logger:         a.logger,
		Tracer:         a.tracer,
	})
	if err != nil {
		return fmt.Errorf("assistant backend: %w", err)
	}

	loop := runloop.New(backend, a.registry, runloop.Config{
		PollInterval: cfg.Assistant.PollInterval,
		Sessions:     runloop.NewSessionCache(cfg.Session.TTL),
		Logger:       a.logger,
		Metrics:      a.metrics,
		Tracer:       a.tracer,
	})

	server, err := gateway.New(gateway.Options{
		Server:    cfg.Server,
		Session:   cfg.Session,
		Metrics:   cfg.Metrics,
		Registry:  a.registry,
		Runner:    loop,
		Responses: a.guard,
		Gatherer:  a.promRegistry,
		Recorder:  a.metrics,
		Logger:    a.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize gateway: %w", err)
	}

	pruner, err := responses.NewPruner(a.responseStore, cfg.Responses.Retention, cfg.Responses.PruneSchedule, a.logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	if cfg.Tools.Watch {
		watcher := tools.NewWatcher(a.toolStore.Dir(), a.registry, cfg.Tools.WatchDebounce, a.logger)
		g.Go(func() error { return watcher.Run(gctx) })
	}
	if pruner.Enabled() {
		g.Go(func() error { return pruner.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("toolrun stopped gracefully")
	return nil
}
