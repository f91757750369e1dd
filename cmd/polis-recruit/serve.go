package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/polisai/polis-recruit/internal/governance"
	"github.com/polisai/polis-recruit/pkg/api"
	"github.com/polisai/polis-recruit/pkg/config"
	"github.com/polisai/polis-recruit/pkg/telemetry"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the pipeline over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cli, cfg, logger, err := loadEnvironment(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
				cfg.Server.ListenAddr = listen
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cli.Config, cfg, logger)
		},
	}
	cmd.Flags().String("listen", "", "Address to listen on (overrides config)")
	return cmd
}

func serve(ctx context.Context, configPath string, cfg *config.Config, logger *slog.Logger) error {
	shutdownTelemetry, err := telemetry.SetupProvider(ctx, cfg.Telemetry.Telemetry())
	if err != nil {
		return fmt.Errorf("telemetry setup: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	limiter := governance.NewRateLimiter(cfg.Server.RunLimits())
	metrics := api.NewMetrics()
	handler := api.NewServer(api.Config{
		Service: a.service,
		Journal: a.journal,
		Limiter: limiter,
		Metrics: metrics,
		Logger:  logger,
	}).Handler()

	srv := api.NewHTTPServer(cfg.Server.ListenAddr, handler, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout)
	if cfg.Server.TLS != nil && cfg.Server.TLS.Enabled {
		tlsCfg, err := cfg.Server.TLS.ServerTLS()
		if err != nil {
			return err
		}
		srv.TLSConfig = tlsCfg
	}

	var watcher *config.Watcher
	if configPath != "" {
		watcher, err = config.NewWatcher(configPath, func(next *config.Config) error {
			if err := a.reload(ctx, next); err != nil {
				metrics.RecordConfigReload("failure")
				return err
			}
			limiter.Configure(next.Server.RunLimits())
			metrics.RecordConfigReload("success")
			logger.Info("configuration reloaded", "path", configPath)
			return nil
		}, logger)
		if err != nil {
			return fmt.Errorf("watch config: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting polis-recruit",
			"version", version,
			"listen_addr", cfg.Server.ListenAddr,
			"tls", srv.TLSConfig != nil,
			"fallback", cfg.Routing.Fallback,
			"llm_provider", cfg.LLM.Provider,
		)
		var err error
		if srv.TLSConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("polis-recruit stopped")
	return nil
}
