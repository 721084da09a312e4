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

	"keepalive/internal/api"
	"keepalive/internal/monitor"
	"keepalive/internal/observability"
	"keepalive/internal/ratelimit"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the manual trigger API until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root.configPath, true)
			if err != nil {
				return &codeError{code: exitError, err: err}
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := serve(ctx, a); err != nil {
				return &codeError{code: exitError, err: err}
			}
			return nil
		},
	}
}

// serve runs until ctx is done or a listener fails, then shuts everything
// down within shutdownTimeout.
func serve(ctx context.Context, a *app) error {
	cfg := a.cfg

	scheduler, err := monitor.NewScheduler(cfg.Monitor, a.service, a.log)
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)

	var server *http.Server
	if cfg.Server.Enabled {
		handlers := api.NewHandlers(a.service,
			api.WithScheduler(scheduler),
			api.WithVersion(a.ver),
			api.WithRunTimeout(cfg.Monitor.RunTimeout),
			api.WithLogger(a.log),
		)

		routeOpts := []api.RouteOption{}
		if cfg.Observability.Tracing.Enabled {
			routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
		}

		// Authenticated callers get twice the anonymous allowance
		if cfg.Security.RateLimit.Enabled {
			rlCfg := cfg.Security.RateLimit
			anonLimiter := ratelimit.NewFromConfig(rlCfg)
			authLimiter := ratelimit.NewMemoryLimiter(rlCfg.RequestsPerMinute*2, rlCfg.BurstSize*2, rlCfg.CleanupInterval)
			defer anonLimiter.Close()
			defer authLimiter.Close()

			proxies, err := ratelimit.ParseProxies(rlCfg.TrustedProxies)
			if err != nil {
				return err
			}
			routeOpts = append(routeOpts, api.WithTriggerRateLimiter(ratelimit.Middleware(anonLimiter, authLimiter,
				ratelimit.WithTrustedProxies(proxies),
				ratelimit.WithLogger(a.log),
			)))
		}

		server = &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:      api.SetupRoutes(handlers, cfg, routeOpts...),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		}

		go func() {
			slog.Info("Starting HTTP server", "addr", server.Addr, "auth", cfg.Security.EnableAuth)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http server: %w", err)
			}
		}()
	}

	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, a.otel)
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	scheduler.Start()

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("Shutting down")
	case runErr = <-errCh:
		slog.Error("Listener failed, shutting down", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// stop taking manual triggers before waiting for the in-flight run
	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server forced to shutdown", "error", err)
		}
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		slog.Error("Scheduler forced to stop", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	slog.Info("Shutdown complete")
	return runErr
}
