package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"keepalive/internal/config"
	"keepalive/internal/deploy"
	"keepalive/internal/dispatch"
	"keepalive/internal/logger"
	"keepalive/internal/models"
	"keepalive/internal/monitor"
	"keepalive/internal/observability"
	"keepalive/internal/probe"
	"keepalive/internal/storage"
	"keepalive/internal/version"
)

// app holds the runtime shared by serve and check.
type app struct {
	cfg     *models.Config
	ver     version.Info
	log     *slog.Logger
	otel    *observability.Provider
	store   storage.Storage
	service *monitor.Service

	logCloser io.Closer
}

// newApp loads configuration and wires logging, observability, storage and the
// monitor service. Metrics are only collected when exportMetrics is set and
// the config enables them, since a one-shot process has nobody to scrape it.
func newApp(configPath string, exportMetrics bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if !exportMetrics {
		cfg.Metrics.Enabled = false
	}

	a := &app{cfg: cfg, ver: version.GetInfo()}

	log, closer, err := logger.Setup(cfg.Logging, a.ver)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.log, a.logCloser = log, closer
	slog.SetDefault(log)

	a.otel, err = observability.Setup(cfg.Metrics, cfg.Observability, a.ver)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}

	store, err := storage.NewFactory().Create(cfg.Storage)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.store = store

	// Wrap storage with instrumentation if metrics are enabled
	if cfg.Metrics.Enabled {
		instrumented, err := observability.NewInstrumentedStorage(store)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create instrumented storage: %w", err)
		}
		a.store = instrumented
	}

	a.service, err = a.newService()
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) newService() (*monitor.Service, error) {
	cfg := a.cfg
	opts := []monitor.Option{
		monitor.WithLogger(a.log),
		monitor.WithRetention(cfg.Storage.Retention),
	}

	if cfg.Dispatch.Enabled {
		dispatcher, err := dispatch.New(cfg.Dispatch, a.ver.UserAgent(), dispatch.WithLogger(a.log))
		if err != nil {
			return nil, fmt.Errorf("failed to create dispatch client: %w", err)
		}
		opts = append(opts, monitor.WithDispatcher(dispatcher))
		a.log.Info("Workflow dispatch enabled", "target", dispatcher.Target())
	}

	if cfg.Deploy.Enabled {
		opts = append(opts, monitor.WithDeployer(deploy.New(cfg.Deploy, a.ver.UserAgent(), deploy.WithLogger(a.log))))
		a.log.Info("Direct deploy enabled", "service_id", cfg.Deploy.ServiceID)
	}

	if cfg.Metrics.Enabled {
		runMetrics, err := observability.NewRunMetrics()
		if err != nil {
			return nil, fmt.Errorf("failed to create run metrics: %w", err)
		}
		opts = append(opts, monitor.WithRecorder(runMetrics))
	}

	prober := probe.New(cfg.Monitor, probe.WithLogger(a.log))
	return monitor.NewService(prober, a.store, opts...), nil
}

// Close releases storage, flushes telemetry and closes the log file.
func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Error("Failed to close storage", "error", err)
		}
	}
	if a.otel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.otel.Shutdown(ctx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}
