// Package monitor runs the keepalive watch: a health-check job that probes the
// service and dispatches the rebuild workflow on failure, followed by a
// redeploy job that only runs when the health check reported a failure.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"keepalive/internal/logger"
	"keepalive/internal/models"
	"keepalive/internal/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// persistTimeout bounds history writes, which outlive a cancelled run context.
const persistTimeout = 10 * time.Second

// Service orchestrates runs and serves run history.
type Service struct {
	prober     Prober
	dispatcher Dispatcher
	deployer   Deployer
	storage    storage.Storage
	recorder   Recorder
	retention  time.Duration
	logger     *slog.Logger
	tracer     trace.Tracer

	// runMu serializes runs; it is only ever acquired with TryLock.
	runMu sync.Mutex
}

// Option customizes a Service.
type Option func(*Service)

// WithDispatcher enables the workflow dispatch step.
func WithDispatcher(d Dispatcher) Option {
	return func(s *Service) { s.dispatcher = d }
}

// WithDeployer enables the redeploy step.
func WithDeployer(d Deployer) Option {
	return func(s *Service) { s.deployer = d }
}

// WithRecorder sets the run metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithRetention prunes runs older than d after every run. Zero keeps all runs.
func WithRetention(d time.Duration) Option {
	return func(s *Service) { s.retention = d }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a monitor service. Remediation steps stay disabled
// unless WithDispatcher and WithDeployer are given.
func NewService(prober Prober, store storage.Storage, opts ...Option) *Service {
	s := &Service{
		prober:   prober,
		storage:  store,
		recorder: nopRecorder{},
		logger:   logger.Discard(),
		tracer:   otel.Tracer("keepalive/monitor"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunOnce executes one run and records it in history. Job failures are
// reported inside the returned Run; the error covers only the run lock and
// persistence. When persistence fails the finished run is still returned.
func (s *Service) RunOnce(ctx context.Context, trigger models.Trigger) (*models.Run, error) {
	if !s.runMu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer s.runMu.Unlock()

	run := models.NewRun(trigger)
	log := s.logger.With("run_id", run.ID, "trigger", string(trigger))

	ctx, span := s.tracer.Start(ctx, "monitor.run", trace.WithAttributes(
		attribute.String("run.id", run.ID),
		attribute.String("run.trigger", string(trigger)),
		attribute.String("probe.url", s.prober.URL()),
	))
	defer span.End()

	log.Info("Run started", "url", s.prober.URL())

	s.healthCheck(ctx, run, log)
	s.redeploy(ctx, run, log)
	run.FinishedAt = time.Now().UTC()

	span.SetAttributes(
		attribute.String("run.outcome", string(run.Outcome())),
		attribute.Int("probe.status_code", run.HealthCheck.Probe.StatusCode),
		attribute.String("run.health_check_job", string(run.HealthCheck.Status)),
		attribute.String("run.redeploy_job", string(run.Redeploy.Status)),
	)
	if run.RemediationFailed() {
		span.SetStatus(codes.Error, "remediation failed")
	}

	s.recorder.RecordRun(ctx, run)

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := s.storage.SaveRun(persistCtx, run); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save run failed")
		log.Error("Failed to save run", "error", err)
		return run, fmt.Errorf("save run: %w", err)
	}
	s.prune(persistCtx, run, log)

	log.Info("Run finished",
		"outcome", run.Outcome(),
		"status_code", run.HealthCheck.Probe.StatusCode,
		"health_check_job", run.HealthCheck.Status,
		"redeploy_job", run.Redeploy.Status,
		"duration_ms", run.Duration().Milliseconds(),
	)
	return run, nil
}

// healthCheck probes the service and, on failure, dispatches the rebuild
// workflow. A failed dispatch fails the job.
func (s *Service) healthCheck(ctx context.Context, run *models.Run, log *slog.Logger) {
	job := &run.HealthCheck
	job.Status = models.JobStatusSuccess

	job.Probe = s.prober.Probe(ctx)
	job.Outcome = job.Probe.Outcome

	if job.Outcome == models.OutcomeSuccess {
		log.Info("Service is up", "status_code", job.Probe.StatusCode, "latency_ms", job.Probe.LatencyMS)
		return
	}

	log.Warn("Service is down",
		"status_code", job.Probe.StatusCode,
		"error", job.Probe.Error,
		"latency_ms", job.Probe.LatencyMS,
	)

	if s.dispatcher == nil {
		job.Dispatch = &models.StepResult{}
		log.Info("Workflow dispatch disabled")
		return
	}

	result, err := s.dispatcher.Dispatch(ctx)
	job.Dispatch = &result
	if err != nil {
		job.Status = models.JobStatusFailure
		log.Error("Workflow dispatch failed", "error", err, "status_code", result.StatusCode)
	}
}

// redeploy runs the redeploy job, which needs a completed health-check job
// that reported a failure.
func (s *Service) redeploy(ctx context.Context, run *models.Run, log *slog.Logger) {
	job := &run.Redeploy

	switch {
	case run.HealthCheck.Status != models.JobStatusSuccess:
		job.Status = models.JobStatusSkipped
		job.Reason = "health check job failed"
		return
	case run.HealthCheck.Outcome == models.OutcomeSuccess:
		job.Status = models.JobStatusSkipped
		job.Reason = "probe succeeded"
		return
	case s.deployer == nil:
		job.Status = models.JobStatusSkipped
		job.Reason = "deploy disabled"
		job.Deploy = &models.StepResult{}
		return
	}

	result, err := s.deployer.Deploy(ctx)
	job.Deploy = &result
	if err != nil {
		job.Status = models.JobStatusFailure
		log.Error("Redeploy failed", "error", err, "status_code", result.StatusCode)
		return
	}
	job.Status = models.JobStatusSuccess
	log.Info("Redeploy triggered", "deploy_id", result.RemoteID, "state", result.RemoteState)
}

func (s *Service) prune(ctx context.Context, run *models.Run, log *slog.Logger) {
	if s.retention <= 0 {
		return
	}
	removed, err := s.storage.PruneRuns(ctx, run.StartedAt.Add(-s.retention))
	if err != nil {
		log.Warn("Failed to prune run history", "error", err)
		return
	}
	if removed > 0 {
		log.Debug("Pruned run history", "removed", removed, "retention", s.retention.String())
	}
}

// Runs returns a page of run summaries, newest first.
func (s *Service) Runs(ctx context.Context, req *models.ListRunsRequest) (*models.ListRunsResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, NewInvalidRequestError("invalid list request", err)
	}
	req.Normalize()

	filter := storage.RunFilter{Limit: req.Limit, Outcome: req.Outcome, Trigger: req.Trigger}

	runs, err := s.storage.ListRuns(ctx, filter)
	if err != nil {
		return nil, NewInternalError("failed to list runs", err)
	}
	total, err := s.storage.CountRuns(ctx, filter)
	if err != nil {
		return nil, NewInternalError("failed to count runs", err)
	}

	summaries := make([]models.RunSummary, 0, len(runs))
	for _, run := range runs {
		summaries = append(summaries, models.Summarize(run))
	}

	return &models.ListRunsResponse{
		Runs:       summaries,
		TotalCount: total,
		Limit:      req.Limit,
	}, nil
}

// GetRun returns a single run by ID.
func (s *Service) GetRun(ctx context.Context, id string) (*models.Run, error) {
	run, err := s.storage.GetRun(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, NewRunNotFoundError(id)
		}
		return nil, NewInternalError("failed to get run", err)
	}
	return run, nil
}

// LatestRun returns the most recent run.
func (s *Service) LatestRun(ctx context.Context) (*models.Run, error) {
	run, err := s.storage.LatestRun(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, NewNotFoundError("no runs recorded yet")
		}
		return nil, NewInternalError("failed to get latest run", err)
	}
	return run, nil
}

// Ping reports whether run history is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.storage.Ping(ctx)
}
