package observability

import (
	"context"

	"keepalive/internal/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Remediation steps and results reported by keepalive.remediations.
const (
	StepDispatch = "dispatch"
	StepDeploy   = "deploy"

	ResultAccepted = "accepted"
	ResultFailed   = "failed"
	ResultDisabled = "disabled"
)

// RunMetrics records the outcome of every monitor run.
type RunMetrics struct {
	probeDuration metric.Float64Histogram
	runs          metric.Int64Counter
	remediations  metric.Int64Counter
	lastStatus    metric.Int64Gauge
}

// NewRunMetrics creates run instruments on the global meter provider.
func NewRunMetrics() (*RunMetrics, error) {
	return NewRunMetricsWithMeter(otel.Meter("keepalive/monitor"))
}

// NewRunMetricsWithMeter creates run instruments on meter.
func NewRunMetricsWithMeter(meter metric.Meter) (*RunMetrics, error) {
	probeDuration, err := meter.Float64Histogram(
		"keepalive.probe.duration",
		metric.WithDescription("Latency of the liveness probe in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	runs, err := meter.Int64Counter(
		"keepalive.runs",
		metric.WithDescription("Number of monitor runs by outcome and trigger"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	remediations, err := meter.Int64Counter(
		"keepalive.remediations",
		metric.WithDescription("Number of remediation steps by step and result"),
		metric.WithUnit("{step}"),
	)
	if err != nil {
		return nil, err
	}

	lastStatus, err := meter.Int64Gauge(
		"keepalive.probe.status_code",
		metric.WithDescription("HTTP status code of the latest probe, 0 when no response was received"),
	)
	if err != nil {
		return nil, err
	}

	return &RunMetrics{
		probeDuration: probeDuration,
		runs:          runs,
		remediations:  remediations,
		lastStatus:    lastStatus,
	}, nil
}

// RecordRun records probe latency, the run outcome and every remediation step.
func (m *RunMetrics) RecordRun(ctx context.Context, run *models.Run) {
	outcome := attribute.String("outcome", string(run.Outcome()))

	m.probeDuration.Record(ctx, run.HealthCheck.Probe.LatencyMS/1000, metric.WithAttributes(outcome))
	m.lastStatus.Record(ctx, int64(run.HealthCheck.Probe.StatusCode))
	m.runs.Add(ctx, 1, metric.WithAttributes(
		outcome,
		attribute.String("trigger", string(run.Trigger)),
	))

	m.recordStep(ctx, StepDispatch, run.HealthCheck.Dispatch)
	m.recordStep(ctx, StepDeploy, run.Redeploy.Deploy)
}

func (m *RunMetrics) recordStep(ctx context.Context, step string, result *models.StepResult) {
	if result == nil {
		return
	}

	res := ResultAccepted
	switch {
	case !result.Attempted:
		res = ResultDisabled
	case result.Failed():
		res = ResultFailed
	}

	m.remediations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("step", step),
		attribute.String("result", res),
	))
}
