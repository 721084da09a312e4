package monitor

import (
	"context"

	"keepalive/internal/models"
)

// Prober performs the liveness probe of the health-check job.
type Prober interface {
	Probe(ctx context.Context) models.ProbeResult
	URL() string
}

// Dispatcher fires the CI workflow that rebuilds the service.
type Dispatcher interface {
	Dispatch(ctx context.Context) (models.StepResult, error)
}

// Deployer redeploys the service on the hosting platform.
type Deployer interface {
	Deploy(ctx context.Context) (models.StepResult, error)
}

// Recorder receives every finished run, before it is persisted.
type Recorder interface {
	RecordRun(ctx context.Context, run *models.Run)
}

// Runner executes one isolated run.
type Runner interface {
	RunOnce(ctx context.Context, trigger models.Trigger) (*models.Run, error)
}

type nopRecorder struct{}

func (nopRecorder) RecordRun(context.Context, *models.Run) {}
