package api

import (
	"context"
	"time"

	"keepalive/internal/models"
)

// RunService runs the monitor and reads its history.
type RunService interface {
	RunOnce(ctx context.Context, trigger models.Trigger) (*models.Run, error)
	Runs(ctx context.Context, req *models.ListRunsRequest) (*models.ListRunsResponse, error)
	GetRun(ctx context.Context, id string) (*models.Run, error)
	LatestRun(ctx context.Context) (*models.Run, error)
	Ping(ctx context.Context) error
}

// SchedulerStatus reports the state of the run scheduler.
type SchedulerStatus interface {
	Running() bool
	Next() time.Time
}
