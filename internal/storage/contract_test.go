package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"keepalive/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// makeRun builds a finished run started i*5 minutes after baseTime.
func makeRun(i int, outcome models.Outcome, trigger models.Trigger) *models.Run {
	start := baseTime.Add(time.Duration(i) * 5 * time.Minute)
	status := 200
	if outcome == models.OutcomeFailure {
		status = 503
	}
	run := &models.Run{
		ID:         fmt.Sprintf("run-%03d", i),
		Trigger:    trigger,
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		HealthCheck: models.HealthCheckJob{
			Status:  models.JobStatusSuccess,
			Outcome: outcome,
			Probe: models.ProbeResult{
				URL:        "https://progress-ytar.onrender.com/wakeup",
				StatusCode: status,
				Outcome:    outcome,
				LatencyMS:  120.5,
				CheckedAt:  start,
			},
		},
		Redeploy: models.RedeployJob{Status: models.JobStatusSkipped, Reason: "probe succeeded"},
	}
	if outcome == models.OutcomeFailure {
		finished := start.Add(time.Second)
		run.HealthCheck.Dispatch = &models.StepResult{Attempted: true, StatusCode: 204, StartedAt: &start, FinishedAt: &finished}
		run.Redeploy = models.RedeployJob{
			Status: models.JobStatusSuccess,
			Deploy: &models.StepResult{Attempted: true, StatusCode: 201, RemoteID: "dep-1", RemoteState: "created"},
		}
	}
	return run
}

// runStorageContract exercises the behaviour every backend must share.
func runStorageContract(t *testing.T, newStorage func(t *testing.T) Storage) {
	ctx := context.Background()

	t.Run("EmptyHistory", func(t *testing.T) {
		s := newStorage(t)

		_, err := s.LatestRun(ctx)
		assert.True(t, errors.Is(err, ErrNotFound))

		_, err = s.GetRun(ctx, "missing")
		assert.True(t, errors.Is(err, ErrNotFound))

		runs, err := s.ListRuns(ctx, RunFilter{})
		require.NoError(t, err)
		assert.NotNil(t, runs)
		assert.Empty(t, runs)

		n, err := s.CountRuns(ctx, RunFilter{})
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		assert.NoError(t, s.Ping(ctx))
	})

	t.Run("SaveAndGet", func(t *testing.T) {
		s := newStorage(t)
		run := makeRun(1, models.OutcomeFailure, models.TriggerSchedule)
		require.NoError(t, s.SaveRun(ctx, run))

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, run.ID, got.ID)
		assert.Equal(t, models.TriggerSchedule, got.Trigger)
		assert.True(t, run.StartedAt.Equal(got.StartedAt))
		assert.Equal(t, 503, got.HealthCheck.Probe.StatusCode)
		assert.Equal(t, models.OutcomeFailure, got.Outcome())
		require.NotNil(t, got.HealthCheck.Dispatch)
		assert.Equal(t, 204, got.HealthCheck.Dispatch.StatusCode)
		require.NotNil(t, got.Redeploy.Deploy)
		assert.Equal(t, "dep-1", got.Redeploy.Deploy.RemoteID)
	})

	t.Run("SaveReplaces", func(t *testing.T) {
		s := newStorage(t)
		run := makeRun(1, models.OutcomeSuccess, models.TriggerManual)
		require.NoError(t, s.SaveRun(ctx, run))

		run.Redeploy.Reason = "updated"
		require.NoError(t, s.SaveRun(ctx, run))

		n, err := s.CountRuns(ctx, RunFilter{})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, "updated", got.Redeploy.Reason)
	})

	t.Run("ListNewestFirstWithFilters", func(t *testing.T) {
		s := newStorage(t)
		// saved out of order on purpose
		for _, i := range []int{3, 1, 4, 2, 5} {
			outcome := models.OutcomeSuccess
			if i%2 == 0 {
				outcome = models.OutcomeFailure
			}
			trigger := models.TriggerSchedule
			if i == 5 {
				trigger = models.TriggerManual
			}
			require.NoError(t, s.SaveRun(ctx, makeRun(i, outcome, trigger)))
		}

		runs, err := s.ListRuns(ctx, RunFilter{})
		require.NoError(t, err)
		require.Len(t, runs, 5)
		for i, want := range []string{"run-005", "run-004", "run-003", "run-002", "run-001"} {
			assert.Equal(t, want, runs[i].ID)
		}

		runs, err = s.ListRuns(ctx, RunFilter{Limit: 2})
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, "run-005", runs[0].ID)

		runs, err = s.ListRuns(ctx, RunFilter{Outcome: models.OutcomeFailure})
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, "run-004", runs[0].ID)
		assert.Equal(t, "run-002", runs[1].ID)

		runs, err = s.ListRuns(ctx, RunFilter{Trigger: models.TriggerManual})
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, "run-005", runs[0].ID)

		n, err := s.CountRuns(ctx, RunFilter{Outcome: models.OutcomeSuccess, Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		latest, err := s.LatestRun(ctx)
		require.NoError(t, err)
		assert.Equal(t, "run-005", latest.ID)
	})

	t.Run("Prune", func(t *testing.T) {
		s := newStorage(t)
		for i := 1; i <= 4; i++ {
			require.NoError(t, s.SaveRun(ctx, makeRun(i, models.OutcomeSuccess, models.TriggerSchedule)))
		}

		// runs 1 and 2 started before run 3
		removed, err := s.PruneRuns(ctx, makeRun(3, models.OutcomeSuccess, models.TriggerSchedule).StartedAt)
		require.NoError(t, err)
		assert.Equal(t, 2, removed)

		runs, err := s.ListRuns(ctx, RunFilter{})
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, "run-004", runs[0].ID)
		assert.Equal(t, "run-003", runs[1].ID)

		_, err = s.GetRun(ctx, "run-001")
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}
