package storage

import (
	"encoding/json"
	"fmt"
	"sort"

	"keepalive/internal/models"
)

// marshalRun serialises a run to the JSON payload stored by database backends.
func marshalRun(run *models.Run) ([]byte, error) {
	data, err := json.Marshal(run)
	if err != nil {
		return nil, fmt.Errorf("marshal run %s: %w", run.ID, err)
	}
	return data, nil
}

// unmarshalRun parses a stored JSON payload.
func unmarshalRun(data []byte) (*models.Run, error) {
	var run models.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	return &run, nil
}

// cloneRun deep-copies a run so callers cannot mutate stored state.
func cloneRun(r *models.Run) *models.Run {
	c := *r
	c.HealthCheck.Dispatch = cloneStep(r.HealthCheck.Dispatch)
	c.Redeploy.Deploy = cloneStep(r.Redeploy.Deploy)
	return &c
}

func cloneStep(s *models.StepResult) *models.StepResult {
	if s == nil {
		return nil
	}
	c := *s
	if s.StartedAt != nil {
		t := *s.StartedAt
		c.StartedAt = &t
	}
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

// sortNewestFirst orders runs by start time, latest first, breaking ties by ID.
func sortNewestFirst(runs []*models.Run) {
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].ID > runs[j].ID
		}
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
}

// selectRuns applies filter to runs already sorted newest first.
func selectRuns(runs []*models.Run, filter RunFilter) []*models.Run {
	out := make([]*models.Run, 0)
	for _, r := range runs {
		if !filter.matches(r) {
			continue
		}
		out = append(out, cloneRun(r))
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out
}

