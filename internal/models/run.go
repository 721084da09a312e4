// Package models - Run records produced by the monitor.
// A Run mirrors one execution of the health-monitor workflow: a health-check
// job (probe plus optional workflow dispatch) followed by a redeploy job that
// is gated on the health-check outcome.
package models

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Outcome is the binary classification of a probe.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// ClassifyStatus maps an observed HTTP status code to an Outcome. Only an exact
// 200 is a success; 0 stands for "no response" and is a failure like any other code.
func ClassifyStatus(statusCode int) Outcome {
	if statusCode == http.StatusOK {
		return OutcomeSuccess
	}
	return OutcomeFailure
}

// JobStatus is the conclusion of a job within a run.
type JobStatus string

const (
	JobStatusSuccess JobStatus = "success"
	JobStatusFailure JobStatus = "failure"
	JobStatusSkipped JobStatus = "skipped"
)

// Trigger identifies what started a run.
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
)

// Valid reports whether t is a known trigger.
func (t Trigger) Valid() bool {
	return t == TriggerSchedule || t == TriggerManual
}

// ProbeResult captures a single liveness probe. StatusCode is 0 when no
// response was received (DNS failure, refused connection, timeout).
type ProbeResult struct {
	URL        string    `json:"url"`
	StatusCode int       `json:"status_code"`
	Outcome    Outcome   `json:"outcome"`
	LatencyMS  float64   `json:"latency_ms"`
	Error      string    `json:"error,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
}

// StepResult records an outbound remediation call.
type StepResult struct {
	Attempted   bool       `json:"attempted"`
	StatusCode  int        `json:"status_code,omitempty"`
	RemoteID    string     `json:"remote_id,omitempty"`
	RemoteState string     `json:"remote_state,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Failed reports whether the step was attempted and did not succeed.
func (s *StepResult) Failed() bool {
	return s != nil && s.Attempted && s.Error != ""
}

// HealthCheckJob is the first job of a run.
type HealthCheckJob struct {
	Status   JobStatus   `json:"status"`
	Probe    ProbeResult `json:"probe"`
	Outcome  Outcome     `json:"outcome"`
	Dispatch *StepResult `json:"dispatch,omitempty"`
}

// RedeployJob depends on the health-check job.
type RedeployJob struct {
	Status JobStatus   `json:"status"`
	Reason string      `json:"reason,omitempty"`
	Deploy *StepResult `json:"deploy,omitempty"`
}

// Run is one isolated execution of the monitor.
type Run struct {
	ID          string         `json:"id"`
	Trigger     Trigger        `json:"trigger"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
	HealthCheck HealthCheckJob `json:"health_check"`
	Redeploy    RedeployJob    `json:"redeploy"`
}

// NewRun creates an empty run stamped with a fresh ID and start time.
func NewRun(trigger Trigger) *Run {
	return &Run{
		ID:        uuid.New().String(),
		Trigger:   trigger,
		StartedAt: time.Now().UTC(),
	}
}

// Outcome returns the health-check outcome of the run.
func (r *Run) Outcome() Outcome {
	return r.HealthCheck.Outcome
}

// RemediationFailed reports whether any attempted remediation step failed.
func (r *Run) RemediationFailed() bool {
	return r.HealthCheck.Dispatch.Failed() || r.Redeploy.Deploy.Failed()
}

// Duration returns the wall time of the run, or zero if it has not finished.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
