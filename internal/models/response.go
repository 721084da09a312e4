// Package models - API response types and error handling.
// This file defines outgoing API response structures with consistent formatting.
package models

import (
	"time"
)

// Error codes
const (
	ErrorCodeBadRequest     = "BAD_REQUEST"
	ErrorCodeInvalidRequest = "INVALID_REQUEST"
	ErrorCodeNotFound       = "NOT_FOUND"
	ErrorCodeRunNotFound    = "RUN_NOT_FOUND"
	ErrorCodeRunInProgress  = "RUN_IN_PROGRESS"
	ErrorCodeUnauthorized   = "UNAUTHORIZED"
	ErrorCodeForbidden      = "FORBIDDEN"
	ErrorCodeRateLimited    = "RATE_LIMIT_EXCEEDED"
	ErrorCodeInternalError  = "INTERNAL_ERROR"
)

// Health status values
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// ErrorResponse provides structured error information.
type ErrorResponse struct {
	Error     string            `json:"error"`
	Message   string            `json:"message"`
	Code      string            `json:"code,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// NewErrorResponse creates an error envelope stamped with the current time.
func NewErrorResponse(message, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now().UTC(),
	}
}

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
	LastRun    *RunSummary                `json:"last_run,omitempty"`
}

type ComponentHealth struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewHealthCheckResponse creates a health response with the given overall status.
func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now().UTC(),
		Components: make(map[string]ComponentHealth),
	}
}

// AddComponent records the health of a named component. An unhealthy
// component degrades an otherwise healthy response.
func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
	if status != StatusHealthy && h.Status == StatusHealthy {
		h.Status = StatusDegraded
	}
}

// RunSummary is the compact view of a run used in listings.
type RunSummary struct {
	ID             string    `json:"id"`
	Trigger        Trigger   `json:"trigger"`
	Outcome        Outcome   `json:"outcome"`
	StatusCode     int       `json:"status_code"`
	HealthCheckJob JobStatus `json:"health_check_job"`
	RedeployJob    JobStatus `json:"redeploy_job"`
	StartedAt      time.Time `json:"started_at"`
	DurationMS     int64     `json:"duration_ms"`
}

// Summarize builds the compact view of r.
func Summarize(r *Run) RunSummary {
	return RunSummary{
		ID:             r.ID,
		Trigger:        r.Trigger,
		Outcome:        r.HealthCheck.Outcome,
		StatusCode:     r.HealthCheck.Probe.StatusCode,
		HealthCheckJob: r.HealthCheck.Status,
		RedeployJob:    r.Redeploy.Status,
		StartedAt:      r.StartedAt,
		DurationMS:     r.Duration().Milliseconds(),
	}
}

type ListRunsResponse struct {
	Runs       []RunSummary `json:"runs"`
	TotalCount int          `json:"total_count"`
	Limit      int          `json:"limit"`
}
