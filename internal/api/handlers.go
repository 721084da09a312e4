package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"keepalive/internal/logger"
	"keepalive/internal/models"
	"keepalive/internal/monitor"
	"keepalive/internal/ratelimit"
	"keepalive/internal/version"

	"github.com/gorilla/mux"
)

const (
	// maxTriggerBody caps the optional manual trigger body.
	maxTriggerBody = 4 << 10

	healthPingTimeout = 2 * time.Second
)

// Handlers contains HTTP handlers for the keepalive API
type Handlers struct {
	service    RunService
	scheduler  SchedulerStatus
	version    version.Info
	runTimeout time.Duration
	startedAt  time.Time
	logger     *slog.Logger
}

// HandlerOption configures optional Handlers dependencies.
type HandlerOption func(*Handlers)

// WithScheduler reports the scheduler state in health responses.
func WithScheduler(s SchedulerStatus) HandlerOption {
	return func(h *Handlers) { h.scheduler = s }
}

// WithVersion sets the build information reported by health responses.
func WithVersion(v version.Info) HandlerOption {
	return func(h *Handlers) { h.version = v }
}

// WithRunTimeout bounds manual runs.
func WithRunTimeout(d time.Duration) HandlerOption {
	return func(h *Handlers) { h.runTimeout = d }
}

// WithLogger sets the handler logger.
func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handlers) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHandlers creates a new handlers instance
func NewHandlers(service RunService, opts ...HandlerOption) *Handlers {
	h := &Handlers{
		service:    service,
		runTimeout: models.NewDefaultConfig().Monitor.RunTimeout,
		startedAt:  time.Now(),
		logger:     logger.Discard(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// TriggerRun handles manual runs
// POST /api/v1/runs
// The run executes synchronously; a caller that disconnects does not abort it.
func (h *Handlers) TriggerRun(w http.ResponseWriter, r *http.Request) {
	var req models.TriggerRequest
	if r.Body != nil {
		err := json.NewDecoder(io.LimitReader(r.Body, maxTriggerBody)).Decode(&req)
		if err != nil && !errors.Is(err, io.EOF) {
			h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
			return
		}
	}
	if err := req.Validate(); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, err.Error())
		return
	}
	req.Normalize()

	h.logger.Info("Manual run requested",
		"api_key", apiKeyName(r),
		"client_ip", ratelimit.ClientIP(r),
		"reason", req.Reason,
	)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.runTimeout)
	defer cancel()

	run, err := h.service.RunOnce(ctx, models.TriggerManual)
	switch {
	case errors.Is(err, monitor.ErrRunInProgress):
		h.writeServiceError(w, monitor.NewRunInProgressError())
		return
	case err != nil:
		h.writeServiceError(w, monitor.NewInternalError("run finished but could not be recorded", err))
		return
	}

	h.writeJSONResponse(w, http.StatusCreated, run)
}

// ListRuns handles run history requests
// GET /api/v1/runs?limit=N&outcome=success|failure&trigger=schedule|manual
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	req := &models.ListRunsRequest{
		Outcome: models.Outcome(r.URL.Query().Get("outcome")),
		Trigger: models.Trigger(r.URL.Query().Get("trigger")),
	}

	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		limit, err := strconv.Atoi(limitParam)
		if err != nil {
			h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "limit must be an integer")
			return
		}
		req.Limit = limit
	}

	response, err := h.service.Runs(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// GetLatestRun handles latest run requests
// GET /api/v1/runs/latest
func (h *Handlers) GetLatestRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.service.LatestRun(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, run)
}

// GetRun handles single run requests
// GET /api/v1/runs/{id}
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.service.GetRun(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, run)
}

// HealthCheck handles health check requests
// GET /health
// Only unreachable storage makes the service unhealthy (503); a stopped
// scheduler degrades it. The outcome of the latest run is informational.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = h.version.Version
	response.Uptime = time.Since(h.startedAt).Round(time.Second).String()

	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()

	if err := h.service.Ping(ctx); err != nil {
		response.AddComponent("storage", models.StatusUnhealthy, err.Error())
		response.Status = models.StatusUnhealthy
	} else {
		response.AddComponent("storage", models.StatusHealthy, "Storage is operational")
	}

	if h.scheduler != nil {
		if h.scheduler.Running() {
			response.AddComponent("scheduler", models.StatusHealthy,
				"next run at "+h.scheduler.Next().UTC().Format(time.RFC3339))
		} else {
			response.AddComponent("scheduler", models.StatusUnhealthy, "scheduler is stopped")
		}
	}

	if run, err := h.service.LatestRun(ctx); err == nil {
		summary := models.Summarize(run)
		response.LastRun = &summary
	}

	statusCode := http.StatusOK
	if response.Status == models.StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	h.writeJSONResponse(w, statusCode, response)
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	writeJSONLogged(h.logger, w, statusCode, data)
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	writeJSONLogged(h.logger, w, statusCode, models.NewErrorResponse(message, errorCode))
}

// writeServiceError maps err to its HTTP status. Errors other than
// *monitor.ServiceError are internal.
func (h *Handlers) writeServiceError(w http.ResponseWriter, err error) {
	var serr *monitor.ServiceError
	if !errors.As(err, &serr) {
		serr = monitor.NewInternalError("internal error", err)
	}
	if serr.StatusCode >= http.StatusInternalServerError {
		h.logger.Error("Request failed", "error", serr, "code", serr.Code)
	}
	h.writeErrorResponse(w, serr.StatusCode, serr.Code, serr.Message)
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// writeJSONLogged is writeJSON for callers with nowhere to return the error.
func writeJSONLogged(l *slog.Logger, w http.ResponseWriter, statusCode int, data interface{}) {
	if err := writeJSON(w, statusCode, data); err != nil {
		// headers are already written
		l.Error("Error encoding JSON response", "error", err, "status", statusCode)
	}
}

// apiKeyName safely extracts the API key name for logging
func apiKeyName(r *http.Request) string {
	key, ok := models.APIKeyFromContext(r.Context())
	if !ok {
		return "anonymous"
	}
	if key.Name != "" {
		return key.Name
	}
	return "unnamed-key"
}
