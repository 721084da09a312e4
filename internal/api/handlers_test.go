package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"keepalive/internal/models"
	"keepalive/internal/monitor"
	"keepalive/internal/storage"
	"keepalive/internal/version"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testURL = "https://progress-ytar.onrender.com/wakeup"

// MockRunService implements RunService for testing
type MockRunService struct {
	mock.Mock
}

func (m *MockRunService) RunOnce(ctx context.Context, trigger models.Trigger) (*models.Run, error) {
	args := m.Called(ctx, trigger)
	run, _ := args.Get(0).(*models.Run)
	return run, args.Error(1)
}

func (m *MockRunService) Runs(ctx context.Context, req *models.ListRunsRequest) (*models.ListRunsResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*models.ListRunsResponse)
	return resp, args.Error(1)
}

func (m *MockRunService) GetRun(ctx context.Context, id string) (*models.Run, error) {
	args := m.Called(ctx, id)
	run, _ := args.Get(0).(*models.Run)
	return run, args.Error(1)
}

func (m *MockRunService) LatestRun(ctx context.Context) (*models.Run, error) {
	args := m.Called(ctx)
	run, _ := args.Get(0).(*models.Run)
	return run, args.Error(1)
}

func (m *MockRunService) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// stubProber answers every probe with a fixed status code.
type stubProber struct {
	status int
}

func (p *stubProber) URL() string { return testURL }

func (p *stubProber) Probe(context.Context) models.ProbeResult {
	return models.ProbeResult{
		URL:        testURL,
		StatusCode: p.status,
		Outcome:    models.ClassifyStatus(p.status),
		CheckedAt:  time.Now().UTC(),
	}
}

type stubScheduler struct {
	running bool
	next    time.Time
}

func (s stubScheduler) Running() bool   { return s.running }
func (s stubScheduler) Next() time.Time { return s.next }

// newTestServer wires a real monitor service over memory storage.
func newTestServer(t *testing.T, status int, opts ...HandlerOption) http.Handler {
	t.Helper()
	store, err := storage.NewMemoryStorage(storage.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	svc := monitor.NewService(&stubProber{status: status}, store)
	return SetupRoutes(NewHandlers(svc, opts...), &models.Config{})
}

func serve(h http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestNewHandlers(t *testing.T) {
	mockService := &MockRunService{}
	handlers := NewHandlers(mockService)

	assert.NotNil(t, handlers)
	assert.Equal(t, mockService, handlers.service)
	assert.Nil(t, handlers.scheduler)
	assert.Equal(t, 4*time.Minute, handlers.runTimeout)
	assert.NotNil(t, handlers.logger)
}

func TestNewHandlers_WithOptions(t *testing.T) {
	sched := stubScheduler{running: true}
	handlers := NewHandlers(&MockRunService{},
		WithScheduler(sched),
		WithRunTimeout(30*time.Second),
		WithVersion(version.Info{Version: "1.2.3"}),
	)

	assert.Equal(t, sched, handlers.scheduler)
	assert.Equal(t, 30*time.Second, handlers.runTimeout)
	assert.Equal(t, "1.2.3", handlers.version.Version)
}

func TestHandlers_TriggerRun_ServiceUp(t *testing.T) {
	server := newTestServer(t, http.StatusOK)

	rec := serve(server, http.MethodPost, "/api/v1/runs", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var run models.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, models.TriggerManual, run.Trigger)
	assert.Equal(t, models.OutcomeSuccess, run.HealthCheck.Outcome)
	assert.Equal(t, http.StatusOK, run.HealthCheck.Probe.StatusCode)
	assert.Equal(t, models.JobStatusSkipped, run.Redeploy.Status)
	assert.Equal(t, "probe succeeded", run.Redeploy.Reason)
}

func TestHandlers_TriggerRun_ServiceDown(t *testing.T) {
	server := newTestServer(t, http.StatusServiceUnavailable)

	rec := serve(server, http.MethodPost, "/api/v1/runs", []byte(`{"reason":"deploy looked stuck"}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var run models.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, models.OutcomeFailure, run.HealthCheck.Outcome)
	assert.Equal(t, http.StatusServiceUnavailable, run.HealthCheck.Probe.StatusCode)
	assert.Equal(t, models.JobStatusSkipped, run.Redeploy.Status)
	assert.Equal(t, "deploy disabled", run.Redeploy.Reason)
}

func TestHandlers_TriggerRun_InvalidBody(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		expectedCode string
	}{
		{"malformed json", `{"reason":`, models.ErrorCodeBadRequest},
		{"wrong type", `{"reason": 5}`, models.ErrorCodeBadRequest},
		{"reason too long", `{"reason":"` + strings.Repeat("x", 257) + `"}`, models.ErrorCodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := &MockRunService{}
			router := SetupRoutes(NewHandlers(mockService), &models.Config{})

			rec := serve(router, http.MethodPost, "/api/v1/runs", []byte(tt.body))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.expectedCode, decodeError(t, rec).Code)
			mockService.AssertNotCalled(t, "RunOnce", mock.Anything, mock.Anything)
		})
	}
}

func TestHandlers_TriggerRun_ServiceErrors(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedCode   string
	}{
		{
			name:           "run in progress",
			err:            monitor.ErrRunInProgress,
			expectedStatus: http.StatusConflict,
			expectedCode:   models.ErrorCodeRunInProgress,
		},
		{
			name:           "persistence failure",
			err:            errors.New("save run: disk full"),
			expectedStatus: http.StatusInternalServerError,
			expectedCode:   models.ErrorCodeInternalError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := &MockRunService{}
			mockService.On("RunOnce", mock.Anything, models.TriggerManual).Return(nil, tt.err)
			router := SetupRoutes(NewHandlers(mockService), &models.Config{})

			rec := serve(router, http.MethodPost, "/api/v1/runs", nil)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, "error", resp.Error)
			assert.Equal(t, tt.expectedCode, resp.Code)
			assert.NotContains(t, resp.Message, "disk full")
			mockService.AssertExpectations(t)
		})
	}
}

func TestHandlers_TriggerRun_SurvivesClientDisconnect(t *testing.T) {
	mockService := &MockRunService{}
	detached := mock.MatchedBy(func(ctx context.Context) bool {
		_, hasDeadline := ctx.Deadline()
		return hasDeadline && ctx.Err() == nil
	})
	mockService.On("RunOnce", detached, models.TriggerManual).Return(models.NewRun(models.TriggerManual), nil)
	handlers := NewHandlers(mockService, WithRunTimeout(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	handlers.TriggerRun(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	mockService.AssertExpectations(t)
}

func TestHandlers_RunHistory(t *testing.T) {
	server := newTestServer(t, http.StatusOK)

	var ids []string
	for i := 0; i < 3; i++ {
		rec := serve(server, http.MethodPost, "/api/v1/runs", nil)
		require.Equal(t, http.StatusCreated, rec.Code)
		var run models.Run
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
		ids = append(ids, run.ID)
	}

	t.Run("list", func(t *testing.T) {
		rec := serve(server, http.MethodGet, "/api/v1/runs?limit=2", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp models.ListRunsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 3, resp.TotalCount)
		assert.Equal(t, 2, resp.Limit)
		require.Len(t, resp.Runs, 2)
		assert.Equal(t, ids[2], resp.Runs[0].ID)
		assert.Equal(t, models.OutcomeSuccess, resp.Runs[0].Outcome)
	})

	t.Run("filter by outcome", func(t *testing.T) {
		rec := serve(server, http.MethodGet, "/api/v1/runs?outcome=failure", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp models.ListRunsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 0, resp.TotalCount)
		assert.Empty(t, resp.Runs)
		assert.Equal(t, models.DefaultListLimit, resp.Limit)
	})

	t.Run("filter by trigger", func(t *testing.T) {
		rec := serve(server, http.MethodGet, "/api/v1/runs?trigger=schedule", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp models.ListRunsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 0, resp.TotalCount, "every stored run was manual")

		rec = serve(server, http.MethodGet, "/api/v1/runs?trigger=manual", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 3, resp.TotalCount)
	})

	t.Run("latest", func(t *testing.T) {
		rec := serve(server, http.MethodGet, "/api/v1/runs/latest", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var run models.Run
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
		assert.Equal(t, ids[2], run.ID)
	})

	t.Run("by id", func(t *testing.T) {
		rec := serve(server, http.MethodGet, "/api/v1/runs/"+ids[0], nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var run models.Run
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
		assert.Equal(t, ids[0], run.ID)
	})

	t.Run("unknown id", func(t *testing.T) {
		rec := serve(server, http.MethodGet, "/api/v1/runs/does-not-exist", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		resp := decodeError(t, rec)
		assert.Equal(t, models.ErrorCodeRunNotFound, resp.Code)
		assert.Contains(t, resp.Message, "does-not-exist")
	})
}

func TestHandlers_LatestRun_Empty(t *testing.T) {
	server := newTestServer(t, http.StatusOK)

	rec := serve(server, http.MethodGet, "/api/v1/runs/latest", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, models.ErrorCodeNotFound, decodeError(t, rec).Code)
}

func TestHandlers_ListRuns_QueryParams(t *testing.T) {
	tests := []struct {
		name           string
		query          string
		expectedStatus int
	}{
		{"non-numeric limit", "?limit=ten", http.StatusBadRequest},
		{"negative limit", "?limit=-1", http.StatusBadRequest},
		{"unknown outcome", "?outcome=maybe", http.StatusBadRequest},
		{"unknown trigger", "?trigger=bogus", http.StatusBadRequest},
		{"large limit is clamped", "?limit=5000", http.StatusOK},
		{"no params", "", http.StatusOK},
	}

	server := newTestServer(t, http.StatusOK)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(server, http.MethodGet, "/api/v1/runs"+tt.query, nil)
			assert.Equal(t, tt.expectedStatus, rec.Code, rec.Body.String())
		})
	}
}

func TestHandlers_ListRuns_PassesFilter(t *testing.T) {
	mockService := &MockRunService{}
	matches := mock.MatchedBy(func(req *models.ListRunsRequest) bool {
		return req.Limit == 5 && req.Outcome == models.OutcomeFailure && req.Trigger == models.TriggerSchedule
	})
	mockService.On("Runs", mock.Anything, matches).Return(&models.ListRunsResponse{Runs: []models.RunSummary{}, Limit: 5}, nil)
	router := SetupRoutes(NewHandlers(mockService), &models.Config{})

	rec := serve(router, http.MethodGet, "/api/v1/runs?limit=5&outcome=failure&trigger=schedule", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	mockService.AssertExpectations(t)
}

func TestHandlers_HealthCheck(t *testing.T) {
	tests := []struct {
		name           string
		pingErr        error
		scheduler      SchedulerStatus
		expectedStatus int
		expectedHealth string
	}{
		{
			name:           "healthy without scheduler",
			expectedStatus: http.StatusOK,
			expectedHealth: models.StatusHealthy,
		},
		{
			name:           "healthy with running scheduler",
			scheduler:      stubScheduler{running: true, next: time.Now().Add(time.Minute)},
			expectedStatus: http.StatusOK,
			expectedHealth: models.StatusHealthy,
		},
		{
			name:           "stopped scheduler degrades",
			scheduler:      stubScheduler{running: false},
			expectedStatus: http.StatusOK,
			expectedHealth: models.StatusDegraded,
		},
		{
			name:           "storage down is unhealthy",
			pingErr:        errors.New("connection refused"),
			expectedStatus: http.StatusServiceUnavailable,
			expectedHealth: models.StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		for _, path := range []string{"/health", "/api/v1/health"} {
			t.Run(tt.name+" "+path, func(t *testing.T) {
				mockService := &MockRunService{}
				mockService.On("Ping", mock.Anything).Return(tt.pingErr)
				mockService.On("LatestRun", mock.Anything).Return(nil, monitor.NewNotFoundError("no runs recorded yet"))

				opts := []HandlerOption{WithVersion(version.Info{Version: "1.2.3"})}
				if tt.scheduler != nil {
					opts = append(opts, WithScheduler(tt.scheduler))
				}
				router := SetupRoutes(NewHandlers(mockService, opts...), &models.Config{})

				rec := serve(router, http.MethodGet, path, nil)
				assert.Equal(t, tt.expectedStatus, rec.Code)

				var resp models.HealthCheckResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, tt.expectedHealth, resp.Status)
				assert.Equal(t, "1.2.3", resp.Version)
				assert.NotEmpty(t, resp.Uptime)
				assert.Contains(t, resp.Components, "storage")
				if tt.scheduler != nil {
					assert.Contains(t, resp.Components, "scheduler")
				}
				assert.Nil(t, resp.LastRun)
			})
		}
	}
}

func TestHandlers_HealthCheck_ReportsLastRun(t *testing.T) {
	server := newTestServer(t, http.StatusBadGateway)
	require.Equal(t, http.StatusCreated, serve(server, http.MethodPost, "/api/v1/runs", nil).Code)

	rec := serve(server, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.HealthCheckResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	// a failing watched service does not make keepalive itself unhealthy
	assert.Equal(t, models.StatusHealthy, resp.Status)
	require.NotNil(t, resp.LastRun)
	assert.Equal(t, models.OutcomeFailure, resp.LastRun.Outcome)
	assert.Equal(t, http.StatusBadGateway, resp.LastRun.StatusCode)
}

func TestHandlers_HTTPMethodNotAllowed(t *testing.T) {
	router := SetupRoutes(NewHandlers(&MockRunService{}), &models.Config{})

	rec := serve(router, http.MethodDelete, "/api/v1/runs", nil)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestHandlers_NotFound(t *testing.T) {
	router := SetupRoutes(NewHandlers(&MockRunService{}), &models.Config{})

	rec := serve(router, http.MethodGet, "/api/v1/updates", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, models.ErrorCodeNotFound, decodeError(t, rec).Code)
}

func TestHandlers_PanicRecovery(t *testing.T) {
	mockService := &MockRunService{}
	mockService.On("LatestRun", mock.Anything).Run(func(mock.Arguments) {
		panic("boom")
	})
	router := SetupRoutes(NewHandlers(mockService), &models.Config{})

	rec := serve(router, http.MethodGet, "/api/v1/runs/latest", nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, models.ErrorCodeInternalError, decodeError(t, rec).Code)
}
