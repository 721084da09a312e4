package api

import (
	"net/http"

	"keepalive/internal/models"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

type routeConfig struct {
	middlewares    []mux.MiddlewareFunc
	triggerLimiter mux.MiddlewareFunc
}

// RouteOption configures optional route behavior.
type RouteOption func(*routeConfig)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(c *routeConfig) {
		c.middlewares = append(c.middlewares, otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" &&
					r.URL.Path != "/api/v1/health" &&
					r.URL.Path != openAPIPath &&
					r.URL.Path != "/api/v1/docs"
			}),
		))
	}
}

// WithTriggerRateLimiter rate limits manual runs. Reads are not limited.
func WithTriggerRateLimiter(middleware func(http.Handler) http.Handler) RouteOption {
	return func(c *routeConfig) {
		c.triggerLimiter = middleware
	}
}

// SetupRoutes configures the HTTP routes for the API
func SetupRoutes(handlers *Handlers, config *models.Config, opts ...RouteOption) *mux.Router {
	rc := &routeConfig{}
	for _, opt := range opts {
		opt(rc)
	}

	router := mux.NewRouter()
	for _, mw := range rc.middlewares {
		router.Use(mw)
	}
	router.Use(loggingMiddleware(handlers.logger))
	router.Use(recoveryMiddleware(handlers.logger))

	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	api.HandleFunc("/openapi.yaml", handlers.ServeOpenAPISpec).Methods("GET")
	api.HandleFunc("/docs", handlers.ServeSwaggerUI).Methods("GET")

	readAPI := api.PathPrefix("").Subrouter()
	triggerAPI := api.PathPrefix("").Subrouter()

	if config.Security.EnableAuth {
		keys := NewKeyStore(config.Security.APIKeys)
		readAPI.Use(authMiddleware(keys, handlers.logger))
		readAPI.Use(RequirePermission(models.PermissionRead, handlers.logger))
		triggerAPI.Use(authMiddleware(keys, handlers.logger))
		triggerAPI.Use(RequirePermission(models.PermissionTrigger, handlers.logger))
	}
	// after auth, so authenticated callers get their own bucket
	if rc.triggerLimiter != nil {
		triggerAPI.Use(rc.triggerLimiter)
	}

	readAPI.HandleFunc("/runs", handlers.ListRuns).Methods("GET")
	readAPI.HandleFunc("/runs/latest", handlers.GetLatestRun).Methods("GET")
	readAPI.HandleFunc("/runs/{id}", handlers.GetRun).Methods("GET")
	triggerAPI.HandleFunc("/runs", handlers.TriggerRun).Methods("POST")

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlers.writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeNotFound, "Not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(handlers.methodNotAllowed)

	return router
}

// methodNotAllowed handles requests with invalid HTTP methods
func (h *Handlers) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.writeErrorResponse(w, http.StatusMethodNotAllowed, models.ErrorCodeInvalidRequest, "Method not allowed")
}
