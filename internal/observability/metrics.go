package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// MetricsServer serves Prometheus metrics on a separate port so the scrape
// endpoint never shares auth or rate limits with the API.
type MetricsServer struct {
	server *http.Server
}

// NewMetricsServer creates a metrics HTTP server serving the Prometheus handler
// at the given path on the given port. Without a Prometheus exporter every
// path answers 404.
func NewMetricsServer(port int, path string, provider *Provider) *MetricsServer {
	mux := http.NewServeMux()
	if handler := provider.MetricsHandler(); handler != nil {
		mux.Handle(path, handler)
	}

	return &MetricsServer{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Handler returns the metrics mux.
func (ms *MetricsServer) Handler() http.Handler {
	return ms.server.Handler
}

// Start begins serving metrics in a blocking call.
// Returns http.ErrServerClosed on graceful shutdown.
func (ms *MetricsServer) Start() error {
	slog.Info("Starting metrics server", "addr", ms.server.Addr)
	return ms.server.ListenAndServe()
}

// Shutdown gracefully stops the metrics server.
func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}
