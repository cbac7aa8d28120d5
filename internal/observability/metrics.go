package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer serves Prometheus metrics on a separate port.
type MetricsServer struct {
	server *http.Server
}

// NewMetricsServer creates a metrics HTTP server serving the default
// Prometheus gatherer at path on port. Nothing is mounted when metrics are
// disabled in the provider.
func NewMetricsServer(port int, path string, provider *Provider) *MetricsServer {
	return NewMetricsServerFor(port, path, provider, prometheus.DefaultGatherer)
}

// NewMetricsServerFor is NewMetricsServer with an explicit gatherer.
func NewMetricsServerFor(port int, path string, provider *Provider, gatherer prometheus.Gatherer) *MetricsServer {
	mux := http.NewServeMux()

	if provider != nil && provider.MetricsEnabled() {
		mux.Handle(path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return &MetricsServer{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Handler returns the server's handler, mainly for tests.
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
