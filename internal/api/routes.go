package api

import (
	"encoding/json"
	"net/http"

	"ratelimiter/internal/models"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

// RouteOption configures optional route behavior.
type RouteOption func(*mux.Router)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(r *mux.Router) {
		r.Use(otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return !isUnthrottledPath(r.URL.Path)
			}),
		))
	}
}

// WithRateLimiter adds per-client-IP throttling of the API itself. Health and
// documentation routes are never throttled.
func WithRateLimiter(middleware func(http.Handler) http.Handler) RouteOption {
	return func(r *mux.Router) {
		r.Use(func(next http.Handler) http.Handler {
			limited := middleware(next)
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				if isUnthrottledPath(req.URL.Path) {
					next.ServeHTTP(w, req)
					return
				}
				limited.ServeHTTP(w, req)
			})
		})
	}
}

func isUnthrottledPath(path string) bool {
	switch path {
	case "/health", "/api/v1/health", "/metrics", "/api/v1/openapi.yaml", "/api/v1/docs":
		return true
	}
	return false
}

// SetupRoutes configures the HTTP routes for the API
func SetupRoutes(handlers *Handlers, config *models.Config, opts ...RouteOption) *mux.Router {
	router := mux.NewRouter()

	router.Use(recoveryMiddleware)
	router.Use(loggingMiddleware)
	if config.Server.CORS.Enabled {
		router.Use(corsMiddleware(config.Server.CORS))
	}

	for _, opt := range opts {
		opt(router)
	}

	api := router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/check", handlers.Check).Methods(http.MethodPost)
	api.HandleFunc("/check/burst", handlers.Burst).Methods(http.MethodPost)
	api.HandleFunc("/status/{client_key:.+}", handlers.Status).Methods(http.MethodGet)
	api.HandleFunc("/metrics", handlers.Metrics).Methods(http.MethodGet)
	api.HandleFunc("/logs", handlers.Logs).Methods(http.MethodGet)
	api.HandleFunc("/buckets", handlers.Buckets).Methods(http.MethodGet)
	api.HandleFunc("/reset", handlers.Reset).Methods(http.MethodPost)

	api.HandleFunc("/openapi.yaml", handlers.ServeOpenAPISpec).Methods(http.MethodGet)
	api.HandleFunc("/docs", handlers.ServeSwaggerUI).Methods(http.MethodGet)
	api.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet)

	router.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet)

	// Preflight requests for any API path; the CORS middleware, when enabled,
	// has already written the headers. A MatcherFunc rather than Methods keeps
	// unknown paths answering 404 instead of 405.
	api.MatcherFunc(func(r *http.Request, _ *mux.RouteMatch) bool {
		return r.Method == http.MethodOptions
	}).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedHandler)
	router.NotFoundHandler = http.HandlerFunc(notFoundHandler)

	return router
}

// methodNotAllowedHandler handles requests with invalid HTTP methods
func methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusMethodNotAllowed)
	errorResp := models.NewErrorResponse("Method not allowed", models.ErrorCodeMethodNotAllowed)
	json.NewEncoder(w).Encode(errorResp)
}

func notFoundHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	errorResp := models.NewErrorResponse("Resource not found", models.ErrorCodeNotFound)
	json.NewEncoder(w).Encode(errorResp)
}
