package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"ratelimiter/internal/config"
	"ratelimiter/internal/logger"
	"ratelimiter/internal/models"
	"ratelimiter/internal/observability"
	"ratelimiter/internal/version"

	"github.com/spf13/cobra"
)

const defaultShutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the rate limiter HTTP API and, when enabled, the Prometheus
metrics server. SIGINT or SIGTERM triggers a graceful shutdown that writes a
final bucket snapshot.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Load configuration
		cfg, err := config.Load(cfgFile, envFile)
		if err != nil {
			return err
		}

		ver := version.GetInfo()

		// Initialize structured logging
		log, closer, err := logger.Setup(cfg.Logging, cfg.Observability.ServiceName, ver)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if closer != nil {
			defer closer.Close()
		}
		slog.SetDefault(log)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return serve(ctx, cfg, log, ver)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// serve runs the service until ctx is cancelled or a server fails.
func serve(ctx context.Context, cfg *models.Config, log *slog.Logger, ver version.Info) error {
	a, err := newApp(ctx, cfg, log, ver)
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, a.provider)
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      a.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		var err error
		if cfg.Server.TLSEnabled {
			log.Info("Starting HTTPS server", "addr", server.Addr)
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			log.Info("Starting HTTP server", "addr", server.Addr)
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down server")
	case runErr = <-errCh:
		log.Error("Server failed", "error", runErr)
	}

	// Create a deadline to wait for shutdown
	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	// Stop taking requests before the final snapshot
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	if err := a.close(shutdownCtx); err != nil {
		log.Error("Shutdown incomplete", "error", err)
		runErr = errors.Join(runErr, err)
	}

	log.Info("Server shutdown complete")
	return runErr
}
