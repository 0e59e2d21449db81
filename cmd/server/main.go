package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/copyleftdev/ARDI/internal/config"
	apperrors "github.com/copyleftdev/ARDI/internal/errors"
	"github.com/copyleftdev/ARDI/internal/logging"
	"github.com/copyleftdev/ARDI/internal/metrics"
	"github.com/copyleftdev/ARDI/internal/server"
	"github.com/copyleftdev/ARDI/internal/spectral/fit"
)

const version = "1.0.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use standard logger as fallback if config loading fails
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize base logger
	logger, err := logging.NewLogger(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	// Create a service logger with additional fields
	serviceLogger := logger.WithFields(map[string]interface{}{
		"service": "ardi",
		"version": version,
		"env":     cfg.Environment,
	})

	// The numeric packages log through zap into the same sink
	zapLogger := logging.NewZapLogger(serviceLogger)
	defer func() { _ = zapLogger.Sync() }()

	fitter := fit.NewFitter(
		fit.WithLogger(zapLogger),
		fit.WithMaxPeaks(cfg.Fit.MaxPeaks),
	)

	opts := []server.Option{server.WithFitter(fitter)}
	if cfg.Metrics.Enabled {
		opts = append(opts, server.WithMetrics(metrics.New()))
	}

	// Create router
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(serviceLogger))
	r.Use(apperrors.RecoveryMiddleware(serviceLogger))
	r.Use(apperrors.ErrorHandler(serviceLogger))
	r.Use(middleware.Timeout(cfg.HTTP.RequestTimeout))

	srv := server.NewServer(cfg, serviceLogger, opts...)
	srv.RegisterRoutes(r)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	// Start HTTP server
	go func() {
		serviceLogger.Info("Starting server", map[string]interface{}{
			"address": httpServer.Addr,
			"metrics": cfg.Metrics.Enabled,
		})

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serviceLogger.Fatal("Failed to start server", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	serviceLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		serviceLogger.Error("Server forced to shutdown", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	serviceLogger.Info("Server stopped")
}
