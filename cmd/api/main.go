package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/odstat/internal/api"
	"github.com/timmy/odstat/internal/api/middleware"
	"github.com/timmy/odstat/internal/app"
	"github.com/timmy/odstat/internal/config"
	"github.com/timmy/odstat/internal/logger"
)

func main() {
	// Load configuration
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	appLogger := app.NewLogger(&cfg.Log, "odstat-api")
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipeline, err := app.New(ctx, cfg, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize pipeline")
	}
	defer pipeline.Close()

	sqlDB, err := pipeline.DB.DB()
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to get database handle")
	}

	// Setup router
	router := api.SetupRouter(pipeline.Importer, sqlDB, appLogger, api.RouterConfig{
		Mode: cfg.Server.Mode,
		CORS: middleware.CORSConfig{
			AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
			AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
		},
	})

	go reapProgress(ctx, pipeline, cfg.Progress)

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()
	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}

	// Background imports own their work directories; let them finish.
	appLogger.Info("Waiting for running imports...")
	pipeline.Importer.Wait()

	appLogger.Info("Server exited")
}

// reapProgress drops terminal progress entries older than the retention.
// Their snapshots stay readable from the import_jobs table.
func reapProgress(ctx context.Context, pipeline *app.App, cfg config.ProgressConfig) {
	if cfg.Retention <= 0 || cfg.ReapInterval <= 0 {
		return
	}
	ticker := time.NewTicker(cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := pipeline.Progress.Reap(now.Add(-cfg.Retention)); n > 0 {
				logger.With(logger.Fields{logger.FieldCount: n}).Info(ctx, "Reaped import progress")
			}
		}
	}
}
