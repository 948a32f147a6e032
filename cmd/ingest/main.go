package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/timmy/odstat/internal/app"
	"github.com/timmy/odstat/internal/config"
	"github.com/timmy/odstat/internal/logger"
	"github.com/timmy/odstat/internal/service"
)

func main() {
	// Initialize logger first (with defaults)
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "odstat-ingest",
	})
	logger.SetDefaultLogger(appLogger)

	// Parse command line flags
	link := flag.String("link", "", "Trigger job URL(s), comma separated")
	platform := flag.String("platform", "", "Platform of the imported records (e.g. x86, arm)")
	key := flag.String("key", "stop_bar_statistic_with_time", "Substring selecting the statistic CSV files")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	if *link == "" || *platform == "" {
		flag.Usage()
		os.Exit(2)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}
	appLogger = app.NewLogger(&cfg.Log, "odstat-ingest")
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	appLogger.WithFields(logger.Fields{
		"link":     *link,
		"platform": *platform,
		"key":      *key,
	}).Info("Starting import")

	// Handle graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Received shutdown signal, canceling...")
		cancel()
	}()

	pipeline, err := app.New(ctx, cfg, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize pipeline")
	}
	defer pipeline.Close()

	job, err := pipeline.Importer.Run(ctx, service.ImportRequest{
		Link:     *link,
		Platform: *platform,
		Key:      *key,
	})
	if err != nil {
		fields := logger.Fields{}
		if job != nil {
			fields["import_id"] = job.ID
			fields["warnings"] = job.Errors
		}
		appLogger.WithFields(fields).WithError(err).Error("Import failed")
		pipeline.Close()
		logger.Sync()
		os.Exit(1)
	}

	appLogger.WithFields(logger.Fields{
		"import_id": job.ID,
		"records":   job.RecordCount,
		"warnings":  len(job.Errors),
	}).Info("Import completed")
}
