// Package app wires configuration into a ready import pipeline for the
// HTTP server and the one-shot CLI.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/timmy/odstat/internal/archive"
	"github.com/timmy/odstat/internal/config"
	"github.com/timmy/odstat/internal/logger"
	"github.com/timmy/odstat/internal/repository"
	"github.com/timmy/odstat/internal/service"
	"github.com/timmy/odstat/internal/source/jenkins"
	"github.com/timmy/odstat/internal/storage"
	"gorm.io/gorm"
)

// App holds the wired pipeline.
type App struct {
	DB       *gorm.DB
	Stats    *repository.StatRepository
	Jobs     *repository.ImportJobRepository
	Progress *service.MemoryProgressStore
	Importer *service.ImportService
}

// NewLogger builds the process logger from the log section, with file
// rotation settings taken from the environment.
func NewLogger(cfg *config.LogConfig, serviceName string) *logger.Logger {
	envCfg := logger.LoadFromEnv()
	if cfg.Level != "" {
		envCfg.Level = cfg.Level
	}
	if cfg.Format != "" {
		envCfg.Format = cfg.Format
	}
	envCfg.ServiceName = serviceName
	return logger.NewFromEnv(envCfg)
}

// New opens the database and wires every pipeline stage.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	store, err := newArtifactStore(ctx, &cfg.Storage)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Ingest.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}

	client := jenkins.NewClient(&jenkins.ClientConfig{
		Username:          cfg.Jenkins.Username,
		Password:          cfg.Jenkins.Password,
		Timeout:           cfg.Jenkins.Timeout,
		DownloadTimeout:   cfg.Jenkins.DownloadTimeout,
		RequestsPerSecond: cfg.Jenkins.RequestsPerSecond,
		Burst:             cfg.Jenkins.Burst,
	})
	scraper := jenkins.NewScraper(client, jenkins.DefaultRules(), cfg.Jenkins.ScrapeConcurrency)
	extractor := archive.NewExtractor(archive.Limits{
		Files: cfg.Ingest.ExtractFileLimit,
		Bytes: cfg.Ingest.ExtractSizeLimit,
	})
	fetcher := service.NewFetcher(client, extractor, store, service.FetcherConfig{
		ArtifactPath:  cfg.Jenkins.ArtifactPath,
		UseCheckURL:   cfg.Jenkins.ArtifactSource == "check",
		StoragePrefix: cfg.Storage.Prefix,
	})

	a := &App{
		DB: db,
		Stats: repository.NewStatRepository(db, repository.StatRepositoryOptions{
			BatchSize:  cfg.Ingest.BatchSize,
			RetryCount: cfg.Ingest.RetryCount,
			Backoff:    cfg.Ingest.RetryBackoff,
		}),
		Jobs:     repository.NewImportJobRepository(db),
		Progress: service.NewMemoryProgressStore(),
	}

	loc := cfg.Ingest.Location()
	a.Importer = service.NewImportService(
		service.NewReconciler(scraper),
		fetcher,
		service.NewNormalizer(loc),
		a.Stats,
		a.Jobs,
		a.Progress,
		log,
		&service.ImportConfig{
			Workers:   cfg.Ingest.Workers,
			WorkDir:   cfg.Ingest.WorkDir,
			Location:  loc,
			Platforms: cfg.Ingest.Platforms,
		},
	)
	return a, nil
}

// Close releases the database connection.
func (a *App) Close() error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// newArtifactStore returns nil when archival is disabled.
func newArtifactStore(ctx context.Context, cfg *config.StorageConfig) (storage.ArtifactStore, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	store, err := storage.NewStorage(&storage.Config{
		Type:      storage.StorageType(cfg.Type),
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		UseSSL:    cfg.UseSSL,
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
		PublicURL: cfg.PublicURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	// Ensure bucket exists
	if s3Store, ok := store.(*storage.S3Storage); ok {
		if err := s3Store.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure storage bucket: %w", err)
		}
	}
	return store, nil
}
