package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/timmy/odstat/internal/archive"
	"github.com/timmy/odstat/internal/domain"
	"github.com/timmy/odstat/internal/logger"
	"github.com/timmy/odstat/internal/source/jenkins"
	"github.com/timmy/odstat/internal/storage"
)

const (
	zipSubDir   = "org"
	unzipSubDir = "unzip"
)

// Downloader streams a URL into a local file.
type Downloader interface {
	Download(ctx context.Context, url, path string) (int64, error)
}

// FetcherConfig holds configuration for the artifact fetcher
type FetcherConfig struct {
	ArtifactPath  string // appended to the job URL
	UseCheckURL   bool   // download from the check job instead of the perception job
	StoragePrefix string
}

// Fetcher downloads and unpacks the Summary Results archive of a scene.
type Fetcher struct {
	downloader Downloader
	extractor  *archive.Extractor
	store      storage.ArtifactStore // optional
	cfg        FetcherConfig
}

// NewFetcher creates a new Fetcher.
// Parameters:
//   - downloader: HTTP downloader, usually *jenkins.Client.
//   - extractor: archive extractor.
//   - store: optional artifact store; nil disables archival.
//   - cfg: artifact path and source selection.
//
// Returns:
//   - *Fetcher: initialized fetcher.
func NewFetcher(downloader Downloader, extractor *archive.Extractor, store storage.ArtifactStore, cfg FetcherConfig) *Fetcher {
	if cfg.ArtifactPath == "" {
		cfg.ArtifactPath = "artifact/SummaryResults.zip"
	}
	return &Fetcher{
		downloader: downloader,
		extractor:  extractor,
		store:      store,
		cfg:        cfg,
	}
}

// ArtifactURL returns the archive URL of a scene.
func (f *Fetcher) ArtifactURL(scene domain.ReconciledScene) string {
	src := scene.PerceptionURL
	if f.cfg.UseCheckURL {
		src = scene.CheckURL
	}
	return jenkins.JobURL(src) + strings.TrimLeft(f.cfg.ArtifactPath, "/")
}

// FetchAndUnpack downloads the scene archive to destRoot/org/<scene>.zip and
// unpacks it into destRoot/unzip/<scene>. A nested .tar.gz is unpacked beside
// the CSVs.
//
// Errors wrap domain.ErrDownloadFailure or domain.ErrExtractFailure and only
// concern this scene.
func (f *Fetcher) FetchAndUnpack(ctx context.Context, scene domain.ReconciledScene, runName, destRoot string) (*domain.UnpackedRun, error) {
	ctx = logger.WithField(ctx, logger.FieldScene, scene.SceneName)
	if !archive.SafeName(scene.SceneName) {
		return nil, fmt.Errorf("%w: unsafe scene name %q", domain.ErrExtractFailure, scene.SceneName)
	}
	zipDir := filepath.Join(destRoot, zipSubDir)
	unzipDir := filepath.Join(destRoot, unzipSubDir)
	for _, dir := range []string{zipDir, unzipDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrDownloadFailure, scene.SceneName, err)
		}
	}

	url := f.ArtifactURL(scene)
	zipPath := filepath.Join(zipDir, scene.SceneName+".zip")
	size, err := f.downloader.Download(ctx, url, zipPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrDownloadFailure, scene.SceneName, err)
	}
	logger.With(logger.Fields{logger.FieldSize: size}).Info(ctx, "Downloaded %s", url)

	f.archive(ctx, zipPath, size, runName, scene.SceneName)

	dir, err := f.extractor.ExtractZip(zipPath, unzipDir, scene.SceneName)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", scene.SceneName, err)
	}

	run := &domain.UnpackedRun{SceneName: scene.SceneName, BaseDir: dir}
	if tgz, ok := archive.FindTarGz(dir); ok {
		perceptionDir, err := f.extractor.ExtractTarGz(tgz)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", scene.SceneName, err)
		}
		run.PerceptionDir = perceptionDir
	}

	run.CSVPaths, err = listDataFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrExtractFailure, scene.SceneName, err)
	}
	return run, nil
}

// archive uploads the raw zip when a store is configured. Failures are logged only.
func (f *Fetcher) archive(ctx context.Context, zipPath string, size int64, runName, sceneName string) {
	if f.store == nil {
		return
	}
	key := storage.ArchiveKey(f.cfg.StoragePrefix, runName, sceneName)

	file, err := os.Open(zipPath)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Warn("Failed to open archive for upload")
		return
	}
	defer file.Close()

	if err := f.store.Upload(ctx, key, file, size, "application/zip"); err != nil {
		logger.FromContext(ctx).WithError(err).WithField("storage_key", key).Warn("Failed to archive artifact")
		return
	}
	logger.CtxDebug(ctx, "Archived artifact: %s", f.store.GetURL(key))
}

// listDataFiles returns the regular files directly inside dir, skipping
// nested archives, sorted by name.
func listDataFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasSuffix(entry.Name(), ".tar.gz") {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}
