package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/odstat/internal/domain"
	"github.com/timmy/odstat/internal/logger"
	"github.com/timmy/odstat/internal/repository"
)

// Progress milestones.
const (
	progressDownloading = 20
	progressProcessing  = 40
	progressProcessSpan = 30
	progressImporting   = 80
)

// StatUpserter is the Query Service upsert operation.
type StatUpserter interface {
	Upsert(ctx context.Context, records []domain.StatRecord) (*repository.UpsertResult, error)
}

// JobRecorder keeps finished import jobs.
type JobRecorder interface {
	Save(ctx context.Context, job *domain.ImportJob) error
	GetByID(ctx context.Context, id string) (*domain.ImportJob, error)
}

// ImportRequest starts an import. Link may hold several trigger job URLs
// separated by commas or whitespace.
type ImportRequest struct {
	Link     string `json:"link_str" binding:"required"`
	Platform string `json:"platform" binding:"required"`
	Key      string `json:"key_str" binding:"required"`
}

// JobURLs splits Link into trigger job URLs.
func (r ImportRequest) JobURLs() []string {
	return strings.FieldsFunc(r.Link, func(c rune) bool {
		return c == ',' || c == ';' || c == ' ' || c == '\n' || c == '\t' || c == '\r'
	})
}

// ImportID returns the stable id of a request, so repeated requests poll the same job.
func ImportID(link, key, platform string) string {
	name := strings.Join([]string{strings.TrimSpace(link), key, platform}, "|")
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// ImportConfig holds configuration for the import service
type ImportConfig struct {
	Workers   int
	WorkDir   string
	Location  *time.Location
	Platforms []string // empty accepts any platform
}

// ImportService runs the ingestion pipeline:
// reconcile -> fetch and unpack -> normalize -> upsert.
type ImportService struct {
	reconciler *Reconciler
	fetcher    *Fetcher
	normalizer *Normalizer
	stats      StatUpserter
	jobs       JobRecorder // optional
	progress   ProgressStore
	logger     *logger.Logger
	cfg        ImportConfig

	background sync.WaitGroup
}

// NewImportService creates a new import service
func NewImportService(
	reconciler *Reconciler,
	fetcher *Fetcher,
	normalizer *Normalizer,
	stats StatUpserter,
	jobs JobRecorder,
	progress ProgressStore,
	log *logger.Logger,
	cfg *ImportConfig,
) *ImportService {
	c := *cfg
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	return &ImportService{
		reconciler: reconciler,
		fetcher:    fetcher,
		normalizer: normalizer,
		stats:      stats,
		jobs:       jobs,
		progress:   progress,
		logger:     log,
		cfg:        c,
	}
}

// log returns a logger from context if available, otherwise returns the default logger
func (s *ImportService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// Run executes an import and blocks until it is terminal. Cancelling ctx does
// not abort a started import; only its values (logger fields) are used.
// The returned job is the terminal snapshot; err is the fatal cause, if any.
func (s *ImportService) Run(ctx context.Context, req ImportRequest) (*domain.ImportJob, error) {
	id, err := s.begin(req)
	if err != nil {
		return nil, err
	}
	return s.run(context.WithoutCancel(ctx), id, req)
}

// Start registers an import and runs it in the background. The import keeps
// running when ctx is cancelled; poll Progress for the outcome.
func (s *ImportService) Start(ctx context.Context, req ImportRequest) (string, error) {
	id, err := s.begin(req)
	if err != nil {
		return "", err
	}

	bgCtx := context.WithoutCancel(ctx)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		_, _ = s.run(bgCtx, id, req)
	}()
	return id, nil
}

// Wait blocks until all background imports are terminal.
func (s *ImportService) Wait() {
	s.background.Wait()
}

// Progress returns the job state, falling back to the saved history and
// finally to an "unknown" job.
func (s *ImportService) Progress(ctx context.Context, id string) domain.ImportJob {
	if job, ok := s.progress.Get(id); ok {
		return job
	}
	if s.jobs != nil {
		job, err := s.jobs.GetByID(ctx, id)
		if err != nil {
			s.log(ctx).WithError(err).WithField(logger.FieldImportID, id).Warn("Failed to load import job")
		} else if job != nil {
			return *job
		}
	}
	return domain.UnknownImportJob(id)
}

func (s *ImportService) begin(req ImportRequest) (string, error) {
	if !s.platformAllowed(req.Platform) {
		return "", fmt.Errorf("%w: %q", domain.ErrPlatformRejected, req.Platform)
	}
	id := ImportID(req.Link, req.Key, req.Platform)
	err := s.progress.Begin(domain.ImportJob{
		ID:       id,
		Link:     req.Link,
		Platform: req.Platform,
		Key:      req.Key,
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *ImportService) platformAllowed(platform string) bool {
	if len(s.cfg.Platforms) == 0 {
		return true
	}
	for _, p := range s.cfg.Platforms {
		if strings.EqualFold(p, platform) {
			return true
		}
	}
	return false
}

func (s *ImportService) run(ctx context.Context, id string, req ImportRequest) (*domain.ImportJob, error) {
	ctx = logger.SetImportID(ctx, id)
	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldComponent: "import",
		logger.FieldPlatform:  req.Platform,
	})
	start := time.Now()
	s.log(ctx).WithField("link", req.Link).Info("Starting import")

	count, err := s.execute(ctx, id, req)
	if err != nil {
		s.progress.Fail(id, err.Error())
		logger.With(logger.Fields{logger.FieldStatus: domain.ImportStatusError}).
			WithDuration(time.Since(start).Milliseconds()).
			Error(ctx, "Import failed: %v", err)
	} else {
		s.progress.Complete(id, s.completionMessage(id, count), count)
		logger.With(logger.Fields{logger.FieldStatus: domain.ImportStatusCompleted}).
			WithDuration(time.Since(start).Milliseconds()).
			WithCount(count).
			Info(ctx, "Import completed")
	}

	job, _ := s.progress.Get(id)
	if s.jobs != nil {
		if saveErr := s.jobs.Save(ctx, &job); saveErr != nil {
			s.log(ctx).WithError(saveErr).Warn("Failed to save import job")
		}
	}
	return &job, err
}

func (s *ImportService) completionMessage(id string, count int) string {
	msg := fmt.Sprintf("imported %d records", count)
	if job, ok := s.progress.Get(id); ok && len(job.Errors) > 0 {
		msg += fmt.Sprintf(" with %d warnings", len(job.Errors))
	}
	return msg
}

// execute runs the stages. The work directory is removed on every exit path;
// a panic is turned into an error after cleanup.
func (s *ImportService) execute(ctx context.Context, id string, req ImportRequest) (count int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("import panicked: %v", r)
		}
	}()

	s.progress.Update(id, domain.ImportStatusDownloading, progressDownloading, "resolving trigger jobs")
	rec, err := s.reconciler.Reconcile(ctx, req.JobURLs())
	if rec != nil {
		for _, d := range rec.Diagnostics {
			s.progress.AddError(id, d)
		}
	}
	if err != nil {
		return 0, err
	}

	vkey, err := ParseVersionKey(rec.RunName, s.cfg.Location)
	if err != nil {
		return 0, err
	}

	workDir := filepath.Join(s.cfg.WorkDir, id)
	if err := os.RemoveAll(workDir); err != nil {
		return 0, fmt.Errorf("failed to reset work dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(workDir); rmErr != nil {
			s.log(ctx).WithError(rmErr).WithField("dir", workDir).Warn("Failed to remove work dir")
		}
	}()
	destRoot := filepath.Join(workDir, rec.RunName)
	if err := os.MkdirAll(destRoot, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create work dir: %w", err)
	}

	runs := s.fetchAll(ctx, id, rec, destRoot)

	records, err := s.normalizeAll(id, runs, req, vkey)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, fmt.Errorf("%w: %d of %d scenes unpacked", domain.ErrNoRecords, len(runs), len(rec.Scenes))
	}

	s.progress.Update(id, domain.ImportStatusImporting, progressImporting,
		fmt.Sprintf("importing %d records", len(records)))
	res, err := s.stats.Upsert(ctx, records)
	if err != nil {
		return 0, err
	}
	if !res.Success {
		return 0, fmt.Errorf("%w: %s", domain.ErrPersistence, res.Message)
	}
	return len(records), nil
}

type fetchResult struct {
	scene domain.ReconciledScene
	run   *domain.UnpackedRun
	err   error
}

// fetchAll downloads and unpacks scenes with a worker pool. Soft failures are
// recorded on the job; the scene is skipped.
func (s *ImportService) fetchAll(ctx context.Context, id string, rec *domain.Reconciliation, destRoot string) []*domain.UnpackedRun {
	total := len(rec.Scenes)
	scenesChan := make(chan domain.ReconciledScene)
	resultsChan := make(chan *fetchResult, s.cfg.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for scene := range scenesChan {
				resultsChan <- s.fetchOne(ctx, scene, rec.RunName, destRoot)
			}
		}()
	}

	go func() {
		for _, scene := range rec.Scenes {
			scenesChan <- scene
		}
		close(scenesChan)
		wg.Wait()
		close(resultsChan)
	}()

	var runs []*domain.UnpackedRun
	done := 0
	for result := range resultsChan {
		done++
		if result.err != nil {
			s.log(ctx).WithField(logger.FieldScene, result.scene.SceneName).
				WithError(result.err).Warn("Skipping scene")
			s.progress.AddError(id, result.err.Error())
		} else {
			runs = append(runs, result.run)
		}
		s.progress.Update(id, domain.ImportStatusDownloading,
			progressDownloading+done*(progressProcessing-progressDownloading)/total,
			fmt.Sprintf("downloaded %d/%d scenes", done, total))
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].SceneName < runs[j].SceneName })
	return runs
}

// fetchOne runs a single fetch. A panic becomes a soft error for the scene so
// the pool keeps draining and the collector sees every result.
func (s *ImportService) fetchOne(ctx context.Context, scene domain.ReconciledScene, runName, destRoot string) (result *fetchResult) {
	defer func() {
		if r := recover(); r != nil {
			result = &fetchResult{
				scene: scene,
				err:   fmt.Errorf("%w: %s: fetch panicked: %v", domain.ErrDownloadFailure, scene.SceneName, r),
			}
		}
	}()
	run, err := s.fetcher.FetchAndUnpack(ctx, scene, runName, destRoot)
	return &fetchResult{scene: scene, run: run, err: err}
}

// normalizeAll parses the unpacked runs in order. Any fatal error aborts.
func (s *ImportService) normalizeAll(id string, runs []*domain.UnpackedRun, req ImportRequest, vkey domain.VersionKey) ([]domain.StatRecord, error) {
	var records []domain.StatRecord
	for i, run := range runs {
		s.progress.Update(id, domain.ImportStatusProcessing,
			progressProcessing+i*progressProcessSpan/len(runs),
			fmt.Sprintf("processing %d/%d", i+1, len(runs)))

		rows, err := s.normalizer.Normalize(run, req.Key, req.Platform, vkey)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", run.SceneName, err)
		}
		records = append(records, rows...)
	}
	return records, nil
}
