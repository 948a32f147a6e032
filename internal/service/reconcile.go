package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/timmy/odstat/internal/domain"
	"github.com/timmy/odstat/internal/logger"
	"github.com/timmy/odstat/internal/source/jenkins"
)

// Scraper recovers a ScrapeResult from one trigger job.
type Scraper interface {
	Scrape(ctx context.Context, jobURL string) (*domain.ScrapeResult, error)
}

// Reconciler pairs perception and check entries of one or more trigger jobs.
type Reconciler struct {
	scraper Scraper
}

// NewReconciler creates a new Reconciler.
func NewReconciler(scraper Scraper) *Reconciler {
	return &Reconciler{scraper: scraper}
}

// Reconcile scrapes every job and joins perception and check entries by
// scene name. Jobs that cannot be scraped only add a diagnostic, but all jobs
// that can must share the same primary tag or the whole call fails with
// domain.ErrTagMismatch. When no console could be fetched at all the error is
// domain.ErrConsoleUnreachable rather than domain.ErrTagNotFound.
func (r *Reconciler) Reconcile(ctx context.Context, jobURLs []string) (*domain.Reconciliation, error) {
	out := &domain.Reconciliation{}
	var builds []string
	var tagged, reached bool

	for _, jobURL := range jobURLs {
		builds = append(builds, jenkins.BuildNumber(jobURL))

		res, err := r.scraper.Scrape(ctx, jobURL)
		if !errors.Is(err, domain.ErrConsoleUnreachable) {
			reached = true
		}
		if err != nil {
			logger.FromContext(ctx).WithError(err).WithField(logger.FieldJobURL, jobURL).Warn("Failed to scrape trigger job")
			out.Diagnostics = append(out.Diagnostics, err.Error())
			continue
		}

		if !tagged {
			out.Tag = res.Tag
			tagged = true
		} else if !out.Tag.SameBuild(res.Tag) {
			return nil, fmt.Errorf("%w: %s != %s", domain.ErrTagMismatch, out.Tag, res.Tag)
		}

		scenes, unmatched := pairScenes(res.Perception, res.Check)
		out.Scenes = append(out.Scenes, scenes...)
		if len(unmatched) > 0 {
			out.Unmatched = append(out.Unmatched, unmatched...)
			out.Diagnostics = append(out.Diagnostics,
				fmt.Sprintf("check od_perception name not match: [%s]", strings.Join(unmatched, ", ")))
		}
	}

	if !reached && len(jobURLs) > 0 {
		return out, fmt.Errorf("%w: %s", domain.ErrConsoleUnreachable, diagnosticsSummary(out.Diagnostics, jobURLs))
	}
	if !tagged {
		return out, fmt.Errorf("%w: %s", domain.ErrTagNotFound, diagnosticsSummary(out.Diagnostics, jobURLs))
	}
	out.Scenes = dedupeScenes(out)
	if len(out.Scenes) == 0 {
		return out, fmt.Errorf("%w: %s", domain.ErrNoArtifacts, diagnosticsSummary(out.Diagnostics, jobURLs))
	}

	out.RunName = out.Tag.String() + "_" + strings.Join(builds, "_")
	return out, nil
}

func diagnosticsSummary(diagnostics, jobURLs []string) string {
	if len(diagnostics) == 0 {
		return strings.Join(jobURLs, ", ")
	}
	return strings.Join(diagnostics, "; ")
}

// pairScenes joins perception and check entries on scene name. Duplicate
// names pair up in order; whatever is left over on either side is returned as
// unmatched, with unresolved entries shown by URL.
func pairScenes(perception, check []domain.ArtifactRef) ([]domain.ReconciledScene, []string) {
	checkByName := make(map[string][]domain.ArtifactRef)
	var unmatched []string

	for _, c := range check {
		if c.SceneName == nil {
			unmatched = append(unmatched, unresolved(c))
			continue
		}
		checkByName[*c.SceneName] = append(checkByName[*c.SceneName], c)
	}

	var scenes []domain.ReconciledScene
	for _, p := range perception {
		if p.SceneName == nil {
			unmatched = append(unmatched, unresolved(p))
			continue
		}
		name := *p.SceneName
		queue := checkByName[name]
		if len(queue) == 0 {
			unmatched = append(unmatched, name)
			continue
		}
		scenes = append(scenes, domain.ReconciledScene{
			SceneName:     name,
			PerceptionURL: p.URL,
			CheckURL:      queue[0].URL,
		})
		checkByName[name] = queue[1:]
	}

	// Leftover check entries, in console order.
	for _, c := range check {
		if c.SceneName == nil {
			continue
		}
		if queue := checkByName[*c.SceneName]; len(queue) > 0 && queue[0].URL == c.URL {
			unmatched = append(unmatched, *c.SceneName)
			checkByName[*c.SceneName] = queue[1:]
		}
	}

	return scenes, unmatched
}

// dedupeScenes keeps the first pair of every scene name; every scene owns
// one directory in the run.
func dedupeScenes(rec *domain.Reconciliation) []domain.ReconciledScene {
	seen := make(map[string]bool, len(rec.Scenes))
	scenes := rec.Scenes[:0]
	for _, scene := range rec.Scenes {
		if seen[scene.SceneName] {
			rec.Diagnostics = append(rec.Diagnostics,
				fmt.Sprintf("duplicate scene %s skipped: %s", scene.SceneName, scene.CheckURL))
			continue
		}
		seen[scene.SceneName] = true
		scenes = append(scenes, scene)
	}
	return scenes
}

func unresolved(ref domain.ArtifactRef) string {
	return "<unresolved:" + ref.URL + ">"
}
