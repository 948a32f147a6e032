package jenkins

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/timmy/odstat/internal/domain"
	"github.com/timmy/odstat/internal/logger"
	"github.com/timmy/odstat/internal/source"
	"golang.org/x/sync/errgroup"
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

// Scraper recovers the build tag and result URLs from trigger job consoles.
type Scraper struct {
	console     source.Console
	rules       Rules
	concurrency int
}

// NewScraper creates a new Scraper.
// Parameters:
//   - console: console text source.
//   - rules: console layout; see DefaultRules.
//   - concurrency: maximum parallel scene-name lookups.
//
// Returns:
//   - *Scraper: initialized scraper.
func NewScraper(console source.Console, rules Rules, concurrency int) *Scraper {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Scraper{
		console:     console,
		rules:       rules,
		concurrency: concurrency,
	}
}

// Scrape fetches the trigger job console at jobURL and returns its build tag
// and the perception and check URL lists with resolved scene names.
// Unresolvable scene names are left nil. A network failure or a missing tag is
// returned as an error.
func (s *Scraper) Scrape(ctx context.Context, jobURL string) (*domain.ScrapeResult, error) {
	ctx = logger.WithField(ctx, logger.FieldJobURL, jobURL)

	text, err := s.console.FetchConsole(ctx, jobURL)
	if err != nil {
		return nil, fmt.Errorf("%w: get %s consoleFull failed: %v", domain.ErrConsoleUnreachable, jobURL, err)
	}

	tag, ok := ExtractBuildTag(text, s.rules)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrTagNotFound, ConsoleURL(jobURL))
	}

	perceptionURLs, checkURLs := s.parseEntries(text)
	logger.CtxDebug(ctx, "Parsed console entries: tag=%s, perception=%d, check=%d",
		tag, len(perceptionURLs), len(checkURLs))

	perception := make([]domain.ArtifactRef, len(perceptionURLs))
	check := make([]domain.ArtifactRef, len(checkURLs))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, u := range perceptionURLs {
		g.Go(func() error {
			perception[i] = s.resolve(gCtx, u, s.rules.PerceptionScene)
			return nil
		})
	}
	for i, u := range checkURLs {
		g.Go(func() error {
			check[i] = s.resolve(gCtx, u, s.rules.CheckScene)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &domain.ScrapeResult{
		JobURL:     jobURL,
		Tag:        tag,
		Perception: perception,
		Check:      check,
	}, nil
}

// resolve looks up the scene name of one result URL. Failures leave the name nil.
func (s *Scraper) resolve(ctx context.Context, u string, patterns []source.LinePattern) domain.ArtifactRef {
	ref := domain.ArtifactRef{URL: u}

	name, ok, err := source.ExtractFrom(ctx, s.console, u, patterns...)
	if err != nil {
		logger.FromContext(ctx).WithError(err).WithField("url", u).Warn("Failed to resolve scene name")
		return ref
	}
	if !ok {
		logger.CtxDebug(ctx, "No scene name pattern matched: url=%s", u)
		return ref
	}

	name = NormalizeSceneName(name)
	if name != "" {
		ref.SceneName = &name
	}
	return ref
}

// parseEntries returns perception and check URLs in console order.
func (s *Scraper) parseEntries(text string) (perception, check []string) {
	r := s.rules
	for _, line := range strings.Split(text, "\n") {
		if !strings.Contains(line, r.CheckKey) {
			continue
		}
		for _, block := range strings.Split(line, r.BlockSeparator) {
			if !strings.Contains(block, r.CheckKey) {
				continue
			}
			marker := ""
			for _, m := range r.deployMarkers() {
				if strings.Contains(block, m) {
					marker = m
					break
				}
			}
			if marker == "" {
				continue
			}
			scenes := strings.Split(block, marker)
			for _, scene := range scenes[1:] {
				for _, item := range strings.Split(scene, r.ItemSeparator) {
					item = strings.TrimSpace(item)
					if item == "" {
						continue
					}
					u := urlPattern.FindString(item)
					if u == "" {
						continue
					}
					if strings.Contains(item, r.CheckKey) {
						check = append(check, JobURL(u))
					} else {
						perception = append(perception, JobURL(u))
					}
				}
			}
		}
	}
	return perception, check
}

// ExtractBuildTag finds the first line carrying both the tag and the ticket
// as key=value tokens.
func ExtractBuildTag(text string, rules Rules) (domain.BuildTag, bool) {
	for _, line := range strings.Split(text, "\n") {
		if !strings.Contains(line, rules.TagKey) {
			continue
		}
		var tag, ticket string
		for _, item := range strings.Fields(line) {
			switch {
			case strings.Contains(item, rules.TagKey):
				tag = tokenValue(item)
			case strings.Contains(item, rules.TicketKey):
				ticket = tokenValue(item)
			}
		}
		if tag != "" && ticket != "" {
			return domain.BuildTag{Primary: tag, Ticket: ticket}, true
		}
	}
	return domain.BuildTag{}, false
}

// tokenValue returns the unquoted value after the last '=' of a key=value token.
func tokenValue(item string) string {
	i := strings.LastIndex(item, "=")
	if i < 0 {
		return ""
	}
	v := strings.TrimSpace(item[i+1:])
	v = strings.ReplaceAll(v, "&quot;", "")
	return strings.Trim(v, `"'`)
}
