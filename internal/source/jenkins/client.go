package jenkins

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// ClientConfig holds Jenkins connection settings.
type ClientConfig struct {
	Username          string
	Password          string
	Timeout           time.Duration // console requests
	DownloadTimeout   time.Duration // artifact downloads
	RequestsPerSecond float64       // <= 0 disables throttling
	Burst             int
}

// Client talks to Jenkins over authenticated HTTP. Console fetches and artifact
// downloads share one rate limiter.
type Client struct {
	console  *resty.Client
	download *resty.Client
	limiter  *rate.Limiter
}

// NewClient creates a new Jenkins client.
// Parameters:
//   - cfg: credentials, timeouts and throttle settings.
//
// Returns:
//   - *Client: initialized client.
func NewClient(cfg *ClientConfig) *Client {
	console := resty.New()
	console.SetBasicAuth(cfg.Username, cfg.Password)
	console.SetTimeout(orDefault(cfg.Timeout, 60*time.Second))

	download := resty.New()
	download.SetBasicAuth(cfg.Username, cfg.Password)
	download.SetTimeout(orDefault(cfg.DownloadTimeout, 10*time.Minute))

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		console:  console,
		download: download,
		limiter:  rate.NewLimiter(limit, burst),
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// JobURL returns u with exactly one trailing slash.
func JobURL(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/") + "/"
}

// ConsoleURL returns the full console text URL of a job.
func ConsoleURL(jobURL string) string {
	return JobURL(jobURL) + "consoleFull"
}

// FetchConsole implements source.Console.
func (c *Client) FetchConsole(ctx context.Context, jobURL string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	url := ConsoleURL(jobURL)
	resp, err := c.console.R().
		SetContext(ctx).
		Get(url)
	if err != nil {
		return "", fmt.Errorf("failed to get %s: %w", url, err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return "", fmt.Errorf("failed to get %s: HTTP %d", url, resp.StatusCode())
	}

	return resp.String(), nil
}

// Download streams url into the file at path.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - url: artifact URL.
//   - path: destination file; removed again when the download fails.
//
// Returns:
//   - int64: bytes written.
//   - error: non-nil on network failure, non-2xx status or write failure.
func (c *Client) Download(ctx context.Context, url, path string) (int64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	resp, err := c.download.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return 0, fmt.Errorf("failed to get %s: %w", url, err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return 0, fmt.Errorf("failed to get %s: HTTP %d", url, resp.StatusCode())
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", path, err)
	}

	n, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return 0, fmt.Errorf("failed to write %s: %w", path, err)
	}

	return n, nil
}

// BuildNumber returns the last path segment of a job URL, e.g. "77" for
// ".../job/OD_X86_trigger/77/".
func BuildNumber(jobURL string) string {
	u := strings.TrimRight(strings.TrimSpace(jobURL), "/")
	if i := strings.LastIndex(u, "/"); i >= 0 {
		return u[i+1:]
	}
	return u
}
