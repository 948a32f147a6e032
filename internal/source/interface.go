package source

import (
	"context"
	"strings"
)

// Console fetches the full console text of a CI job.
type Console interface {
	// FetchConsole returns the console text of the job at jobURL.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//   - jobURL: job URL, with or without a trailing slash.
	// Returns:
	//   - string: full console text.
	//   - error: non-nil on network failure or non-2xx status.
	FetchConsole(ctx context.Context, jobURL string) (string, error)
}

// LinePattern recognizes one kind of console line and extracts a value from it.
type LinePattern interface {
	// Name identifies the pattern in diagnostics.
	Name() string

	// Match returns the extracted value and true when line matches.
	Match(line string) (string, bool)
}

// Extract scans text with patterns in priority order. The first pattern that
// matches any line wins, so a lower-priority pattern is only consulted when no
// line matches the ones before it.
func Extract(text string, patterns ...LinePattern) (string, bool) {
	lines := strings.Split(text, "\n")
	for _, p := range patterns {
		for _, line := range lines {
			if v, ok := p.Match(line); ok {
				return v, true
			}
		}
	}
	return "", false
}

// ExtractFrom fetches the console of jobURL and runs Extract over it.
func ExtractFrom(ctx context.Context, console Console, jobURL string, patterns ...LinePattern) (string, bool, error) {
	text, err := console.FetchConsole(ctx, jobURL)
	if err != nil {
		return "", false, err
	}
	v, ok := Extract(text, patterns...)
	return v, ok, nil
}
