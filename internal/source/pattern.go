package source

import "strings"

// MarkerPattern matches lines containing Marker. The marker is removed, the
// remainder is split on After and the last part is handed to Pick.
// With RequireAfter set, lines lacking After do not match.
type MarkerPattern struct {
	Label        string
	Marker       string
	After        string
	RequireAfter bool
	Pick         func(rest string) string
}

// Name implements LinePattern.
func (p MarkerPattern) Name() string {
	return p.Label
}

// Match implements LinePattern. Empty picks count as no match.
func (p MarkerPattern) Match(line string) (string, bool) {
	if !strings.Contains(line, p.Marker) {
		return "", false
	}
	rest := strings.Replace(line, p.Marker, "", 1)
	if p.RequireAfter && !strings.Contains(rest, p.After) {
		return "", false
	}
	if p.After != "" {
		parts := strings.Split(rest, p.After)
		rest = parts[len(parts)-1]
	}
	rest = strings.TrimSpace(rest)
	if p.Pick != nil {
		rest = strings.TrimSpace(p.Pick(rest))
	}
	if rest == "" {
		return "", false
	}
	return rest, true
}

// FirstField returns s up to the first space.
func FirstField(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return f[0]
	}
	return ""
}

// LastPathSegment returns the part of s after the last slash.
func LastPathSegment(s string) string {
	s = strings.TrimRight(strings.TrimSpace(s), "/")
	if i := strings.LastIndex(s, "/"); i >= 0 {
		return s[i+1:]
	}
	return s
}
