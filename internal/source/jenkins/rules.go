package jenkins

import (
	"strings"

	"github.com/timmy/odstat/internal/source"
)

// Rules describes how trigger job consoles are laid out. Everything that is
// matched by string lives here so the scraper itself carries no literals.
type Rules struct {
	TagKey    string // od_tag=<primary>
	TicketKey string // integration_ticket=<ticket>

	CheckKey      string   // marks check result entries and the lines that carry them
	PerceptionKey string   // marks perception result entries
	DeployKey     string   // opens a block of entries for one scene
	Archs         []string // marker suffixes, most specific first
	ValueMarker   string   // separates a marker from its URL

	BlockSeparator string
	ItemSeparator  string

	PerceptionScene []source.LinePattern
	CheckScene      []source.LinePattern
}

// DefaultRules returns the layout used by the PS_IntegrationTest trigger jobs.
func DefaultRules() Rules {
	return Rules{
		TagKey:    "od_tag",
		TicketKey: "integration_ticket",

		CheckKey:      "od_perception_check",
		PerceptionKey: "od_perception",
		DeployKey:     "od_deploy",
		Archs:         []string{"_arm", "_x86", ""},
		ValueMarker:   ": :&nbsp;",

		BlockSeparator: "</div></div>",
		ItemSeparator:  "<br>",

		PerceptionScene: []source.LinePattern{
			source.MarkerPattern{
				Label:  "perception-module",
				Marker: "-m src.perception.od_perception",
				After:  "--inno_pc_path=",
				Pick:   source.FirstField,
			},
			source.MarkerPattern{
				Label:  "inno-pc-path",
				Marker: "INNO_PC_PATH=",
				Pick:   source.LastPathSegment,
			},
		},
		CheckScene: []source.LinePattern{
			source.MarkerPattern{
				Label:        "check-archive",
				Marker:       "Archive:",
				After:        "/mnt/ODPerceptionResult/",
				RequireAfter: true,
				Pick:         dropRunPrefix,
			},
		},
	}
}

// dropRunPrefix turns "<id>_<scene>/file.zip" into "<scene>".
func dropRunPrefix(rest string) string {
	dir, _, _ := strings.Cut(rest, "/")
	parts := strings.Split(strings.TrimSpace(dir), "_")
	if len(parts) < 2 {
		return ""
	}
	return strings.Join(parts[1:], "_")
}

// deployMarkers returns the deploy markers, most specific first.
func (r Rules) deployMarkers() []string {
	markers := make([]string, 0, len(r.Archs))
	for _, arch := range r.Archs {
		markers = append(markers, r.DeployKey+arch+r.ValueMarker)
	}
	return markers
}

// NormalizeSceneName strips a leading architecture prefix (ARM/arm) and leading
// separators until nothing changes, so normalizing twice gives the same name.
func NormalizeSceneName(name string) string {
	name = strings.TrimSpace(name)
	for {
		prev := name
		name = strings.TrimLeft(name, "_- ")
		if strings.HasPrefix(name, "ARM") || strings.HasPrefix(name, "arm") {
			name = name[3:]
		}
		if name == prev {
			return name
		}
	}
}
