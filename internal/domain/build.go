package domain

import "time"

// TagJobSeparator joins the primary tag and the ticket reference in a BuildTag string.
const TagJobSeparator = "-job-"

// BuildTag identifies one CI integration build.
type BuildTag struct {
	Primary string `json:"primary"`
	Ticket  string `json:"ticket,omitempty"`
}

// String renders the tag as "<primary>-job-<ticket>".
func (t BuildTag) String() string {
	if t.Ticket == "" {
		return t.Primary
	}
	return t.Primary + TagJobSeparator + t.Ticket
}

// SameBuild reports whether two tags belong to the same integration build.
func (t BuildTag) SameBuild(other BuildTag) bool {
	return t.Primary == other.Primary
}

// ArtifactRef is a result URL scraped from a console, paired with its scene name.
// SceneName is nil when the scene could not be resolved.
type ArtifactRef struct {
	URL       string  `json:"url"`
	SceneName *string `json:"scene_name,omitempty"`
}

// Name returns the scene name or "" when unresolved.
func (r ArtifactRef) Name() string {
	if r.SceneName == nil {
		return ""
	}
	return *r.SceneName
}

// ScrapeResult is everything recovered from one trigger job console.
type ScrapeResult struct {
	JobURL     string        `json:"job_url"`
	Tag        BuildTag      `json:"tag"`
	Perception []ArtifactRef `json:"perception"`
	Check      []ArtifactRef `json:"check"`
}

// ReconciledScene is a scene whose perception and check URLs were both found.
type ReconciledScene struct {
	SceneName     string `json:"scene_name"`
	PerceptionURL string `json:"perception_url"`
	CheckURL      string `json:"check_url"`
}

// Reconciliation is the output of pairing all trigger jobs of one import.
type Reconciliation struct {
	Tag         BuildTag          `json:"tag"`
	RunName     string            `json:"run_name"`
	Scenes      []ReconciledScene `json:"scenes"`
	Unmatched   []string          `json:"unmatched,omitempty"`
	Diagnostics []string          `json:"diagnostics,omitempty"`
}

// UnpackedRun is the extracted artifact of one scene.
type UnpackedRun struct {
	SceneName     string   `json:"scene_name"`
	BaseDir       string   `json:"base_dir"`
	CSVPaths      []string `json:"csv_paths"`
	PerceptionDir string   `json:"perception_dir,omitempty"`
}

// VersionKey is the version and, for daily builds, the timestamp inferred from a run directory name.
// Time is nil when it must be inferred per file.
type VersionKey struct {
	Version string
	Time    *time.Time
}
