package domain

import "time"

// ImportStatus is the stage of an import job.
type ImportStatus string

const (
	ImportStatusUnknown     ImportStatus = "unknown"
	ImportStatusStarting    ImportStatus = "starting"
	ImportStatusDownloading ImportStatus = "downloading"
	ImportStatusProcessing  ImportStatus = "processing"
	ImportStatusImporting   ImportStatus = "importing"
	ImportStatusCompleted   ImportStatus = "completed"
	ImportStatusError       ImportStatus = "error"
)

// rank orders statuses so transitions can only move forward.
func (s ImportStatus) rank() int {
	switch s {
	case ImportStatusStarting:
		return 1
	case ImportStatusDownloading:
		return 2
	case ImportStatusProcessing:
		return 3
	case ImportStatusImporting:
		return 4
	case ImportStatusCompleted, ImportStatusError:
		return 5
	default:
		return 0
	}
}

// IsTerminal reports whether no further transition is allowed.
func (s ImportStatus) IsTerminal() bool {
	return s == ImportStatusCompleted || s == ImportStatusError
}

// CanTransitionTo reports whether moving from s to next is a forward step.
// Error is reachable from any non-terminal status.
func (s ImportStatus) CanTransitionTo(next ImportStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == ImportStatusError {
		return true
	}
	return next.rank() >= s.rank()
}

// ImportJob is the client-visible state of one pipeline invocation.
type ImportJob struct {
	ID          string       `gorm:"type:text;primaryKey" json:"import_id"`
	Link        string       `gorm:"type:text;not null" json:"link"`
	Platform    string       `gorm:"type:text;not null;index" json:"platform"`
	Key         string       `gorm:"column:key_str;type:text;not null" json:"key"`
	Status      ImportStatus `gorm:"type:text;not null;default:starting" json:"status"`
	Progress    int          `gorm:"default:0" json:"progress"`
	Message     string       `gorm:"type:text" json:"message"`
	Errors      StringArray  `gorm:"type:text" json:"errors,omitempty"`
	RecordCount int          `gorm:"default:0" json:"record_count"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// TableName returns the database table name for ImportJob.
func (ImportJob) TableName() string {
	return "import_jobs"
}

// UnknownImportJob is returned when polling an id nobody started.
func UnknownImportJob(id string) ImportJob {
	return ImportJob{
		ID:      id,
		Status:  ImportStatusUnknown,
		Message: "import job not found",
	}
}
