package domain

import "errors"

// Fatal pipeline errors abort the import.
var (
	ErrTagNotFound        = errors.New("build tag not found")
	ErrConsoleUnreachable = errors.New("trigger console unreachable")
	ErrTagMismatch        = errors.New("build tag mismatch")
	ErrNoArtifacts        = errors.New("no reconciled artifacts")
	ErrSchema             = errors.New("csv schema error")
	ErrVersionInference   = errors.New("cannot infer version or time")
	ErrNoRecords          = errors.New("no importable records")
	ErrPersistence        = errors.New("persistence failure")
	ErrImportRunning      = errors.New("import already running")
	ErrPlatformRejected   = errors.New("platform not allowed")
)

// Soft errors are per scene: logged, accumulated and skipped.
var (
	ErrDownloadFailure = errors.New("download failure")
	ErrExtractFailure  = errors.New("extract failure")
)

// IsSoft reports whether err only affects a single scene.
func IsSoft(err error) bool {
	return errors.Is(err, ErrDownloadFailure) || errors.Is(err, ErrExtractFailure)
}

// IsFatal reports whether err aborts the whole import.
func IsFatal(err error) bool {
	for _, target := range []error{
		ErrTagNotFound, ErrConsoleUnreachable, ErrTagMismatch, ErrNoArtifacts, ErrSchema,
		ErrVersionInference, ErrNoRecords, ErrPersistence,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
