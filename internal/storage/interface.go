package storage

import (
	"context"
	"io"
	"path"
	"strings"
)

// ArtifactStore archives raw Summary Results archives after download.
type ArtifactStore interface {
	// Upload stores the content of reader under key.
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Exists reports whether key is already stored.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error

	// GetURL returns the URL under which key can be fetched.
	GetURL(key string) string
}

// ArchiveKey returns the object key of a scene archive: <prefix>/<runName>/<scene>.zip.
func ArchiveKey(prefix, runName, sceneName string) string {
	return path.Join(strings.Trim(prefix, "/"), runName, sceneName+".zip")
}
