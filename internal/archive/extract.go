// Package archive unpacks Summary Results archives downloaded from Jenkins.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	getter "github.com/hashicorp/go-getter"
	"github.com/timmy/odstat/internal/domain"
)

const tarGzSuffix = ".tar.gz"

// Limits caps what a single archive may expand to. Zero values mean unlimited.
type Limits struct {
	Files int
	Bytes int64
}

// Extractor unpacks zip and tar.gz archives with go-getter's decompressors,
// which reject entries escaping the destination directory.
type Extractor struct {
	zip *getter.ZipDecompressor
	tgz *getter.TarGzipDecompressor
}

// NewExtractor creates a new Extractor.
func NewExtractor(limits Limits) *Extractor {
	return &Extractor{
		zip: &getter.ZipDecompressor{FilesLimit: limits.Files, FileSizeLimit: limits.Bytes},
		tgz: &getter.TarGzipDecompressor{FilesLimit: limits.Files, FileSizeLimit: limits.Bytes},
	}
}

// ExtractZip unpacks zipPath into unzipRoot/<sceneName>.
// When the archive holds a single top-level directory, that directory becomes
// the scene directory; otherwise all members are placed in it directly.
// Any previous scene directory is replaced.
//
// Returns the scene directory. Failures wrap domain.ErrExtractFailure.
func (e *Extractor) ExtractZip(zipPath, unzipRoot, sceneName string) (string, error) {
	if !SafeName(sceneName) {
		return "", fmt.Errorf("%w: unsafe scene name %q", domain.ErrExtractFailure, sceneName)
	}
	target := filepath.Join(unzipRoot, sceneName)
	staging := filepath.Join(unzipRoot, "."+sceneName+".staging")

	if err := os.RemoveAll(staging); err != nil {
		return "", fmt.Errorf("%w: %s: %v", domain.ErrExtractFailure, zipPath, err)
	}
	defer os.RemoveAll(staging)

	if err := e.zip.Decompress(staging, zipPath, true, 0); err != nil {
		return "", fmt.Errorf("%w: unzip %s: %v", domain.ErrExtractFailure, zipPath, err)
	}

	root, err := singleTopLevelDir(staging)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", domain.ErrExtractFailure, zipPath, err)
	}

	if err := os.RemoveAll(target); err != nil {
		return "", fmt.Errorf("%w: %s: %v", domain.ErrExtractFailure, target, err)
	}
	if err := os.Rename(root, target); err != nil {
		return "", fmt.Errorf("%w: rename %s: %v", domain.ErrExtractFailure, root, err)
	}
	return target, nil
}

// SafeName reports whether name can be used as a single path element under
// an extraction root. Empty names, "." and "..", and names with separators
// are rejected.
func SafeName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && filepath.Base(name) == name
}

// singleTopLevelDir returns dir/<only entry> when dir holds exactly one
// directory, otherwise dir itself.
func singleTopLevelDir(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("archive is empty")
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(dir, entries[0].Name()), nil
	}
	return dir, nil
}

// FindTarGz returns the first .tar.gz file directly inside dir, by name.
func FindTarGz(dir string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() && strings.HasSuffix(entry.Name(), tarGzSuffix) {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return "", false
	}
	sort.Strings(names)
	return filepath.Join(dir, names[0]), true
}

// ExtractTarGz unpacks path into a sibling directory named after the archive
// without its .tar.gz suffix and returns that directory.
func (e *Extractor) ExtractTarGz(path string) (string, error) {
	dst := strings.TrimSuffix(path, tarGzSuffix)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", fmt.Errorf("%w: %s: %v", domain.ErrExtractFailure, dst, err)
	}
	if err := e.tgz.Decompress(dst, path, true, 0); err != nil {
		return "", fmt.Errorf("%w: untar %s: %v", domain.ErrExtractFailure, path, err)
	}
	return dst, nil
}
