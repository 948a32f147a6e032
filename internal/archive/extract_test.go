package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/odstat/internal/domain"
)

func writeZip(t *testing.T, path string, files map[string][]byte) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func tarGz(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	for name, data := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(data)), Typeflag: tar.TypeReg}))
		_, err := tw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())
	return buf.Bytes()
}

func TestExtractZip_SingleTopLevelDir(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "scene_a.zip")
	writeZip(t, zipPath, map[string][]byte{
		"SummaryResults/a_stop_bar_statistic_with_time.csv": []byte("Direction\n"),
		"SummaryResults/notes.txt":                          []byte("x"),
	})

	unzipRoot := filepath.Join(dir, "unzip")
	require.NoError(t, os.MkdirAll(unzipRoot, 0o755))

	got, err := NewExtractor(Limits{}).ExtractZip(zipPath, unzipRoot, "scene_a")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(unzipRoot, "scene_a"), got)
	assert.FileExists(t, filepath.Join(got, "a_stop_bar_statistic_with_time.csv"))
	assert.FileExists(t, filepath.Join(got, "notes.txt"))
	assert.NoDirExists(t, filepath.Join(unzipRoot, ".scene_a.staging"))
}

func TestExtractZip_FlatArchive(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "scene_b.zip")
	writeZip(t, zipPath, map[string][]byte{
		"one.csv": []byte("1"),
		"two.csv": []byte("2"),
	})

	got, err := NewExtractor(Limits{}).ExtractZip(zipPath, dir, "scene_b")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(got, "one.csv"))
	assert.FileExists(t, filepath.Join(got, "two.csv"))
}

func TestExtractZip_Corrupt(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "bad.zip")
	require.NoError(t, os.WriteFile(zipPath, []byte("not a zip"), 0o644))

	_, err := NewExtractor(Limits{}).ExtractZip(zipPath, dir, "bad")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrExtractFailure))
	assert.True(t, domain.IsSoft(err))
}

func TestExtractZip_UnsafeSceneName(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "scene.zip")
	writeZip(t, zipPath, map[string][]byte{"one.csv": []byte("1")})

	unzipRoot := filepath.Join(dir, "unzip")
	keep := filepath.Join(unzipRoot, "keep.csv")
	require.NoError(t, os.MkdirAll(unzipRoot, 0o755))
	require.NoError(t, os.WriteFile(keep, []byte("k"), 0o644))

	for _, name := range []string{"", ".", "..", "a/b", "../x"} {
		t.Run(name, func(t *testing.T) {
			_, err := NewExtractor(Limits{}).ExtractZip(zipPath, unzipRoot, name)
			assert.True(t, errors.Is(err, domain.ErrExtractFailure), "got %v", err)
			assert.FileExists(t, keep)
			assert.FileExists(t, zipPath)
		})
	}
}

func TestSafeName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"scene_a", true},
		{"2026-01-08_scene.v2", true},
		{"", false},
		{".", false},
		{"..", false},
		{"a/b", false},
		{`a\b`, false},
		{"/abs", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SafeName(tt.name))
		})
	}
}

func TestExtractTarGz(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "perception_2024.tar.gz")
	require.NoError(t, os.WriteFile(path, tarGz(t, map[string][]byte{"frames/0001.txt": []byte("f")}), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "z_other.tar.gz"), []byte("ignored"), 0o644))

	found, ok := FindTarGz(dir)
	require.True(t, ok)
	assert.Equal(t, path, found)

	out, err := NewExtractor(Limits{}).ExtractTarGz(found)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "perception_2024"), out)
	assert.FileExists(t, filepath.Join(out, "frames", "0001.txt"))
}

func TestExtractTarGz_Corrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.tar.gz")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

	_, err := NewExtractor(Limits{}).ExtractTarGz(path)
	assert.True(t, errors.Is(err, domain.ErrExtractFailure))
}

func TestFindTarGz_None(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.csv"), []byte("x"), 0o644))

	_, ok := FindTarGz(dir)
	assert.False(t, ok)
}
