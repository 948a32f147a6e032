package storage

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiveKey(t *testing.T) {
	assert.Equal(t, "summary-results/V1_77_78/scene_a.zip", ArchiveKey("/summary-results/", "V1_77_78", "scene_a"))
	assert.Equal(t, "V1_77/scene_a.zip", ArchiveKey("", "V1_77", "scene_a"))
}

func TestDetectStorageType(t *testing.T) {
	assert.Equal(t, StorageTypeLocal, detectStorageType(""))
	assert.Equal(t, StorageTypeR2, detectStorageType("https://abc.r2.cloudflarestorage.com"))
	assert.Equal(t, StorageTypeS3, detectStorageType("s3.ap-southeast-1.amazonaws.com"))
	assert.Equal(t, StorageTypeS3Compatible, detectStorageType("minio.internal:9000"))
}

func TestNormalizeEndpoint(t *testing.T) {
	assert.Equal(t, "minio.internal:9000", normalizeEndpoint("http://minio.internal:9000/bucket/"))
	assert.Equal(t, "s3.amazonaws.com", normalizeEndpoint("https://s3.amazonaws.com"))
}

func TestLocalStorage(t *testing.T) {
	root := t.TempDir()
	store, err := NewStorage(&Config{Bucket: root})
	require.NoError(t, err)

	ctx := context.Background()
	key := ArchiveKey("summary-results", "run_1", "scene_a")

	ok, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Upload(ctx, key, strings.NewReader("zip"), 3, "application/zip"))
	ok, err = store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.FileExists(t, filepath.Join(root, "summary-results", "run_1", "scene_a.zip"))
	assert.True(t, strings.HasPrefix(store.GetURL(key), "file://"))

	require.NoError(t, store.Delete(ctx, key))
	require.NoError(t, store.Delete(ctx, key))
	ok, err = store.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalStorage_RejectsEscapingKeys(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir(), "")
	require.NoError(t, err)

	err = store.Upload(context.Background(), "../outside.zip", strings.NewReader("x"), 1, "")
	assert.Error(t, err)
}
