package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_DefaultsAndOverrides(t *testing.T) {
	t.Setenv("JENKINS_PASSWORD", "s3cret")
	path := writeConfig(t, `
database:
  driver: sqlite
  path: /tmp/odstat.db
jenkins:
  username: ci
  artifact_source: check
ingest:
  workers: 8
  platforms: [x86, arm]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/tmp/odstat.db", cfg.Database.DSN())
	assert.Equal(t, "ci", cfg.Jenkins.Username)
	assert.Equal(t, "s3cret", cfg.Jenkins.Password)
	assert.Equal(t, "check", cfg.Jenkins.ArtifactSource)
	assert.Equal(t, "artifact/SummaryResults.zip", cfg.Jenkins.ArtifactPath)
	assert.Equal(t, 60*time.Second, cfg.Jenkins.Timeout)
	assert.Equal(t, 8, cfg.Ingest.Workers)
	assert.Equal(t, 200, cfg.Ingest.BatchSize)
	assert.Equal(t, 3, cfg.Ingest.RetryCount)
	assert.Equal(t, time.Second, cfg.Ingest.RetryBackoff)
	assert.Equal(t, 24*time.Hour, cfg.Progress.Retention)
	assert.Equal(t, "Asia/Singapore", cfg.Ingest.Location().String())
	assert.Equal(t, []string{"x86", "arm"}, cfg.Ingest.Platforms)
}

func TestLoad_RetryBackoff(t *testing.T) {
	cfg, err := Load(writeConfig(t, "ingest:\n  retry_count: 5\n  retry_backoff: 250ms\n"))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Ingest.RetryCount)
	assert.Equal(t, 250*time.Millisecond, cfg.Ingest.RetryBackoff)
}

func TestLoad_Invalid(t *testing.T) {
	testCases := map[string]string{
		"driver":   "database:\n  driver: mysql\n",
		"source":   "jenkins:\n  artifact_source: deploy\n",
		"workers":  "ingest:\n  workers: 0\n",
		"timezone": "ingest:\n  timezone: Mars/Olympus\n",
		"bucket":   "storage:\n  enabled: true\n  bucket: \"\"\n",
	}
	for name, body := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	pg := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", DBName: "drill", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=drill sslmode=disable", pg.DSN())

	pg.URL = "postgres://u:p@db/drill"
	assert.Equal(t, "postgres://u:p@db/drill", pg.DSN())
}
