package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  host: localhost
  name: rollcall
  user: rollcall
  password: secret
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 20, cfg.Database.MaxConns)
	assert.Equal(t, 30*time.Second, cfg.Detector.Timeout)
	assert.Equal(t, 60*time.Second, cfg.Detector.ReadyTimeout)
	assert.Equal(t, 0.6, cfg.Matching.Threshold)
	assert.Equal(t, "confirm", cfg.Matching.DuplicatePolicy)
	assert.Equal(t, 4, cfg.Matching.Workers)
	assert.Equal(t, 128, cfg.Matching.EmbeddingDim)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  api_key: test-key
database:
  host: db.internal
  port: 5433
  name: attendance
  user: app
  password: pw
  max_conns: 5
nats:
  url: nats://queue:4222
minio:
  endpoint: minio:9000
  access_key: ak
  secret_key: sk
  bucket: photos
detector:
  base_url: http://detector:8500
matching:
  threshold: 0.45
  duplicate_policy: flag
  workers: 2
  embedding_dim: 512
logging:
  level: debug
  format: text
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "test-key", cfg.Server.APIKey)
	assert.Equal(t, "nats://queue:4222", cfg.NATS.URL)
	assert.Equal(t, "photos", cfg.MinIO.Bucket)
	assert.Equal(t, "http://detector:8500", cfg.Detector.BaseURL)
	assert.Equal(t, 0.45, cfg.Matching.Threshold)
	assert.Equal(t, "flag", cfg.Matching.DuplicatePolicy)
	assert.Equal(t, 2, cfg.Matching.Workers)
	assert.Equal(t, 512, cfg.Matching.EmbeddingDim)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
database:
  host: db.internal
matching:
  threshold: 0.45
`)

	t.Setenv("ROLLCALL_SERVER_PORT", "7070")
	t.Setenv("ROLLCALL_DB_HOST", "other-host")
	t.Setenv("ROLLCALL_DETECTOR_URL", "http://det:9999")
	t.Setenv("ROLLCALL_DETECTOR_TIMEOUT", "45s")
	t.Setenv("ROLLCALL_MATCH_THRESHOLD", "0.5")
	t.Setenv("ROLLCALL_MATCH_POLICY", "flag")
	t.Setenv("ROLLCALL_MATCH_WORKERS", "8")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "other-host", cfg.Database.Host)
	assert.Equal(t, "http://det:9999", cfg.Detector.BaseURL)
	assert.Equal(t, 45*time.Second, cfg.Detector.Timeout)
	assert.Equal(t, 0.5, cfg.Matching.Threshold)
	assert.Equal(t, "flag", cfg.Matching.DuplicatePolicy)
	assert.Equal(t, 8, cfg.Matching.Workers)
}

func TestDatabaseDSN(t *testing.T) {
	d := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		Name:     "rollcall",
		User:     "app",
		Password: "pw",
	}

	assert.Equal(t, "postgres://app:pw@localhost:5432/rollcall?sslmode=disable", d.DSN())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
