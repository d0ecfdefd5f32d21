package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, filepath.Join(cfg.DataDir, "storage"), cfg.Storage.Path)
	assert.Equal(t, filepath.Join(cfg.DataDir, "catalog.db"), cfg.CatalogPath())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Type = "ftp"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Storage.Type = "s3"
	assert.Error(t, cfg.Validate()) // bucket missing

	cfg.Storage.S3.Bucket = "snapshots"
	assert.NoError(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Snapshot.Workers = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.DataDir = ""
	assert.Error(t, cfg.Validate())
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
data_dir: /var/lib/tabulon
http:
  addr: ":9999"
  read_timeout: 10s
snapshot:
  workers: 4
  interval: 30s
storage:
  type: s3
  s3:
    bucket: tabulon-snaps
    region: eu-west-1
`
	assert.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := LoadFromFile(path)
	assert.NoError(t, err)
	assert.Equal(t, "/var/lib/tabulon", cfg.DataDir)
	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.Equal(t, 10*time.Second, cfg.HTTP.ReadTimeout)
	assert.Equal(t, 4, cfg.Snapshot.Workers)
	assert.Equal(t, "s3", cfg.Storage.Type)
	assert.Equal(t, "tabulon-snaps", cfg.Storage.S3.Bucket)

	// Fields absent from the file keep their defaults.
	assert.Equal(t, 60*time.Second, cfg.HTTP.WriteTimeout)
}

func TestLoadFromFile_UnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	assert.NoError(t, os.WriteFile(path, []byte("x = 1"), 0644))

	_, err := LoadFromFile(path)
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TABULON_DATA_DIR", "/tmp/tabulon-env")
	t.Setenv("TABULON_HTTP_ADDR", ":7070")
	t.Setenv("TABULON_SNAPSHOT_WORKERS", "8")
	t.Setenv("TABULON_SNAPSHOT_INTERVAL", "90s")
	t.Setenv("TABULON_STORAGE_TYPE", "s3")
	t.Setenv("TABULON_S3_BUCKET", "env-bucket")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	assert.Equal(t, "/tmp/tabulon-env", cfg.DataDir)
	assert.Equal(t, ":7070", cfg.HTTP.Addr)
	assert.Equal(t, 8, cfg.Snapshot.Workers)
	assert.Equal(t, 90*time.Second, cfg.Snapshot.Interval)
	assert.Equal(t, "s3", cfg.Storage.Type)
	assert.Equal(t, "env-bucket", cfg.Storage.S3.Bucket)
}

func TestEnsureDirectories(t *testing.T) {
	base := t.TempDir()
	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(base, "data")
	cfg.Resolve()

	assert.NoError(t, cfg.EnsureDirectories())
	for _, dir := range []string{cfg.DataDir, cfg.Storage.Path} {
		info, err := os.Stat(dir)
		assert.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
