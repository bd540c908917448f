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

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  node_id: node-1
storage:
  data_dir: /tmp/groove
column:
  max_page_rows: 4096
datasets:
  - path: /data/a.groove
    url: dev.groove://a
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "node-1", cfg.Server.NodeID)
	assert.Equal(t, 50061, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "/tmp/groove/groove.db", cfg.Storage.DatabasePath())
	assert.Equal(t, 4096, cfg.Column.MaxPageRows)
	assert.Equal(t, "local", cfg.Ship.Backend)
	assert.Equal(t, "zstd", cfg.Ship.Codec)
	assert.Equal(t, "/tmp/groove/ship", cfg.Ship.LocalDir)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 95.0, cfg.Disk.CircuitPercent)
	require.Len(t, cfg.Datasets, 1)
	assert.Equal(t, "dev.groove://a", cfg.Datasets[0].URL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"missing node id", func(c *Config) { c.Server.NodeID = "" }, true},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, true},
		{"negative page rows", func(c *Config) { c.Column.MaxPageRows = -1 }, true},
		{"mount without path", func(c *Config) { c.Datasets = []MountConfig{{URL: "x://y"}} }, true},
		{"unknown backend", func(c *Config) { c.Ship.Backend = "ftp" }, true},
		{"s3 without bucket", func(c *Config) { c.Ship.Backend = "s3" }, true},
		{"s3 with bucket", func(c *Config) { c.Ship.Backend = "s3"; c.Ship.Bucket = "b" }, false},
		{"minio without endpoint", func(c *Config) { c.Ship.Backend = "minio"; c.Ship.Bucket = "b" }, true},
		{"unknown codec", func(c *Config) { c.Ship.Codec = "gzip" }, true},
		{"zero write workers", func(c *Config) { c.Storage.WriteWorkers = 0 }, true},
		{"disk thresholds out of order", func(c *Config) { c.Disk.ThrottlePercent = 99 }, true},
		{"disk circuit above 100", func(c *Config) { c.Disk.CircuitPercent = 101 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "server: [not a map"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "storage:\n  data_dir: /x\n"))
	assert.ErrorContains(t, err, "node_id")
}
