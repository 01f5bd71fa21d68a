package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) Config {
	t.Helper()
	cfg := Default()
	cfg.DataDir = t.TempDir()
	cfg.BlobEndpoints = []string{"https://blobs.example.com"}
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 1<<20, cfg.ChunkSize)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, time.Hour, cfg.KeyCacheTTL)
	assert.Equal(t, 5*time.Minute, cfg.VerifyTTL)
}

func TestValidateConfig(t *testing.T) {
	require.NoError(t, ValidateConfig(validConfig(t)))

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"empty data dir", func(c *Config) { c.DataDir = "" }, ErrEmptyDataDir},
		{"no endpoints", func(c *Config) { c.BlobEndpoints = nil }, ErrNoEndpoints},
		{"relative endpoint", func(c *Config) { c.BlobEndpoints = []string{"blobs.example.com"} }, ErrInvalidEndpoint},
		{"bad scheme", func(c *Config) { c.BlobEndpoints = []string{"ftp://blobs.example.com"} }, ErrInvalidEndpoint},
		{"zero chunk size", func(c *Config) { c.ChunkSize = 0 }, ErrInvalidChunkSize},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }, ErrInvalidMaxRetries},
		{"unknown log level", func(c *Config) { c.LogLevel = "verbose" }, ErrInvalidLogLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(&cfg)
			assert.ErrorIs(t, ValidateConfig(cfg), tt.wantErr)
		})
	}
}

func TestValidateConfig_LogLevelCaseInsensitive(t *testing.T) {
	cfg := validConfig(t)
	cfg.LogLevel = "DEBUG"
	assert.NoError(t, ValidateConfig(cfg))
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	cfg := validConfig(t)
	cfg.ChunkSize = 1 << 16
	cfg.LogLevel = "debug"
	path := ConfigPath(cfg.DataDir)

	require.NoError(t, Save(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := ConfigPath(dir)
	// Minimal file: everything else comes from Default, and DataDir falls
	// back to the config file's directory.
	raw := "blob_endpoints:\n  - https://blobs.example.com\n"
	require.NoError(t, os.WriteFile(path, []byte(raw), 0600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, 1<<20, cfg.ChunkSize)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfig_NotFound(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestLoadConfig_InvalidContents(t *testing.T) {
	dir := t.TempDir()
	path := ConfigPath(dir)
	require.NoError(t, os.WriteFile(path, []byte("chunk_size: -5\nblob_endpoints: [https://x.example.com]\n"), 0600))

	_, err := LoadConfig(path)
	assert.ErrorIs(t, err, ErrInvalidChunkSize)

	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0600))
	_, err = LoadConfig(path)
	assert.Error(t, err)
}

func TestSave_RejectsInvalid(t *testing.T) {
	cfg := validConfig(t)
	cfg.ChunkSize = 0
	err := Save(cfg, ConfigPath(cfg.DataDir))
	assert.ErrorIs(t, err, ErrInvalidChunkSize)
}
