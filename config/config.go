// Package config holds the SealFS session configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the session configuration for the SealFS pipeline.
type Config struct {
	DataDir       string        `yaml:"data_dir"`
	BlobEndpoints []string      `yaml:"blob_endpoints"`
	ChunkSize     int           `yaml:"chunk_size"`
	MaxRetries    int           `yaml:"max_retries"`
	LogLevel      string        `yaml:"log_level"`
	KeyCacheTTL   time.Duration `yaml:"key_cache_ttl"`
	VerifyTTL     time.Duration `yaml:"verify_cache_ttl"`
}

// Default returns a configuration with production defaults. DataDir and
// BlobEndpoints must still be supplied by the caller.
func Default() Config {
	return Config{
		ChunkSize:   1 << 20,
		MaxRetries:  3,
		LogLevel:    "info",
		KeyCacheTTL: time.Hour,
		VerifyTTL:   5 * time.Minute,
	}
}

// ConfigPath returns the conventional config file location under dataDir.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "sealfs.yaml")
}

// LoadConfig reads a YAML config file, applying defaults for absent
// fields, and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Dir(path)
	}

	if err := ValidateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func Save(cfg Config, path string) error {
	if err := ValidateConfig(cfg); err != nil {
		return err
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
