package config

import (
	"fmt"
	"net/url"
	"strings"
)

// validLogLevels lists the accepted log level strings.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// ValidateConfig checks that all configuration values are within
// acceptable ranges and returns the first error encountered, or nil.
func ValidateConfig(cfg Config) error {
	if cfg.DataDir == "" {
		return ErrEmptyDataDir
	}

	if len(cfg.BlobEndpoints) == 0 {
		return ErrNoEndpoints
	}
	for _, ep := range cfg.BlobEndpoints {
		if err := validateEndpoint(ep); err != nil {
			return fmt.Errorf("%w: %q: %w", ErrInvalidEndpoint, ep, err)
		}
	}

	if cfg.ChunkSize <= 0 {
		return ErrInvalidChunkSize
	}
	if cfg.MaxRetries <= 0 {
		return ErrInvalidMaxRetries
	}
	if !validLogLevels[strings.ToLower(cfg.LogLevel)] {
		return ErrInvalidLogLevel
	}

	return nil
}

// validateEndpoint checks that an endpoint is an absolute http(s) URL.
func validateEndpoint(ep string) error {
	u, err := url.Parse(ep)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
