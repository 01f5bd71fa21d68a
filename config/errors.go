package config

import "errors"

var (
	// ErrEmptyDataDir indicates the data directory path is empty.
	ErrEmptyDataDir = errors.New("config: data directory must not be empty")

	// ErrNoEndpoints indicates no blob gateway endpoints are configured.
	ErrNoEndpoints = errors.New("config: at least one blob endpoint is required")

	// ErrInvalidEndpoint indicates a blob endpoint URL is malformed.
	ErrInvalidEndpoint = errors.New("config: invalid blob endpoint")

	// ErrInvalidChunkSize indicates the chunk size is not positive.
	ErrInvalidChunkSize = errors.New("config: chunk size must be positive")

	// ErrInvalidMaxRetries indicates the retry budget is not positive.
	ErrInvalidMaxRetries = errors.New("config: max retries must be positive")

	// ErrInvalidLogLevel indicates the log level is not recognized.
	ErrInvalidLogLevel = errors.New("config: invalid log level (must be \"debug\", \"info\", \"warn\", or \"error\")")

	// ErrConfigNotFound indicates the configuration file does not exist.
	ErrConfigNotFound = errors.New("config: configuration file not found")
)
