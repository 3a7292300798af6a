// Package config provides configuration management for the image monitor daemon.
package config

import "time"

// Default configuration values for imgmond.
const (
	// DefaultSettleDelay is the quiet period a file must go without
	// modification before it is considered fully written.
	DefaultSettleDelay = 30 * time.Second

	// DefaultScanInterval is how often the watch directory is rescanned
	// as a backstop for missed filesystem notifications.
	DefaultScanInterval = 5 * time.Minute

	// DefaultUploadFieldName is the multipart form field the remote
	// ingestion endpoint expects the file under.
	DefaultUploadFieldName = "imageFile"

	// DefaultUploadTimeout bounds a single upload request.
	DefaultUploadTimeout = 60 * time.Second

	// DefaultMaxAttempts is the number of upload attempts before a file
	// is marked failed.
	DefaultMaxAttempts = 5

	// DefaultRetryBackoff is the base interval for exponential retry backoff.
	DefaultRetryBackoff = 10 * time.Second

	// DefaultConcurrency is the number of concurrent upload workers.
	DefaultConcurrency = 2
)

// DefaultExtensions are the file extensions accepted for upload.
var DefaultExtensions = []string{"jpg", "jpeg", "png"}
