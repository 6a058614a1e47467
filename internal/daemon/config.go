// Package daemon hosts the REST (A5) and WebSocket (A6) transport
// adapters in front of the index manager and query engine, plus the
// process-lifecycle bits (pidfile, graceful shutdown) for `sift daemon run`.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// RuntimeConfig holds process-lifecycle settings for the daemon that sit
// outside the application config (spec §4.8's daemon.* fields cover the
// network surface; this covers the OS process itself).
type RuntimeConfig struct {
	// PIDPath is where the daemon's process ID is recorded.
	PIDPath string

	// ShutdownGracePeriod bounds how long in-flight requests get to
	// finish before the HTTP server forces a shutdown.
	ShutdownGracePeriod time.Duration
}

// DefaultRuntimeConfig returns sensible defaults rooted at ~/.sift.
func DefaultRuntimeConfig() RuntimeConfig {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return RuntimeConfig{
		PIDPath:             filepath.Join(home, ".sift", "daemon.pid"),
		ShutdownGracePeriod: 10 * time.Second,
	}
}

// Validate checks that the configuration is usable.
func (c RuntimeConfig) Validate() error {
	if c.PIDPath == "" {
		return fmt.Errorf("pid path cannot be empty")
	}
	if c.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("shutdown grace period must be positive")
	}
	return nil
}

// EnsureDir creates the pidfile's parent directory if it doesn't exist.
func (c RuntimeConfig) EnsureDir() error {
	dir := filepath.Dir(c.PIDPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create pidfile directory: %w", err)
	}
	return nil
}
