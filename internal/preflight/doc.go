// Package preflight provides system validation and pre-flight checks
// to ensure sift can run successfully before starting operations.
//
// The package validates:
//   - Disk space availability (minimum 100MB)
//   - Memory availability (minimum 1GB; uses a fixed 4GB estimate, so it always passes)
//   - Write permissions in project directory
//   - File descriptor limits (minimum 1024)
//   - Embedding endpoint reachability
//
// Use the Checker type to run all validations:
//
//	checker := preflight.New()
//	results := checker.RunAll(ctx, "/path/to/project", cfg.Embedding.BaseURL)
//	if checker.HasCriticalFailures(results) {
//	    // Handle failures
//	}
package preflight
