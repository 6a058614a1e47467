package preflight

import (
	"fmt"
	"net/http"
	"time"
)

// EmbedderProbeTimeout bounds how long the reachability probe waits for
// the embedding endpoint to respond.
const EmbedderProbeTimeout = 3 * time.Second

// CheckEmbedderReachable probes the configured embedding endpoint with a
// lightweight HTTP request. The embedder is an external black box (spec
// §6); this only confirms something is listening, never its model or
// weights.
func (c *Checker) CheckEmbedderReachable(baseURL string) CheckResult {
	result := CheckResult{
		Name:     "embedder_reachable",
		Required: false, // non-critical: index/query surface the real error if it's actually down
	}

	if baseURL == "" {
		result.Status = StatusWarn
		result.Message = "no embedding.base_url configured"
		return result
	}

	client := &http.Client{Timeout: EmbedderProbeTimeout}
	resp, err := client.Head(baseURL)
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("embedder unreachable at %s: %v", baseURL, err)
		result.Details = "indexing and queries will fail until the embedding service is reachable"
		return result
	}
	_ = resp.Body.Close()

	result.Status = StatusPass
	result.Message = fmt.Sprintf("embedder reachable at %s", baseURL)
	return result
}
