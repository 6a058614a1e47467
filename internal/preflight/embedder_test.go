package preflight

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecker_CheckEmbedderReachable_Reachable(t *testing.T) {
	// Given: an HTTP server standing in for the embedder
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	checker := New()

	// When: checking reachability
	result := checker.CheckEmbedderReachable(srv.URL)

	// Then: status is pass
	assert.Equal(t, StatusPass, result.Status)
	assert.Equal(t, "embedder_reachable", result.Name)
	assert.False(t, result.Required, "embedder reachability should not be required")
	assert.Contains(t, result.Message, "reachable")
}

func TestChecker_CheckEmbedderReachable_Unreachable(t *testing.T) {
	// Given: a checker and a URL nothing is listening on
	checker := New()

	// When: checking reachability
	result := checker.CheckEmbedderReachable("http://127.0.0.1:1")

	// Then: status is warn, not a hard failure
	assert.Equal(t, StatusWarn, result.Status)
	assert.False(t, result.Required)
	assert.Contains(t, result.Message, "unreachable")
}

func TestChecker_CheckEmbedderReachable_NoURLConfigured(t *testing.T) {
	// Given: a checker and an empty base URL
	checker := New()

	// When: checking reachability
	result := checker.CheckEmbedderReachable("")

	// Then: warns without attempting a request
	assert.Equal(t, StatusWarn, result.Status)
	assert.Contains(t, result.Message, "no embedding.base_url")
}
