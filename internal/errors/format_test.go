package errors

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatForUser_BasicError(t *testing.T) {
	err := New(IOFailure, "file 'config.yaml' not found", nil)

	result := FormatForUser(err, false)

	assert.Contains(t, result, "file 'config.yaml' not found")
	assert.Contains(t, result, "[IO_FAILURE]")
}

func TestFormatForUser_WithSuggestion(t *testing.T) {
	err := New(EmbedderFailure, "embedder is not reachable", nil).
		WithSuggestion("retry the request")

	result := FormatForUser(err, false)

	assert.Contains(t, result, "Suggestion:")
	assert.Contains(t, result, "retry the request")
}

func TestFormatForUser_NoStackTraceInNormalMode(t *testing.T) {
	err := New(IOFailure, "unexpected error", nil)

	result := FormatForUser(err, false)

	assert.NotContains(t, result, "Stack trace:")
	assert.NotContains(t, result, "goroutine")
}

func TestFormatForUser_StandardError(t *testing.T) {
	err := errors.New("something went wrong")

	result := FormatForUser(err, false)

	assert.Contains(t, result, "something went wrong")
}

func TestFormatForUser_NilError(t *testing.T) {
	result := FormatForUser(nil, false)

	assert.Empty(t, result)
}

func TestFormatJSON_BasicError(t *testing.T) {
	err := New(IOFailure, "file not found", nil).
		WithDetail("path", "/foo/bar.txt").
		WithSuggestion("check the file path")

	data, jsonErr := FormatJSON(err)

	require.NoError(t, jsonErr)

	var result map[string]any
	require.NoError(t, json.Unmarshal(data, &result))

	assert.Equal(t, string(IOFailure), result["kind"])
	assert.Equal(t, "file not found", result["message"])
	assert.Equal(t, "check the file path", result["suggestion"])

	details, ok := result["details"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "/foo/bar.txt", details["path"])
}

func TestFormatJSON_StandardError(t *testing.T) {
	err := errors.New("generic error")

	data, jsonErr := FormatJSON(err)

	require.NoError(t, jsonErr)

	var result map[string]any
	require.NoError(t, json.Unmarshal(data, &result))

	assert.Equal(t, string(IOFailure), result["kind"])
	assert.Equal(t, "generic error", result["message"])
}

func TestFormatJSON_NilError(t *testing.T) {
	data, err := FormatJSON(nil)

	assert.NoError(t, err)
	assert.Equal(t, "null", strings.TrimSpace(string(data)))
}

func TestFormatJSON_WithCause(t *testing.T) {
	cause := errors.New("underlying error")
	err := New(IOFailure, "operation failed", cause)

	data, jsonErr := FormatJSON(err)

	require.NoError(t, jsonErr)

	var result map[string]any
	require.NoError(t, json.Unmarshal(data, &result))

	assert.Equal(t, "underlying error", result["cause"])
}

func TestFormatForCLI_ShowsKind(t *testing.T) {
	err := New(CorruptArtifact, "index is corrupted", nil).
		WithSuggestion("reindex with --rebuild")

	result := FormatForCLI(err)

	assert.Contains(t, result, "index is corrupted")
	assert.Contains(t, result, "CORRUPT_ARTIFACT")
}

func TestFormatForCLI_ShortFormat(t *testing.T) {
	err := New(IOFailure, "file not found", nil)

	result := FormatForCLI(err)

	lines := strings.Split(strings.TrimSpace(result), "\n")
	assert.LessOrEqual(t, len(lines), 5, "should be concise")
}
