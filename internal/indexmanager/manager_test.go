package indexmanager

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenwick-labs/sift/internal/config"
	"github.com/fenwick-labs/sift/internal/embed"
	apperrors "github.com/fenwick-labs/sift/internal/errors"
)

type stubEmbedder struct{ dims int }

func (s *stubEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return make([]float32, s.dims), nil
}
func (s *stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, s.dims)
	}
	return out, nil
}
func (s *stubEmbedder) Dimensions() int                  { return s.dims }
func (s *stubEmbedder) ModelName() string                { return "stub" }
func (s *stubEmbedder) Available(_ context.Context) bool { return true }
func (s *stubEmbedder) Close() error                     { return nil }

func newTestConfig(t *testing.T, indexNames ...string) *config.Config {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Embedding.Dimensions = 4
	cfg.Indexes = make(map[string]string)
	for _, name := range indexNames {
		cfg.Indexes[name] = t.TempDir()
	}
	return cfg
}

func newTestFactory(dims int) EmbedderFactory {
	return func(_ *config.Config) (embed.Embedder, error) {
		return &stubEmbedder{dims: dims}, nil
	}
}

func TestManager_ActiveName_EmptyBeforeLoad(t *testing.T) {
	cfg := newTestConfig(t, "default")
	m := New(cfg, newTestFactory(4), nil)

	assert.Equal(t, "", m.ActiveName())
}

func TestManager_EnsureLoaded_RejectsUnknownIndex(t *testing.T) {
	cfg := newTestConfig(t, "default")
	cfg.Daemon.DefaultIndex = "default"
	m := New(cfg, newTestFactory(4), nil)

	_, err := m.EnsureLoaded(context.Background(), "nonexistent")

	require.Error(t, err)
	assert.Equal(t, apperrors.UnknownIndex, apperrors.GetKind(err))
}

func TestManager_EnsureLoaded_RequiresNameOrDefault(t *testing.T) {
	cfg := newTestConfig(t, "default")
	m := New(cfg, newTestFactory(4), nil)

	_, err := m.EnsureLoaded(context.Background(), "")

	require.Error(t, err)
	assert.Equal(t, apperrors.InvalidRequest, apperrors.GetKind(err))
}

func TestManager_EnsureLoaded_UsesDefaultIndexWhenNameEmpty(t *testing.T) {
	cfg := newTestConfig(t, "default")
	cfg.Daemon.DefaultIndex = "default"
	m := New(cfg, newTestFactory(4), nil)

	loaded, err := m.EnsureLoaded(context.Background(), "")

	require.NoError(t, err)
	assert.Equal(t, "default", loaded.Name)
	assert.Equal(t, "default", m.ActiveName())
}

func TestManager_EnsureLoaded_ReturnsSameInstanceWhenAlreadyActive(t *testing.T) {
	cfg := newTestConfig(t, "default")
	cfg.Daemon.DefaultIndex = "default"
	m := New(cfg, newTestFactory(4), nil)

	first, err := m.EnsureLoaded(context.Background(), "default")
	require.NoError(t, err)

	second, err := m.EnsureLoaded(context.Background(), "default")
	require.NoError(t, err)

	assert.Same(t, first, second)
}

func TestManager_EnsureLoaded_SwapsActiveIndex(t *testing.T) {
	// Given: two registered indexes, "a" loaded first
	cfg := newTestConfig(t, "a", "b")
	m := New(cfg, newTestFactory(4), nil)

	first, err := m.EnsureLoaded(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "a", m.ActiveName())

	// When: requesting "b"
	second, err := m.EnsureLoaded(context.Background(), "b")

	// Then: the manager swaps to "b" and the previous indexer is closed
	require.NoError(t, err)
	assert.Equal(t, "b", m.ActiveName())
	assert.NotSame(t, first, second)
}

func TestManager_Names_ListsAllRegisteredIndexes(t *testing.T) {
	cfg := newTestConfig(t, "a", "b")
	m := New(cfg, newTestFactory(4), nil)

	assert.ElementsMatch(t, []string{"a", "b"}, m.Names())
}

func TestManager_Reload_ClearsActiveOnlyWhenNameMatches(t *testing.T) {
	cfg := newTestConfig(t, "default")
	cfg.Daemon.DefaultIndex = "default"
	m := New(cfg, newTestFactory(4), nil)

	_, err := m.EnsureLoaded(context.Background(), "default")
	require.NoError(t, err)

	m.Reload("other")
	assert.Equal(t, "default", m.ActiveName())

	m.Reload("default")
	assert.Equal(t, "", m.ActiveName())
}

func TestManager_EnsureLoaded_PropagatesEmbedderFactoryFailure(t *testing.T) {
	cfg := newTestConfig(t, "default")
	cfg.Daemon.DefaultIndex = "default"
	failing := func(_ *config.Config) (embed.Embedder, error) {
		return nil, assert.AnError
	}
	m := New(cfg, failing, nil)

	_, err := m.EnsureLoaded(context.Background(), "default")

	require.Error(t, err)
	assert.Equal(t, apperrors.EmbedderFailure, apperrors.GetKind(err))
}
