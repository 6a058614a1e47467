package mcp

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenwick-labs/sift/internal/config"
	"github.com/fenwick-labs/sift/internal/embed"
	"github.com/fenwick-labs/sift/internal/indexmanager"
)

// fakeEmbedder is a deterministic stand-in for the external embedding
// model: it hashes each text to a fixed-dimension unit vector.
type fakeEmbedder struct {
	dims int
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, f.dims)
	for i, c := range text {
		v[i%f.dims] += float32(c)
	}
	var sum float32
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		v[0] = 1
		sum = 1
	}
	norm := float32(math.Sqrt(float64(sum)))
	for i := range v {
		v[i] = v[i] / norm
	}
	return v, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return f.dims }
func (f *fakeEmbedder) ModelName() string { return "fake" }
func (f *fakeEmbedder) Available(_ context.Context) bool { return true }
func (f *fakeEmbedder) Close() error { return nil }

func newTestManager(t *testing.T) *indexmanager.Manager {
	t.Helper()
	dir := t.TempDir()

	cfg := config.NewConfig()
	cfg.Embedding.Dimensions = 8
	cfg.Indexes = map[string]string{"default": dir}
	cfg.Daemon.DefaultIndex = "default"

	return indexmanager.New(cfg, func(c *config.Config) (embed.Embedder, error) {
		return &fakeEmbedder{dims: c.Embedding.Dimensions}, nil
	}, nil)
}

func TestQueryHandler_RejectsEmptyQuery(t *testing.T) {
	manager := newTestManager(t)
	s, err := NewServer(manager, nil)
	require.NoError(t, err)

	_, _, err = s.queryHandler(context.Background(), nil, QueryInput{})
	assert.Error(t, err)
}

func TestQueryHandler_ReturnsEmptyResultsOnEmptyIndex(t *testing.T) {
	manager := newTestManager(t)
	s, err := NewServer(manager, nil)
	require.NoError(t, err)

	_, out, err := s.queryHandler(context.Background(), nil, QueryInput{Query: "hello world"})
	require.NoError(t, err)
	assert.Equal(t, "hello world", out.Query)
	assert.Empty(t, out.Direct)
}

func TestQueryHandler_UnknownIndexFails(t *testing.T) {
	manager := newTestManager(t)
	s, err := NewServer(manager, nil)
	require.NoError(t, err)

	_, _, err = s.queryHandler(context.Background(), nil, QueryInput{Query: "hi", Index: "nonexistent"})
	assert.Error(t, err)
}

func TestListIndexesHandler_ReturnsRegisteredNames(t *testing.T) {
	manager := newTestManager(t)
	s, err := NewServer(manager, nil)
	require.NoError(t, err)

	_, out, err := s.listIndexesHandler(context.Background(), nil, ListIndexesInput{})
	require.NoError(t, err)
	assert.Contains(t, out.Indexes, "default")
}

func TestNewServer_RequiresManager(t *testing.T) {
	_, err := NewServer(nil, nil)
	assert.Error(t, err)
}
