// Package indexmanager holds the single active named index and performs
// the fail-safe swap when the caller asks for a different one (spec
// §4.7, C8). Grounded on gundog's _daemon.py IndexManager.
package indexmanager

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fenwick-labs/sift/internal/config"
	"github.com/fenwick-labs/sift/internal/embed"
	apperrors "github.com/fenwick-labs/sift/internal/errors"
	"github.com/fenwick-labs/sift/internal/indexer"
	"github.com/fenwick-labs/sift/internal/query"
)

// Loaded bundles one index's live artifacts with its query engine.
type Loaded struct {
	Name    string
	Indexer *indexer.Indexer
	Engine  *query.Engine
}

// EmbedderFactory constructs the embedder for a given config, letting
// the manager build one engine per named index without hard-coding a
// single embedding backend.
type EmbedderFactory func(cfg *config.Config) (embed.Embedder, error)

// Manager holds the active index and the registry of known index names.
type Manager struct {
	mu     sync.RWMutex
	cfg    *config.Config
	active *Loaded

	newEmbedder EmbedderFactory
	logger      *slog.Logger
}

// New constructs a Manager over the daemon's top-level config. No index
// is loaded until the first EnsureLoaded call.
func New(cfg *config.Config, newEmbedder EmbedderFactory, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{cfg: cfg, newEmbedder: newEmbedder, logger: logger}
}

// ActiveName returns the currently loaded index's name, or "" if none.
func (m *Manager) ActiveName() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == nil {
		return ""
	}
	return m.active.Name
}

// Names returns every registered index name.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.cfg.Indexes))
	for name := range m.cfg.Indexes {
		names = append(names, name)
	}
	return names
}

// EnsureLoaded returns the engine for name (or the configured default if
// name is empty), loading and swapping in a new one only if it differs
// from the currently active index.
func (m *Manager) EnsureLoaded(ctx context.Context, name string) (*Loaded, error) {
	target := name
	if target == "" {
		target = m.cfg.Daemon.DefaultIndex
	}
	if target == "" {
		return nil, apperrors.InvalidRequestError("no index specified and no default_index configured")
	}

	m.mu.RLock()
	if m.active != nil && m.active.Name == target {
		current := m.active
		m.mu.RUnlock()
		return current, nil
	}
	m.mu.RUnlock()

	path, ok := m.cfg.Indexes[target]
	if !ok {
		return nil, apperrors.UnknownIndexError(target)
	}

	loaded, err := m.load(target, path)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	previous := m.active
	m.active = loaded
	m.mu.Unlock()

	if previous != nil {
		if err := previous.Indexer.Close(); err != nil {
			m.logger.Warn("error closing previous index", "name", previous.Name, "error", err)
		}
	}

	return loaded, nil
}

// load constructs a fresh Indexer and query Engine for one named index,
// deriving a per-index config whose storage path points at the index's
// own directory while inheriting every other top-level setting.
func (m *Manager) load(name, path string) (*Loaded, error) {
	indexCfg := *m.cfg
	indexCfg.Storage.Path = filepath.Clean(path)

	embedder, err := m.newEmbedder(&indexCfg)
	if err != nil {
		return nil, apperrors.EmbedderFailureError(err)
	}

	ix, err := indexer.New(&indexCfg, embedder, m.logger.With("index", name))
	if err != nil {
		return nil, err
	}

	engine := query.New(&indexCfg, embedder, ix.Store, ix.Graph, ix.BM25)

	return &Loaded{Name: name, Indexer: ix, Engine: engine}, nil
}

// Reload discards the active index (if it is the target) so the next
// EnsureLoaded call rebuilds it from disk, used after an out-of-band
// index rebuild completes.
func (m *Manager) Reload(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil && m.active.Name == name {
		m.active = nil
	}
}
