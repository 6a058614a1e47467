package daemon

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fenwick-labs/sift/internal/config"
	apperrors "github.com/fenwick-labs/sift/internal/errors"
	"github.com/fenwick-labs/sift/internal/indexmanager"
	"github.com/fenwick-labs/sift/internal/query"
)

// TelemetryLogger receives a fire-and-forget record of every completed
// query (spec §4.15, A8). Implementations must never block the query
// path; Record is expected to hand off to a background writer.
type TelemetryLogger interface {
	Record(indexName, queryText string, topK, directCount, relatedCount int, durationMS int64)
}

// noopTelemetry discards every record; used when telemetry isn't wired.
type noopTelemetry struct{}

func (noopTelemetry) Record(string, string, int, int, int, int64) {}

// Server is the REST (A5) + WebSocket (A6) transport adapter in front of
// one daemon's index manager.
type Server struct {
	cfg       *config.Config
	manager   *indexmanager.Manager
	telemetry TelemetryLogger
	logger    *slog.Logger

	httpServer *http.Server
	started    time.Time
}

// NewServer constructs a Server around an already-built index manager.
func NewServer(cfg *config.Config, manager *indexmanager.Manager, telemetry TelemetryLogger, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if telemetry == nil {
		telemetry = noopTelemetry{}
	}
	return &Server{cfg: cfg, manager: manager, telemetry: telemetry, logger: logger}
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(s.cfg.Daemon.CORSAllowedOrigins))

	r.Get("/api/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/api/indexes", s.handleListIndexes)
		r.Post("/api/indexes/active", s.handleSetActiveIndex)
		r.Get("/api/query", s.handleQuery)
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// ListenAndServe starts the HTTP server and blocks until ctx is
// cancelled, at which point it shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := s.cfg.Daemon.Host + ":" + strconv.Itoa(s.cfg.Daemon.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.started = time.Now()

	s.warmup(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("daemon listening", "addr", addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Close stops the server immediately.
func (s *Server) Close() error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Close()
}

type healthResponse struct {
	Status           string   `json:"status"`
	ActiveIndex      string   `json:"active_index"`
	AvailableIndexes []string `json:"available_indexes"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:           "ok",
		ActiveIndex:      s.manager.ActiveName(),
		AvailableIndexes: s.manager.Names(),
	})
}

type indexEntry struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	FileCount int    `json:"file_count"`
	IsActive  bool   `json:"is_active"`
}

type listIndexesResponse struct {
	Indexes []indexEntry `json:"indexes"`
	Active  string       `json:"active"`
	Default string       `json:"default"`
}

func (s *Server) handleListIndexes(w http.ResponseWriter, r *http.Request) {
	active := s.manager.ActiveName()
	entries := make([]indexEntry, 0, len(s.cfg.Indexes))
	for name, path := range s.cfg.Indexes {
		entry := indexEntry{Name: name, Path: path, IsActive: name == active}
		if name == active {
			if loaded, err := s.manager.EnsureLoaded(r.Context(), name); err == nil {
				entry.FileCount = loaded.Indexer.Store.Count()
			}
		}
		entries = append(entries, entry)
	}
	writeJSON(w, http.StatusOK, listIndexesResponse{
		Indexes: entries,
		Active:  active,
		Default: s.cfg.Daemon.DefaultIndex,
	})
}

type activeIndexResponse struct {
	Active string `json:"active"`
}

func (s *Server) handleSetActiveIndex(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, apperrors.InvalidRequestError("name query parameter is required"))
		return
	}

	loaded, err := s.manager.EnsureLoaded(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, activeIndexResponse{Active: loaded.Name})
}

type queryResponse struct {
	query.Result
	TimingMS int64 `json:"timing_ms"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, apperrors.InvalidRequestError("q query parameter is required"))
		return
	}

	topK := 10
	if ks := r.URL.Query().Get("k"); ks != "" {
		parsed, err := strconv.Atoi(ks)
		if err != nil || parsed < 1 || parsed > 50 {
			writeError(w, apperrors.InvalidRequestError("k must be an integer in [1, 50]"))
			return
		}
		topK = parsed
	}

	indexName := r.URL.Query().Get("index")

	result, timingMS, err := s.runQuery(r.Context(), indexName, query.Request{
		QueryText: q,
		TopK:      topK,
		Expand:    true,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, queryResponse{Result: result, TimingMS: timingMS})
}

// runQuery ensures the target index is loaded, executes the query, and
// records a telemetry entry without blocking on it.
func (s *Server) runQuery(ctx context.Context, indexName string, req query.Request) (query.Result, int64, error) {
	loaded, err := s.manager.EnsureLoaded(ctx, indexName)
	if err != nil {
		return query.Result{}, 0, err
	}

	start := time.Now()
	result, err := loaded.Engine.Query(ctx, req)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return query.Result{}, 0, err
	}

	s.telemetry.Record(loaded.Name, req.QueryText, req.TopK, len(result.Direct), len(result.Related), elapsed)

	return result, elapsed, nil
}

// warmup preloads the default index and issues a dummy query to warm the
// embedder path before the first real request arrives (spec §4.12),
// logging rather than failing the startup on error.
func (s *Server) warmup(ctx context.Context) {
	if s.cfg.Daemon.DefaultIndex == "" {
		return
	}
	loaded, err := s.manager.EnsureLoaded(ctx, s.cfg.Daemon.DefaultIndex)
	if err != nil {
		s.logger.Warn("warmup: could not load default index", "error", err)
		return
	}
	if _, err := loaded.Engine.Query(ctx, query.Request{QueryText: "warmup", TopK: 1, Expand: false}); err != nil {
		s.logger.Warn("warmup query failed", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	data, marshalErr := apperrors.FormatJSON(err)
	if marshalErr != nil {
		data = []byte(`{"kind":"IO_FAILURE","message":"failed to format error"}`)
	}
	_, _ = w.Write(data)
}

func statusForError(err error) int {
	switch apperrors.GetKind(err) {
	case apperrors.InvalidRequest:
		return http.StatusBadRequest
	case apperrors.UnknownIndex:
		return http.StatusNotFound
	case apperrors.IndexNotLoaded:
		return http.StatusBadRequest
	case apperrors.EmbedderFailure:
		return http.StatusServiceUnavailable
	case apperrors.CorruptArtifact:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}
