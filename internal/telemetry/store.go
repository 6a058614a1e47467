// Package telemetry records a fire-and-forget log of completed queries
// (spec §4.15, A8): timestamp, index name, query text, top_k, result
// counts, and latency. Writes happen off the query hot path; a slow or
// failing telemetry write never delays or fails a query.
package telemetry

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Event is a single completed-query record.
type Event struct {
	Timestamp    time.Time
	IndexName    string
	QueryText    string
	TopK         int
	DirectCount  int
	RelatedCount int
	DurationMS   int64
}

// Store persists Events to a SQLite-backed append-only log.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if necessary) the telemetry database at path
// and ensures the query_log table exists.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open telemetry database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS query_log (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp     TIMESTAMP NOT NULL,
		index_name    TEXT NOT NULL,
		query_text    TEXT NOT NULL,
		top_k         INTEGER NOT NULL,
		direct_count  INTEGER NOT NULL,
		related_count INTEGER NOT NULL,
		duration_ms   INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_query_log_timestamp ON query_log(timestamp);
	CREATE INDEX IF NOT EXISTS idx_query_log_index_name ON query_log(index_name);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create telemetry schema: %w", err)
	}
	return nil
}

// Insert appends a single event to the log.
func (s *Store) Insert(e Event) error {
	_, err := s.db.Exec(`
		INSERT INTO query_log (timestamp, index_name, query_text, top_k, direct_count, related_count, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.Timestamp, e.IndexName, e.QueryText, e.TopK, e.DirectCount, e.RelatedCount, e.DurationMS)
	if err != nil {
		return fmt.Errorf("insert query log event: %w", err)
	}
	return nil
}

// Recent returns the most recent n events for indexName, newest first.
// An empty indexName returns events across all indexes.
func (s *Store) Recent(indexName string, n int) ([]Event, error) {
	var rows *sql.Rows
	var err error
	if indexName == "" {
		rows, err = s.db.Query(`
			SELECT timestamp, index_name, query_text, top_k, direct_count, related_count, duration_ms
			FROM query_log ORDER BY id DESC LIMIT ?
		`, n)
	} else {
		rows, err = s.db.Query(`
			SELECT timestamp, index_name, query_text, top_k, direct_count, related_count, duration_ms
			FROM query_log WHERE index_name = ? ORDER BY id DESC LIMIT ?
		`, indexName, n)
	}
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.Timestamp, &e.IndexName, &e.QueryText, &e.TopK, &e.DirectCount, &e.RelatedCount, &e.DurationMS); err != nil {
			return nil, fmt.Errorf("scan query log row: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
