package telemetry

import (
	"context"
	"log/slog"
	"time"
)

// queueDepth bounds how many pending events Record will buffer before it
// starts dropping rather than blocking the caller.
const queueDepth = 256

// Logger drains a bounded queue of Events to a Store on a single
// background goroutine, so Record never blocks (or fails) the query it
// is reporting on.
type Logger struct {
	store  *Store
	logger *slog.Logger

	eventCh chan Event
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewLogger starts the background writer and returns a Logger bound to
// store. Call Close to drain and stop it.
func NewLogger(store *Store, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Logger{
		store:   store,
		logger:  logger,
		eventCh: make(chan Event, queueDepth),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Logger) run() {
	defer close(l.doneCh)
	for {
		select {
		case e := <-l.eventCh:
			if err := l.store.Insert(e); err != nil {
				l.logger.Warn("telemetry write failed", "error", err, "index", e.IndexName)
			}
		case <-l.stopCh:
			// drain whatever is already queued before exiting.
			for {
				select {
				case e := <-l.eventCh:
					if err := l.store.Insert(e); err != nil {
						l.logger.Warn("telemetry write failed", "error", err, "index", e.IndexName)
					}
				default:
					return
				}
			}
		}
	}
}

// Record implements daemon.TelemetryLogger. It enqueues the event and
// returns immediately; if the queue is full the event is dropped and a
// warning is logged, never blocking the caller.
func (l *Logger) Record(indexName, queryText string, topK, directCount, relatedCount int, durationMS int64) {
	e := Event{
		Timestamp:    time.Now(),
		IndexName:    indexName,
		QueryText:    queryText,
		TopK:         topK,
		DirectCount:  directCount,
		RelatedCount: relatedCount,
		DurationMS:   durationMS,
	}
	select {
	case l.eventCh <- e:
	default:
		l.logger.Warn("telemetry queue full, dropping event", "index", indexName)
	}
}

// Close stops the background writer after draining any queued events, or
// returns ctx's error if it does not stop in time, then closes the store.
func (l *Logger) Close(ctx context.Context) error {
	close(l.stopCh)
	select {
	case <-l.doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	return l.store.Close()
}
