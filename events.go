package sheetsync

import (
	"context"
	"log/slog"
	"time"
)

// EventType names a progress or audit event
type EventType string

const (
	EventBatchStart      EventType = "batch_start"
	EventBatchComplete   EventType = "batch_complete"
	EventItemFailed      EventType = "item_failed"
	EventReconcileFailed EventType = "reconcile_failed"
	EventSummary         EventType = "summary"
)

// Event carries cumulative counts at the time it was emitted
type Event struct {
	Type      EventType
	SessionID string
	Batch     int // zero-based batch index, -1 when not batch-scoped
	Batches   int
	Processed int
	Failed    int
	Total     int
	Elapsed   time.Duration
	RowKey    int
	ItemID    string
	Err       string
}

// EventSink receives engine events. Emit must not block for long; it runs
// on the dispatch path.
type EventSink interface {
	Emit(Event)
}

// EventFunc adapts a function to EventSink
type EventFunc func(Event)

func (f EventFunc) Emit(e Event) { f(e) }

// LogSink writes events to a slog.Logger
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Emit(e Event) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	switch e.Type {
	case EventItemFailed:
		level = slog.LevelWarn
	case EventReconcileFailed:
		level = slog.LevelError
	case EventBatchStart:
		level = slog.LevelDebug
	}
	attrs := []slog.Attr{
		slog.String("session", e.SessionID),
		slog.Int("processed", e.Processed),
		slog.Int("failed", e.Failed),
		slog.Int("total", e.Total),
		slog.Duration("elapsed", e.Elapsed),
	}
	if e.Batch >= 0 {
		attrs = append(attrs, slog.Int("batch", e.Batch+1), slog.Int("batches", e.Batches))
	}
	if e.ItemID != "" {
		attrs = append(attrs, slog.String("item", e.ItemID), slog.Int("row", e.RowKey))
	}
	if e.Err != "" {
		attrs = append(attrs, slog.String("error", e.Err))
	}
	logger.LogAttrs(context.Background(), level, string(e.Type), attrs...)
}

type multiSink []EventSink

func (m multiSink) Emit(e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}

// MultiSink fans events out to every sink
func MultiSink(sinks ...EventSink) EventSink {
	return multiSink(sinks)
}
