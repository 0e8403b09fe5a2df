package sheetsync

import (
	"fmt"
	"log/slog"
)

// ChangeSet classifies rows relative to their last successful sync.
type ChangeSet struct {
	ToCreate  []*Record
	ToUpdate  []*Record
	Unchanged []*Record
	Skipped   []SkippedRow
}

// SkippedRow is a row that could not be classified.
type SkippedRow struct {
	Record *Record
	Reason string
}

// Empty reports whether nothing needs to be sent.
func (cs *ChangeSet) Empty() bool {
	return len(cs.ToCreate) == 0 && len(cs.ToUpdate) == 0
}

// Changed returns the number of rows to create or update.
func (cs *ChangeSet) Changed() int {
	return len(cs.ToCreate) + len(cs.ToUpdate)
}

// ChangeDetector compares current fingerprints with the stored ones.
type ChangeDetector struct {
	logger *slog.Logger
}

// NewChangeDetector creates a detector. A nil logger uses slog.Default().
func NewChangeDetector(logger *slog.Logger) *ChangeDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChangeDetector{logger: logger}
}

// Classify sorts rows into create, update and unchanged sets.
func (d *ChangeDetector) Classify(records []*Record) *ChangeSet {
	cs := &ChangeSet{}
	for _, r := range records {
		if r == nil {
			continue
		}
		current := Fingerprint(r)
		stored := r.Fingerprint()
		id := r.ID()

		switch {
		case r.GetAsString(ColumnSyncStatus, "") == SyncStatusDeleted:
			cs.Unchanged = append(cs.Unchanged, r)
		case id == "" && stored == "":
			cs.ToCreate = append(cs.ToCreate, r)
		case id == "" && stored == current:
			// created earlier without an identifier coming back
			cs.Unchanged = append(cs.Unchanged, r)
		case id == "":
			reason := fmt.Sprintf("row %d changed but has no %q for update", r.Key, ColumnID)
			d.logger.Warn("skipping row", "row", r.Key, "reason", reason)
			cs.Skipped = append(cs.Skipped, SkippedRow{Record: r, Reason: reason})
		case stored != current:
			cs.ToUpdate = append(cs.ToUpdate, r)
		default:
			cs.Unchanged = append(cs.Unchanged, r)
		}
	}
	return cs
}
