package sheetsync

import (
	"context"
	"log/slog"
	"time"
)

// SyncStatusDeleted marks rows whose remote resource was deleted
const SyncStatusDeleted = "deleted"

// Dispatched is a row the remote accepted
type Dispatched struct {
	Row       *Record // the snapshot that was sent
	Operation Operation
	RemoteID  string
}

// StateReconciler writes fingerprints back after successful dispatches so
// the next diff sees the rows as unchanged.
type StateReconciler struct {
	store  Adapter
	now    func() time.Time
	logger *slog.Logger
}

// NewStateReconciler creates a reconciler writing to store
func NewStateReconciler(store Adapter, cfg *Config) *StateReconciler {
	c := cfg.withDefaults()
	return &StateReconciler{store: store, now: c.Now, logger: c.Logger}
}

// Updates computes the write-back for each dispatched row. The
// fingerprint comes from the snapshot that was sent, never from the
// store's current copy, which may have been edited since.
func (r *StateReconciler) Updates(dispatched []Dispatched) []FieldUpdate {
	stamp := r.now().UTC().Format(time.RFC3339)
	updates := make([]FieldUpdate, 0, len(dispatched))
	for _, d := range dispatched {
		if d.Row == nil {
			continue
		}
		values := map[string]interface{}{ColumnLastSyncedAt: stamp}
		switch ResolveOperation(d.Operation, d.Row) {
		case OpDelete:
			values[ColumnSyncStatus] = SyncStatusDeleted
		default:
			values[ColumnFingerprint] = Fingerprint(d.Row)
			if d.Row.ID() == "" && d.RemoteID != "" {
				values[ColumnID] = d.RemoteID
			}
		}
		updates = append(updates, FieldUpdate{Key: d.Row.Key, Values: values})
	}
	return updates
}

// ReconcileAfterSuccess writes all updates in a single store call. A
// failure is returned as *ReconciliationError; the remote changes stay.
func (r *StateReconciler) ReconcileAfterSuccess(ctx context.Context, dispatched []Dispatched) error {
	updates := r.Updates(dispatched)
	if len(updates) == 0 {
		return nil
	}
	if err := r.store.WriteFields(ctx, updates); err != nil {
		keys := make([]int, len(updates))
		for i, u := range updates {
			keys[i] = u.Key
		}
		r.logger.Error("reconciliation failed; rows may be re-exported next run",
			"rows", keys, "error", err)
		return &ReconciliationError{Keys: keys, Err: err}
	}
	r.logger.Debug("reconciled rows", "count", len(updates))
	return nil
}
