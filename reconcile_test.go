package sheetsync_test

import (
	"context"
	"errors"
	"testing"
	"time"

	sheetsync "github.com/ideamans/go-sheetsync"
)

func TestStateReconciler_Updates(t *testing.T) {
	clock := newFakeClock()
	r := sheetsync.NewStateReconciler(sheetsync.NewMemoryStore(), testConfig(clock, nil))

	created := &sheetsync.Record{Key: 2, Values: map[string]interface{}{"title": "Mug"}}
	updated := &sheetsync.Record{Key: 3, Values: map[string]interface{}{"id": "50", "title": "Cup"}}
	deleted := &sheetsync.Record{Key: 4, Values: map[string]interface{}{"id": "51", "title": "Bowl"}}

	updates := r.Updates([]sheetsync.Dispatched{
		{Row: created, Operation: sheetsync.OpCreate, RemoteID: "99"},
		{Row: updated, Operation: sheetsync.OpMixed, RemoteID: "50"},
		{Row: deleted, Operation: sheetsync.OpDelete},
		{Row: nil, Operation: sheetsync.OpCreate},
	})
	if len(updates) != 3 {
		t.Fatalf("Updates() = %d entries, want 3", len(updates))
	}

	stamp := clock.Now().UTC().Format(time.RFC3339)
	for _, u := range updates {
		if u.Values["_last_synced_at"] != stamp {
			t.Errorf("row %d stamp = %v", u.Key, u.Values["_last_synced_at"])
		}
	}
	if updates[0].Values["id"] != "99" || updates[0].Values["_fingerprint"] != sheetsync.Fingerprint(created) {
		t.Errorf("create write-back = %v", updates[0].Values)
	}
	if _, ok := updates[1].Values["id"]; ok {
		t.Errorf("existing ids are never overwritten: %v", updates[1].Values)
	}
	if updates[2].Values["_sync_status"] != sheetsync.SyncStatusDeleted {
		t.Errorf("delete write-back = %v", updates[2].Values)
	}
	if _, ok := updates[2].Values["_fingerprint"]; ok {
		t.Errorf("deleted rows get no fingerprint")
	}
}

func TestStateReconciler_UsesSentSnapshot(t *testing.T) {
	ctx := context.Background()
	store := sheetsync.NewMemoryStore(&sheetsync.Record{Key: 2, Values: map[string]interface{}{"id": "1", "title": "Sent"}})
	r := sheetsync.NewStateReconciler(store, testConfig(newFakeClock(), nil))

	sent, _ := store.Get(2)
	// the user edits the row while the call is in flight
	_ = store.Update(2, map[string]interface{}{"title": "Edited later"})

	if err := r.ReconcileAfterSuccess(ctx, []sheetsync.Dispatched{{Row: sent, Operation: sheetsync.OpUpdate}}); err != nil {
		t.Fatalf("ReconcileAfterSuccess() error = %v", err)
	}
	row, _ := store.Get(2)
	if row.Fingerprint() != sheetsync.Fingerprint(sent) {
		t.Errorf("fingerprint should describe what was sent")
	}
	cs := sheetsync.NewChangeDetector(discardLogger()).Classify([]*sheetsync.Record{row})
	if len(cs.ToUpdate) != 1 {
		t.Errorf("the later edit must still be detected, got %+v", cs)
	}
}

func TestStateReconciler_Failure(t *testing.T) {
	ctx := context.Background()
	store := sheetsync.NewMemoryStore(
		&sheetsync.Record{Key: 2, Values: map[string]interface{}{"title": "A"}},
		&sheetsync.Record{Key: 3, Values: map[string]interface{}{"title": "B"}},
	)
	boom := errors.New("quota on sheet writes")
	store.FailWritesWith(func([]sheetsync.FieldUpdate) error { return boom })
	r := sheetsync.NewStateReconciler(store, testConfig(newFakeClock(), nil))

	a, _ := store.Get(2)
	b, _ := store.Get(3)
	err := r.ReconcileAfterSuccess(ctx, []sheetsync.Dispatched{
		{Row: a, Operation: sheetsync.OpCreate, RemoteID: "1"},
		{Row: b, Operation: sheetsync.OpCreate, RemoteID: "2"},
	})

	var re *sheetsync.ReconciliationError
	if !errors.As(err, &re) {
		t.Fatalf("error = %v, want *ReconciliationError", err)
	}
	if len(re.Keys) != 2 || !errors.Is(err, boom) {
		t.Errorf("ReconciliationError = %+v", re)
	}

	if err := r.ReconcileAfterSuccess(ctx, nil); err != nil {
		t.Errorf("empty reconcile error = %v", err)
	}
}
