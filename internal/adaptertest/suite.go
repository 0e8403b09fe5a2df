// Package adaptertest checks that an Adapter honors the contract the sync
// engine relies on. Adapter packages call Run from their tests.
package adaptertest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	sheetsync "github.com/ideamans/go-sheetsync"
)

// Factory returns an adapter whose sheet holds exactly rows under schema
type Factory func(t *testing.T, schema []string, rows []*sheetsync.Record) sheetsync.Adapter

// Run executes every conformance check against adapters built by newAdapter
func Run(t *testing.T, newAdapter Factory) {
	t.Run("Load", func(t *testing.T) { testLoad(t, newAdapter) })
	t.Run("WriteFields", func(t *testing.T) { testWriteFields(t, newAdapter) })
	t.Run("Sync", func(t *testing.T) { testSync(t, newAdapter) })
}

func testLoad(t *testing.T, newAdapter Factory) {
	ctx := context.Background()
	schema := []string{"id", "title", "price", "_kind", "_fingerprint"}
	adapter := newAdapter(t, schema, []*sheetsync.Record{
		{Key: 2, Values: map[string]interface{}{
			"id": "7234567890123456789", "title": "Mug", "price": "10.5",
			"_kind": "product", "_fingerprint": "0012345678901234",
		}},
		{Key: 3, Values: map[string]interface{}{"title": "Cup", "price": "4", "_kind": "product"}},
	})

	records, gotSchema, err := adapter.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Load() returned %d records, want 2", len(records))
	}
	for _, col := range []string{"id", "title", "price", "_fingerprint"} {
		if !contains(gotSchema, col) {
			t.Errorf("schema %v is missing %q", gotSchema, col)
		}
	}

	mug := records[0]
	if mug.Key != 2 {
		t.Errorf("first record key = %d, want 2", mug.Key)
	}
	// Bookkeeping values must survive as exact strings.
	if mug.ID() != "7234567890123456789" {
		t.Errorf("id = %q", mug.ID())
	}
	if mug.Fingerprint() != "0012345678901234" {
		t.Errorf("fingerprint = %q", mug.Fingerprint())
	}
	if got := mug.GetAsFloat64("price", 0); got != 10.5 {
		t.Errorf("price = %v, want 10.5", got)
	}
	if got := records[1].GetAsString("title", ""); got != "Cup" {
		t.Errorf("second title = %q", got)
	}
	if records[1].ID() != "" {
		t.Errorf("row without id loaded id %q", records[1].ID())
	}
}

func testWriteFields(t *testing.T, newAdapter Factory) {
	ctx := context.Background()
	adapter := newAdapter(t, []string{"title", "price"}, []*sheetsync.Record{
		{Key: 2, Values: map[string]interface{}{"title": "Mug", "price": "10.5"}},
		{Key: 3, Values: map[string]interface{}{"title": "Cup", "price": "4"}},
	})

	err := adapter.WriteFields(ctx, []sheetsync.FieldUpdate{{
		Key: 3,
		Values: map[string]interface{}{
			sheetsync.ColumnID:           "8000000000000000001",
			sheetsync.ColumnFingerprint:  "00ab00cd00ef0012",
			sheetsync.ColumnLastSyncedAt: "2026-05-01T09:00:00Z",
		},
	}})
	if err != nil {
		t.Fatalf("WriteFields() error = %v", err)
	}

	records, schema, err := adapter.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	for _, col := range []string{sheetsync.ColumnID, sheetsync.ColumnFingerprint, sheetsync.ColumnLastSyncedAt} {
		if !contains(schema, col) {
			t.Errorf("schema %v is missing %q after WriteFields", schema, col)
		}
	}
	byKey := index(records)
	cup := byKey[3]
	if cup == nil {
		t.Fatal("row 3 disappeared")
	}
	if cup.ID() != "8000000000000000001" || cup.Fingerprint() != "00ab00cd00ef0012" {
		t.Errorf("row 3 = %v", cup.Values)
	}
	if got := cup.GetAsString("title", ""); got != "Cup" {
		t.Errorf("row 3 title = %q, other columns must be untouched", got)
	}
	if mug := byKey[2]; mug == nil || mug.ID() != "" || mug.Fingerprint() != "" {
		t.Errorf("row 2 changed: %v", mug)
	}
}

func testSync(t *testing.T, newAdapter Factory) {
	ctx := context.Background()
	adapter := newAdapter(t, []string{"id", "title", "price", "_kind"}, []*sheetsync.Record{
		{Key: 2, Values: map[string]interface{}{"id": "11", "title": "Mug", "price": "10.5", "_kind": "product"}},
		{Key: 3, Values: map[string]interface{}{"title": "Cup", "price": "4", "_kind": "product"}},
		{Key: 4, Values: map[string]interface{}{"title": "Bowl", "price": "7", "_kind": "product"}},
	})

	cfg := sheetsync.DefaultConfig()
	cfg.InterCallDelay = 0
	dispatcher := &Dispatcher{}
	o := sheetsync.New("conformance", adapter, dispatcher, sheetsync.NewMemoryKV(), cfg)

	result, err := o.Run(ctx, sheetsync.Options{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Status != sheetsync.RunCompleted || result.Created != 2 || result.Updated != 1 {
		t.Fatalf("first run = %+v", result)
	}

	records, _, err := adapter.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	for _, r := range records {
		if r.ID() == "" || r.Fingerprint() == "" {
			t.Errorf("row %d not reconciled: %v", r.Key, r.Values)
		}
		if _, ok := r.LastSyncedAt(); !ok {
			t.Errorf("row %d has no sync timestamp", r.Key)
		}
	}

	again, err := o.Run(ctx, sheetsync.Options{})
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if again.Status != sheetsync.RunNoChanges {
		t.Errorf("second run status = %s, want %s", again.Status, sheetsync.RunNoChanges)
	}
	if n := dispatcher.Calls(); n != 3 {
		t.Errorf("dispatched %d calls, want 3", n)
	}
}

// Dispatcher accepts every call. Creates get sequential remote ids.
type Dispatcher struct {
	mu    sync.Mutex
	calls []*sheetsync.CallDescriptor
}

func (d *Dispatcher) Dispatch(ctx context.Context, call *sheetsync.CallDescriptor) (*sheetsync.Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call)
	if call.Operation == sheetsync.OpCreate {
		return &sheetsync.Response{StatusCode: 201, RemoteID: fmt.Sprintf("%d", 9000+len(d.calls))}, nil
	}
	return &sheetsync.Response{StatusCode: 200}, nil
}

func (d *Dispatcher) Readiness(ctx context.Context) (*sheetsync.Readiness, error) {
	return &sheetsync.Readiness{Connected: true, Authorized: true}, nil
}

// Calls returns the number of dispatched calls
func (d *Dispatcher) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func index(records []*sheetsync.Record) map[int]*sheetsync.Record {
	m := make(map[int]*sheetsync.Record, len(records))
	for _, r := range records {
		m[r.Key] = r
	}
	return m
}
