package sheetsync_test

import (
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"

	sheetsync "github.com/ideamans/go-sheetsync"
)

func newQueue(clock *fakeClock) *sheetsync.ExportQueue {
	return sheetsync.NewExportQueue(sheetsync.DefaultPriorityPolicy(), clock.Now)
}

func item(op sheetsync.Operation, key int, tier sheetsync.PriorityTier) *sheetsync.QueueItem {
	row := &sheetsync.Record{Key: key, Values: map[string]interface{}{"title": "x"}}
	if op != sheetsync.OpCreate {
		row.Values["id"] = "1"
	}
	return sheetsync.NewQueueItem(op, row, "test", tier)
}

func pendingKeys(q *sheetsync.ExportQueue) []int {
	var keys []int
	for _, it := range q.Pending() {
		keys = append(keys, it.Row.Key)
	}
	return keys
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestExportQueue_PriorityOrder(t *testing.T) {
	clock := newFakeClock()
	q := newQueue(clock)
	q.Enqueue([]*sheetsync.QueueItem{
		item(sheetsync.OpUpdate, 2, sheetsync.TierLow),
		item(sheetsync.OpUpdate, 3, sheetsync.TierCritical),
		item(sheetsync.OpUpdate, 4, sheetsync.TierNormal),
	}, sheetsync.TierNormal)

	if got := pendingKeys(q); !equalInts(got, []int{3, 4, 2}) {
		t.Errorf("order = %v, want [3 4 2]", got)
	}
	if next := q.DequeueNext(); next == nil || next.Tier != sheetsync.TierCritical {
		t.Errorf("DequeueNext() = %+v, want the critical item", next)
	}
}

func TestExportQueue_OperationWeightsAndTies(t *testing.T) {
	clock := newFakeClock()
	q := newQueue(clock)
	q.Enqueue([]*sheetsync.QueueItem{
		{Operation: sheetsync.OpUpdate, Row: &sheetsync.Record{Key: 2, Values: map[string]interface{}{"id": "1"}}},
		{Operation: sheetsync.OpCreate, Row: &sheetsync.Record{Key: 3, Values: map[string]interface{}{}}},
		{Operation: sheetsync.OpDelete, Row: &sheetsync.Record{Key: 4, Values: map[string]interface{}{"id": "2"}}},
		{Operation: sheetsync.OpUpdate, Row: &sheetsync.Record{Key: 5, Values: map[string]interface{}{"id": "3"}}},
	}, 0)

	// delete > create > update, then insertion order
	if got := pendingKeys(q); !equalInts(got, []int{4, 3, 2, 5}) {
		t.Errorf("order = %v, want [4 3 2 5]", got)
	}
	for _, it := range q.Items() {
		if it.Tier != sheetsync.TierNormal {
			t.Errorf("item %d tier = %s, want normal", it.Row.Key, it.Tier)
		}
		if it.ID == "" || it.Status != sheetsync.StatusPending {
			t.Errorf("item %d not initialized: %+v", it.Row.Key, it)
		}
	}
}

func TestExportQueue_TierDominatesAge(t *testing.T) {
	clock := newFakeClock()
	q := newQueue(clock)
	q.Enqueue([]*sheetsync.QueueItem{item(sheetsync.OpDelete, 2, sheetsync.TierLow)}, 0)
	clock.Advance(10 * time.Minute)
	q.Enqueue([]*sheetsync.QueueItem{item(sheetsync.OpUpdate, 3, sheetsync.TierNormal)}, 0)

	// low item is capped at 0+30+50, below the fresh normal item's 110
	if got := pendingKeys(q); !equalInts(got, []int{3, 2}) {
		t.Errorf("order = %v, want [3 2]", got)
	}
}

func TestExportQueue_PromoteAged(t *testing.T) {
	clock := newFakeClock()
	q := newQueue(clock)
	q.Enqueue([]*sheetsync.QueueItem{
		item(sheetsync.OpUpdate, 2, sheetsync.TierLow),
		item(sheetsync.OpUpdate, 3, sheetsync.TierHigh),
		item(sheetsync.OpUpdate, 4, sheetsync.TierCritical),
	}, 0)
	thresholds := sheetsync.DefaultPriorityPolicy().Aging

	clock.Advance(29 * time.Minute)
	if n := q.PromoteAged(thresholds); n != 0 {
		t.Errorf("PromoteAged() = %d before any threshold", n)
	}

	clock.Advance(time.Minute)
	if n := q.PromoteAged(thresholds); n != 1 {
		t.Fatalf("PromoteAged() = %d, want 1", n)
	}
	low := q.Pending()[2]
	if low.Row.Key != 2 || low.Tier != sheetsync.TierNormal || low.PromotedAt.IsZero() {
		t.Errorf("low item after promotion = %+v", low)
	}

	// one tier per call, and the clock restarts at promotion
	if n := q.PromoteAged(thresholds); n != 0 {
		t.Errorf("PromoteAged() promoted twice without waiting")
	}
	clock.Advance(90 * time.Minute)
	q.PromoteAged(thresholds)
	for _, it := range q.Items() {
		switch it.Row.Key {
		case 2:
			if it.Tier != sheetsync.TierHigh {
				t.Errorf("row 2 tier = %s, want high", it.Tier)
			}
		case 4:
			if it.Tier != sheetsync.TierCritical {
				t.Errorf("critical items never move, got %s", it.Tier)
			}
		}
	}
}

func TestExportQueue_Transitions(t *testing.T) {
	q := newQueue(newFakeClock())
	q.Enqueue([]*sheetsync.QueueItem{item(sheetsync.OpCreate, 2, 0), item(sheetsync.OpCreate, 3, 0)}, 0)
	a, b := q.Items()[0], q.Items()[1]

	if err := q.Transition(a.ID, sheetsync.StatusCompleted, nil); !errors.Is(err, sheetsync.ErrInvalidTransition) {
		t.Errorf("pending -> completed error = %v", err)
	}
	if err := q.Transition(a.ID, sheetsync.StatusProcessing, nil); err != nil {
		t.Fatalf("pending -> processing error = %v", err)
	}
	result := &sheetsync.DispatchResult{Success: true, Attempts: 1, RemoteID: "9"}
	if err := q.Transition(a.ID, sheetsync.StatusCompleted, result); err != nil {
		t.Fatalf("processing -> completed error = %v", err)
	}
	if err := q.Transition(a.ID, sheetsync.StatusPending, nil); !errors.Is(err, sheetsync.ErrInvalidTransition) {
		t.Errorf("completed is terminal, error = %v", err)
	}
	if err := q.Transition("missing", sheetsync.StatusProcessing, nil); !errors.Is(err, sheetsync.ErrKeyNotFound) {
		t.Errorf("unknown item error = %v", err)
	}
	got, ok := q.Get(a.ID)
	if !ok || got.Result == nil || got.Result.RemoteID != "9" {
		t.Errorf("result not attached: %+v", got)
	}

	_ = q.Transition(b.ID, sheetsync.StatusProcessing, nil)
	_ = q.Transition(b.ID, sheetsync.StatusFailed, &sheetsync.DispatchResult{Error: "422"})
	stats := q.Stats()
	if stats.Completed != 1 || stats.Failed != 1 || stats.Total() != 2 {
		t.Errorf("Stats() = %+v", stats)
	}

	if n := q.ResetFailed(); n != 1 {
		t.Errorf("ResetFailed() = %d, want 1", n)
	}
	b, _ = q.Get(b.ID)
	if b.Status != sheetsync.StatusPending || b.Retries != 1 {
		t.Errorf("reset item = %+v", b)
	}
	// completed items are never reset
	if a, _ = q.Get(a.ID); a.Status != sheetsync.StatusCompleted {
		t.Errorf("completed item status = %s", a.Status)
	}
}

func TestExportQueue_Resumable(t *testing.T) {
	clock := newFakeClock()
	q := newQueue(clock)
	var items []*sheetsync.QueueItem
	for i := 0; i < 5; i++ {
		items = append(items, item(sheetsync.OpCreate, i+2, 0))
	}
	q.Enqueue(items, 0)
	for _, it := range q.Pending()[:2] {
		_ = q.Transition(it.ID, sheetsync.StatusProcessing, nil)
		_ = q.Transition(it.ID, sheetsync.StatusCompleted, &sheetsync.DispatchResult{Success: true})
	}
	interrupted := q.Pending()[0]
	_ = q.Transition(interrupted.ID, sheetsync.StatusProcessing, nil)

	data, err := json.Marshal(q)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	restored := newQueue(clock)
	if err := json.Unmarshal(data, restored); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if v := restored.ValidateIntegrity(); len(v) != 0 {
		t.Fatalf("ValidateIntegrity() = %v", v)
	}
	stats := restored.Stats()
	if stats.Completed != 2 || stats.Processing != 1 || stats.Pending != 2 {
		t.Fatalf("restored stats = %+v", stats)
	}
	if n := restored.RecoverInterrupted(); n != 1 {
		t.Errorf("RecoverInterrupted() = %d, want 1", n)
	}
	if got := len(restored.Pending()); got != 3 {
		t.Errorf("pending after recovery = %d, want 3", got)
	}

	// new items keep increasing sequence numbers
	restored.Enqueue([]*sheetsync.QueueItem{item(sheetsync.OpCreate, 10, 0)}, 0)
	all := restored.Items()
	if last := all[len(all)-1]; last.Seq != 6 {
		t.Errorf("Seq after restore = %d, want 6", last.Seq)
	}
}

func TestExportQueue_LargeIDsSurviveRoundTrip(t *testing.T) {
	q := newQueue(newFakeClock())
	row := &sheetsync.Record{Key: 2, Values: map[string]interface{}{"id": int64(9007199254740993), "title": "Mug"}}
	q.Enqueue([]*sheetsync.QueueItem{{Operation: sheetsync.OpUpdate, Row: row}}, 0)

	data, err := json.Marshal(q)
	if err != nil {
		t.Fatal(err)
	}
	restored := newQueue(newFakeClock())
	if err := json.Unmarshal(data, restored); err != nil {
		t.Fatal(err)
	}
	if got := restored.Items()[0].Row.ID(); got != "9007199254740993" {
		t.Errorf("id after round trip = %q", got)
	}
}

func TestExportQueue_ValidateIntegrity(t *testing.T) {
	q := newQueue(newFakeClock())
	data := []byte(`{"next_seq":3,"items":[
		{"id":"a","seq":1,"operation":"update","row":{"Key":2,"Values":{"title":"x"}},"tier":"normal","status":"pending"},
		{"id":"a","seq":2,"operation":"bogus","row":null,"tier":"low","status":"weird"}
	]}`)
	if err := json.Unmarshal(data, q); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	violations := q.ValidateIntegrity()
	// update without id, duplicate id, bad operation, bad status, missing row
	if len(violations) != 5 {
		t.Errorf("ValidateIntegrity() = %v, want 5 violations", violations)
	}
}

func TestParseTier(t *testing.T) {
	for _, name := range []string{"low", "Normal", "HIGH", "critical"} {
		tier, err := sheetsync.ParseTier(name)
		if err != nil {
			t.Errorf("ParseTier(%q) error = %v", name, err)
		}
		if tier.String() == "" {
			t.Errorf("ParseTier(%q) = %v", name, tier)
		}
	}
	if _, err := sheetsync.ParseTier("urgent"); err == nil {
		t.Errorf("ParseTier(urgent) should fail")
	}
	if got := sheetsync.PriorityTier(0).String(); got != "tier(0)" {
		t.Errorf("String() of unset tier = %q", got)
	}
}
