package sheetsync

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// PriorityTier is the qualitative urgency of a queue item
type PriorityTier int

// The zero value means "unset" and is replaced by the default tier.
const (
	TierLow PriorityTier = iota + 1
	TierNormal
	TierHigh
	TierCritical
)

var tierNames = []string{"low", "normal", "high", "critical"}

func (t PriorityTier) String() string {
	if t < TierLow || t > TierCritical {
		return fmt.Sprintf("tier(%d)", int(t))
	}
	return tierNames[t-1]
}

// ParseTier parses a tier name
func ParseTier(s string) (PriorityTier, error) {
	for i, name := range tierNames {
		if strings.EqualFold(s, name) {
			return PriorityTier(i + 1), nil
		}
	}
	return TierNormal, fmt.Errorf("unknown priority tier %q", s)
}

func (t PriorityTier) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *PriorityTier) UnmarshalText(b []byte) error {
	v, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ItemStatus is the state of a queue item
type ItemStatus string

const (
	StatusPending    ItemStatus = "pending"
	StatusProcessing ItemStatus = "processing"
	StatusCompleted  ItemStatus = "completed"
	StatusFailed     ItemStatus = "failed"
)

func (s ItemStatus) valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// QueueItem is one unit of work. Row is the snapshot that will be sent.
type QueueItem struct {
	ID            string          `json:"id"`
	Seq           int64           `json:"seq"`
	Operation     Operation       `json:"operation"`
	Row           *Record         `json:"row"`
	SourceContext string          `json:"source_context,omitempty"`
	Tier          PriorityTier    `json:"tier"`
	Score         float64         `json:"score"`
	Status        ItemStatus      `json:"status"`
	Retries       int             `json:"retries"`
	AddedAt       time.Time       `json:"added_at"`
	PromotedAt    time.Time       `json:"promoted_at,omitempty"`
	LastUpdatedAt time.Time       `json:"last_updated_at"`
	Result        *DispatchResult `json:"result,omitempty"`

	explicitTier bool
}

// NewQueueItem builds an item with an explicit tier. Items built as plain
// struct literals take the default tier passed to Enqueue.
func NewQueueItem(op Operation, row *Record, sourceContext string, tier PriorityTier) *QueueItem {
	return &QueueItem{Operation: op, Row: row, SourceContext: sourceContext, Tier: tier, explicitTier: true}
}

// QueueStats counts items per status
type QueueStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Total returns the number of items
func (s QueueStats) Total() int {
	return s.Pending + s.Processing + s.Completed + s.Failed
}

// Violation is one integrity problem found in a queue
type Violation struct {
	ItemID string
	Index  int
	Reason string
}

func (v Violation) String() string {
	return fmt.Sprintf("item %d (%s): %s", v.Index, v.ItemID, v.Reason)
}

// ExportQueue is an ordered worklist. Pending items are kept sorted by
// descending score; other items keep their position for auditing.
type ExportQueue struct {
	mu      sync.Mutex
	items   []*QueueItem
	nextSeq int64
	policy  PriorityPolicy
	now     func() time.Time
}

// NewExportQueue creates an empty queue. A nil now uses time.Now.
func NewExportQueue(policy PriorityPolicy, now func() time.Time) *ExportQueue {
	if policy == (PriorityPolicy{}) {
		policy = DefaultPriorityPolicy()
	}
	if now == nil {
		now = time.Now
	}
	return &ExportQueue{policy: policy, now: now}
}

// Enqueue appends items and re-sorts the pending ones
func (q *ExportQueue) Enqueue(items []*QueueItem, defaultTier PriorityTier) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if defaultTier == 0 {
		defaultTier = TierNormal
	}
	now := q.now()
	for _, item := range items {
		if item == nil {
			continue
		}
		if !item.explicitTier || item.Tier == 0 {
			item.Tier = defaultTier
		}
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		q.nextSeq++
		item.Seq = q.nextSeq
		item.Status = StatusPending
		item.AddedAt = now
		item.LastUpdatedAt = now
		q.items = append(q.items, item)
	}
	q.resort(now)
}

// Score computes the priority score of item at now
func (q *ExportQueue) Score(item *QueueItem, now time.Time) float64 {
	p := q.policy
	var score float64
	switch item.Tier {
	case TierLow:
		score = p.LowWeight
	case TierNormal:
		score = p.NormalWeight
	case TierHigh:
		score = p.HighWeight
	default:
		score = p.CriticalWeight
	}
	switch item.Operation {
	case OpCreate:
		score += p.CreateWeight
	case OpDelete:
		score += p.DeleteWeight
	default:
		score += p.UpdateWeight
	}
	age := now.Sub(item.AddedAt).Minutes()
	if age > 0 {
		bonus := age * p.AgeFactor
		if bonus > p.AgeCap {
			bonus = p.AgeCap
		}
		score += bonus
	}
	return score
}

// resort rescores pending items and sorts them into the slots pending
// items already occupy.
func (q *ExportQueue) resort(now time.Time) {
	var slots []int
	var pending []*QueueItem
	for i, item := range q.items {
		if item.Status == StatusPending {
			item.Score = q.Score(item, now)
			slots = append(slots, i)
			pending = append(pending, item)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].Score != pending[j].Score {
			return pending[i].Score > pending[j].Score
		}
		return pending[i].Seq < pending[j].Seq
	})
	for i, slot := range slots {
		q.items[slot] = pending[i]
	}
}

// DequeueNext returns the highest-scored pending item without removing it
func (q *ExportQueue) DequeueNext() *QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, item := range q.items {
		if item.Status == StatusPending {
			return item
		}
	}
	return nil
}

// Pending returns pending items in priority order
func (q *ExportQueue) Pending() []*QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*QueueItem
	for _, item := range q.items {
		if item.Status == StatusPending {
			out = append(out, item)
		}
	}
	return out
}

// Items returns all items in queue order
func (q *ExportQueue) Items() []*QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*QueueItem, len(q.items))
	copy(out, q.items)
	return out
}

// Get returns the item with the given id
func (q *ExportQueue) Get(id string) (*QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item := q.find(id)
	return item, item != nil
}

func (q *ExportQueue) find(id string) *QueueItem {
	for _, item := range q.items {
		if item.ID == id {
			return item
		}
	}
	return nil
}

// Len returns the number of items
func (q *ExportQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Transition moves an item along Pending → Processing → Completed|Failed
func (q *ExportQueue) Transition(id string, to ItemStatus, result *DispatchResult) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item := q.find(id)
	if item == nil {
		return fmt.Errorf("transition %s: %w", id, ErrKeyNotFound)
	}

	allowed := false
	switch item.Status {
	case StatusPending:
		allowed = to == StatusProcessing
	case StatusProcessing:
		allowed = to == StatusCompleted || to == StatusFailed
	}
	if !allowed {
		return fmt.Errorf("%w: %s -> %s for item %s", ErrInvalidTransition, item.Status, to, id)
	}

	item.Status = to
	item.LastUpdatedAt = q.now()
	if result != nil {
		item.Result = result
	}
	return nil
}

// ResetFailed moves every failed item back to pending for a manual retry
// round and returns how many were reset.
func (q *ExportQueue) ResetFailed() int {
	return q.reset(StatusFailed)
}

// RecoverInterrupted moves items left in processing by an interrupted run
// back to pending. Their remote call may already have happened.
func (q *ExportQueue) RecoverInterrupted() int {
	return q.reset(StatusProcessing)
}

func (q *ExportQueue) reset(from ItemStatus) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	n := 0
	for _, item := range q.items {
		if item.Status != from {
			continue
		}
		item.Status = StatusPending
		item.Retries++
		item.LastUpdatedAt = now
		n++
	}
	if n > 0 {
		q.resort(now)
	}
	return n
}

// PromoteAged moves pending items that waited longer than their tier's
// threshold up one tier. Each item moves at most once per call.
func (q *ExportQueue) PromoteAged(thresholds AgingThresholds) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	n := 0
	for _, item := range q.items {
		if item.Status != StatusPending || item.Tier >= TierCritical {
			continue
		}
		var limit time.Duration
		switch item.Tier {
		case TierLow:
			limit = thresholds.Low
		case TierNormal:
			limit = thresholds.Normal
		case TierHigh:
			limit = thresholds.High
		}
		if limit <= 0 {
			continue
		}
		since := item.AddedAt
		if item.PromotedAt.After(since) {
			since = item.PromotedAt
		}
		if now.Sub(since) < limit {
			continue
		}
		item.Tier++
		item.PromotedAt = now
		item.LastUpdatedAt = now
		n++
	}
	q.resort(now)
	return n
}

// Stats counts items per status
func (q *ExportQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	var s QueueStats
	for _, item := range q.items {
		switch item.Status {
		case StatusPending:
			s.Pending++
		case StatusProcessing:
			s.Processing++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}

// ValidateIntegrity lists every malformed item instead of failing on the
// first one, so a corrupted queue can be reported and discarded.
func (q *ExportQueue) ValidateIntegrity() []Violation {
	q.mu.Lock()
	defer q.mu.Unlock()

	var violations []Violation
	seen := make(map[string]bool, len(q.items))
	for i, item := range q.items {
		if item == nil {
			violations = append(violations, Violation{Index: i, Reason: "nil item"})
			continue
		}
		add := func(reason string) {
			violations = append(violations, Violation{ItemID: item.ID, Index: i, Reason: reason})
		}
		if item.ID == "" {
			add("missing id")
		} else if seen[item.ID] {
			add("duplicate id")
		}
		seen[item.ID] = true
		if !item.Operation.Valid() {
			add(fmt.Sprintf("invalid operation %q", item.Operation))
		}
		if !item.Status.valid() {
			add(fmt.Sprintf("invalid status %q", item.Status))
		}
		if item.Row == nil {
			add("missing row")
			continue
		}
		if item.Row.ID() == "" && (item.Operation == OpUpdate || item.Operation == OpDelete) {
			add(fmt.Sprintf("%s without row identifier", item.Operation))
		}
	}
	return violations
}

type queueSnapshot struct {
	NextSeq int64        `json:"next_seq"`
	Items   []*QueueItem `json:"items"`
}

// MarshalJSON serializes the queue in its current order
func (q *ExportQueue) MarshalJSON() ([]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return json.Marshal(queueSnapshot{NextSeq: q.nextSeq, Items: q.items})
}

// UnmarshalJSON restores a serialized queue. Policy and clock are kept.
func (q *ExportQueue) UnmarshalJSON(data []byte) error {
	var snap queueSnapshot
	// numbers stay json.Number so large remote ids survive the round trip
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&snap); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = snap.Items
	q.nextSeq = snap.NextSeq
	for _, item := range q.items {
		if item != nil {
			item.explicitTier = true
		}
	}
	if q.policy == (PriorityPolicy{}) {
		q.policy = DefaultPriorityPolicy()
	}
	if q.now == nil {
		q.now = time.Now
	}
	return nil
}
