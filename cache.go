package sheetsync

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Adapter. It backs tests and datasets that
// are assembled in code.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[int]*Record // Key -> Record (row number)
	dirty  map[int]bool    // 変更追跡
	schema []string        // カラム名のリスト
	writes int             // WriteFields calls
	failOn func([]FieldUpdate) error
}

// NewMemoryStore creates a store holding copies of records
func NewMemoryStore(records ...*Record) *MemoryStore {
	s := &MemoryStore{
		data:   make(map[int]*Record),
		dirty:  make(map[int]bool),
		schema: []string{},
	}
	for _, r := range records {
		s.data[r.Key] = r.Clone()
		s.updateSchema(r)
	}
	return s
}

// Load returns copies of all records sorted by key
func (s *MemoryStore) Load(ctx context.Context) ([]*Record, []string, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*Record, 0, len(s.data))
	for _, record := range s.data {
		records = append(records, record.Clone())
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Key < records[j].Key
	})

	schema := make([]string, len(s.schema))
	copy(schema, s.schema)
	return records, schema, nil
}

// WriteFields applies all updates or none
func (s *MemoryStore) WriteFields(ctx context.Context, updates []FieldUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failOn != nil {
		if err := s.failOn(updates); err != nil {
			return err
		}
	}
	for _, u := range updates {
		if _, exists := s.data[u.Key]; !exists {
			return ErrKeyNotFound
		}
	}

	s.writes++
	for _, u := range updates {
		record := s.data[u.Key].Clone()
		for k, v := range u.Values {
			if v == nil {
				delete(record.Values, k)
			} else {
				record.Values[k] = v
			}
		}
		s.data[u.Key] = record
		s.dirty[u.Key] = true
		s.updateSchema(record)
	}
	return nil
}

// FailWritesWith makes WriteFields return the result of fn; nil restores
// normal behavior.
func (s *MemoryStore) FailWritesWith(fn func([]FieldUpdate) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOn = fn
}

// Get retrieves a copy of a record by key (row number)
func (s *MemoryStore) Get(key int) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.data[key]
	if !exists {
		return nil, ErrKeyNotFound
	}
	return record.Clone(), nil
}

// Set stores or replaces a record, as an external edit would
func (s *MemoryStore) Set(key int, record *Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := record.Clone()
	c.Key = key
	s.data[key] = c
	s.updateSchema(c)
}

// Update partially updates a record, as an external edit would. A nil
// value removes the cell.
func (s *MemoryStore) Update(key int, updates map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, exists := s.data[key]
	if !exists {
		return ErrKeyNotFound
	}
	updated := record.Clone()
	for k, v := range updates {
		if v == nil {
			delete(updated.Values, k)
		} else {
			updated.Values[k] = v
		}
	}
	s.data[key] = updated
	s.updateSchema(updated)
	return nil
}

// Writes returns how many WriteFields calls succeeded
func (s *MemoryStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// GetDirtyKeys returns keys written through WriteFields
func (s *MemoryStore) GetDirtyKeys() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]int, 0, len(s.dirty))
	for key, isDirty := range s.dirty {
		if isDirty {
			keys = append(keys, key)
		}
	}
	sort.Ints(keys)
	return keys
}

// ClearDirty marks all records as clean
func (s *MemoryStore) ClearDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = make(map[int]bool)
}

// Size returns the number of records
func (s *MemoryStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// updateSchema updates the schema based on record columns
func (s *MemoryStore) updateSchema(record *Record) {
	existing := make(map[string]bool, len(s.schema))
	for _, col := range s.schema {
		existing[col] = true
	}
	var added []string
	for col := range record.Values {
		if !existing[col] {
			added = append(added, col)
		}
	}
	// map order is random; keep new columns stable
	sort.Strings(added)
	s.schema = append(s.schema, added...)
}

// MergeSchemas merges current schema with sheet schema preserving order
func MergeSchemas(current, sheet []string) []string {
	result := make([]string, 0, len(sheet)+len(current))
	seen := make(map[string]bool)

	// First, keep existing sheet columns in their order
	for _, col := range sheet {
		if !seen[col] {
			result = append(result, col)
			seen[col] = true
		}
	}

	// Then, append new columns from current schema
	for _, col := range current {
		if !seen[col] {
			result = append(result, col)
			seen[col] = true
		}
	}

	return result
}
