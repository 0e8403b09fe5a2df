package sheetsync

import (
	"fmt"
	"strings"
	"time"
)

// Bookkeeping columns. The engine writes only ColumnFingerprint,
// ColumnLastSyncedAt and, after a create that returned one, ColumnID.
const (
	ColumnID           = "id"
	ColumnFingerprint  = "_fingerprint"
	ColumnLastSyncedAt = "_last_synced_at"
	ColumnKind         = "_kind"
	ColumnSyncStatus   = "_sync_status"
	ColumnSyncError    = "_sync_error"
)

// Record is one row of the tabular dataset.
type Record struct {
	Key    int                    // 行番号 (2から始まる、1行目はカラム定義)
	Values map[string]interface{} // カラム名と値のマップ
}

// IsBookkeeping reports whether col is excluded from fingerprints.
func IsBookkeeping(col string) bool {
	return col == ColumnID || strings.HasPrefix(col, "_")
}

// ID returns the remote identifier, or "" when the row was never created remotely.
func (r *Record) ID() string {
	return strings.TrimSpace(r.GetAsString(ColumnID, ""))
}

// Fingerprint returns the stored content hash.
func (r *Record) Fingerprint() string {
	return strings.TrimSpace(r.GetAsString(ColumnFingerprint, ""))
}

// LastSyncedAt returns the last successful sync time, if any.
func (r *Record) LastSyncedAt() (time.Time, bool) {
	t := r.GetAsTime(ColumnLastSyncedAt, time.Time{})
	return t, !t.IsZero()
}

// Kind returns the explicit resource kind of the row, if set.
func (r *Record) Kind() ResourceKind {
	return ResourceKind(strings.ToLower(strings.TrimSpace(r.GetAsString(ColumnKind, ""))))
}

// Clone returns a copy whose Values map can be mutated independently.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := &Record{Key: r.Key, Values: make(map[string]interface{}, len(r.Values))}
	for k, v := range r.Values {
		c.Values[k] = v
	}
	return c
}

// GetAsString returns the value as string or defaultValue if not found
func (r *Record) GetAsString(col string, defaultValue string) string {
	v, ok := r.Values[col]
	if !ok {
		return defaultValue
	}

	switch val := v.(type) {
	case string:
		return val
	case int, int64, float64:
		return fmt.Sprintf("%v", val)
	case bool:
		if val {
			return "true"
		}
		return "false"
	case []string:
		return strings.Join(val, ",")
	default:
		return fmt.Sprintf("%v", val)
	}
}

// GetAsFloat64 returns the value as float64, accepting numeric cells and
// plain decimal strings, or defaultValue if absent or not a number.
func (r *Record) GetAsFloat64(col string, defaultValue float64) float64 {
	if f, ok := numericValue(r.Values[col]); ok {
		return f
	}
	return defaultValue
}

// GetAsTime returns the value as time.Time or defaultValue if absent or
// unparseable. Strings may be RFC 3339 (with or without fractional
// seconds), "2006-01-02 15:04:05" or a bare date.
func (r *Record) GetAsTime(col string, defaultValue time.Time) time.Time {
	switch val := r.Values[col].(type) {
	case time.Time:
		return val
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, strings.TrimSpace(val)); err == nil {
				return t
			}
		}
	}
	return defaultValue
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02",
}
