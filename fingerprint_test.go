package sheetsync_test

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	sheetsync "github.com/ideamans/go-sheetsync"
)

func TestFingerprint_Stable(t *testing.T) {
	a := &sheetsync.Record{Key: 2, Values: map[string]interface{}{"title": "Mug", "price": "10.00", "taxable": "TRUE"}}
	b := &sheetsync.Record{Key: 7, Values: map[string]interface{}{"taxable": true, "price": 10, "title": " Mug "}}

	if sheetsync.Fingerprint(a) != sheetsync.Fingerprint(a) {
		t.Fatalf("Fingerprint() is not deterministic")
	}
	if sheetsync.Fingerprint(a) != sheetsync.Fingerprint(b) {
		t.Errorf("equivalent rows should share a fingerprint: %s vs %s",
			sheetsync.Fingerprint(a), sheetsync.Fingerprint(b))
	}
	if len(sheetsync.Fingerprint(a)) != 16 {
		t.Errorf("Fingerprint() = %q, want 16 hex digits", sheetsync.Fingerprint(a))
	}
}

func TestFingerprint_IgnoresBookkeeping(t *testing.T) {
	base := &sheetsync.Record{Key: 2, Values: map[string]interface{}{"title": "Mug"}}
	want := sheetsync.Fingerprint(base)

	synced := base.Clone()
	synced.Values["id"] = "123"
	synced.Values["_fingerprint"] = want
	synced.Values["_last_synced_at"] = time.Now().Format(time.RFC3339)
	synced.Values["_kind"] = "product"
	synced.Values["_sync_error"] = "boom"

	if got := sheetsync.Fingerprint(synced); got != want {
		t.Errorf("bookkeeping columns changed the fingerprint: %s vs %s", got, want)
	}
}

func TestFingerprint_Sensitive(t *testing.T) {
	base := map[string]interface{}{"title": "Mug", "price": "10.00", "vendor": "Acme"}
	want := sheetsync.Fingerprint(&sheetsync.Record{Values: base})

	tests := []struct {
		name string
		edit func(map[string]interface{})
	}{
		{"changed value", func(v map[string]interface{}) { v["price"] = "10.01" }},
		{"added column", func(v map[string]interface{}) { v["sku"] = "MUG-1" }},
		{"removed column", func(v map[string]interface{}) { delete(v, "vendor") }},
		{"case change", func(v map[string]interface{}) { v["title"] = "mug" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := make(map[string]interface{}, len(base))
			for k, val := range base {
				v[k] = val
			}
			tt.edit(v)
			if got := sheetsync.Fingerprint(&sheetsync.Record{Values: v}); got == want {
				t.Errorf("edit did not change the fingerprint")
			}
		})
	}
}

func TestFingerprint_EmptyCellsAreAbsent(t *testing.T) {
	a := &sheetsync.Record{Values: map[string]interface{}{"title": "Mug"}}
	b := &sheetsync.Record{Values: map[string]interface{}{"title": "Mug", "vendor": "", "sku": nil, "tags": []string{}}}
	if sheetsync.Fingerprint(a) != sheetsync.Fingerprint(b) {
		t.Errorf("empty cells should not affect the fingerprint")
	}
	if sheetsync.Fingerprint(nil) != "" {
		t.Errorf("Fingerprint(nil) should be empty")
	}
}

func TestFingerprint_NotNumbers(t *testing.T) {
	// "Inf" and hex strings stay text
	a := &sheetsync.Record{Values: map[string]interface{}{"sku": "Inf"}}
	b := &sheetsync.Record{Values: map[string]interface{}{"sku": "inf"}}
	if sheetsync.Fingerprint(a) == sheetsync.Fingerprint(b) {
		t.Errorf("text values compared as numbers")
	}
	c := &sheetsync.Record{Values: map[string]interface{}{"n": "-0"}}
	d := &sheetsync.Record{Values: map[string]interface{}{"n": 0}}
	if sheetsync.Fingerprint(c) != sheetsync.Fingerprint(d) {
		t.Errorf("-0 and 0 should match")
	}
}

func TestFingerprint_TimestampsSurviveJSON(t *testing.T) {
	jst := time.FixedZone("JST", 9*60*60)
	tests := []struct {
		name  string
		value time.Time
	}{
		{"utc", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{"offset with nanoseconds", time.Date(2024, 5, 1, 19, 0, 0, 123456789, jst)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := &sheetsync.Record{Key: 2, Values: map[string]interface{}{"title": "Mug", "published_at": tt.value}}

			data, err := json.Marshal(before.Values)
			if err != nil {
				t.Fatal(err)
			}
			var values map[string]interface{}
			if err := json.Unmarshal(data, &values); err != nil {
				t.Fatal(err)
			}
			if _, ok := values["published_at"].(string); !ok {
				t.Fatalf("published_at decoded as %T", values["published_at"])
			}
			after := &sheetsync.Record{Key: 2, Values: values}

			if sheetsync.Fingerprint(before) != sheetsync.Fingerprint(after) {
				t.Errorf("fingerprint changed through JSON: %v vs %v", tt.value, values["published_at"])
			}
		})
	}

	// the same instant written with different offsets
	a := &sheetsync.Record{Values: map[string]interface{}{"at": "2024-05-01T19:00:00+09:00"}}
	b := &sheetsync.Record{Values: map[string]interface{}{"at": "2024-05-01T10:00:00Z"}}
	if sheetsync.Fingerprint(a) != sheetsync.Fingerprint(b) {
		t.Errorf("equal instants should share a fingerprint")
	}
	c := &sheetsync.Record{Values: map[string]interface{}{"at": "2024-05-01T10:00:01Z"}}
	if sheetsync.Fingerprint(b) == sheetsync.Fingerprint(c) {
		t.Errorf("different instants should not share a fingerprint")
	}
}
