package main

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	sheetsync "github.com/ideamans/go-sheetsync"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sheetsync.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFileConfig(t *testing.T) {
	path := writeConfig(t, `
dataset_id: catalog
default_kind: variant
engine:
  max_retries: 5
  inter_call_delay: 250ms
store:
  type: excel
  excel:
    file_path: products.xlsx
    sheet_name: Products
remote:
  base_url: https://shop.example/admin/api/2024-01
  token: shpat_x
state:
  path: /tmp/state.db
`)
	cfg, err := loadFileConfig(path)
	if err != nil {
		t.Fatalf("loadFileConfig() error = %v", err)
	}
	if cfg.DatasetID != "catalog" || cfg.DefaultKind != "variant" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Engine.MaxRetries != 5 || cfg.Engine.InterCallDelay != 250*time.Millisecond {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	if cfg.Engine.MaxBatchSize != 50 {
		t.Errorf("MaxBatchSize = %d, want the default 50", cfg.Engine.MaxBatchSize)
	}
	if cfg.Store.Excel.FilePath != "products.xlsx" || cfg.Store.Excel.SheetName != "Products" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.State.Path != "/tmp/state.db" {
		t.Errorf("state path = %q", cfg.State.Path)
	}
}

func TestLoadFileConfig_GoogleSheetsDefaults(t *testing.T) {
	path := writeConfig(t, `
dataset_id: catalog
store:
  type: googlesheets
  googlesheets:
    spreadsheet_id: abc
    sheet_name: Products
  credentials:
    key_file: key.json
remote:
  base_url: https://shop.example
  token: t
`)
	cfg, err := loadFileConfig(path)
	if err != nil {
		t.Fatalf("loadFileConfig() error = %v", err)
	}
	if cfg.Engine.SyncInterval != 10*time.Minute || cfg.Engine.MaxDelay != 20*time.Second {
		t.Errorf("engine = %+v, want googlesheets defaults", cfg.Engine)
	}
	if cfg.Store.Credentials.KeyFile != "key.json" {
		t.Errorf("credentials = %+v", cfg.Store.Credentials)
	}
	if cfg.DefaultKind != string(sheetsync.KindProduct) || cfg.State.Path != "sheetsync.db" {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestLoadFileConfig_Invalid(t *testing.T) {
	base := `
remote:
  base_url: https://shop.example
  token: t
`
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "missing dataset", content: "store:\n  type: excel\n" + base, wantErr: "dataset_id"},
		{name: "unknown store", content: "dataset_id: d\nstore:\n  type: csv\n" + base, wantErr: "store.type"},
		{name: "excel without file", content: "dataset_id: d\nstore:\n  type: excel\n  excel:\n    sheet_name: S\n" + base, wantErr: "store.excel"},
		{name: "sheets without id", content: "dataset_id: d\nstore:\n  type: googlesheets\n" + base, wantErr: "store.googlesheets"},
		{name: "missing remote", content: "dataset_id: d\nstore:\n  type: excel\n  excel:\n    file_path: f.xlsx\n    sheet_name: S\n", wantErr: "remote"},
		{name: "unknown kind", content: "dataset_id: d\ndefault_kind: order\nstore:\n  type: excel\n" + base, wantErr: "default_kind"},
		{name: "malformed", content: "dataset_id: [", wantErr: "parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadFileConfig(writeConfig(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want one mentioning %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseCondition(t *testing.T) {
	tests := []struct {
		in      string
		want    sheetsync.Condition
		wantErr bool
	}{
		{in: "status:==:active", want: sheetsync.Condition{Column: "status", Operator: "==", Value: "active"}},
		{in: "price:>=:10", want: sheetsync.Condition{Column: "price", Operator: ">=", Value: int64(10)}},
		{in: "price:<:9.5", want: sheetsync.Condition{Column: "price", Operator: "<", Value: 9.5}},
		{in: "taxable:==:true", want: sheetsync.Condition{Column: "taxable", Operator: "==", Value: true}},
		{in: "vendor:in:Acme, Globex", want: sheetsync.Condition{Column: "vendor", Operator: "in", Value: []interface{}{"Acme", "Globex"}}},
		{in: "note:contains:a:b", want: sheetsync.Condition{Column: "note", Operator: "contains", Value: "a:b"}},
		{in: "sku:empty", want: sheetsync.Condition{Column: "sku", Operator: "empty"}},
		{in: "sku", wantErr: true},
		{in: ":==:x", wantErr: true},
		{in: "price:>", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseCondition(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseCondition(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseCondition(%q) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseRowTiers(t *testing.T) {
	got, err := parseRowTiers([]string{"2=critical", " 7 = low"})
	if err != nil {
		t.Fatalf("parseRowTiers() error = %v", err)
	}
	want := map[int]sheetsync.PriorityTier{2: sheetsync.TierCritical, 7: sheetsync.TierLow}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseRowTiers() = %v, want %v", got, want)
	}

	for _, bad := range []string{"2", "1=high", "x=high", "3=urgent"} {
		if _, err := parseRowTiers([]string{bad}); err == nil {
			t.Errorf("parseRowTiers(%q) expected an error", bad)
		}
	}
}

func TestExitError(t *testing.T) {
	tests := []struct {
		status  sheetsync.RunStatus
		wantErr bool
	}{
		{sheetsync.RunNoChanges, false},
		{sheetsync.RunPrepared, false},
		{sheetsync.RunCompleted, false},
		{sheetsync.RunPartial, true},
		{sheetsync.RunInterrupted, true},
		{sheetsync.RunAborted, true},
		{sheetsync.RunFailed, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			err := exitError(&sheetsync.RunResult{Status: tt.status, SessionID: "s1", FatalError: "boom"}, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("exitError(%s) = %v, wantErr %v", tt.status, err, tt.wantErr)
			}
		})
	}
}

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.log")
	var stderr bytes.Buffer
	l := newLogger(&stderr, path, false)
	l.Debug("hidden")
	l.Info("batch done", "batch", 1)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"batch done"`) || strings.Contains(string(data), "hidden") {
		t.Errorf("log file = %s", data)
	}
	if stderr.Len() != 0 {
		t.Errorf("stderr = %q, want nothing when logging to a file", stderr.String())
	}
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	printResult(&buf, &sheetsync.RunResult{Status: sheetsync.RunPartial, SessionID: "s1", Created: 2, Failed: 1, Pending: 0})
	out := buf.String()
	for _, want := range []string{"Status:    partial", "Session:   s1", "Created:   2", "Failed:    1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Pending") {
		t.Errorf("output shows zero pending:\n%s", out)
	}
}
