package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"

	sheetsync "github.com/ideamans/go-sheetsync"
	"github.com/ideamans/go-sheetsync/adapters/excel"
)

// dryRun prints calls instead of sending them, and hands out fake ids
type dryRun struct {
	next int
}

func (d *dryRun) Dispatch(ctx context.Context, call *sheetsync.CallDescriptor) (*sheetsync.Response, error) {
	fmt.Printf("  %-6s %-40s row %d %v\n", call.Method, call.Endpoint, call.RowKey, call.Payload)
	if call.Operation != sheetsync.OpCreate {
		return &sheetsync.Response{StatusCode: 200}, nil
	}
	d.next++
	return &sheetsync.Response{StatusCode: 201, RemoteID: strconv.Itoa(1000 + d.next)}, nil
}

func (d *dryRun) Readiness(ctx context.Context) (*sheetsync.Readiness, error) {
	return &sheetsync.Readiness{Connected: true, Authorized: true, QuotaLimit: 40}, nil
}

func main() {
	ctx := context.Background()

	// Excel adapter configuration
	adapter, err := excel.New(&excel.Config{
		FilePath:  "./example_products.xlsx",
		SheetName: "products",
	})
	if err != nil {
		log.Fatalf("Failed to create Excel adapter: %v", err)
	}

	// 1. Seed the workbook
	fmt.Println("Writing sample rows...")
	err = adapter.Save(ctx, []*sheetsync.Record{
		{Key: 2, Values: map[string]interface{}{"title": "Mug", "vendor": "Acme", "status": "active"}},
		{Key: 3, Values: map[string]interface{}{"title": "Cup", "vendor": "Acme", "status": "draft"}},
		{Key: 4, Values: map[string]interface{}{"title": "Bowl", "vendor": "Globex", "status": "active"}},
	}, []string{"title", "vendor", "status"})
	if err != nil {
		log.Fatalf("Failed to seed workbook: %v", err)
	}

	// Recommended defaults for Excel
	config := excel.DefaultClientConfig()
	config.InterCallDelay = 0
	config.Logger = slog.New(slog.NewTextHandler(os.Stderr, nil))

	o := sheetsync.New("example", adapter, &dryRun{}, sheetsync.NewMemoryKV(), config)
	o.SetEventSink(sheetsync.LogSink{Logger: config.Logger})

	// 2. Prepare a session for active products, critical first
	result, err := o.Run(ctx, sheetsync.Options{
		DefaultKind: sheetsync.KindProduct,
		Where:       []sheetsync.Condition{{Column: "status", Operator: "==", Value: "active"}},
		Tiers:       map[int]sheetsync.PriorityTier{4: sheetsync.TierCritical},
		PrepareOnly: true,
	})
	if err != nil {
		log.Fatalf("Failed to prepare: %v", err)
	}
	summary, err := o.Summary(ctx, result.SessionID)
	if err != nil {
		log.Fatalf("Failed to read summary: %v", err)
	}
	fmt.Printf("Prepared session %s with %d items\n", summary.SessionID, summary.Queue.Pending)

	// 3. Dispatch it
	fmt.Println("Dispatching...")
	result, err = o.Resume(ctx, result.SessionID, sheetsync.ResumeOptions{})
	if err != nil {
		log.Fatalf("Failed to resume: %v", err)
	}
	fmt.Printf("Status: %s, created %d\n", result.Status, result.Created)

	// 4. Ids and fingerprints are now in the workbook
	records, _, err := adapter.Load(ctx)
	if err != nil {
		log.Fatalf("Failed to load: %v", err)
	}
	for _, r := range records {
		fmt.Printf("  row %d: %-5s id=%-5s fingerprint=%s\n", r.Key, r.GetAsString("title", ""), r.ID(), r.Fingerprint())
	}

	// 5. Without the filter only the draft row is new; synced rows are unchanged
	result, err = o.Run(ctx, sheetsync.Options{DefaultKind: sheetsync.KindProduct})
	if err != nil {
		log.Fatalf("Failed to run: %v", err)
	}
	fmt.Printf("Second run: %s (created %d, unchanged %d)\n", result.Status, result.Created, result.Unchanged)
}
