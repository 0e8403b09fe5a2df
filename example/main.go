package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"

	sheetsync "github.com/ideamans/go-sheetsync"
	"github.com/ideamans/go-sheetsync/adapters/googlesheets"
	"github.com/ideamans/go-sheetsync/kvstore/sqlite"
	"github.com/ideamans/go-sheetsync/remote/rest"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// Tabular store: a Google Sheet authenticated with a service account key
	adapter, err := googlesheets.Open(ctx, googlesheets.Config{
		SpreadsheetID: "your-spreadsheet-id",
		SheetName:     "Products",
	}, googlesheets.Credentials{KeyFile: "./service-account.json"})
	if err != nil {
		return fmt.Errorf("failed to create adapter: %w", err)
	}

	// Remote catalog
	dispatcher, err := rest.New(ctx, rest.Config{
		BaseURL: "https://your-shop.myshopify.com/admin/api/2024-01",
		Token:   os.Getenv("SHOP_TOKEN"),
	})
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	// Sessions survive restarts in a local SQLite file
	state, err := sqlite.Open(ctx, "sheetsync.db")
	if err != nil {
		return err
	}
	defer state.Close()

	// Recommended defaults for Google Sheets
	config := googlesheets.DefaultClientConfig()
	// Optionally customize:
	// config.MaxBatchSize = 20

	o := sheetsync.New("products", adapter, dispatcher, state, config)

	// Pick up an interrupted session before starting a new one
	active, err := o.ActiveSession(ctx)
	if err != nil {
		return err
	}

	var result *sheetsync.RunResult
	if active != "" {
		fmt.Printf("Resuming session %s\n", active)
		result, err = o.Resume(ctx, active, sheetsync.ResumeOptions{RetryFailed: true})
	} else {
		result, err = o.Run(ctx, sheetsync.Options{
			DefaultKind: sheetsync.KindProduct,
			Where: []sheetsync.Condition{
				{Column: "status", Operator: "==", Value: "active"},
			},
			Progress: func(p sheetsync.ProgressUpdate) {
				fmt.Printf("  batch %d/%d: %d processed, %d failed\n", p.Batch, p.Batches, p.Processed, p.Failed)
			},
		})
	}
	if err != nil {
		log.Printf("Run stopped: %v", err)
	}

	fmt.Printf("Status: %s (created %d, updated %d, failed %d, unchanged %d)\n",
		result.Status, result.Created, result.Updated, result.Failed, result.Unchanged)
	if result.Pending > 0 {
		fmt.Printf("%d items pending; run again to resume session %s\n", result.Pending, result.SessionID)
	}
	return nil
}
