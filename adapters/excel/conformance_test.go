package excel

import (
	"context"
	"testing"

	sheetsync "github.com/ideamans/go-sheetsync"
	"github.com/ideamans/go-sheetsync/internal/adaptertest"
)

func TestAdapter_Conformance(t *testing.T) {
	adaptertest.Run(t, func(t *testing.T, schema []string, rows []*sheetsync.Record) sheetsync.Adapter {
		adapter := newTestAdapter(t, "Products")
		if err := adapter.Save(context.Background(), rows, schema); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		return adapter
	})
}
