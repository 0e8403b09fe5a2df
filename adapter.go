package sheetsync

import "context"

// FieldUpdate is a partial write of one row's cells
type FieldUpdate struct {
	Key    int                    // row number of the target record
	Values map[string]interface{} // column -> new value
}

// Adapter interface defines methods for interacting with different spreadsheet backends
type Adapter interface {
	// Load retrieves all records and schema from the spreadsheet
	Load(ctx context.Context) ([]*Record, []string, error)

	// WriteFields writes the given cells in a single request. Columns
	// missing from the sheet are appended to the header.
	WriteFields(ctx context.Context, updates []FieldUpdate) error
}
