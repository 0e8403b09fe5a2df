package excel

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	sheetsync "github.com/ideamans/go-sheetsync"
	"github.com/xuri/excelize/v2"
)

// Adapter implements the sheetsync.Adapter interface for Excel files
type Adapter struct {
	config *Config
	mu     sync.RWMutex
}

// New creates a new Excel adapter with the given configuration
func New(config *Config) (*Adapter, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	// Create a copy of config to avoid external modifications
	configCopy := *config

	return &Adapter{
		config: &configCopy,
	}, nil
}

// Load retrieves all records and schema from the Excel file
func (a *Adapter) Load(ctx context.Context) ([]*sheetsync.Record, []string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	// Check if context is cancelled
	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	default:
	}

	// Open the Excel file
	f, err := excelize.OpenFile(a.config.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, return empty data
			return []*sheetsync.Record{}, []string{}, nil
		}
		return nil, nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	// Check if sheet exists
	sheetIndex, err := f.GetSheetIndex(a.config.SheetName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get sheet index: %w", err)
	}
	if sheetIndex == -1 {
		// Sheet doesn't exist, return empty data
		return []*sheetsync.Record{}, []string{}, nil
	}

	rows, err := f.GetRows(a.config.SheetName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get rows: %w", err)
	}
	if len(rows) == 0 {
		return []*sheetsync.Record{}, []string{}, nil
	}

	// First row is the schema
	schema := rows[0]

	records := make([]*sheetsync.Record, 0, len(rows)-1)
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		if len(row) == 0 {
			continue // Skip empty rows
		}

		record := &sheetsync.Record{
			Key:    i + 1, // Row number (1-based, but data starts from row 2)
			Values: make(map[string]interface{}),
		}
		for j, value := range row {
			if j < len(schema) && schema[j] != "" && value != "" {
				record.Values[schema[j]] = parseCell(schema[j], value)
			}
		}
		if len(record.Values) == 0 {
			continue
		}
		records = append(records, record)
	}

	return records, schema, nil
}

// parseCell converts a formatted cell to a Go value. Bookkeeping columns
// stay strings: a fingerprint or id made only of digits must not turn
// into a number.
func parseCell(col, value string) interface{} {
	if sheetsync.IsBookkeeping(col) {
		return value
	}
	if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
		return intVal
	}
	if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
		return floatVal
	}
	if value == "true" || value == "false" || value == "TRUE" || value == "FALSE" {
		return value == "true" || value == "TRUE"
	}
	return value
}

// Save replaces all data in the Excel file with the provided records
func (a *Adapter) Save(ctx context.Context, records []*sheetsync.Record, schema []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	f, err := a.openOrCreate()
	if err != nil {
		return err
	}
	defer f.Close()

	// Recreate the sheet so stale rows do not survive
	if idx, _ := f.GetSheetIndex(a.config.SheetName); idx != -1 {
		tmp := a.config.SheetName + "_tmp"
		if _, err := f.NewSheet(tmp); err != nil {
			return fmt.Errorf("failed to create sheet: %w", err)
		}
		if err := f.DeleteSheet(a.config.SheetName); err != nil {
			return fmt.Errorf("failed to clear sheet: %w", err)
		}
		if err := f.SetSheetName(tmp, a.config.SheetName); err != nil {
			return fmt.Errorf("failed to rename sheet: %w", err)
		}
	} else if err := a.ensureSheet(f); err != nil {
		return err
	}

	headerValues := make([]interface{}, len(schema))
	for i, col := range schema {
		headerValues[i] = col
	}
	if err := f.SetSheetRow(a.config.SheetName, "A1", &headerValues); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, record := range records {
		rowNum := record.Key
		if rowNum < 2 {
			rowNum = 2 // Ensure we don't overwrite header
		}

		rowValues := make([]interface{}, len(schema))
		for i, col := range schema {
			if val, ok := record.Values[col]; ok {
				rowValues[i] = val
			} else {
				rowValues[i] = ""
			}
		}

		cell := fmt.Sprintf("A%d", rowNum)
		if err := f.SetSheetRow(a.config.SheetName, cell, &rowValues); err != nil {
			return fmt.Errorf("failed to write row %d: %w", rowNum, err)
		}
	}

	if err := f.SaveAs(a.config.FilePath); err != nil {
		return fmt.Errorf("failed to save Excel file: %w", err)
	}
	return nil
}

// WriteFields writes the given cells and saves the workbook once.
// Columns missing from the header are appended to it.
func (a *Adapter) WriteFields(ctx context.Context, updates []sheetsync.FieldUpdate) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if len(updates) == 0 {
		return nil
	}

	f, err := excelize.OpenFile(a.config.FilePath)
	if err != nil {
		return fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	if idx, err := f.GetSheetIndex(a.config.SheetName); err != nil || idx == -1 {
		return fmt.Errorf("%w: %s", ErrSheetNotFound, a.config.SheetName)
	}

	rows, err := f.GetRows(a.config.SheetName)
	if err != nil {
		return fmt.Errorf("failed to get rows: %w", err)
	}
	var header []string
	if len(rows) > 0 {
		header = rows[0]
	}
	columns := make(map[string]int, len(header))
	for i, col := range header {
		if col != "" {
			columns[col] = i + 1
		}
	}

	for _, u := range updates {
		if u.Key < 2 {
			return fmt.Errorf("invalid row %d: %w", u.Key, sheetsync.ErrKeyNotFound)
		}
		for col, val := range u.Values {
			idx, ok := columns[col]
			if !ok {
				idx = len(header) + 1
				header = append(header, col)
				columns[col] = idx
				headerCell, err := excelize.CoordinatesToCellName(idx, 1)
				if err != nil {
					return err
				}
				if err := f.SetCellValue(a.config.SheetName, headerCell, col); err != nil {
					return fmt.Errorf("failed to add column %s: %w", col, err)
				}
			}
			cell, err := excelize.CoordinatesToCellName(idx, u.Key)
			if err != nil {
				return err
			}
			if val == nil {
				val = ""
			}
			if err := f.SetCellValue(a.config.SheetName, cell, val); err != nil {
				return fmt.Errorf("failed to write %s: %w", cell, err)
			}
		}
	}

	if err := f.SaveAs(a.config.FilePath); err != nil {
		return fmt.Errorf("failed to save Excel file: %w", err)
	}
	return nil
}

func (a *Adapter) openOrCreate() (*excelize.File, error) {
	dir := filepath.Dir(a.config.FilePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	if _, err := os.Stat(a.config.FilePath); err == nil {
		f, err := excelize.OpenFile(a.config.FilePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open Excel file: %w", err)
		}
		return f, nil
	}
	return excelize.NewFile(), nil
}

func (a *Adapter) ensureSheet(f *excelize.File) error {
	index, err := f.NewSheet(a.config.SheetName)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)

	// Delete default sheet if it exists and is not our sheet
	if defaultSheet := f.GetSheetName(0); defaultSheet != a.config.SheetName {
		_ = f.DeleteSheet(defaultSheet) // Ignore error - not critical
	}
	return nil
}
