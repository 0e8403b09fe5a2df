package googlesheets

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	sheetsync "github.com/ideamans/go-sheetsync"
	"github.com/xuri/excelize/v2"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetsAdaptor implements the sheetsync.Adapter interface for Google Sheets
type SheetsAdaptor struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
}

// NewSheetsAdaptor creates a new Google Sheets adaptor with provided options
func NewSheetsAdaptor(ctx context.Context, config Config, opts ...option.ClientOption) (*SheetsAdaptor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	service, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	return &SheetsAdaptor{
		service:       service,
		spreadsheetID: config.SpreadsheetID,
		sheetName:     config.SheetName,
	}, nil
}

// a1 builds an A1 range on the adaptor's sheet, quoting names that need it
func (a *SheetsAdaptor) a1(rng string) string {
	name := a.sheetName
	for _, c := range name {
		if !(c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
			name = "'" + strings.ReplaceAll(name, "'", "''") + "'"
			break
		}
	}
	return name + "!" + rng
}

// Load retrieves all records and schema from the spreadsheet
func (a *SheetsAdaptor) Load(ctx context.Context) ([]*sheetsync.Record, []string, error) {
	resp, err := a.service.Spreadsheets.Values.Get(a.spreadsheetID, a.a1("A:ZZ")).Context(ctx).Do()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get sheet data: %w", err)
	}

	if len(resp.Values) == 0 {
		return []*sheetsync.Record{}, []string{}, nil
	}

	// First row is schema; positions matter for cell lookup
	header := make([]string, len(resp.Values[0]))
	schema := make([]string, 0, len(header))
	for i, v := range resp.Values[0] {
		if col, ok := v.(string); ok && col != "" {
			header[i] = col
			schema = append(schema, col)
		}
	}

	records := make([]*sheetsync.Record, 0, len(resp.Values)-1)
	for i := 1; i < len(resp.Values); i++ {
		row := resp.Values[i]
		if len(row) == 0 {
			continue
		}

		// row 1 is header, so data starts at row 2
		record := &sheetsync.Record{
			Key:    i + 1,
			Values: make(map[string]interface{}),
		}
		for j := 0; j < len(row) && j < len(header); j++ {
			colName := header[j]
			if colName == "" || row[j] == nil {
				continue
			}
			if s, ok := row[j].(string); ok && s == "" {
				continue
			}
			record.Values[colName] = convertCellValue(colName, row[j])
		}
		if len(record.Values) == 0 {
			continue
		}
		records = append(records, record)
	}

	return records, schema, nil
}

// Save replaces all data in the spreadsheet, one row per record ordered
// by key. It is meant for seeding a sheet, not for write-back.
func (a *SheetsAdaptor) Save(ctx context.Context, records []*sheetsync.Record, schema []string) error {
	sortedRecords := make([]*sheetsync.Record, len(records))
	copy(sortedRecords, records)
	sort.Slice(sortedRecords, func(i, j int) bool {
		return sortedRecords[i].Key < sortedRecords[j].Key
	})

	values := make([][]interface{}, 0, len(records)+1)
	header := make([]interface{}, len(schema))
	for i, col := range schema {
		header[i] = col
	}
	values = append(values, header)

	for _, record := range sortedRecords {
		row := make([]interface{}, len(schema))
		for i, col := range schema {
			row[i] = convertToSheetValue(record.Values[col])
		}
		values = append(values, row)
	}

	_, err := a.service.Spreadsheets.Values.Clear(a.spreadsheetID, a.a1("A:ZZ"), &sheets.ClearValuesRequest{}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to clear sheet: %w", err)
	}

	_, err = a.service.Spreadsheets.Values.Update(a.spreadsheetID, a.a1("A1"), &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to update sheet: %w", err)
	}

	return nil
}

// WriteFields writes the given cells in one values.batchUpdate request.
// Columns missing from the header row are appended to it in the same
// request; other cells of the rows are left alone.
func (a *SheetsAdaptor) WriteFields(ctx context.Context, updates []sheetsync.FieldUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	resp, err := a.service.Spreadsheets.Values.Get(a.spreadsheetID, a.a1("1:1")).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to read header row: %w", err)
	}
	columns := make(map[string]int)
	width := 0
	if len(resp.Values) > 0 {
		width = len(resp.Values[0])
		for i, v := range resp.Values[0] {
			if col, ok := v.(string); ok && col != "" {
				columns[col] = i + 1
			}
		}
	}

	var data []*sheets.ValueRange
	// new columns in a stable order
	var added []string
	for _, u := range updates {
		for col := range u.Values {
			if _, ok := columns[col]; !ok {
				columns[col] = -1
				added = append(added, col)
			}
		}
	}
	sort.Strings(added)
	for _, col := range added {
		width++
		columns[col] = width
		cell, err := cellName(width, 1)
		if err != nil {
			return err
		}
		data = append(data, &sheets.ValueRange{Range: a.a1(cell), Values: [][]interface{}{{col}}})
	}

	for _, u := range updates {
		if u.Key < 2 {
			return fmt.Errorf("invalid row key %d: %w", u.Key, sheetsync.ErrKeyNotFound)
		}
		cols := make([]string, 0, len(u.Values))
		for col := range u.Values {
			cols = append(cols, col)
		}
		sort.Strings(cols)
		for _, col := range cols {
			cell, err := cellName(columns[col], u.Key)
			if err != nil {
				return err
			}
			data = append(data, &sheets.ValueRange{
				Range:  a.a1(cell),
				Values: [][]interface{}{{convertToSheetValue(u.Values[col])}},
			})
		}
	}

	req := &sheets.BatchUpdateValuesRequest{ValueInputOption: "RAW", Data: data}
	if _, err := a.service.Spreadsheets.Values.BatchUpdate(a.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to write fields: %w", err)
	}
	return nil
}

func cellName(col, row int) (string, error) {
	name, err := excelize.ColumnNumberToName(col)
	if err != nil {
		return "", fmt.Errorf("invalid column %d: %w", col, err)
	}
	return name + strconv.Itoa(row), nil
}

// convertCellValue converts a Google Sheets cell value to Go type.
// Bookkeeping columns stay text so ids and fingerprints made of digits
// keep their exact form.
func convertCellValue(col string, v interface{}) interface{} {
	if sheetsync.IsBookkeeping(col) {
		if f, ok := v.(float64); ok {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return fmt.Sprintf("%v", v)
	}
	switch val := v.(type) {
	case string:
		// Try to parse as number
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
		// Try to parse as bool
		if val == "true" || val == "TRUE" {
			return true
		}
		if val == "false" || val == "FALSE" {
			return false
		}
		return val
	case float64:
		// Check if it's actually an integer
		if val == float64(int64(val)) {
			return int64(val)
		}
		return val
	case bool:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// convertToSheetValue converts a Go value to Google Sheets cell value
func convertToSheetValue(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case int, int8, int16, int32, int64:
		return fmt.Sprintf("%d", val)
	case uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", val)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		if val {
			return "TRUE"
		}
		return "FALSE"
	default:
		return fmt.Sprintf("%v", val)
	}
}
