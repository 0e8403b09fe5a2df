package googlesheets

import (
	"errors"
	"time"

	sheetsync "github.com/ideamans/go-sheetsync"
)

// Config represents configuration specific to Google Sheets adapter
type Config struct {
	SpreadsheetID string `yaml:"spreadsheet_id"`
	SheetName     string `yaml:"sheet_name"`
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if c.SpreadsheetID == "" {
		return errors.New("spreadsheet id is required")
	}
	if c.SheetName == "" {
		return errors.New("sheet name is required")
	}
	return nil
}

// DefaultClientConfig returns the recommended engine configuration when
// rows live in Google Sheets. Sheet reads share the Sheets API quota, so
// the scheduler polls less often than the engine default.
func DefaultClientConfig() *sheetsync.Config {
	cfg := sheetsync.DefaultConfig()
	cfg.SyncInterval = 10 * time.Minute
	cfg.MaxRetries = 3
	cfg.MaxDelay = 20 * time.Second
	return cfg
}
