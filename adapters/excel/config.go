package excel

import (
	"time"

	sheetsync "github.com/ideamans/go-sheetsync"
)

// Config holds configuration for Excel adapter
type Config struct {
	FilePath  string `yaml:"file_path"`  // Path to the Excel file
	SheetName string `yaml:"sheet_name"` // Name of the sheet to use
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.FilePath == "" {
		return ErrMissingFilePath
	}
	if c.SheetName == "" {
		return ErrMissingSheetName
	}
	return nil
}

// DefaultClientConfig returns the recommended engine configuration for a
// local workbook. Write-back is local, so only the remote pacing matters.
func DefaultClientConfig() *sheetsync.Config {
	cfg := sheetsync.DefaultConfig()
	cfg.MaxRetries = 3
	cfg.BaseDelay = 1 * time.Second
	return cfg
}
