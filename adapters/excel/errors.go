package excel

import "errors"

var (
	// ErrMissingFilePath is returned when file path is not specified
	ErrMissingFilePath = errors.New("file path is required")

	// ErrMissingSheetName is returned when sheet name is not specified
	ErrMissingSheetName = errors.New("sheet name is required")

	// ErrSheetNotFound is returned when WriteFields targets a sheet that doesn't exist
	ErrSheetNotFound = errors.New("sheet not found")
)
