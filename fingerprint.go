package sheetsync

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/hashstructure/v2"
)

// Fingerprint returns a deterministic hash of the row's business fields.
//
// Bookkeeping columns (see IsBookkeeping) are excluded, so writing the
// fingerprint or sync timestamp back never changes the result. Values are
// normalized before hashing: numbers and numeric strings compare equal
// ("10.00" == 10), booleans and their spreadsheet spellings collapse to
// true/false, and empty cells are treated as absent.
func Fingerprint(r *Record) string {
	if r == nil {
		return ""
	}
	// hashing a map[string]string cannot fail
	h, _ := hashstructure.Hash(normalizeRecord(r), hashstructure.FormatV2, nil)
	return fmt.Sprintf("%016x", h)
}

func normalizeRecord(r *Record) map[string]string {
	out := make(map[string]string, len(r.Values))
	for col, v := range r.Values {
		if IsBookkeeping(col) {
			continue
		}
		if s, ok := normalizeValue(v); ok {
			out[col] = s
		}
	}
	return out
}

// normalizeValue returns the canonical text form of a cell and whether
// the cell counts as present.
func normalizeValue(v interface{}) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return normalizeString(val)
	case bool:
		return strconv.FormatBool(val), true
	case time.Time:
		if val.IsZero() {
			return "", false
		}
		return val.UTC().Format(time.RFC3339), true
	case []string:
		if len(val) == 0 {
			return "", false
		}
		return strings.Join(val, ","), true
	case []interface{}:
		if len(val) == 0 {
			return "", false
		}
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i], _ = normalizeValue(item)
		}
		return strings.Join(parts, ","), true
	}
	if isNumeric(v) {
		return formatNumber(toFloat64(v)), true
	}
	return normalizeString(fmt.Sprintf("%v", v))
}

func normalizeString(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if looksNumeric(s) {
		if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
			return formatNumber(f), true
		}
	}
	switch strings.ToLower(s) {
	case "true":
		return "true", true
	case "false":
		return "false", true
	}
	// timestamps compare at second precision in UTC, whatever offset they
	// were written with
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC().Format(time.RFC3339), true
	}
	return s, true
}

// looksNumeric rejects strings ParseFloat would accept but that are not
// plain decimals ("Inf", "NaN", hex floats).
func looksNumeric(s string) bool {
	for i, c := range s {
		switch {
		case c >= '0' && c <= '9', c == '.':
		case (c == '-' || c == '+') && i == 0:
		case c == 'e' || c == 'E':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func formatNumber(f float64) string {
	if f == 0 {
		return "0" // folds -0
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
