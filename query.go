package sheetsync

import (
	"fmt"
	"strconv"
	"strings"
)

// Condition restricts which rows a run considers
type Condition struct {
	Column   string      // カラム名
	Operator string      // 演算子: ==, !=, >, >=, <, <=, in, contains, empty, notempty
	Value    interface{} // 比較値（inの場合は[]interface{}）
}

var validOperators = map[string]bool{
	"==": true, "!=": true, ">": true, ">=": true, "<": true, "<=": true,
	"in": true, "contains": true, "empty": true, "notempty": true,
}

// Matches checks if a record satisfies every condition
func (r *Record) Matches(conditions []Condition) bool {
	for _, c := range conditions {
		if !evalCondition(r, c) {
			return false
		}
	}
	return true
}

// evalCondition evaluates a single condition against a record
func evalCondition(record *Record, condition Condition) bool {
	value := record.Values[condition.Column]

	switch condition.Operator {
	case "==":
		return compareEqual(value, condition.Value)
	case "!=":
		return !compareEqual(value, condition.Value)
	case ">", ">=", "<", "<=":
		return compareOrdered(value, condition.Value, condition.Operator)
	case "in":
		list, ok := condition.Value.([]interface{})
		if !ok {
			return false
		}
		for _, item := range list {
			if compareEqual(value, item) {
				return true
			}
		}
		return false
	case "contains":
		s, _ := normalizeValue(value)
		sub, _ := normalizeValue(condition.Value)
		return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
	case "empty":
		_, present := normalizeValue(value)
		return !present
	case "notempty":
		_, present := normalizeValue(value)
		return present
	default:
		return false
	}
}

// compareEqual compares two cells the way fingerprints do: "10.00" == 10,
// "TRUE" == true, and an empty cell equals nil.
func compareEqual(a, b interface{}) bool {
	na, okA := normalizeValue(a)
	nb, okB := normalizeValue(b)
	if !okA || !okB {
		return okA == okB
	}
	return na == nb
}

func compareOrdered(a, b interface{}, op string) bool {
	x, okA := numericValue(a)
	y, okB := numericValue(b)
	if !okA || !okB {
		return false
	}
	switch op {
	case ">":
		return x > y
	case ">=":
		return x >= y
	case "<":
		return x < y
	default:
		return x <= y
	}
}

// numericValue accepts numbers and numeric-looking strings
func numericValue(v interface{}) (float64, bool) {
	if isNumeric(v) {
		return toFloat64(v), true
	}
	s, ok := v.(string)
	if !ok || !looksNumeric(strings.TrimSpace(s)) {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f, err == nil
}

// isNumeric checks if a value is numeric
func isNumeric(v interface{}) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	default:
		return false
	}
}

// toFloat64 converts a numeric value to float64
func toFloat64(v interface{}) float64 {
	switch val := v.(type) {
	case int:
		return float64(val)
	case int8:
		return float64(val)
	case int16:
		return float64(val)
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case uint:
		return float64(val)
	case uint8:
		return float64(val)
	case uint16:
		return float64(val)
	case uint32:
		return float64(val)
	case uint64:
		return float64(val)
	case float32:
		return float64(val)
	case float64:
		return val
	default:
		return 0
	}
}

// FilterRecords returns the records matching all conditions
func FilterRecords(records []*Record, conditions []Condition) []*Record {
	if len(conditions) == 0 {
		return records
	}
	var results []*Record
	for _, record := range records {
		if record.Matches(conditions) {
			results = append(results, record)
		}
	}
	return results
}

// ValidateConditions validates filter structure
func ValidateConditions(conditions []Condition) error {
	for i, cond := range conditions {
		if !validOperators[cond.Operator] {
			return fmt.Errorf("invalid operator '%s' in condition %d", cond.Operator, i)
		}
		if cond.Operator == "in" {
			if _, ok := cond.Value.([]interface{}); !ok {
				return fmt.Errorf("operator 'in' requires []interface{} value in condition %d", i)
			}
		}
		// カラム名の検証
		if cond.Column == "" {
			return fmt.Errorf("empty column name in condition %d", i)
		}
	}
	return nil
}
