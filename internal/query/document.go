package query

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Executors address fields inside opaque values through their JSON shape.
// toDocument normalizes any value to that shape; non-object values have
// no addressable fields and behave as if every field were absent.
func toDocument(value any) map[string]any {
	data, err := json.Marshal(value)
	if err != nil {
		return nil
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil
	}
	return doc
}

// fieldValue resolves a field. The second return distinguishes an absent
// field from one explicitly holding null; both count as null for
// condition purposes.
func fieldValue(doc map[string]any, field string) (any, bool) {
	if doc == nil {
		return nil, false
	}
	value, ok := doc[field]
	return value, ok
}

// normalizeScalar folds JSON scalars into the comparator's domain:
// numbers and booleans become float64 (booleans as 0/1, matching SQLite's
// json_extract), strings stay strings.
func normalizeScalar(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case bool:
		if v {
			return float64(1)
		}
		return float64(0)
	case string:
		return v
	}
	if f, ok := numeric(value); ok {
		return f
	}
	return value
}

func numeric(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

// typeRank orders values of different kinds the way SQLite does:
// numbers (booleans included) before text, text before anything else.
func typeRank(value any) int {
	if _, ok := numeric(value); ok {
		return 0
	}
	if _, ok := value.(string); ok {
		return 1
	}
	return 2
}

// compareValues is the shared ordering convention. Both arguments must be
// non-nil; null ordering is the caller's concern (nulls always rank
// last, regardless of direction).
func compareValues(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}

	switch ra {
	case 0:
		fa, _ := numeric(a)
		fb, _ := numeric(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case 1:
		return strings.Compare(a.(string), b.(string))
	default:
		// Composite values have no meaningful order; compare their
		// serialized forms so the result is at least deterministic.
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
}

// matches evaluates one condition against a document.
func matches(doc map[string]any, c Condition) bool {
	value, present := fieldValue(doc, c.Field)
	isNull := !present || value == nil

	switch c.Operator {
	case OpIsNull:
		return isNull
	case OpNotNull:
		return !isNull
	}
	if isNull {
		return false
	}

	v := normalizeScalar(value)
	switch c.Operator {
	case OpEqual:
		return compareValues(v, normalizeScalar(c.Value)) == 0
	case OpGreaterThan:
		return compareValues(v, normalizeScalar(c.Value)) > 0
	case OpGreaterThanOrEqual:
		return compareValues(v, normalizeScalar(c.Value)) >= 0
	case OpLessThan:
		return compareValues(v, normalizeScalar(c.Value)) < 0
	case OpLessThanOrEqual:
		return compareValues(v, normalizeScalar(c.Value)) <= 0
	case OpBetween:
		return compareValues(v, normalizeScalar(c.Value)) >= 0 &&
			compareValues(v, normalizeScalar(c.High)) <= 0
	case OpContains:
		s, ok := value.(string)
		if !ok {
			return false
		}
		return strings.Contains(s, c.Value.(string))
	}
	return false
}
