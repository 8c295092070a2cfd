package workflow

import (
	"fmt"
	"strconv"
	"time"

	"cflux/backend/pkg/models"
)

// fieldAliases maps the field names accepted in value-condition configs onto
// the canonical entity snapshot fields.
var fieldAliases = map[string]string{
	"totalAmount":    "totalAmount",
	"total":          "totalAmount",
	"subtotalAmount": "subtotalAmount",
	"subtotal":       "subtotalAmount",
	"amount":         "amount",
	"distance":       "distance",
}

// normalizeOperator folds the symbolic and verbose operator spellings into a
// canonical form. Unknown operators stay unknown and fail the evaluation.
func normalizeOperator(op string) string {
	switch op {
	case ">", "greater", "greater_than":
		return ">"
	case ">=", "greater_equal", "greater_or_equal":
		return ">="
	case "<", "less", "less_than":
		return "<"
	case "<=", "less_equal", "less_or_equal":
		return "<="
	case "==", "=", "equal", "equals":
		return "=="
	case "!=", "not_equal", "not_equals":
		return "!="
	}
	return ""
}

// EvaluateValueCondition evaluates a VALUE_CONDITION config against an entity
// snapshot. It is pure and deterministic. An unknown field, unknown operator
// or non-numeric comparison value evaluates to false and returns the reason
// as a non-nil error for the caller to report; it never aborts the operation.
func EvaluateValueCondition(cfg StepConfig, snap *models.EntitySnapshot) (bool, error) {
	canonical, ok := fieldAliases[cfg.Field]
	if !ok {
		return false, fmt.Errorf("unknown condition field %q", cfg.Field)
	}

	actual, ok := snap.Number(canonical)
	if !ok {
		return false, fmt.Errorf("entity snapshot has no numeric field %q", canonical)
	}

	expected, err := numericValue(cfg.Value)
	if err != nil {
		return false, err
	}

	return compareNumbers(actual, cfg.Operator, expected)
}

// EvaluateDateCondition evaluates a DATE_CONDITION config against an entity
// snapshot. Relative comparisons measure the field against now plus the
// configured day offset; absolute comparisons against the configured date.
// Equality compares calendar days, not instants. now is a parameter so the
// evaluation stays deterministic under test.
func EvaluateDateCondition(cfg StepConfig, snap *models.EntitySnapshot, now time.Time) (bool, error) {
	actual, ok := snap.Time(cfg.Field)
	if !ok {
		return false, fmt.Errorf("entity snapshot has no date field %q", cfg.Field)
	}

	var threshold time.Time
	switch cfg.CompareType {
	case "", "relative":
		threshold = now.AddDate(0, 0, cfg.RelativeDays)
	case "absolute":
		t, err := time.Parse("2006-01-02", cfg.AbsoluteDate)
		if err != nil {
			return false, fmt.Errorf("invalid absolute date %q", cfg.AbsoluteDate)
		}
		threshold = t
	default:
		return false, fmt.Errorf("unknown compare type %q", cfg.CompareType)
	}

	switch normalizeOperator(cfg.Operator) {
	case ">":
		return actual.After(threshold), nil
	case "<":
		return actual.Before(threshold), nil
	case "==":
		return sameDay(actual, threshold), nil
	}
	return false, fmt.Errorf("unknown date operator %q", cfg.Operator)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func compareNumbers(actual float64, op string, expected float64) (bool, error) {
	switch normalizeOperator(op) {
	case ">":
		return actual > expected, nil
	case ">=":
		return actual >= expected, nil
	case "<":
		return actual < expected, nil
	case "<=":
		return actual <= expected, nil
	case "==":
		return actual == expected, nil
	case "!=":
		return actual != expected, nil
	}
	return false, fmt.Errorf("unknown condition operator %q", op)
}

// numericValue coerces the JSON-decoded comparison value. The editor stores
// numbers, but hand-written configs sometimes quote them.
func numericValue(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, fmt.Errorf("non-numeric comparison value %q", x)
		}
		return f, nil
	case nil:
		return 0, fmt.Errorf("missing comparison value")
	}
	return 0, fmt.Errorf("non-numeric comparison value %v", v)
}
