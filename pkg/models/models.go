// Package models defines the domain models shared by the workflow service.
package models

import "time"

// EntityType tags known entity kinds. Callers may pass any other string; the
// snapshot loader then degrades to a minimal {id} view instead of failing.
const (
	EntityTypeInvoice       = "INVOICE"
	EntityTypeTravelExpense = "TRAVEL_EXPENSE"
)

// EntitySnapshot is a read-only view of the business object a workflow
// instance is evaluating. Values holds the raw entity fields and is consulted
// both by the condition evaluator and by notification templates.
type EntitySnapshot struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Values map[string]any `json:"values,omitempty"`
}

// Number looks up a numeric field, coercing the JSON-typical encodings.
func (s *EntitySnapshot) Number(field string) (float64, bool) {
	if s == nil || s.Values == nil {
		return 0, false
	}
	switch v := s.Values[field].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Time looks up a timestamp field stored either natively or as RFC 3339 text.
func (s *EntitySnapshot) Time(field string) (time.Time, bool) {
	if s == nil || s.Values == nil {
		return time.Time{}, false
	}
	switch v := s.Values[field].(type) {
	case time.Time:
		return v, true
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t, true
		}
		if t, err := time.Parse("2006-01-02", v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// HealthStatus represents service health.
type HealthStatus struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ProblemDetails represents RFC 7807 Problem Details.
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}
