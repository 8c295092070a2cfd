package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"cflux/backend/pkg/models"
)

func invoiceSnapshot(amount float64) *models.EntitySnapshot {
	return &models.EntitySnapshot{
		ID:   "inv-1",
		Type: models.EntityTypeInvoice,
		Values: map[string]any{
			"totalAmount":    amount,
			"subtotalAmount": amount * 0.9,
			"amount":         amount,
			"distance":       42.5,
		},
	}
}

func TestEvaluateValueCondition(t *testing.T) {
	snap := invoiceSnapshot(1500)

	cases := []struct {
		name     string
		field    string
		operator string
		value    any
		want     bool
	}{
		{"greater true", "totalAmount", ">", 1000.0, true},
		{"greater false", "totalAmount", ">", 2000.0, false},
		{"greater verbose alias", "totalAmount", "greater_than", 1000.0, true},
		{"greater editor alias", "totalAmount", "greater", 1000.0, true},
		{"greater equal boundary", "totalAmount", ">=", 1500.0, true},
		{"less", "totalAmount", "less", 2000.0, true},
		{"less equal", "totalAmount", "<=", 1499.0, false},
		{"equals", "amount", "==", 1500.0, true},
		{"equals single sign", "amount", "=", 1500.0, true},
		{"equals verbose", "amount", "equals", 1500.0, true},
		{"not equal", "amount", "!=", 100.0, true},
		{"total alias", "total", ">", 1000.0, true},
		{"subtotal alias", "subtotal", "<", 1400.0, true},
		{"distance", "distance", ">", 40.0, true},
		{"quoted numeric value", "totalAmount", ">", "1000", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := StepConfig{Field: tc.field, Operator: tc.operator, Value: tc.value}
			got, err := EvaluateValueCondition(cfg, snap)
			assert.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	t.Run("unknown field fails closed", func(t *testing.T) {
		got, err := EvaluateValueCondition(StepConfig{Field: "vatAmount", Operator: ">", Value: 1.0}, snap)
		assert.Error(t, err)
		assert.False(t, got)
	})

	t.Run("unknown operator fails closed", func(t *testing.T) {
		got, err := EvaluateValueCondition(StepConfig{Field: "totalAmount", Operator: "~", Value: 1.0}, snap)
		assert.Error(t, err)
		assert.False(t, got)
	})

	t.Run("missing snapshot field fails closed", func(t *testing.T) {
		empty := &models.EntitySnapshot{ID: "x", Values: map[string]any{}}
		got, err := EvaluateValueCondition(StepConfig{Field: "totalAmount", Operator: ">", Value: 1.0}, empty)
		assert.Error(t, err)
		assert.False(t, got)
	})

	t.Run("non numeric value fails closed", func(t *testing.T) {
		got, err := EvaluateValueCondition(StepConfig{Field: "totalAmount", Operator: ">", Value: "lots"}, snap)
		assert.Error(t, err)
		assert.False(t, got)
	})

	t.Run("deterministic", func(t *testing.T) {
		cfg := StepConfig{Field: "totalAmount", Operator: ">", Value: 1000.0}
		first, err1 := EvaluateValueCondition(cfg, snap)
		second, err2 := EvaluateValueCondition(cfg, snap)
		assert.NoError(t, err1)
		assert.NoError(t, err2)
		assert.Equal(t, first, second)
	})
}

func TestEvaluateDateCondition(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	snap := &models.EntitySnapshot{
		ID: "inv-1",
		Values: map[string]any{
			"invoiceDate": "2026-03-01",
			"dueDate":     "2026-03-20T00:00:00Z",
		},
	}

	t.Run("relative greater", func(t *testing.T) {
		cfg := StepConfig{Field: "dueDate", Operator: "greater", CompareType: "relative", RelativeDays: 5}
		got, err := EvaluateDateCondition(cfg, snap, now)
		assert.NoError(t, err)
		assert.True(t, got) // due 2026-03-20 is after now+5d
	})

	t.Run("relative less", func(t *testing.T) {
		cfg := StepConfig{Field: "invoiceDate", Operator: "less", CompareType: "relative", RelativeDays: 0}
		got, err := EvaluateDateCondition(cfg, snap, now)
		assert.NoError(t, err)
		assert.True(t, got)
	})

	t.Run("absolute equals by calendar day", func(t *testing.T) {
		cfg := StepConfig{Field: "invoiceDate", Operator: "equals", CompareType: "absolute", AbsoluteDate: "2026-03-01"}
		got, err := EvaluateDateCondition(cfg, snap, now)
		assert.NoError(t, err)
		assert.True(t, got)
	})

	t.Run("bad absolute date fails closed", func(t *testing.T) {
		cfg := StepConfig{Field: "invoiceDate", Operator: "greater", CompareType: "absolute", AbsoluteDate: "soon"}
		got, err := EvaluateDateCondition(cfg, snap, now)
		assert.Error(t, err)
		assert.False(t, got)
	})

	t.Run("missing field fails closed", func(t *testing.T) {
		cfg := StepConfig{Field: "paidAt", Operator: "greater"}
		got, err := EvaluateDateCondition(cfg, snap, now)
		assert.Error(t, err)
		assert.False(t, got)
	})
}
