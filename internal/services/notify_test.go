package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cflux/backend/internal/logging"
	"cflux/backend/pkg/models"
)

func TestRenderTemplate(t *testing.T) {
	snap := &models.EntitySnapshot{
		ID:   "inv-1",
		Type: models.EntityTypeInvoice,
		Values: map[string]any{
			"invoiceNumber": "RE-2026-042",
			"customerName":  "Müller AG",
			"totalAmount":   1250.5,
			"overdue":       true,
		},
	}

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain text untouched", "no placeholders here", "no placeholders here"},
		{"string field", "Invoice {{invoiceNumber}} for {{customerName}}", "Invoice RE-2026-042 for Müller AG"},
		{"numeric field", "Total: {{totalAmount}} CHF", "Total: 1250.5 CHF"},
		{"bool field", "Overdue: {{overdue}}", "Overdue: true"},
		{"id placeholder", "Ref {{id}}", "Ref inv-1"},
		{"unknown field renders empty", "X{{missing}}Y", "XY"},
		{"whitespace inside braces", "{{ invoiceNumber }}", "RE-2026-042"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, RenderTemplate(tc.in, snap))
		})
	}

	t.Run("nil snapshot renders empty", func(t *testing.T) {
		assert.Equal(t, "Invoice ", RenderTemplate("Invoice {{invoiceNumber}}", nil))
	})
}

func TestDispatcherRequiresRecipients(t *testing.T) {
	mailer := &fakeMailer{}
	messenger := &fakeMessenger{}
	d := NewDispatcher(mailer, messenger, logging.NewLogger(), time.Second)

	err := d.SendEmail(context.Background(), workflowEmailConfig{Subject: "s"}, nil)
	require.Error(t, err)
	assert.Empty(t, mailer.sent)

	err = d.SendNotification(context.Background(), workflowNotificationConfig{Message: "m"}, nil)
	require.Error(t, err)
	assert.Empty(t, messenger.sent)
}
