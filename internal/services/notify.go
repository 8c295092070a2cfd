package services

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"cflux/backend/internal/logging"
	"cflux/backend/pkg/models"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

// RenderTemplate substitutes {{field}} placeholders with entity snapshot
// values. Unknown fields render as an empty string; {{id}} always resolves.
func RenderTemplate(text string, snap *models.EntitySnapshot) string {
	return placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		field := placeholderPattern.FindStringSubmatch(match)[1]
		if snap == nil {
			return ""
		}
		if field == "id" {
			return snap.ID
		}
		if snap.Values == nil {
			return ""
		}
		switch v := snap.Values[field].(type) {
		case string:
			return v
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(v)
		case nil:
			return ""
		default:
			return fmt.Sprintf("%v", v)
		}
	})
}

// Dispatcher renders and delivers workflow emails and notifications. Delivery
// failures are reported to the caller but never abort an instance; the engine
// marks the step SKIPPED and moves on.
type Dispatcher struct {
	mailer    Mailer
	messenger Messenger
	logger    *logging.Logger
	timeout   time.Duration
	failures  metric.Int64Counter
}

// NewDispatcher creates a new Dispatcher. Timeout bounds each delivery call.
func NewDispatcher(mailer Mailer, messenger Messenger, logger *logging.Logger, timeout time.Duration) *Dispatcher {
	meter := otel.Meter("cflux/backend/services")
	failures, _ := meter.Int64Counter("workflow.dispatch.failures",
		metric.WithDescription("Workflow email and notification deliveries that failed"))
	return &Dispatcher{
		mailer:    mailer,
		messenger: messenger,
		logger:    logger,
		timeout:   timeout,
		failures:  failures,
	}
}

// SendEmail renders the subject and body against the snapshot and delivers.
func (d *Dispatcher) SendEmail(ctx context.Context, cfg workflowEmailConfig, snap *models.EntitySnapshot) error {
	if d.mailer == nil {
		return fmt.Errorf("no mailer configured")
	}
	if len(cfg.Recipients) == 0 {
		return fmt.Errorf("email step has no recipients")
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	msg := EmailMessage{
		Recipients: cfg.Recipients,
		Subject:    RenderTemplate(cfg.Subject, snap),
		Body:       RenderTemplate(cfg.Body, snap),
	}
	if err := d.mailer.Send(ctx, msg); err != nil {
		d.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "email")))
		d.logger.Error("email delivery failed: %v", err)
		return err
	}
	return nil
}

// SendNotification renders the message against the snapshot and delivers.
func (d *Dispatcher) SendNotification(ctx context.Context, cfg workflowNotificationConfig, snap *models.EntitySnapshot) error {
	if d.messenger == nil {
		return fmt.Errorf("no messenger configured")
	}
	if len(cfg.Recipients) == 0 {
		return fmt.Errorf("notification step has no recipients")
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	n := Notification{
		Recipients: cfg.Recipients,
		Message:    RenderTemplate(cfg.Message, snap),
	}
	if err := d.messenger.Notify(ctx, n); err != nil {
		d.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "notification")))
		d.logger.Error("notification delivery failed: %v", err)
		return err
	}
	return nil
}

// workflowEmailConfig and workflowNotificationConfig are the slices of a step
// config the dispatcher needs. They keep the dispatcher decoupled from the
// graph package.
type workflowEmailConfig struct {
	Recipients []string
	Subject    string
	Body       string
}

type workflowNotificationConfig struct {
	Recipients []string
	Message    string
}
