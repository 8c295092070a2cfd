package services

import (
	"context"

	"cflux/backend/pkg/models"
)

// EntitySource loads the field snapshot of a business entity so conditions
// and templates can read its values.
type EntitySource interface {
	// Snapshot returns the entity's current field values. Implementations
	// must fail for registered entity types they cannot load; the engine
	// fails closed on a missing snapshot.
	Snapshot(ctx context.Context, entityType, entityID string) (*models.EntitySnapshot, error)
}

// EmailMessage is one outbound mail.
type EmailMessage struct {
	Recipients []string `json:"recipients"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
}

// Mailer delivers workflow emails.
type Mailer interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// Notification is one outbound in-app notification.
type Notification struct {
	Recipients []string `json:"recipients"`
	Message    string   `json:"message"`
}

// Messenger delivers in-app notifications.
type Messenger interface {
	Notify(ctx context.Context, n Notification) error
}
