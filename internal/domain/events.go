/**
 * @description
 * Event contracts exchanged with the message broker (RabbitMQ).
 * NotificationCreatedEvent is published by this service; PriceChangedEvent is
 * consumed from the subscription CRUD layer.
 */
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Routing keys used on the events exchange.
const (
	RoutingKeyNotificationCreated = "notification.created"
	RoutingKeyPriceChanged        = "subscription.price_changed"
)

// NotificationCreatedEvent announces a freshly stored notification.
type NotificationCreatedEvent struct {
	NotificationID string           `json:"notification_id"`
	UserID         string           `json:"user_id"`
	SubscriptionID *string          `json:"subscription_id,omitempty"`
	Type           NotificationType `json:"type"`
	Message        string           `json:"message"`
	EmailSent      bool             `json:"email_sent"`
	CreatedAt      time.Time        `json:"created_at"`
}

// PriceChangedEvent is emitted when a user edits a subscription's amount.
type PriceChangedEvent struct {
	SubscriptionID string          `json:"subscription_id"`
	OldAmount      decimal.Decimal `json:"old_amount"`
	NewAmount      decimal.Decimal `json:"new_amount"`
}
