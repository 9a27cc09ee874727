/**
 * @description
 * Event handlers for messages consumed from RabbitMQ.
 */
package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/subtrack/renewal-service/internal/domain"
	"github.com/subtrack/renewal-service/internal/store"
)

// PriceChangeNotifier creates price change notifications.
type PriceChangeNotifier interface {
	CreatePriceChangeNotification(ctx context.Context, subID string, oldAmount, newAmount decimal.Decimal) (*domain.Notification, error)
}

// PriceChangeEventHandler turns subscription.price_changed events into notifications.
type PriceChangeEventHandler struct {
	notifier PriceChangeNotifier
	logger   *slog.Logger
}

func NewPriceChangeEventHandler(notifier PriceChangeNotifier, logger *slog.Logger) *PriceChangeEventHandler {
	return &PriceChangeEventHandler{notifier: notifier, logger: logger}
}

// HandlePriceChanged returns true to acknowledge the message and false to
// request a redelivery.
func (h *PriceChangeEventHandler) HandlePriceChanged(ctx context.Context, body []byte) bool {
	var event domain.PriceChangedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.Warn("dropping malformed price change event", "error", err)
		return true
	}
	if event.SubscriptionID == "" {
		h.logger.Warn("price change event missing subscription_id; acking")
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	n, err := h.notifier.CreatePriceChangeNotification(ctx, event.SubscriptionID, event.OldAmount, event.NewAmount)
	switch {
	case err == nil:
		h.logger.Info("processed price change event", "subscription_id", event.SubscriptionID, "notification_id", n.ID)
		return true
	case errors.Is(err, ErrPriceUnchanged), errors.Is(err, ErrInvalidAmount):
		h.logger.Info("ignoring price change event", "subscription_id", event.SubscriptionID, "reason", err.Error())
		return true
	case errors.Is(err, store.ErrSubscriptionNotFound):
		h.logger.Warn("price change event for unknown subscription; acking", "subscription_id", event.SubscriptionID)
		return true
	default:
		h.logger.Error("failed to process price change event", "subscription_id", event.SubscriptionID, "error", err)
		return false
	}
}
