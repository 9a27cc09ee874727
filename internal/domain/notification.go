package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnknownNotificationType is returned for types outside the closed set.
var ErrUnknownNotificationType = errors.New("unknown notification type")

// NotificationType identifies why a notification was raised.
type NotificationType string

const (
	NotificationRenewalReminder NotificationType = "renewal_reminder"
	NotificationPaymentDue      NotificationType = "payment_due"
	NotificationExpired         NotificationType = "expired"
	NotificationTrialEnding     NotificationType = "trial_ending"
	NotificationPriceChange     NotificationType = "price_change"
	NotificationCardExpiring    NotificationType = "card_expiring"
)

// ParseNotificationType converts a stored value into a NotificationType.
func ParseNotificationType(raw string) (NotificationType, error) {
	t := NotificationType(strings.ToLower(strings.TrimSpace(raw)))
	switch t {
	case NotificationRenewalReminder, NotificationPaymentDue, NotificationExpired,
		NotificationTrialEnding, NotificationPriceChange, NotificationCardExpiring:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownNotificationType, raw)
}

// Notification is an in-app alert. Only IsRead and EmailSent change after creation.
type Notification struct {
	ID             string           `json:"id"`
	UserID         string           `json:"user_id"`
	SubscriptionID *string          `json:"subscription_id,omitempty"`
	Type           NotificationType `json:"type"`
	Message        string           `json:"message"`
	IsRead         bool             `json:"is_read"`
	EmailSent      bool             `json:"email_sent"`
	CreatedAt      time.Time        `json:"created_at"`
}

// DedupQuery describes the "already notified?" lookup run before creating a
// notification. A notification matches when it belongs to UserID, has Type, was
// created at or after Since and, when set, references SubscriptionID and has a
// message containing MessageContains.
type DedupQuery struct {
	UserID          string
	SubscriptionID  *string
	Type            NotificationType
	MessageContains string
	Since           time.Time
}

// LockKey identifies the entity the query guards, used to serialize concurrent
// check-then-create sequences for the same entity.
func (q DedupQuery) LockKey() string {
	var b strings.Builder
	b.WriteString(q.UserID)
	b.WriteByte('|')
	b.WriteString(string(q.Type))
	b.WriteByte('|')
	if q.SubscriptionID != nil {
		b.WriteString(*q.SubscriptionID)
	}
	b.WriteByte('|')
	b.WriteString(q.MessageContains)
	return b.String()
}

// WindowStart returns the instant a dedup window of days opens, relative to now.
func WindowStart(now time.Time, days int) time.Time {
	return now.Add(-time.Duration(days) * 24 * time.Hour)
}
