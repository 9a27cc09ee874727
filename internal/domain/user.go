package domain

import "time"

// User is the subset of the account record the renewal engine needs.
type User struct {
	ID                 string `json:"id"`
	Email              string `json:"email"`
	FullName           string `json:"full_name"`
	DefaultCurrency    string `json:"default_currency"`
	EmailAlertsEnabled bool   `json:"email_alerts_enabled"`
}

// PaymentMethod is a card or bank account a user pays subscriptions with.
type PaymentMethod struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	Type           string     `json:"type"` // card, bank
	Name           string     `json:"name"`
	LastFourDigits string     `json:"last_four_digits,omitempty"`
	ExpiryDate     *time.Time `json:"expiry_date,omitempty"`
}

// DisplayName renders the method the way it appears in messages.
func (p *PaymentMethod) DisplayName() string {
	if p.LastFourDigits != "" {
		return p.Name + " (**** " + p.LastFourDigits + ")"
	}
	return p.Name
}

// DaysUntilExpiry returns the days left before the method expires.
func (p *PaymentMethod) DaysUntilExpiry(today time.Time) (int, bool) {
	if p.ExpiryDate == nil {
		return 0, false
	}
	return DaysBetween(today, *p.ExpiryDate), true
}
