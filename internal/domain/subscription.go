/**
 * @description
 * This file defines the subscription model read by the renewal engine and the
 * helpers that keep its renewal date consistent with its billing cycle.
 */
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnknownSubscriptionStatus is returned for statuses outside the closed set.
	ErrUnknownSubscriptionStatus = errors.New("unknown subscription status")
	// ErrMissingRenewalDate marks a recurring subscription without a renewal date.
	ErrMissingRenewalDate = errors.New("recurring subscription has no next renewal date")
)

// SubscriptionStatus is the lifecycle state of a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusInactive  SubscriptionStatus = "inactive"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// ParseSubscriptionStatus converts a stored value into a SubscriptionStatus.
func ParseSubscriptionStatus(raw string) (SubscriptionStatus, error) {
	s := SubscriptionStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case SubscriptionStatusActive, SubscriptionStatusInactive, SubscriptionStatusCancelled:
		return s, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSubscriptionStatus, raw)
}

// Subscription represents a user's recurring (or one-time) subscription.
type Subscription struct {
	ID              string             `json:"id"`
	UserID          string             `json:"user_id"`
	Name            string             `json:"name"`
	Amount          decimal.Decimal    `json:"amount"`
	Currency        string             `json:"currency"`
	BillingCycle    BillingCycle       `json:"billing_cycle"`
	StartDate       time.Time          `json:"start_date"`
	NextRenewalDate *time.Time         `json:"next_renewal_date,omitempty"` // nil for one_time
	ReminderDays    int                `json:"reminder_days"`
	Status          SubscriptionStatus `json:"status"`
	AutoRenew       bool               `json:"auto_renew"`
	IsTrial         bool               `json:"is_trial"`
	TrialEndDate    *time.Time         `json:"trial_end_date,omitempty"`
}

// IsActive reports whether the subscription is in the active state.
func (s *Subscription) IsActive() bool {
	return s.Status == SubscriptionStatusActive
}

// DaysUntilRenewal returns the days left before the next renewal.
// ok is false when the subscription has no renewal date.
func (s *Subscription) DaysUntilRenewal(today time.Time) (days int, ok bool) {
	if s.NextRenewalDate == nil {
		return 0, false
	}
	return DaysBetween(today, *s.NextRenewalDate), true
}

// ReminderDate is the first day on which a renewal reminder may fire.
func (s *Subscription) ReminderDate() (time.Time, bool) {
	if s.NextRenewalDate == nil {
		return time.Time{}, false
	}
	return AddDays(*s.NextRenewalDate, -s.ReminderDays), true
}

// RecalculateNextRenewal moves the renewal date forward by one billing cycle.
func (s *Subscription) RecalculateNextRenewal() error {
	if s.BillingCycle == BillingCycleOneTime {
		s.NextRenewalDate = nil
		return nil
	}
	if s.NextRenewalDate == nil {
		return ErrMissingRenewalDate
	}
	next, err := s.BillingCycle.Advance(*s.NextRenewalDate)
	if err != nil {
		return err
	}
	s.NextRenewalDate = next
	return nil
}

// RollForward advances a lapsed renewal date cycle by cycle until it is on or
// after today. It returns how many cycles were applied.
func (s *Subscription) RollForward(today time.Time) (int, error) {
	if !s.BillingCycle.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownBillingCycle, string(s.BillingCycle))
	}
	if s.BillingCycle == BillingCycleOneTime {
		return 0, nil
	}
	if s.NextRenewalDate == nil {
		return 0, ErrMissingRenewalDate
	}

	today = Date(today)
	steps := 0
	for s.NextRenewalDate.Before(today) {
		if err := s.RecalculateNextRenewal(); err != nil {
			return steps, err
		}
		steps++
	}
	return steps, nil
}
