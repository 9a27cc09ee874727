/**
 * @description
 * Calendar arithmetic for billing cycles. All values handled here are calendar
 * dates: the time of day is dropped and the result is pinned to midnight UTC so
 * that comparisons and day differences are exact.
 */
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnknownBillingCycle is returned for any cycle outside the closed set below.
var ErrUnknownBillingCycle = errors.New("unknown billing cycle")

// BillingCycle is the renewal cadence of a subscription.
type BillingCycle string

const (
	BillingCycleOneTime BillingCycle = "one_time"
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleYearly  BillingCycle = "yearly"
)

// ParseBillingCycle converts a stored value into a BillingCycle.
func ParseBillingCycle(raw string) (BillingCycle, error) {
	c := BillingCycle(strings.ToLower(strings.TrimSpace(raw)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownBillingCycle, raw)
	}
	return c, nil
}

// Valid reports whether c is one of the known cycles.
func (c BillingCycle) Valid() bool {
	switch c {
	case BillingCycleOneTime, BillingCycleMonthly, BillingCycleYearly:
		return true
	}
	return false
}

// Advance returns the renewal date one cycle after from.
// One-time cycles never renew and yield nil.
func (c BillingCycle) Advance(from time.Time) (*time.Time, error) {
	switch c {
	case BillingCycleOneTime:
		return nil, nil
	case BillingCycleMonthly:
		next := addMonthsClamped(Date(from), 1)
		return &next, nil
	case BillingCycleYearly:
		next := addMonthsClamped(Date(from), 12)
		return &next, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBillingCycle, string(c))
	}
}

// NextRenewal is the free-function form of BillingCycle.Advance.
func NextRenewal(from time.Time, cycle BillingCycle) (*time.Time, error) {
	return cycle.Advance(from)
}

// Date strips the time of day from t, keeping its wall-clock calendar date.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of calendar days from a to b.
// The result is negative when b falls before a.
func DaysBetween(a, b time.Time) int {
	return int(Date(b).Sub(Date(a)).Hours() / 24)
}

// AddDays moves a calendar date by n days.
func AddDays(d time.Time, n int) time.Time {
	return Date(d).AddDate(0, 0, n)
}

// addMonthsClamped moves d forward by months, clamping the day to the last day
// of the target month instead of rolling over into the month after.
func addMonthsClamped(d time.Time, months int) time.Time {
	y, m, day := d.Date()
	total := int(m) - 1 + months
	targetYear := y + total/12
	targetMonth := time.Month(total%12 + 1)

	if last := daysIn(targetYear, targetMonth); day > last {
		day = last
	}
	return time.Date(targetYear, targetMonth, day, 0, 0, 0, 0, time.UTC)
}

func daysIn(year int, month time.Month) int {
	// Day 0 of the following month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
