package app

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/subtrack/renewal-service/internal/domain"
	"github.com/subtrack/renewal-service/pkg/mailer"
)

const longDate = "January 02, 2006"

func money(amount decimal.Decimal, currency string) string {
	return currency + " " + amount.StringFixed(2)
}

// renewalMessage renders the in-app reminder. When the user's default currency
// differs from the subscription's, the converted amount is appended.
func renewalMessage(sub domain.Subscription, days int, defaultCurrency string, conv *Converter) string {
	details := money(sub.Amount, sub.Currency)
	if defaultCurrency != "" && !strings.EqualFold(defaultCurrency, sub.Currency) && conv != nil {
		converted := conv.Convert(sub.Amount, sub.Currency, defaultCurrency)
		details += ", about " + domain.FormatAmount(converted, defaultCurrency)
	}
	return fmt.Sprintf("%s is due for renewal in %d days (%s)", sub.Name, days, details)
}

func trialEndingMessage(sub domain.Subscription, days int) string {
	return fmt.Sprintf("Trial for %s ends in %d days", sub.Name, days)
}

func expiredMessage(sub domain.Subscription) string {
	return fmt.Sprintf("%s has expired and needs attention", sub.Name)
}

func cardExpiringMessage(pm domain.PaymentMethod, days int) string {
	return fmt.Sprintf("Payment method %s expires in %d days", pm.DisplayName(), days)
}

func priceChangeMessage(sub domain.Subscription, oldAmount, newAmount decimal.Decimal) string {
	return fmt.Sprintf("%s price changed from %s to %s",
		sub.Name, money(oldAmount, sub.Currency), money(newAmount, sub.Currency))
}

func titleCase(s string) string {
	s = strings.ReplaceAll(s, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

var renewalHTML = template.Must(template.New("renewal").Parse(`<html>
<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
    <div style="background: #667eea; padding: 20px; text-align: center;">
        <h1 style="color: white; margin: 0;">Subscription Reminder</h1>
    </div>
    <div style="padding: 20px; background: #f8f9fa;">
        <p>Hello <strong>{{.FullName}}</strong>,</p>
        <p>This is a reminder that your subscription is due for renewal.</p>
        <div style="background: white; padding: 15px; border-radius: 8px; margin: 20px 0;">
            <h3 style="color: #667eea; margin-top: 0;">{{.Name}}</h3>
            <table style="width: 100%;">
                <tr><td style="padding: 5px 0; color: #666;">Amount:</td><td style="padding: 5px 0; font-weight: bold;">{{.Amount}}</td></tr>
                <tr><td style="padding: 5px 0; color: #666;">Renewal Date:</td><td style="padding: 5px 0; font-weight: bold;">{{.RenewalDate}}</td></tr>
                <tr><td style="padding: 5px 0; color: #666;">Billing Cycle:</td><td style="padding: 5px 0;">{{.BillingCycle}}</td></tr>
            </table>
        </div>
        <p style="color: #666; font-size: 14px;">Please ensure you have sufficient funds or take necessary action before the renewal date.</p>
    </div>
</body>
</html>`))

type renewalView struct {
	FullName     string
	Name         string
	Amount       string
	RenewalDate  string
	BillingCycle string
}

func renewalEmail(user domain.User, sub domain.Subscription) (mailer.Message, error) {
	var renewal string
	if sub.NextRenewalDate != nil {
		renewal = sub.NextRenewalDate.Format(longDate)
	}
	view := renewalView{
		FullName:     user.FullName,
		Name:         sub.Name,
		Amount:       money(sub.Amount, sub.Currency),
		RenewalDate:  renewal,
		BillingCycle: titleCase(string(sub.BillingCycle)),
	}

	text := fmt.Sprintf(`Hello %s,

This is a reminder that your subscription to %s is due for renewal.

Details:
- Subscription: %s
- Amount: %s
- Renewal Date: %s
- Billing Cycle: %s

Please ensure you have sufficient funds or take necessary action before the renewal date.
`, view.FullName, view.Name, view.Name, view.Amount, view.RenewalDate, view.BillingCycle)

	var html bytes.Buffer
	if err := renewalHTML.Execute(&html, view); err != nil {
		return mailer.Message{}, fmt.Errorf("render renewal email: %w", err)
	}

	return mailer.Message{
		To:      user.Email,
		Subject: "Subscription Renewal Reminder: " + sub.Name,
		Text:    text,
		HTML:    html.String(),
	}, nil
}

func trialEndingEmail(user domain.User, sub domain.Subscription, days int) mailer.Message {
	var trialEnd string
	if sub.TrialEndDate != nil {
		trialEnd = sub.TrialEndDate.Format(longDate)
	}
	text := fmt.Sprintf(`Hello %s,

Your free trial for %s is ending soon!

Details:
- Subscription: %s
- Trial Ends: %s
- Days Remaining: %d

After the trial ends, you'll be charged %s per %s.
`, user.FullName, sub.Name, sub.Name, trialEnd, days, money(sub.Amount, sub.Currency), strings.ReplaceAll(string(sub.BillingCycle), "_", " "))

	return mailer.Message{
		To:      user.Email,
		Subject: "Trial Ending Soon: " + sub.Name,
		Text:    text,
	}
}

func expiredEmail(user domain.User, sub domain.Subscription) mailer.Message {
	var renewal string
	if sub.NextRenewalDate != nil {
		renewal = sub.NextRenewalDate.Format(longDate)
	}
	text := fmt.Sprintf(`Hello %s,

Your subscription to %s passed its renewal date on %s and is not set to renew automatically.

Renew it, cancel it, or update its renewal date so it stops showing as expired.
`, user.FullName, sub.Name, renewal)

	return mailer.Message{
		To:      user.Email,
		Subject: "Subscription Expired: " + sub.Name,
		Text:    text,
	}
}

func cardExpiringEmail(user domain.User, pm domain.PaymentMethod) mailer.Message {
	var expiry string
	if pm.ExpiryDate != nil {
		expiry = pm.ExpiryDate.Format("January 2006")
	}
	text := fmt.Sprintf(`Hello %s,

Your payment method is expiring soon.

Details:
- Payment Method: %s
- Last 4 Digits: %s
- Expiry Date: %s

Please update your payment method to avoid service interruptions.
`, user.FullName, pm.Name, pm.LastFourDigits, expiry)

	return mailer.Message{
		To:      user.Email,
		Subject: "Payment Method Expiring: " + pm.Name,
		Text:    text,
	}
}

// formatDate is used in log attributes.
func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.DateOnly)
}
