/**
 * @description
 * The notification pass: each check selects the subscriptions or payment methods
 * that crossed a reminder threshold, creates at most one notification per dedup
 * window and attempts email delivery for users with alerts enabled.
 *
 * @notes
 * - Checks are independent. A failure on one entity is logged and the pass moves
 *   on to the next entity.
 * - Email is best effort. A notification is always stored first; email_sent is
 *   flipped only after the sink confirms delivery.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/subtrack/renewal-service/internal/config"
	"github.com/subtrack/renewal-service/internal/domain"
	"github.com/subtrack/renewal-service/pkg/mailer"
)

var (
	ErrPriceUnchanged = errors.New("old and new amounts are equal")
	ErrInvalidAmount  = errors.New("amount must not be negative")
)

const eventPublishTimeout = 5 * time.Second

// Repository defines the store operations needed by the checks.
type Repository interface {
	ListRenewalCandidates(ctx context.Context) ([]domain.Subscription, error)
	ListAutoRenewDue(ctx context.Context, today time.Time) ([]domain.Subscription, error)
	ListEndingTrials(ctx context.Context, from, until time.Time) ([]domain.Subscription, error)
	ListLapsedSubscriptions(ctx context.Context, today time.Time) ([]domain.Subscription, error)
	ListExpiringPaymentMethods(ctx context.Context, from, until time.Time) ([]domain.PaymentMethod, error)
	GetSubscription(ctx context.Context, id string) (*domain.Subscription, error)
	GetUser(ctx context.Context, id string) (*domain.User, error)
	UpdateNextRenewalDate(ctx context.Context, subID string, next *time.Time) error
	NotificationExistsWithinWindow(ctx context.Context, q domain.DedupQuery) (bool, error)
	CreateNotificationIfAbsent(ctx context.Context, q domain.DedupQuery, n *domain.Notification) (bool, error)
	CreateNotification(ctx context.Context, n *domain.Notification) error
	MarkNotificationEmailSent(ctx context.Context, notificationID string) error
	RecordPriceChange(ctx context.Context, subID string, oldAmount, newAmount decimal.Decimal, currency string) error
}

// EmailSender is the outbound email sink.
type EmailSender interface {
	Send(ctx context.Context, msg mailer.Message) error
}

// EventPublisher publishes domain events to the broker.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, body interface{}) error
}

// PassSummary counts what one notification pass did.
type PassSummary struct {
	RunID            string                          `json:"run_id"`
	StartedAt        time.Time                       `json:"started_at"`
	FinishedAt       time.Time                       `json:"finished_at"`
	Created          map[domain.NotificationType]int `json:"created"`
	Deduplicated     int                             `json:"deduplicated"`
	EmailsSent       int                             `json:"emails_sent"`
	EmailsFailed     int                             `json:"emails_failed"`
	RenewalsAdvanced int                             `json:"renewals_advanced"`
	Skipped          int                             `json:"skipped"`
	Errors           int                             `json:"errors"`
	Cancelled        bool                            `json:"cancelled"`
}

// TotalCreated sums notifications created across all types.
func (s PassSummary) TotalCreated() int {
	total := 0
	for _, n := range s.Created {
		total += n
	}
	return total
}

// Checker runs the notification checks.
type Checker struct {
	repo     Repository
	currency *CurrencyService
	mailer   EmailSender
	events   EventPublisher
	logger   *slog.Logger
	config   config.Config
	now      func() time.Time
}

// NewChecker creates a Checker. events may be nil when no broker is configured.
func NewChecker(repo Repository, currency *CurrencyService, mailer EmailSender, events EventPublisher, logger *slog.Logger, cfg config.Config) *Checker {
	return &Checker{
		repo:     repo,
		currency: currency,
		mailer:   mailer,
		events:   events,
		logger:   logger,
		config:   cfg,
		now:      time.Now,
	}
}

// pass carries the state shared by the checks of one run.
type pass struct {
	now     time.Time
	today   time.Time
	conv    *Converter
	users   map[string]*domain.User
	summary *PassSummary
	logger  *slog.Logger
}

// RunAllChecks runs every check once. Auto-renew roll-forward runs first so the
// renewal reminders see current dates.
func (c *Checker) RunAllChecks(ctx context.Context) PassSummary {
	now := c.now()
	summary := PassSummary{
		RunID:     uuid.NewString(),
		StartedAt: now,
		Created:   make(map[domain.NotificationType]int),
	}
	p := &pass{
		now:     now,
		today:   domain.Date(now),
		conv:    c.currency.Load(ctx),
		users:   make(map[string]*domain.User),
		summary: &summary,
		logger:  c.logger.With("run_id", summary.RunID),
	}

	p.logger.Info("starting notification pass", "today", p.today.Format(time.DateOnly))

	checks := []struct {
		name string
		run  func(context.Context, *pass)
	}{
		{"auto_renew_roll_forward", c.advanceAutoRenewals},
		{"renewal_reminders", c.checkUpcomingRenewals},
		{"trial_expirations", c.checkTrialExpirations},
		{"expired_subscriptions", c.checkExpiredSubscriptions},
		{"payment_methods", c.checkPaymentMethods},
	}
	for _, check := range checks {
		if ctx.Err() != nil {
			summary.Cancelled = true
			p.logger.Warn("notification pass cancelled", "next_check", check.name, "error", ctx.Err())
			break
		}
		check.run(ctx, p)
	}

	summary.FinishedAt = c.now()
	p.logger.Info("notification pass finished",
		"created", summary.TotalCreated(),
		"deduplicated", summary.Deduplicated,
		"emails_sent", summary.EmailsSent,
		"emails_failed", summary.EmailsFailed,
		"renewals_advanced", summary.RenewalsAdvanced,
		"skipped", summary.Skipped,
		"errors", summary.Errors,
		"duration_ms", summary.FinishedAt.Sub(summary.StartedAt).Milliseconds(),
	)
	return summary
}

// advanceAutoRenewals moves lapsed renewal dates of auto-renewing
// subscriptions forward until they are on or after today.
func (c *Checker) advanceAutoRenewals(ctx context.Context, p *pass) {
	p.logger.Info("starting auto-renew roll-forward")

	subs, err := c.repo.ListAutoRenewDue(ctx, p.today)
	if err != nil {
		p.logger.Error("failed to list auto-renewing subscriptions", "error", err)
		p.summary.Errors++
		return
	}

	for _, sub := range subs {
		if ctx.Err() != nil {
			return
		}
		previous := formatDate(sub.NextRenewalDate)
		steps, err := sub.RollForward(p.today)
		if err != nil {
			if errors.Is(err, domain.ErrMissingRenewalDate) || errors.Is(err, domain.ErrUnknownBillingCycle) {
				p.logger.Warn("skipping subscription with inconsistent renewal data",
					"subscription_id", sub.ID, "billing_cycle", sub.BillingCycle, "error", err)
				p.summary.Skipped++
				continue
			}
			p.logger.Error("failed to roll renewal date forward", "subscription_id", sub.ID, "error", err)
			p.summary.Errors++
			continue
		}
		if steps == 0 {
			continue
		}
		if err := c.repo.UpdateNextRenewalDate(ctx, sub.ID, sub.NextRenewalDate); err != nil {
			p.logger.Error("failed to persist next renewal date", "subscription_id", sub.ID, "error", err)
			p.summary.Errors++
			continue
		}
		p.summary.RenewalsAdvanced++
		p.logger.Info("advanced renewal date",
			"subscription_id", sub.ID,
			"from", previous,
			"to", formatDate(sub.NextRenewalDate),
			"cycles", steps,
		)
	}

	p.logger.Info("auto-renew roll-forward finished")
}

// checkUpcomingRenewals creates renewal reminders for subscriptions inside
// their reminder window.
func (c *Checker) checkUpcomingRenewals(ctx context.Context, p *pass) {
	p.logger.Info("starting renewal reminder check")

	subs, err := c.repo.ListRenewalCandidates(ctx)
	if err != nil {
		p.logger.Error("failed to list renewal candidates", "error", err)
		p.summary.Errors++
		return
	}

	for _, sub := range subs {
		if ctx.Err() != nil {
			return
		}
		reminder, ok := sub.ReminderDate()
		if !ok {
			continue
		}
		days, _ := sub.DaysUntilRenewal(p.today)
		if p.today.Before(reminder) || days < 0 {
			continue
		}

		user, ok := c.lookupUser(ctx, p, sub.UserID)
		if !ok {
			continue
		}

		window := sub.ReminderDays
		if window < 1 {
			window = 1
		}
		subID := sub.ID
		n := &domain.Notification{
			UserID:         sub.UserID,
			SubscriptionID: &subID,
			Type:           domain.NotificationRenewalReminder,
			Message:        renewalMessage(sub, days, user.DefaultCurrency, p.conv),
			CreatedAt:      p.now.UTC(),
		}
		q := domain.DedupQuery{
			UserID:         sub.UserID,
			SubscriptionID: &subID,
			Type:           domain.NotificationRenewalReminder,
			Since:          domain.WindowStart(p.now, window),
		}
		s := sub
		c.emit(ctx, p, q, n, user, func() (mailer.Message, error) {
			return renewalEmail(*user, s)
		})
	}

	p.logger.Info("renewal reminder check finished")
}

// checkTrialExpirations warns about trials ending within the warning period.
func (c *Checker) checkTrialExpirations(ctx context.Context, p *pass) {
	p.logger.Info("starting trial expiration check")
	warningDays := c.config.TrialWarningDays

	subs, err := c.repo.ListEndingTrials(ctx, p.today, domain.AddDays(p.today, warningDays))
	if err != nil {
		p.logger.Error("failed to list ending trials", "error", err)
		p.summary.Errors++
		return
	}

	for _, sub := range subs {
		if ctx.Err() != nil {
			return
		}
		if sub.TrialEndDate == nil {
			continue
		}
		days := domain.DaysBetween(p.today, *sub.TrialEndDate)
		if days < 0 || days > warningDays {
			continue
		}

		user, ok := c.lookupUser(ctx, p, sub.UserID)
		if !ok {
			continue
		}

		subID := sub.ID
		n := &domain.Notification{
			UserID:         sub.UserID,
			SubscriptionID: &subID,
			Type:           domain.NotificationTrialEnding,
			Message:        trialEndingMessage(sub, days),
			CreatedAt:      p.now.UTC(),
		}
		q := domain.DedupQuery{
			UserID:         sub.UserID,
			SubscriptionID: &subID,
			Type:           domain.NotificationTrialEnding,
			Since:          domain.WindowStart(p.now, max(warningDays, 1)),
		}
		s := sub
		c.emit(ctx, p, q, n, user, func() (mailer.Message, error) {
			return trialEndingEmail(*user, s, days), nil
		})
	}

	p.logger.Info("trial expiration check finished")
}

// checkExpiredSubscriptions flags non-renewing subscriptions past their
// renewal date.
func (c *Checker) checkExpiredSubscriptions(ctx context.Context, p *pass) {
	p.logger.Info("starting expired subscription check")

	subs, err := c.repo.ListLapsedSubscriptions(ctx, p.today)
	if err != nil {
		p.logger.Error("failed to list lapsed subscriptions", "error", err)
		p.summary.Errors++
		return
	}

	for _, sub := range subs {
		if ctx.Err() != nil {
			return
		}
		if sub.AutoRenew || !sub.IsActive() || sub.NextRenewalDate == nil || !sub.NextRenewalDate.Before(p.today) {
			continue
		}

		user, ok := c.lookupUser(ctx, p, sub.UserID)
		if !ok {
			continue
		}

		subID := sub.ID
		n := &domain.Notification{
			UserID:         sub.UserID,
			SubscriptionID: &subID,
			Type:           domain.NotificationExpired,
			Message:        expiredMessage(sub),
			CreatedAt:      p.now.UTC(),
		}
		q := domain.DedupQuery{
			UserID:         sub.UserID,
			SubscriptionID: &subID,
			Type:           domain.NotificationExpired,
			Since:          domain.WindowStart(p.now, max(c.config.ExpiredRenotifyDays, 1)),
		}
		s := sub
		c.emit(ctx, p, q, n, user, func() (mailer.Message, error) {
			return expiredEmail(*user, s), nil
		})
	}

	p.logger.Info("expired subscription check finished")
}

// checkPaymentMethods warns about cards expiring within the warning period.
func (c *Checker) checkPaymentMethods(ctx context.Context, p *pass) {
	p.logger.Info("starting payment method expiry check")
	warningDays := c.config.CardWarningDays

	methods, err := c.repo.ListExpiringPaymentMethods(ctx, p.today, domain.AddDays(p.today, warningDays))
	if err != nil {
		p.logger.Error("failed to list expiring payment methods", "error", err)
		p.summary.Errors++
		return
	}

	for _, pm := range methods {
		if ctx.Err() != nil {
			return
		}
		days, ok := pm.DaysUntilExpiry(p.today)
		if !ok || days < 0 || days > warningDays {
			continue
		}

		user, ok := c.lookupUser(ctx, p, pm.UserID)
		if !ok {
			continue
		}

		n := &domain.Notification{
			UserID:    pm.UserID,
			Type:      domain.NotificationCardExpiring,
			Message:   cardExpiringMessage(pm, days),
			CreatedAt: p.now.UTC(),
		}
		q := domain.DedupQuery{
			UserID:          pm.UserID,
			Type:            domain.NotificationCardExpiring,
			MessageContains: pm.Name,
			Since:           domain.WindowStart(p.now, max(warningDays, 1)),
		}
		method := pm
		c.emit(ctx, p, q, n, user, func() (mailer.Message, error) {
			return cardExpiringEmail(*user, method), nil
		})
	}

	p.logger.Info("payment method expiry check finished")
}

// lookupUser resolves a user once per pass. A missing user is an invariant
// violation and the entity is skipped.
func (c *Checker) lookupUser(ctx context.Context, p *pass, userID string) (*domain.User, bool) {
	user, cached := p.users[userID]
	if !cached {
		var err error
		user, err = c.repo.GetUser(ctx, userID)
		if err != nil {
			p.logger.Warn("owner could not be loaded; skipping their entities for this pass", "user_id", userID, "error", err)
			user = nil
		}
		// A nil entry remembers the failure for the rest of the pass.
		p.users[userID] = user
	}
	if user == nil {
		p.summary.Skipped++
		return nil, false
	}
	return user, true
}

// emit creates n unless a matching notification exists inside the dedup
// window, then attempts email and publishes the creation event.
func (c *Checker) emit(ctx context.Context, p *pass, q domain.DedupQuery, n *domain.Notification, user *domain.User, buildEmail func() (mailer.Message, error)) {
	// Repeat passes mostly hit existing notifications; skip the locked write for those.
	exists, err := c.repo.NotificationExistsWithinWindow(ctx, q)
	if err != nil {
		p.logger.Error("failed to check for existing notification", "type", n.Type, "user_id", n.UserID, "error", err)
		p.summary.Errors++
		return
	}
	if exists {
		p.summary.Deduplicated++
		return
	}

	created, err := c.repo.CreateNotificationIfAbsent(ctx, q, n)
	if err != nil {
		p.logger.Error("failed to create notification", "type", n.Type, "user_id", n.UserID, "error", err)
		p.summary.Errors++
		return
	}
	if !created {
		p.summary.Deduplicated++
		return
	}
	p.summary.Created[n.Type]++
	p.logger.Info("notification created", "notification_id", n.ID, "type", n.Type, "user_id", n.UserID)

	if user.EmailAlertsEnabled && buildEmail != nil {
		switch err := c.deliver(ctx, n, buildEmail); {
		case err == nil:
			p.summary.EmailsSent++
		case errors.Is(err, mailer.ErrDisabled):
			p.logger.Debug("email delivery disabled; notification kept in-app only", "notification_id", n.ID)
		default:
			p.summary.EmailsFailed++
			p.logger.Error("failed to send notification email", "notification_id", n.ID, "user_id", n.UserID, "error", err)
		}
	}

	c.publishCreated(ctx, n)
}

// deliver sends the email for n and records the success.
func (c *Checker) deliver(ctx context.Context, n *domain.Notification, buildEmail func() (mailer.Message, error)) error {
	msg, err := buildEmail()
	if err != nil {
		return err
	}

	sendCtx := ctx
	if timeout := c.config.EmailSendTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := c.mailer.Send(sendCtx, msg); err != nil {
		return err
	}

	n.EmailSent = true
	if err := c.repo.MarkNotificationEmailSent(ctx, n.ID); err != nil {
		// The email went out; only the flag is stale.
		c.logger.Error("failed to mark notification email as sent", "notification_id", n.ID, "error", err)
	}
	return nil
}

func (c *Checker) publishCreated(ctx context.Context, n *domain.Notification) {
	if c.events == nil {
		return
	}
	event := domain.NotificationCreatedEvent{
		NotificationID: n.ID,
		UserID:         n.UserID,
		SubscriptionID: n.SubscriptionID,
		Type:           n.Type,
		Message:        n.Message,
		EmailSent:      n.EmailSent,
		CreatedAt:      n.CreatedAt,
	}
	pubCtx, cancel := context.WithTimeout(ctx, eventPublishTimeout)
	defer cancel()
	if err := c.events.Publish(pubCtx, domain.RoutingKeyNotificationCreated, event); err != nil {
		c.logger.Warn("failed to publish notification event", "notification_id", n.ID, "error", err)
	}
}

// CreatePriceChangeNotification records a price edit on a subscription and
// notifies its owner. It is called from the CRUD layer, never from a pass.
func (c *Checker) CreatePriceChangeNotification(ctx context.Context, subID string, oldAmount, newAmount decimal.Decimal) (*domain.Notification, error) {
	if oldAmount.IsNegative() || newAmount.IsNegative() {
		return nil, ErrInvalidAmount
	}
	if oldAmount.Equal(newAmount) {
		return nil, ErrPriceUnchanged
	}

	sub, err := c.repo.GetSubscription(ctx, subID)
	if err != nil {
		return nil, fmt.Errorf("load subscription %s: %w", subID, err)
	}

	id := sub.ID
	n := &domain.Notification{
		UserID:         sub.UserID,
		SubscriptionID: &id,
		Type:           domain.NotificationPriceChange,
		Message:        priceChangeMessage(*sub, oldAmount, newAmount),
		CreatedAt:      c.now().UTC(),
	}
	if err := c.repo.CreateNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("create price change notification: %w", err)
	}

	if err := c.repo.RecordPriceChange(ctx, sub.ID, oldAmount, newAmount, sub.Currency); err != nil {
		c.logger.Warn("failed to record price history", "subscription_id", sub.ID, "error", err)
	}

	c.logger.Info("price change notification created", "notification_id", n.ID, "subscription_id", sub.ID)
	c.publishCreated(ctx, n)
	return n, nil
}
