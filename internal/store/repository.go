/**
 * @description
 * This file implements the data access layer for the renewal-service.
 * It contains the SQL used by the scheduled checks: candidate selection,
 * renewal date updates and de-duplicated notification writes.
 */
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/subtrack/renewal-service/internal/domain"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrUserNotFound         = errors.New("user not found")
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository handles database operations for the renewal engine.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const subscriptionColumns = `
    id, user_id, name, amount, currency, billing_cycle, start_date,
    next_renewal_date, reminder_days, status, auto_renew, is_trial, trial_end_date`

func scanSubscription(row pgx.Row) (domain.Subscription, error) {
	var sub domain.Subscription
	err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&sub.Name,
		&sub.Amount,
		&sub.Currency,
		&sub.BillingCycle,
		&sub.StartDate,
		&sub.NextRenewalDate,
		&sub.ReminderDays,
		&sub.Status,
		&sub.AutoRenew,
		&sub.IsTrial,
		&sub.TrialEndDate,
	)
	return sub, err
}

func (r *Repository) listSubscriptions(ctx context.Context, query string, args ...any) ([]domain.Subscription, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// GetSubscription retrieves a subscription by ID.
func (r *Repository) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`
	sub, err := scanSubscription(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// ListRenewalCandidates fetches active subscriptions that have a renewal date.
func (r *Repository) ListRenewalCandidates(ctx context.Context) ([]domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
        FROM subscriptions
        WHERE status = 'active'
          AND next_renewal_date IS NOT NULL`
	return r.listSubscriptions(ctx, query)
}

// ListAutoRenewDue fetches active auto-renewing recurring subscriptions whose
// renewal date has lapsed or is missing.
func (r *Repository) ListAutoRenewDue(ctx context.Context, today time.Time) ([]domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
        FROM subscriptions
        WHERE status = 'active'
          AND auto_renew = TRUE
          AND billing_cycle <> 'one_time'
          AND (next_renewal_date IS NULL OR next_renewal_date < $1)`
	return r.listSubscriptions(ctx, query, today)
}

// ListEndingTrials fetches active trials whose end date falls in [from, until].
func (r *Repository) ListEndingTrials(ctx context.Context, from, until time.Time) ([]domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
        FROM subscriptions
        WHERE status = 'active'
          AND is_trial = TRUE
          AND trial_end_date IS NOT NULL
          AND trial_end_date BETWEEN $1 AND $2`
	return r.listSubscriptions(ctx, query, from, until)
}

// ListLapsedSubscriptions fetches active subscriptions without auto-renew whose
// renewal date is before today.
func (r *Repository) ListLapsedSubscriptions(ctx context.Context, today time.Time) ([]domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
        FROM subscriptions
        WHERE status = 'active'
          AND auto_renew = FALSE
          AND next_renewal_date IS NOT NULL
          AND next_renewal_date < $1`
	return r.listSubscriptions(ctx, query, today)
}

// ListExpiringPaymentMethods fetches payment methods expiring in [from, until].
func (r *Repository) ListExpiringPaymentMethods(ctx context.Context, from, until time.Time) ([]domain.PaymentMethod, error) {
	query := `
        SELECT id, user_id, type, name, COALESCE(last_four_digits, ''), expiry_date
        FROM payment_methods
        WHERE expiry_date IS NOT NULL
          AND expiry_date BETWEEN $1 AND $2
    `
	rows, err := r.db.Query(ctx, query, from, until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var methods []domain.PaymentMethod
	for rows.Next() {
		var pm domain.PaymentMethod
		if err := rows.Scan(&pm.ID, &pm.UserID, &pm.Type, &pm.Name, &pm.LastFourDigits, &pm.ExpiryDate); err != nil {
			return nil, err
		}
		methods = append(methods, pm)
	}
	return methods, rows.Err()
}

// GetUser retrieves the notification-relevant fields of a user.
func (r *Repository) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var user domain.User
	query := `
        SELECT id, email, full_name, default_currency, email_alerts_enabled
        FROM users
        WHERE id = $1
    `
	err := r.db.QueryRow(ctx, query, id).Scan(
		&user.ID,
		&user.Email,
		&user.FullName,
		&user.DefaultCurrency,
		&user.EmailAlertsEnabled,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// ListCurrencyRates returns every stored exchange rate.
func (r *Repository) ListCurrencyRates(ctx context.Context) ([]domain.CurrencyRate, error) {
	rows, err := r.db.Query(ctx, `SELECT from_currency, to_currency, rate FROM currency_rates`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rates []domain.CurrencyRate
	for rows.Next() {
		var rate domain.CurrencyRate
		if err := rows.Scan(&rate.From, &rate.To, &rate.Rate); err != nil {
			return nil, err
		}
		rates = append(rates, rate)
	}
	return rates, rows.Err()
}

// UpdateNextRenewalDate persists a recalculated renewal date.
func (r *Repository) UpdateNextRenewalDate(ctx context.Context, subID string, next *time.Time) error {
	query := `
        UPDATE subscriptions
        SET next_renewal_date = $1,
            updated_at = NOW()
        WHERE id = $2
    `
	tag, err := r.db.Exec(ctx, query, next, subID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// NotificationExistsWithinWindow reports whether a notification matching q exists.
func (r *Repository) NotificationExistsWithinWindow(ctx context.Context, q domain.DedupQuery) (bool, error) {
	return notificationExists(ctx, r.db, q)
}

func notificationExists(ctx context.Context, db querier, q domain.DedupQuery) (bool, error) {
	query := `
        SELECT EXISTS (
            SELECT 1
            FROM notifications
            WHERE user_id = $1
              AND type = $2
              AND created_at >= $3
              AND ($4::text IS NULL OR subscription_id::text = $4::text)
              AND ($5::text = '' OR strpos(message, $5::text) > 0)
        )
    `
	var exists bool
	err := db.QueryRow(ctx, query, q.UserID, string(q.Type), q.Since, q.SubscriptionID, q.MessageContains).Scan(&exists)
	return exists, err
}

// CreateNotification stores n unconditionally, filling in ID and CreatedAt when unset.
func (r *Repository) CreateNotification(ctx context.Context, n *domain.Notification) error {
	return insertNotification(ctx, r.db, n)
}

func insertNotification(ctx context.Context, db querier, n *domain.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	query := `
        INSERT INTO notifications (id, user_id, subscription_id, type, message, is_read, email_sent, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `
	_, err := db.Exec(ctx, query,
		n.ID,
		n.UserID,
		n.SubscriptionID,
		string(n.Type),
		n.Message,
		n.IsRead,
		n.EmailSent,
		n.CreatedAt,
	)
	return err
}

// CreateNotificationIfAbsent runs the dedup lookup and the insert in one
// transaction, serialized per entity by a transaction-scoped advisory lock, so
// concurrent passes cannot both create the same notification.
func (r *Repository) CreateNotificationIfAbsent(ctx context.Context, q domain.DedupQuery, n *domain.Notification) (bool, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, q.LockKey()); err != nil {
		return false, fmt.Errorf("acquire dedup lock: %w", err)
	}

	exists, err := notificationExists(ctx, tx, q)
	if err != nil {
		return false, fmt.Errorf("dedup lookup: %w", err)
	}
	if exists {
		return false, nil
	}

	if err := insertNotification(ctx, tx, n); err != nil {
		return false, fmt.Errorf("insert notification: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// MarkNotificationEmailSent flips email_sent after a successful delivery.
func (r *Repository) MarkNotificationEmailSent(ctx context.Context, notificationID string) error {
	query := `UPDATE notifications SET email_sent = TRUE WHERE id = $1`
	_, err := r.db.Exec(ctx, query, notificationID)
	return err
}

// RecordPriceChange appends a row to the subscription's price history.
func (r *Repository) RecordPriceChange(ctx context.Context, subID string, oldAmount, newAmount decimal.Decimal, currency string) error {
	query := `
        INSERT INTO subscription_price_history (subscription_id, old_amount, new_amount, currency)
        VALUES ($1, $2, $3, $4)
    `
	_, err := r.db.Exec(ctx, query, subID, oldAmount, newAmount, currency)
	return err
}
