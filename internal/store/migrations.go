package store

import (
	"context"
	"fmt"

	"github.com/subtrack/renewal-service/internal/domain"
)

// schema is applied in order. Every statement is idempotent so Migrate can run
// on each start.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
        id                   UUID PRIMARY KEY DEFAULT gen_random_uuid(),
        email                VARCHAR(120) NOT NULL UNIQUE,
        full_name            VARCHAR(100) NOT NULL,
        default_currency     VARCHAR(3) NOT NULL DEFAULT 'USD',
        email_alerts_enabled BOOLEAN NOT NULL DEFAULT TRUE,
        created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
    )`,
	`CREATE TABLE IF NOT EXISTS payment_methods (
        id               UUID PRIMARY KEY DEFAULT gen_random_uuid(),
        user_id          UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
        type             VARCHAR(20) NOT NULL,
        name             VARCHAR(100) NOT NULL,
        last_four_digits VARCHAR(4),
        expiry_date      DATE,
        created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
    )`,
	`CREATE TABLE IF NOT EXISTS subscriptions (
        id                UUID PRIMARY KEY DEFAULT gen_random_uuid(),
        user_id           UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
        payment_method_id UUID REFERENCES payment_methods(id) ON DELETE SET NULL,
        name              VARCHAR(100) NOT NULL,
        amount            NUMERIC(12, 2) NOT NULL,
        currency          VARCHAR(3) NOT NULL DEFAULT 'USD',
        billing_cycle     VARCHAR(20) NOT NULL DEFAULT 'monthly',
        start_date        DATE NOT NULL,
        next_renewal_date DATE,
        reminder_days     INTEGER NOT NULL DEFAULT 15 CHECK (reminder_days >= 0),
        status            VARCHAR(20) NOT NULL DEFAULT 'active',
        auto_renew        BOOLEAN NOT NULL DEFAULT TRUE,
        is_trial          BOOLEAN NOT NULL DEFAULT FALSE,
        trial_end_date    DATE,
        created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
    )`,
	`CREATE INDEX IF NOT EXISTS idx_subscriptions_status_renewal
        ON subscriptions (status, next_renewal_date)`,
	`CREATE TABLE IF NOT EXISTS notifications (
        id              UUID PRIMARY KEY,
        user_id         UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
        subscription_id UUID REFERENCES subscriptions(id) ON DELETE CASCADE,
        type            VARCHAR(30) NOT NULL,
        message         TEXT NOT NULL,
        is_read         BOOLEAN NOT NULL DEFAULT FALSE,
        email_sent      BOOLEAN NOT NULL DEFAULT FALSE,
        created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        read_at         TIMESTAMPTZ
    )`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_dedup
        ON notifications (user_id, type, created_at)`,
	`CREATE TABLE IF NOT EXISTS currency_rates (
        from_currency VARCHAR(3) NOT NULL,
        to_currency   VARCHAR(3) NOT NULL,
        rate          NUMERIC(18, 8) NOT NULL CHECK (rate > 0),
        updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        PRIMARY KEY (from_currency, to_currency)
    )`,
	`CREATE TABLE IF NOT EXISTS subscription_price_history (
        id              BIGSERIAL PRIMARY KEY,
        subscription_id UUID NOT NULL REFERENCES subscriptions(id) ON DELETE CASCADE,
        old_amount      NUMERIC(12, 2) NOT NULL,
        new_amount      NUMERIC(12, 2) NOT NULL,
        currency        VARCHAR(3),
        changed_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
    )`,
}

// Migrate creates the tables the engine reads and writes when they are missing.
func (r *Repository) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := r.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i+1, err)
		}
	}
	return nil
}

// SeedCurrencyRates inserts rates for pairs that have no row yet and returns
// how many were added.
func (r *Repository) SeedCurrencyRates(ctx context.Context, rates []domain.CurrencyRate) (int, error) {
	query := `
        INSERT INTO currency_rates (from_currency, to_currency, rate)
        VALUES ($1, $2, $3)
        ON CONFLICT (from_currency, to_currency) DO NOTHING
    `
	inserted := 0
	for _, rate := range rates {
		tag, err := r.db.Exec(ctx, query, rate.From, rate.To, rate.Rate)
		if err != nil {
			return inserted, fmt.Errorf("seed rate %s->%s: %w", rate.From, rate.To, err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}
