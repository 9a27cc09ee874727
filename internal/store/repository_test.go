package store

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/subtrack/renewal-service/internal/domain"
)

// newTestRepository connects to RENEWAL_TEST_DATABASE_URL and applies the
// schema. Tests are skipped when it is not set.
func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	url := os.Getenv("RENEWAL_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("RENEWAL_TEST_DATABASE_URL not set; skipping store integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := NewPool(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	repo := NewRepository(pool)
	if err := repo.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo
}

// seedOwner inserts a user with one subscription and removes both on cleanup.
func seedOwner(t *testing.T, repo *Repository) (userID, subID string) {
	t.Helper()
	ctx := context.Background()
	userID, subID = uuid.NewString(), uuid.NewString()

	_, err := repo.db.Exec(ctx,
		`INSERT INTO users (id, email, full_name) VALUES ($1, $2, $3)`,
		userID, userID+"@example.com", "Test Owner")
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
	t.Cleanup(func() {
		_, _ = repo.db.Exec(context.Background(), `DELETE FROM users WHERE id = $1`, userID)
	})

	_, err = repo.db.Exec(ctx, `
        INSERT INTO subscriptions (id, user_id, name, amount, currency, billing_cycle, start_date, next_renewal_date, reminder_days)
        VALUES ($1, $2, 'Netflix', $3, 'USD', 'monthly', CURRENT_DATE, CURRENT_DATE + 10, 15)`,
		subID, userID, decimal.RequireFromString("15.99"))
	if err != nil {
		t.Fatalf("insert subscription: %v", err)
	}
	return userID, subID
}

func TestCreateNotificationIfAbsent_DeduplicatesWithinWindow(t *testing.T) {
	repo := newTestRepository(t)
	userID, subID := seedOwner(t, repo)
	ctx := context.Background()

	q := domain.DedupQuery{
		UserID:         userID,
		SubscriptionID: &subID,
		Type:           domain.NotificationRenewalReminder,
		Since:          time.Now().Add(-24 * time.Hour),
	}
	newReminder := func() *domain.Notification {
		return &domain.Notification{
			UserID:         userID,
			SubscriptionID: &subID,
			Type:           domain.NotificationRenewalReminder,
			Message:        "Netflix is due for renewal in 10 days (USD 15.99)",
		}
	}

	exists, err := repo.NotificationExistsWithinWindow(ctx, q)
	if err != nil || exists {
		t.Fatalf("expected no notification yet, got exists=%v err=%v", exists, err)
	}

	created, err := repo.CreateNotificationIfAbsent(ctx, q, newReminder())
	if err != nil || !created {
		t.Fatalf("expected first create to succeed, got created=%v err=%v", created, err)
	}
	created, err = repo.CreateNotificationIfAbsent(ctx, q, newReminder())
	if err != nil || created {
		t.Fatalf("expected second create to be deduplicated, got created=%v err=%v", created, err)
	}

	otherSub := uuid.NewString()
	other := q
	other.SubscriptionID = &otherSub
	if exists, err := repo.NotificationExistsWithinWindow(ctx, other); err != nil || exists {
		t.Fatalf("expected another subscription not to match, got exists=%v err=%v", exists, err)
	}

	later := q
	later.Since = time.Now().Add(time.Hour)
	if exists, err := repo.NotificationExistsWithinWindow(ctx, later); err != nil || exists {
		t.Fatalf("expected notification outside the window not to match, got exists=%v err=%v", exists, err)
	}
}

func TestNotificationExistsWithinWindow_MatchesMessageWithoutSubscription(t *testing.T) {
	repo := newTestRepository(t)
	userID, _ := seedOwner(t, repo)
	ctx := context.Background()

	err := repo.CreateNotification(ctx, &domain.Notification{
		UserID:  userID,
		Type:    domain.NotificationCardExpiring,
		Message: "Your payment method Visa (**** 1234) expires in 25 days",
	})
	if err != nil {
		t.Fatalf("create notification: %v", err)
	}

	tests := []struct {
		name     string
		contains string
		want     bool
	}{
		{name: "same payment method", contains: "Visa (**** 1234)", want: true},
		{name: "other payment method", contains: "Amex (**** 9876)", want: false},
		{name: "no message filter", contains: "", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := domain.DedupQuery{
				UserID:          userID,
				Type:            domain.NotificationCardExpiring,
				MessageContains: tt.contains,
				Since:           time.Now().Add(-30 * 24 * time.Hour),
			}
			exists, err := repo.NotificationExistsWithinWindow(ctx, q)
			if err != nil {
				t.Fatalf("exists query: %v", err)
			}
			if exists != tt.want {
				t.Fatalf("expected exists=%v, got %v", tt.want, exists)
			}
		})
	}
}

func TestCreateNotificationIfAbsent_ConcurrentCallsCreateOnce(t *testing.T) {
	repo := newTestRepository(t)
	userID, subID := seedOwner(t, repo)

	q := domain.DedupQuery{
		UserID:         userID,
		SubscriptionID: &subID,
		Type:           domain.NotificationExpired,
		Since:          time.Now().Add(-24 * time.Hour),
	}

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.CreateNotificationIfAbsent(context.Background(), q, &domain.Notification{
				UserID:         userID,
				SubscriptionID: &subID,
				Type:           domain.NotificationExpired,
				Message:        "Netflix has expired",
			})
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Fatalf("expected exactly one notification to be created, got %d", created)
	}
}
