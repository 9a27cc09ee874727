package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/subtrack/renewal-service/internal/domain"
	"github.com/subtrack/renewal-service/internal/store"
)

type notifierStub struct {
	err    error
	calls  int
	oldAmt decimal.Decimal
	newAmt decimal.Decimal
}

func (n *notifierStub) CreatePriceChangeNotification(ctx context.Context, subID string, oldAmount, newAmount decimal.Decimal) (*domain.Notification, error) {
	n.calls++
	n.oldAmt, n.newAmt = oldAmount, newAmount
	if n.err != nil {
		return nil, n.err
	}
	return &domain.Notification{ID: "n-1"}, nil
}

func TestHandlePriceChanged(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	valid := []byte(`{"subscription_id":"sub-1","old_amount":"9.99","new_amount":12.49}`)

	tests := []struct {
		name      string
		body      []byte
		err       error
		wantAck   bool
		wantCalls int
	}{
		{name: "success", body: valid, wantAck: true, wantCalls: 1},
		{name: "malformed json", body: []byte(`{`), wantAck: true, wantCalls: 0},
		{name: "missing subscription", body: []byte(`{"old_amount":"1","new_amount":"2"}`), wantAck: true, wantCalls: 0},
		{name: "unchanged price", body: valid, err: ErrPriceUnchanged, wantAck: true, wantCalls: 1},
		{name: "unknown subscription", body: valid, err: fmt.Errorf("load: %w", store.ErrSubscriptionNotFound), wantAck: true, wantCalls: 1},
		{name: "transient failure requeues", body: valid, err: errors.New("db down"), wantAck: false, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier := &notifierStub{err: tt.err}
			handler := NewPriceChangeEventHandler(notifier, logger)

			ack := handler.HandlePriceChanged(context.Background(), tt.body)
			if ack != tt.wantAck {
				t.Fatalf("expected ack=%v, got %v", tt.wantAck, ack)
			}
			if notifier.calls != tt.wantCalls {
				t.Fatalf("expected %d notifier calls, got %d", tt.wantCalls, notifier.calls)
			}
		})
	}
}

func TestHandlePriceChanged_DecodesAmounts(t *testing.T) {
	notifier := &notifierStub{}
	handler := NewPriceChangeEventHandler(notifier, slog.New(slog.NewTextHandler(io.Discard, nil)))

	handler.HandlePriceChanged(context.Background(), []byte(`{"subscription_id":"sub-1","old_amount":"9.99","new_amount":12.49}`))

	if !notifier.oldAmt.Equal(decimal.RequireFromString("9.99")) || !notifier.newAmt.Equal(decimal.RequireFromString("12.49")) {
		t.Fatalf("unexpected decoded amounts %s -> %s", notifier.oldAmt, notifier.newAmt)
	}
}
