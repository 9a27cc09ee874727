package app

import (
	"context"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/subtrack/renewal-service/internal/domain"
)

// RateStore is the read side of the currency_rates table.
type RateStore interface {
	ListCurrencyRates(ctx context.Context) ([]domain.CurrencyRate, error)
}

// CurrencyService loads exchange rates for a pass.
type CurrencyService struct {
	store  RateStore
	logger *slog.Logger
}

func NewCurrencyService(store RateStore, logger *slog.Logger) *CurrencyService {
	return &CurrencyService{store: store, logger: logger}
}

// Load snapshots the stored rates. When the rates cannot be read every
// conversion degrades to a rate of 1 and is reported as a fallback.
func (s *CurrencyService) Load(ctx context.Context) *Converter {
	rates, err := s.store.ListCurrencyRates(ctx)
	if err != nil {
		s.logger.Error("failed to load currency rates; conversions will fall back to 1.0", "error", err)
	}
	return &Converter{
		table:  domain.NewRateTable(rates),
		logger: s.logger,
		warned: make(map[string]struct{}),
	}
}

// Converter converts amounts against one rate snapshot.
type Converter struct {
	table  *domain.RateTable
	logger *slog.Logger

	mu     sync.Mutex
	warned map[string]struct{}
}

// Convert returns amount in the target currency. Unknown pairs fall back to a
// rate of 1; each such pair is logged once per snapshot.
func (c *Converter) Convert(amount decimal.Decimal, from, to string) decimal.Decimal {
	converted, fallback := c.table.Convert(amount, from, to)
	if fallback {
		c.warnFallback(from, to)
	}
	return converted
}

func (c *Converter) warnFallback(from, to string) {
	key := from + "->" + to
	c.mu.Lock()
	_, seen := c.warned[key]
	c.warned[key] = struct{}{}
	c.mu.Unlock()

	if !seen {
		c.logger.Warn("no exchange rate for currency pair; using 1.0", "from", from, "to", to)
	}
}
