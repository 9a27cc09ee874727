package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// CurrencyRate is a directed exchange rate. At most one row exists per ordered pair.
type CurrencyRate struct {
	From string          `json:"from_currency"`
	To   string          `json:"to_currency"`
	Rate decimal.Decimal `json:"rate"`
}

type ratePair struct {
	from string
	to   string
}

// RateTable answers conversion lookups over a snapshot of stored rates.
type RateTable struct {
	rates map[ratePair]decimal.Decimal
}

// NewRateTable indexes rates by ordered pair. Non-positive rates are ignored.
func NewRateTable(rates []CurrencyRate) *RateTable {
	t := &RateTable{rates: make(map[ratePair]decimal.Decimal, len(rates))}
	for _, r := range rates {
		if !r.Rate.IsPositive() {
			continue
		}
		t.rates[ratePair{normalizeCode(r.From), normalizeCode(r.To)}] = r.Rate
	}
	return t
}

// Rate returns the multiplier from one currency to another. A missing pair in
// both directions yields 1 with fallback set, so the caller can report it.
func (t *RateTable) Rate(from, to string) (rate decimal.Decimal, fallback bool) {
	stored, inverse, ok := t.lookup(from, to)
	switch {
	case !ok:
		return decimal.NewFromInt(1), true
	case inverse:
		return decimal.NewFromInt(1).DivRound(stored, 10), false
	default:
		return stored, false
	}
}

// Convert applies the pair's rate and rounds to 2 decimal places, half away
// from zero. An inverse pair divides by the stored rate so the result is
// rounded once.
func (t *RateTable) Convert(amount decimal.Decimal, from, to string) (decimal.Decimal, bool) {
	if normalizeCode(from) == normalizeCode(to) {
		return amount, false
	}
	stored, inverse, ok := t.lookup(from, to)
	switch {
	case !ok:
		return amount.Round(2), true
	case inverse:
		return amount.DivRound(stored, 2), false
	default:
		return amount.Mul(stored).Round(2), false
	}
}

// lookup finds the stored rate for from->to, or for to->from with inverse set.
// Identical codes resolve to 1.
func (t *RateTable) lookup(from, to string) (stored decimal.Decimal, inverse bool, ok bool) {
	from, to = normalizeCode(from), normalizeCode(to)
	if from == to {
		return decimal.NewFromInt(1), false, true
	}
	if t == nil {
		return decimal.Decimal{}, false, false
	}
	if r, found := t.rates[ratePair{from, to}]; found {
		return r, false, true
	}
	if r, found := t.rates[ratePair{to, from}]; found {
		return r, true, true
	}
	return decimal.Decimal{}, false, false
}

// Len returns the number of stored pairs.
func (t *RateTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rates)
}

var currencySymbols = map[string]string{
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
	"INR": "₹",
	"CAD": "C$",
	"AUD": "A$",
	"JPY": "¥",
}

// Symbol returns the display symbol for code, or the code itself when unknown.
func Symbol(code string) string {
	code = normalizeCode(code)
	if s, ok := currencySymbols[code]; ok {
		return s
	}
	return code
}

// FormatAmount renders amount with its currency symbol. JPY has no minor unit.
func FormatAmount(amount decimal.Decimal, code string) string {
	places := int32(2)
	if normalizeCode(code) == "JPY" {
		places = 0
	}
	return Symbol(code) + amount.StringFixed(places)
}

// DefaultRates is the seed set written to an empty rate table.
func DefaultRates() []CurrencyRate {
	return []CurrencyRate{
		{From: "USD", To: "EUR", Rate: decimal.RequireFromString("0.92")},
		{From: "USD", To: "GBP", Rate: decimal.RequireFromString("0.79")},
		{From: "USD", To: "INR", Rate: decimal.RequireFromString("83.12")},
		{From: "USD", To: "CAD", Rate: decimal.RequireFromString("1.36")},
		{From: "USD", To: "AUD", Rate: decimal.RequireFromString("1.53")},
		{From: "USD", To: "JPY", Rate: decimal.RequireFromString("149.50")},
		{From: "EUR", To: "GBP", Rate: decimal.RequireFromString("0.86")},
		{From: "EUR", To: "INR", Rate: decimal.RequireFromString("90.35")},
	}
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
