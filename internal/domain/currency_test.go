package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestRateTableConvert(t *testing.T) {
	table := NewRateTable(DefaultRates())

	tests := []struct {
		name     string
		amount   string
		from, to string
		want     string
		fallback bool
	}{
		{name: "identity", amount: "12.345", from: "USD", to: "USD", want: "12.345"},
		{name: "direct pair", amount: "10", from: "USD", to: "EUR", want: "9.2"},
		{name: "lower case codes", amount: "10", from: "usd", to: "gbp", want: "7.9"},
		{name: "inverse pair", amount: "92", from: "EUR", to: "USD", want: "100"},
		{name: "unknown pair falls back to 1", amount: "15.99", from: "CHF", to: "SEK", want: "15.99", fallback: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, fallback := table.Convert(dec(tt.amount), tt.from, tt.to)
			if !got.Equal(dec(tt.want)) {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
			if fallback != tt.fallback {
				t.Fatalf("expected fallback=%v, got %v", tt.fallback, fallback)
			}
		})
	}
}

func TestRateTableConvert_RoundsHalfAwayFromZero(t *testing.T) {
	table := NewRateTable([]CurrencyRate{{From: "USD", To: "XTS", Rate: dec("0.5")}})

	got, _ := table.Convert(dec("0.25"), "USD", "XTS")
	if !got.Equal(dec("0.13")) {
		t.Fatalf("expected 0.125 to round to 0.13, got %s", got)
	}
	got, _ = table.Convert(dec("-0.25"), "USD", "XTS")
	if !got.Equal(dec("-0.13")) {
		t.Fatalf("expected -0.125 to round to -0.13, got %s", got)
	}
}

func TestRateTableInverseConsistency(t *testing.T) {
	table := NewRateTable([]CurrencyRate{{From: "USD", To: "GBP", Rate: dec("0.79")}})

	forward, _ := table.Rate("USD", "GBP")
	inverse, _ := table.Rate("GBP", "USD")

	product := forward.Mul(inverse).Round(6)
	if !product.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected rate(a,b)*rate(b,a) == 1, got %s", product)
	}
}

func TestRateTableConvert_InverseRoundsOnce(t *testing.T) {
	tests := []struct {
		name string
		rate string
		want string
	}{
		{name: "rate just above a rounding boundary", rate: "200.00000001", want: "0.00"},
		{name: "common rate", rate: "0.79", want: "1.27"},
		{name: "yen style rate", rate: "149.5", want: "0.01"},
		{name: "small rate", rate: "0.00666667", want: "150.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := dec(tt.rate)
			table := NewRateTable([]CurrencyRate{{From: "USD", To: "XYZ", Rate: r}})

			got, fallback := table.Convert(decimal.NewFromInt(1), "XYZ", "USD")
			want := decimal.NewFromInt(1).DivRound(r, 2)
			if fallback || !got.Equal(want) {
				t.Fatalf("convert(1, XYZ, USD) = %s, want round(1/%s, 2) = %s", got, tt.rate, want)
			}
			if !got.Equal(dec(tt.want)) {
				t.Fatalf("convert(1, XYZ, USD) = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRateTableIgnoresNonPositiveRates(t *testing.T) {
	table := NewRateTable([]CurrencyRate{{From: "USD", To: "EUR", Rate: decimal.Zero}})
	if table.Len() != 0 {
		t.Fatalf("expected zero rate to be ignored, table has %d pairs", table.Len())
	}
}

func TestNilRateTableFallsBack(t *testing.T) {
	var table *RateTable
	got, fallback := table.Convert(dec("5"), "USD", "EUR")
	if !fallback || !got.Equal(dec("5")) {
		t.Fatalf("expected fallback to rate 1, got %s (fallback %v)", got, fallback)
	}
}

func TestFormatAmount(t *testing.T) {
	if got := FormatAmount(dec("9.5"), "USD"); got != "$9.50" {
		t.Fatalf("unexpected USD format %q", got)
	}
	if got := FormatAmount(dec("1495.4"), "JPY"); got != "¥1495" {
		t.Fatalf("unexpected JPY format %q", got)
	}
	if got := FormatAmount(dec("3"), "CHF"); got != "CHF3.00" {
		t.Fatalf("unexpected CHF format %q", got)
	}
}
