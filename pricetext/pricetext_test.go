package pricetext

import (
	"math"
	"testing"
)

func TestParseAmount_European(t *testing.T) {
	got := ParseAmount("1.234,56 kr")
	if got.Value != 1234.56 {
		t.Errorf("Value: got %v, want 1234.56", got.Value)
	}
	if got.Currency != "kr" {
		t.Errorf("Currency: got %q, want %q", got.Currency, "kr")
	}
}

func TestParseAmount_US(t *testing.T) {
	got := ParseAmount("$1,234.56")
	if got.Value != 1234.56 {
		t.Errorf("Value: got %v, want 1234.56", got.Value)
	}
	if got.Currency != "$" {
		t.Errorf("Currency: got %q, want %q", got.Currency, "$")
	}
}

func TestParseAmount_BareInteger(t *testing.T) {
	got := ParseAmount("99")
	if got.Value != 99 {
		t.Errorf("Value: got %v, want 99", got.Value)
	}
	if got.Currency != "none" {
		t.Errorf("Currency: got %q, want %q", got.Currency, "none")
	}
}

func TestParseAmount_PrefixedUnit(t *testing.T) {
	got := ParseAmount("kr. 199")
	if got.Value != 199 {
		t.Errorf("Value: got %v, want 199", got.Value)
	}
	if got.Currency != "kr." {
		t.Errorf("Currency: got %q, want %q", got.Currency, "kr.")
	}
}

func TestParseAmount_UnitPunctuationStaysWithUnit(t *testing.T) {
	// The dot in "kr." is part of the unit, not a numeric run; the value
	// comes from the digit-bearing run further in.
	got := ParseAmount("kr. 1.234,56")
	if got.Value != 1234.56 {
		t.Errorf("Value: got %v, want 1234.56", got.Value)
	}
	if got.Currency != "kr." {
		t.Errorf("Currency: got %q, want %q", got.Currency, "kr.")
	}
}

func TestParseAmount_SingleSeparators(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"12,50", 12.5},   // lone comma is a decimal separator
		{"12.50", 12.5},   // lone dot is a decimal separator
		{"1,234.5", 1234.5},
		{"1.234,5", 1234.5},
	}
	for _, c := range cases {
		got := ParseAmount(c.in)
		if got.Value != c.want {
			t.Errorf("ParseAmount(%q).Value: got %v, want %v", c.in, got.Value, c.want)
		}
	}
}

func TestParseAmount_NoNumericRun(t *testing.T) {
	got := ParseAmount("free shipping")
	if got.Value != 0 {
		t.Errorf("Value: got %v, want 0", got.Value)
	}
	if got.Currency != "none" {
		t.Errorf("Currency: got %q, want %q", got.Currency, "none")
	}
}

func TestParseAmount_MalformedRun(t *testing.T) {
	// A run of bare separators survives the numeric-run match but cannot
	// parse; the contract is NaN, never a panic or error.
	got := ParseAmount("., kr")
	if !math.IsNaN(got.Value) {
		t.Errorf("Value: got %v, want NaN", got.Value)
	}
}

func TestParseQuantity(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"3", 3},
		{"Qty: 12", 12},
		{"", 1},         // unspecified quantity is singular
		{"a pair", 1},
		{"2 x 500g", 2}, // first run wins
	}
	for _, c := range cases {
		if got := ParseQuantity(c.in); got != c.want {
			t.Errorf("ParseQuantity(%q): got %d, want %d", c.in, got, c.want)
		}
	}
}

func TestNormalizeCurrency(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"usd", "USD"},
		{"DKK", "DKK"},
		{"kr.", "kr."}, // local abbreviation passes through
		{"$", "$"},     // symbols pass through
		{"xqz", "xqz"}, // not a real code
	}
	for _, c := range cases {
		if got := NormalizeCurrency(c.in); got != c.want {
			t.Errorf("NormalizeCurrency(%q): got %q, want %q", c.in, got, c.want)
		}
	}
}
