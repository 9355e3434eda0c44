// Package pricetext parses the price and quantity strings scraped off
// storefront pages. Input is whatever a site happens to render: "kr. 199",
// "$1,234.56", "1.234,56 kr", "Qty: 2". The parser is locale-tolerant and
// never returns an error; downstream consumers treat 0/NaN as absent.
package pricetext

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/currency"
)

// Amount is a parsed monetary value. Currency is the non-numeric residue of
// the input, "none" when the input carried no unit at all.
type Amount struct {
	Value    float64 `json:"value"`
	Currency string  `json:"currency"`
}

var (
	numericRun = regexp.MustCompile(`[\d,.]+`)
	integerRun = regexp.MustCompile(`\d+`)
)

// ParseAmount decomposes a raw price string into a numeric value and a
// currency/unit string.
//
// Separator disambiguation: when both "." and "," appear, the one occurring
// last is the decimal separator and the other is stripped as a thousands
// separator. A lone "," or a lone "." is treated as the decimal separator.
// No separator parses as an integer.
//
// The numeric run is the first one carrying a digit, so the punctuation of
// a unit abbreviation ("kr. 199") is left with the unit instead of being
// mistaken for the number.
//
// A string with no numeric run yields {0, "none"}. A numeric run that is
// still malformed after cleaning yields a NaN value.
func ParseAmount(raw string) Amount {
	matches := numericRun.FindAllString(raw, -1)
	if len(matches) == 0 {
		return Amount{Value: 0, Currency: "none"}
	}
	run := matches[0]
	for _, m := range matches {
		if strings.ContainsAny(m, "0123456789") {
			run = m
			break
		}
	}

	cur := strings.TrimSpace(strings.Replace(raw, run, "", 1))
	if cur == "" {
		cur = "none"
	}

	return Amount{Value: parseRun(run), Currency: cur}
}

func parseRun(run string) float64 {
	dot := strings.LastIndex(run, ".")
	comma := strings.LastIndex(run, ",")

	switch {
	case dot >= 0 && comma >= 0:
		// The later separator is the decimal one; the other is grouping.
		if dot > comma {
			run = strings.ReplaceAll(run, ",", "")
		} else {
			run = strings.ReplaceAll(run, ".", "")
			run = strings.Replace(run, ",", ".", 1)
		}
	case comma >= 0:
		run = strings.Replace(run, ",", ".", 1)
	}

	v, err := strconv.ParseFloat(run, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// ParseQuantity extracts the first integer-looking run from raw. A string
// with no integer run parses as 1: an item with an unspecified quantity is
// singular, not absent, which matters for purchase counting.
func ParseQuantity(raw string) int {
	run := integerRun.FindString(raw)
	if run == "" {
		return 1
	}
	n, err := strconv.Atoi(run)
	if err != nil {
		return 1
	}
	return n
}

// NormalizeCurrency maps a currency residue to its ISO 4217 code when it
// already looks like one ("usd" → "USD", "dkk" → "DKK"). Symbols and local
// abbreviations ("$", "kr.") are returned unchanged; they are display
// strings, not codes, and guessing a region for them would be wrong more
// often than right.
func NormalizeCurrency(s string) string {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) != 3 {
		return s
	}
	unit, err := currency.ParseISO(trimmed)
	if err != nil {
		return s
	}
	return unit.String()
}
