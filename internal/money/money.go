// Package money holds the fixed-point quantization rules used for prices,
// quantities, tax and currency conversion. Every rounding is half away from
// zero and applied at the stage it is named for; nothing is deferred.
package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// AmountPlaces is the precision of totals and tax values.
	AmountPlaces int32 = 2
	// QuantityPlaces is the precision of consumed units and entry quantities.
	QuantityPlaces int32 = 4
	// DefaultUnitPricePlaces is used when no unit price precision is configured.
	DefaultUnitPricePlaces int32 = 4
)

var hundred = decimal.NewFromInt(100)

// One is the neutral exchange rate.
var One = decimal.RequireFromString("1.00")

// Quantize rounds d to places fractional digits. Use Format to render the
// value with its trailing zeros.
func Quantize(d decimal.Decimal, places int32) decimal.Decimal {
	return d.Round(places)
}

func Amount(d decimal.Decimal) decimal.Decimal {
	return Quantize(d, AmountPlaces)
}

func Quantity(d decimal.Decimal) decimal.Decimal {
	return Quantize(d, QuantityPlaces)
}

// UnitPrice quantizes d to the configured unit price precision. A
// non-positive precision falls back to DefaultUnitPricePlaces.
func UnitPrice(d decimal.Decimal, places int32) decimal.Decimal {
	if places <= 0 {
		places = DefaultUnitPricePlaces
	}
	return Quantize(d, places)
}

// Extend multiplies quantity by unitPrice and rounds to an amount.
func Extend(quantity, unitPrice decimal.Decimal) decimal.Decimal {
	return Amount(quantity.Mul(unitPrice))
}

// Percent applies percent to base and rounds to an amount. A nil or zero
// percent yields 0.00.
func Percent(base decimal.Decimal, percent *decimal.Decimal) decimal.Decimal {
	if percent == nil || percent.IsZero() {
		return Amount(decimal.Zero)
	}
	return Amount(base.Mul(*percent).Div(hundred))
}

// Convert multiplies value by rate and rounds to places.
func Convert(value, rate decimal.Decimal, places int32) decimal.Decimal {
	return Quantize(value.Mul(rate), places)
}

// Parse reads a decimal string at the boundary. Surrounding whitespace is
// ignored; floats are never accepted.
func Parse(raw string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(raw))
}

// Format renders d with exactly places fractional digits.
func Format(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
