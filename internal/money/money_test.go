package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestUnitPriceQuantizesBeforeMultiplication(t *testing.T) {
	price := UnitPrice(dec(t, "2.00005"), 4)
	assert.Equal(t, "2.0001", price.String())

	total := Extend(dec(t, "3.12345"), price)
	assert.Equal(t, "6.25", Format(total, AmountPlaces))
	assert.True(t, total.Equal(dec(t, "6.25")))
}

func TestUnitPriceFallsBackToDefaultPrecision(t *testing.T) {
	assert.Equal(t, "1.2346", UnitPrice(dec(t, "1.23456"), 0).String())
	assert.Equal(t, "1.23", UnitPrice(dec(t, "1.23456"), 2).String())
}

func TestPercent(t *testing.T) {
	base := dec(t, "100.05")
	pct := dec(t, "19")
	assert.Equal(t, "19.01", Format(Percent(base, &pct), AmountPlaces))

	assert.Equal(t, "0.00", Format(Percent(base, nil), AmountPlaces))
	zero := decimal.Zero
	assert.Equal(t, "0.00", Format(Percent(base, &zero), AmountPlaces))
}

func TestHalfAwayFromZero(t *testing.T) {
	assert.Equal(t, "0.13", Format(Amount(dec(t, "0.125")), AmountPlaces))
	assert.Equal(t, "-0.13", Format(Amount(dec(t, "-0.125")), AmountPlaces))
}

func TestConvert(t *testing.T) {
	got := Convert(dec(t, "10.5555"), dec(t, "1.1"), 4)
	assert.Equal(t, "11.6111", got.String())
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse("12,5")
	assert.Error(t, err)

	d, err := Parse(" 8.5000 ")
	require.NoError(t, err)
	assert.True(t, d.Equal(dec(t, "8.5")))
}
