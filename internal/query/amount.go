package query

import (
	"strconv"

	fpmath "TradeLedger/internal/math"

	"github.com/shopspring/decimal"
)

const displayPlaces = 8

// FormatAmount renders token units: divisible tokens carry eight decimals,
// indivisible tokens are whole numbers.
func FormatAmount(units int64, divisible bool) string {
	if !divisible {
		return strconv.FormatInt(units, 10)
	}
	return decimal.New(units, -displayPlaces).StringFixed(displayPlaces)
}

// FormatPrice renders a COIN-scaled price.
func FormatPrice(scaled int64) string {
	return decimal.New(scaled, -displayPlaces).StringFixed(displayPlaces)
}

// FormatRatio renders an exact MetaDEx price as a decimal rounded to the
// display precision.
func FormatRatio(p fpmath.Price) string {
	if p.IsZero() {
		return "0"
	}
	num := decimal.NewFromBigInt(p.Num(), 0)
	den := decimal.NewFromBigInt(p.Den(), 0)
	return num.DivRound(den, displayPlaces).StringFixed(displayPlaces)
}

// ParseAmount is the inverse of FormatAmount. Divisible amounts with more
// than eight decimals are rejected.
func ParseAmount(s string, divisible bool) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	if !divisible {
		if !d.IsInteger() {
			return 0, strconv.ErrSyntax
		}
		return d.IntPart(), nil
	}
	scaled := d.Shift(displayPlaces)
	if !scaled.IsInteger() {
		return 0, strconv.ErrSyntax
	}
	if !scaled.BigInt().IsInt64() {
		return 0, strconv.ErrRange
	}
	return scaled.IntPart(), nil
}
