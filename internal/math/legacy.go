package math

import gomath "math"

// RoundUint64 rounds x half away from zero and returns the magnitude,
// matching the historical helper used by the pre-activation DEx math.
// NaN and infinities give 0 and magnitudes beyond int64 saturate, so the
// result never depends on the platform's float conversion.
func RoundUint64(x float64) int64 {
	if gomath.IsNaN(x) || gomath.IsInf(x, 0) {
		return 0
	}
	r := gomath.Round(gomath.Abs(x))
	if r >= maxInt64Float {
		return gomath.MaxInt64
	}
	return int64(r)
}

// maxInt64Float is 2^63, the first float64 above MaxInt64.
const maxInt64Float = float64(1 << 63)

// LegacyDesiredForAvailable rescales a sell offer that asked for more tokens
// than the seller holds. The product is formed in uint64 and may wrap; the
// wrapped value is what historical blocks were processed with.
func LegacyDesiredForAvailable(desired, available, offered int64) int64 {
	product := uint64(desired) * uint64(available)
	return RoundUint64(float64(product) / float64(offered))
}

// LegacyPurchaseAmount computes the tokens bought for amountPaid under the
// pre-activation float formula.
func LegacyPurchaseAmount(amountPaid, offered, desired int64) int64 {
	perUnit := float64(amountPaid) / float64(desired)
	return RoundUint64(float64(offered) * perUnit)
}

// PurchaseAmount computes ceil(amountPaid * offered / desired) exactly.
func PurchaseAmount(amountPaid, offered, desired int64) (int64, error) {
	return MulDiv(amountPaid, offered, desired, RoundUp)
}
