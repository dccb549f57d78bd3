package math

import (
	"errors"
	"math/big"
	"sync"
)

// COIN is the number of base units in one divisible token or one unit of
// the base chain currency. Prices are quoted in the same scale.
const COIN int64 = 100_000_000

// ErrOverflow is returned when an intermediate result does not fit in int64.
var ErrOverflow = errors.New("fixed-point overflow")

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding
	RoundDown                         // toward zero
	RoundUp                           // away from zero
)

var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0)
	int128Pool.Put(v)
}

// MultiplyInt128 performs a * b without overflow. The caller returns the
// value to the pool through divideInt128.
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// divideInt128 computes numerator / denominator with the given rounding and
// releases numerator back to the pool.
func divideInt128(numerator *big.Int, denominator int64, mode RoundingMode) (int64, error) {
	defer putInt128(numerator)
	if denominator == 0 {
		return 0, errors.New("division by zero")
	}

	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()
	defer putInt128(quotient)
	defer putInt128(remainder)

	// QuoRem truncates toward zero, so remainder carries the numerator's sign.
	quotient.QuoRem(numerator, denom, remainder)

	if remainder.Sign() != 0 {
		negative := (numerator.Sign() < 0) != (denom.Sign() < 0)
		step := int64(1)
		if negative {
			step = -1
		}

		switch mode {
		case RoundUp:
			quotient.Add(quotient, big.NewInt(step))
		case RoundHalfEven:
			twice := new(big.Int).Abs(remainder)
			twice.Lsh(twice, 1)
			cmp := twice.Cmp(new(big.Int).Abs(denom))
			if cmp > 0 || (cmp == 0 && quotient.Bit(0) == 1) {
				quotient.Add(quotient, big.NewInt(step))
			}
		}
	}

	if !quotient.IsInt64() {
		return 0, ErrOverflow
	}
	return quotient.Int64(), nil
}

// MulDiv returns a * b / c rounded with mode.
func MulDiv(a, b, c int64, mode RoundingMode) (int64, error) {
	return divideInt128(MultiplyInt128(a, b), c, mode)
}

// MustMulDiv is MulDiv for operands the caller has already bounded.
// An overflow here is a consistency violation.
func MustMulDiv(a, b, c int64, mode RoundingMode) int64 {
	v, err := MulDiv(a, b, c, mode)
	if err != nil {
		panic("FATAL: " + err.Error())
	}
	return v
}

// CeilDiv returns ceil(a / b) for non-negative a and positive b.
func CeilDiv(a, b int64) int64 {
	if a <= 0 {
		return a / b
	}
	return (a-1)/b + 1
}

// AddChecked returns a + b or ErrOverflow.
func AddChecked(a, b int64) (int64, error) {
	s := a + b
	if (b > 0 && s < a) || (b < 0 && s > a) {
		return 0, ErrOverflow
	}
	return s, nil
}

// ComputeAvgEntryPrice calculates the size-weighted entry price after adding
// fillQty contracts at fillPrice to a position of oldSize contracts.
// Sizes are absolute values.
func ComputeAvgEntryPrice(oldSize, oldAvgEntry, fillQty, fillPrice int64) int64 {
	if oldSize == 0 {
		return fillPrice
	}

	term1 := MultiplyInt128(oldSize, oldAvgEntry)
	term2 := MultiplyInt128(fillQty, fillPrice)
	term1.Add(term1, term2)
	putInt128(term2)

	return mustDivide(term1, oldSize+fillQty, RoundHalfEven)
}

// ComputePnL returns sideSign * (exitPrice - entryPrice) * qty * notionalSize / COIN
// in collateral base units. sideSign is +1 for long and -1 for short.
func ComputePnL(sideSign, exitPrice, entryPrice, qty, notionalSize int64) int64 {
	temp := MultiplyInt128(sideSign*(exitPrice-entryPrice), qty)
	temp.Mul(temp, big.NewInt(notionalSize))
	return mustDivide(temp, COIN, RoundDown)
}

// ComputeNotional returns qty * price * notionalSize / COIN.
func ComputeNotional(qty, price, notionalSize int64) int64 {
	temp := MultiplyInt128(qty, price)
	temp.Mul(temp, big.NewInt(notionalSize))
	return mustDivide(temp, COIN, RoundDown)
}

// ComputeBankruptcyPrice returns the price at which a position of size
// contracts entered at entryPrice loses all of margin. Never negative; a
// short whose bankruptcy price exceeds int64 gets MaxInt64.
func ComputeBankruptcyPrice(sideSign, entryPrice, size, margin, notionalSize int64) int64 {
	if size == 0 || notionalSize == 0 {
		return 0
	}
	move := new(big.Int).Quo(MultiplyInt128(margin, COIN), MultiplyInt128(size, notionalSize))
	move.Mul(move, big.NewInt(sideSign))
	price := new(big.Int).Sub(big.NewInt(entryPrice), move)
	switch {
	case price.Sign() < 0:
		return 0
	case !price.IsInt64():
		return 1<<63 - 1
	}
	return price.Int64()
}

func mustDivide(numerator *big.Int, denominator int64, mode RoundingMode) int64 {
	v, err := divideInt128(numerator, denominator, mode)
	if err != nil {
		panic("FATAL: " + err.Error())
	}
	return v
}
