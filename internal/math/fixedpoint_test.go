package math_test

import (
	gomath "math"
	"testing"

	fpmath "TradeLedger/internal/math"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// ============================================================================
// Test: MulDiv rounding
// ============================================================================

func TestMulDiv_Rounding(t *testing.T) {
	tests := []struct {
		name    string
		a, b, c int64
		mode    fpmath.RoundingMode
		want    int64
	}{
		{"exact", 10, 10, 5, fpmath.RoundDown, 20},
		{"down", 7, 1, 2, fpmath.RoundDown, 3},
		{"up", 7, 1, 2, fpmath.RoundUp, 4},
		{"half even to even", 5, 1, 2, fpmath.RoundHalfEven, 2},
		{"half even odd", 7, 1, 2, fpmath.RoundHalfEven, 4},
		{"negative down truncates", -7, 1, 2, fpmath.RoundDown, -3},
		{"negative up away from zero", -7, 1, 2, fpmath.RoundUp, -4},
		{"large intermediate", 1 << 62, 4, 8, fpmath.RoundDown, 1 << 61},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fpmath.MulDiv(tt.a, tt.b, tt.c, tt.mode)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestMulDiv_Overflow(t *testing.T) {
	_, err := fpmath.MulDiv(1<<62, 8, 1, fpmath.RoundDown)
	require.ErrorIs(t, err, fpmath.ErrOverflow)
}

func TestMulDiv_UpNeverBelowDown(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.Int64Range(0, 1<<40).Draw(t, "a")
		b := rapid.Int64Range(0, 1<<20).Draw(t, "b")
		c := rapid.Int64Range(1, 1<<30).Draw(t, "c")

		down, err := fpmath.MulDiv(a, b, c, fpmath.RoundDown)
		if err != nil {
			t.Fatal(err)
		}
		up, err := fpmath.MulDiv(a, b, c, fpmath.RoundUp)
		if err != nil {
			t.Fatal(err)
		}
		if up < down || up-down > 1 {
			t.Fatalf("up=%d down=%d", up, down)
		}
		if down*c > a*b || up*c < a*b {
			t.Fatalf("bounds violated: a=%d b=%d c=%d down=%d up=%d", a, b, c, down, up)
		}
	})
}

func TestCeilDiv(t *testing.T) {
	require.Equal(t, int64(0), fpmath.CeilDiv(0, 3))
	require.Equal(t, int64(1), fpmath.CeilDiv(1, 3))
	require.Equal(t, int64(1), fpmath.CeilDiv(3, 3))
	require.Equal(t, int64(2), fpmath.CeilDiv(4, 3))
}

// ============================================================================
// Test: position math
// ============================================================================

func TestComputeAvgEntryPrice(t *testing.T) {
	require.Equal(t, int64(100), fpmath.ComputeAvgEntryPrice(0, 0, 5, 100))
	// 10 @ 100 + 10 @ 200 -> 150
	require.Equal(t, int64(150), fpmath.ComputeAvgEntryPrice(10, 100, 10, 200))
}

func TestComputePnL(t *testing.T) {
	// long 10 contracts, notional 1 COIN, entry 100, exit 90 -> -100
	require.Equal(t, int64(-100), fpmath.ComputePnL(1, 90, 100, 10, fpmath.COIN))
	// short gains when price falls
	require.Equal(t, int64(100), fpmath.ComputePnL(-1, 90, 100, 10, fpmath.COIN))
}

func TestComputeBankruptcyPrice(t *testing.T) {
	// long 10 @ 1000 with margin 2000, notional 1 COIN: loses 200 per unit of price
	require.Equal(t, int64(800), fpmath.ComputeBankruptcyPrice(1, 1000, 10, 2000, fpmath.COIN))
	require.Equal(t, int64(1200), fpmath.ComputeBankruptcyPrice(-1, 1000, 10, 2000, fpmath.COIN))
	require.Equal(t, int64(0), fpmath.ComputeBankruptcyPrice(1, 100, 1, 1000, fpmath.COIN))
}

func TestComputeBankruptcyPrice_LargeSizeAndNotional(t *testing.T) {
	// size*notional is 2^64, outside int64; the move is 10 COIN*COIN / 2^64 -> 0
	require.Equal(t, int64(1000), fpmath.ComputeBankruptcyPrice(1, 1000, 1<<32, 10*fpmath.COIN, 1<<32))
	// a short with a huge margin saturates instead of wrapping
	require.Equal(t, int64(gomath.MaxInt64), fpmath.ComputeBankruptcyPrice(-1, gomath.MaxInt64-10, 1, gomath.MaxInt64, 1))
}

// ============================================================================
// Test: legacy DEx math
// ============================================================================

func TestRoundUint64(t *testing.T) {
	require.Equal(t, int64(3), fpmath.RoundUint64(2.5))
	require.Equal(t, int64(2), fpmath.RoundUint64(2.49))
	require.Equal(t, int64(3), fpmath.RoundUint64(-2.5))
}

func TestRoundUint64_NonFiniteAndOutOfRange(t *testing.T) {
	require.Equal(t, int64(0), fpmath.RoundUint64(gomath.Inf(1)))
	require.Equal(t, int64(0), fpmath.RoundUint64(gomath.Inf(-1)))
	require.Equal(t, int64(0), fpmath.RoundUint64(gomath.NaN()))
	require.Equal(t, int64(gomath.MaxInt64), fpmath.RoundUint64(1e19))

	// a zero desired amount makes the per-unit price infinite
	require.Equal(t, int64(0), fpmath.LegacyPurchaseAmount(fpmath.COIN, 100, 0))
}

func TestLegacyDesiredForAvailable(t *testing.T) {
	// offered 100 for 1.0, only 40 available -> 0.4
	require.Equal(t, int64(40_000_000), fpmath.LegacyDesiredForAvailable(fpmath.COIN, 40, 100))
}

func TestPurchaseAmount_LegacyAndCurrentAgreeOnExactValues(t *testing.T) {
	current, err := fpmath.PurchaseAmount(fpmath.COIN/2, 100, fpmath.COIN)
	require.NoError(t, err)
	require.Equal(t, int64(50), current)
	require.Equal(t, int64(50), fpmath.LegacyPurchaseAmount(fpmath.COIN/2, 100, fpmath.COIN))
}

func TestPurchaseAmount_CurrentRoundsUp(t *testing.T) {
	// 1 unit of base for 3 tokens offered at 2 desired -> 1.5 -> 2
	got, err := fpmath.PurchaseAmount(1, 3, 2)
	require.NoError(t, err)
	require.Equal(t, int64(2), got)
}

// ============================================================================
// Test: Price
// ============================================================================

func TestPrice_CompareAndInverse(t *testing.T) {
	half := fpmath.NewPrice(100, 200)
	require.Equal(t, 0, half.Cmp(fpmath.NewPrice(1, 2)))
	require.Equal(t, -1, half.Cmp(fpmath.NewPrice(3, 5)))
	require.Equal(t, 0, half.Inverse().Cmp(fpmath.NewPrice(2, 1)))
	require.Equal(t, "1/2", half.Key())
	require.Equal(t, int64(50_000_000), half.Scaled())

	parsed, err := fpmath.ParsePrice(half.Key())
	require.NoError(t, err)
	require.Equal(t, 0, parsed.Cmp(half))
}
