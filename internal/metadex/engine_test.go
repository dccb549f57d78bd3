package metadex_test

import (
	"testing"

	"TradeLedger/internal/activation"
	"TradeLedger/internal/instruction"
	"TradeLedger/internal/ledger"
	"TradeLedger/internal/market"
	fpmath "TradeLedger/internal/math"
	"TradeLedger/internal/metadex"
	"TradeLedger/internal/registry"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

const (
	tokA = uint32(3)
	tokB = uint32(4)
)

type fixture struct {
	ledger  *ledger.Ledger
	tracker *market.Tracker
	engine  *metadex.Engine
}

func newFixture(t *testing.T, features map[activation.Feature]int64) *fixture {
	t.Helper()
	l := ledger.New()
	b := ledger.NewBatch("genesis", 0)
	for _, addr := range []string{"maker", "maker2", "taker"} {
		b.Issue(addr, tokA, ledger.Available, 1_000_000)
		b.Issue(addr, tokB, ledger.Available, 1_000_000)
	}
	require.NoError(t, l.Apply(b))
	tracker := market.NewTracker()
	return &fixture{
		ledger:  l,
		tracker: tracker,
		engine:  metadex.NewEngine(l, activation.NewSchedule(features), tracker, metadex.DefaultParams()),
	}
}

func tx(id string, block int64, index int, sender string) *instruction.Header {
	return &instruction.Header{TxID: id, Block: block, Index: index, Sender: sender}
}

// ============================================================================
// Test: Matching
// ============================================================================

func TestPlaceOrder_PartialFillScenario(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.engine.PlaceOrder(tx("m1", 10, 0, "maker"), tokA, 200, tokB, 100)
	require.NoError(t, err)
	require.Equal(t, metadex.OutcomeAdded, res.Outcome)
	require.Equal(t, int64(200), f.ledger.Balance("maker", tokA, ledger.SpotReserve))

	res, err = f.engine.PlaceOrder(tx("t1", 11, 0, "taker"), tokB, 30, tokA, 50)
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)

	m := res.Matches[0]
	require.Equal(t, int64(50), m.AmountBought)
	require.Equal(t, int64(25), m.AmountPaid)
	require.False(t, res.Rested)
	require.Equal(t, metadex.OutcomeTradedMoreInBuyer, res.Outcome)

	maker, ok := f.engine.GetOrder("m1")
	require.True(t, ok)
	require.Equal(t, int64(150), maker.Remaining)
	require.Equal(t, metadex.StatusOpenPartFilled, metadex.StatusOf(maker, true, false))

	require.Equal(t, int64(1_000_000+50), f.ledger.Balance("taker", tokA, ledger.Available))
	require.Equal(t, int64(1_000_000-25), f.ledger.Balance("taker", tokB, ledger.Available))
	require.Equal(t, int64(1_000_000+25), f.ledger.Balance("maker", tokB, ledger.Available))
	require.Equal(t, int64(150), f.ledger.Balance("maker", tokA, ledger.SpotReserve))

	price, ok := f.tracker.LastPrice(market.MetaDEx(tokA, tokB))
	require.True(t, ok)
	require.Equal(t, fpmath.COIN/2, price)
}

func TestPlaceOrder_NoCrossRests(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.engine.PlaceOrder(tx("m1", 10, 0, "maker"), tokA, 100, tokB, 100)
	require.NoError(t, err)

	// taker offers 0.5 B per A against an ask of 1 B per A
	res, err := f.engine.PlaceOrder(tx("t1", 11, 0, "taker"), tokB, 50, tokA, 100)
	require.NoError(t, err)
	require.Empty(t, res.Matches)
	require.Equal(t, metadex.OutcomeAdded, res.Outcome)
	require.Len(t, f.engine.Orders(), 2)
}

func TestPlaceOrder_PriceTimePriority(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.engine.PlaceOrder(tx("late-cheap", 10, 5, "maker2"), tokA, 100, tokB, 90)
	require.NoError(t, err)
	_, err = f.engine.PlaceOrder(tx("early", 10, 1, "maker"), tokA, 100, tokB, 100)
	require.NoError(t, err)
	_, err = f.engine.PlaceOrder(tx("later", 10, 2, "maker2"), tokA, 100, tokB, 100)
	require.NoError(t, err)

	res, err := f.engine.PlaceOrder(tx("t1", 11, 0, "taker"), tokB, 1_000, tokA, 150)
	require.NoError(t, err)
	require.Len(t, res.Matches, 2)
	require.Equal(t, "late-cheap", res.Matches[0].MakerTxID)
	require.Equal(t, "early", res.Matches[1].MakerTxID)
	require.Equal(t, int64(50), res.Matches[1].AmountBought)
	require.Equal(t, metadex.OutcomeTradedMoreInBuyer, res.Outcome)

	_, ok := f.engine.GetOrder("late-cheap")
	require.False(t, ok)
}

func TestPlaceOrder_TakerRestsRemainder(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.engine.PlaceOrder(tx("m1", 10, 0, "maker"), tokA, 40, tokB, 40)
	require.NoError(t, err)

	res, err := f.engine.PlaceOrder(tx("t1", 11, 0, "taker"), tokB, 100, tokA, 100)
	require.NoError(t, err)
	require.True(t, res.Rested)
	require.Equal(t, metadex.OutcomeTradedMoreInSeller, res.Outcome)
	require.Equal(t, int64(60), res.Order.Remaining)
	require.Equal(t, int64(60), f.ledger.Balance("taker", tokB, ledger.SpotReserve))
	require.Equal(t, metadex.StatusFilled, metadex.StatusOf(metadex.Order{AmountForSale: 40, Received: 40}, false, false))
}

func TestPlaceOrder_Rejections(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.engine.PlaceOrder(tx("x1", 10, 0, "maker"), tokA, 0, tokB, 10)
	require.ErrorIs(t, err, metadex.ErrZeroPrice)

	_, err = f.engine.PlaceOrder(tx("x2", 10, 0, "maker"), tokA, 10, tokA, 10)
	require.ErrorIs(t, err, metadex.ErrSameToken)

	_, err = f.engine.PlaceOrder(tx("x3", 10, 0, "maker"), tokA, 10, 0x80000003, 10)
	require.ErrorIs(t, err, metadex.ErrCrossEcosystem)

	_, err = f.engine.PlaceOrder(tx("x4", 10, 0, "maker"), tokA, 1_000_001, tokB, 10)
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	require.Empty(t, f.engine.Orders())
}

func TestPlaceOrder_FeesSplitTakerMakerCache(t *testing.T) {
	f := newFixture(t, map[activation.Feature]int64{activation.FeatureFees: 0})
	_, err := f.engine.PlaceOrder(tx("m1", 10, 0, "maker"), tokA, 100_000, tokB, 100_000)
	require.NoError(t, err)

	res, err := f.engine.PlaceOrder(tx("t1", 11, 0, "taker"), tokB, 100_000, tokA, 100_000)
	require.NoError(t, err)
	require.Equal(t, int64(50), res.Matches[0].TakerFee)
	require.Equal(t, int64(40), res.Matches[0].MakerRebate)

	require.Equal(t, int64(1_000_000+100_000-50), f.ledger.Balance("taker", tokA, ledger.Available))
	require.Equal(t, int64(1_000_000-100_000+40), f.ledger.Balance("maker", tokA, ledger.Available))
	require.Equal(t, int64(10), f.ledger.Balance(ledger.FeeCacheAddress, tokA, ledger.Available))
	require.Equal(t, int64(2_000_000+1_000_000), f.ledger.TotalSupply(tokA))
}

// ============================================================================
// Test: Cancellation
// ============================================================================

func TestCancel_Variants(t *testing.T) {
	f := newFixture(t, nil)
	place := func(id string, idx int, forSale uint32, amount int64, desired uint32, want int64) {
		_, err := f.engine.PlaceOrder(tx(id, 10, idx, "maker"), forSale, amount, desired, want)
		require.NoError(t, err)
	}
	place("a", 0, tokA, 100, tokB, 50)
	place("b", 1, tokA, 200, tokB, 100) // same price as a
	place("c", 2, tokA, 100, tokB, 300)
	place("d", 3, tokB, 100, tokA, 1_000)

	got, err := f.engine.CancelAtPrice(tx("x1", 11, 0, "maker"), tokA, 2, tokB, 1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, int64(100), f.ledger.Balance("maker", tokA, ledger.SpotReserve))

	_, err = f.engine.CancelAtPrice(tx("x2", 11, 1, "taker"), tokA, 1, tokB, 3)
	require.ErrorIs(t, err, metadex.ErrNothingToCancel)

	got, err = f.engine.CancelPair(tx("x3", 11, 2, "maker"), tokA, tokB)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "c", got[0].Order.TxID)

	got, err = f.engine.CancelEcosystem(tx("x4", 11, 3, "maker"), registry.EcosystemMain)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Empty(t, f.engine.Orders())
	require.Equal(t, int64(1_000_000), f.ledger.Balance("maker", tokA, ledger.Available))
	require.Equal(t, int64(1_000_000), f.ledger.Balance("maker", tokB, ledger.Available))
}

// ============================================================================
// Test: Snapshot lines
// ============================================================================

func TestSnapshot_RoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	for i, amt := range []int64{100, 150, 100} {
		_, err := f.engine.PlaceOrder(tx(string(rune('a'+i)), 10, i, "maker"), tokA, amt, tokB, 100)
		require.NoError(t, err)
	}

	restored := metadex.NewEngine(ledger.New(), activation.NewSchedule(nil), nil, metadex.DefaultParams())
	require.NoError(t, f.engine.SnapshotLines(restored.RestoreLine))
	require.Equal(t, f.engine.Orders(), restored.Orders())
}

// ============================================================================
// Test: Properties
// ============================================================================

// Random order flow conserves supply, never leaves a negative bucket and
// never pays a maker less than its quoted price.
func TestPlaceOrder_Properties(t *testing.T) {
	traders := []string{"maker", "maker2", "taker"}

	rapid.Check(t, func(rt *rapid.T) {
		l := ledger.New()
		b := ledger.NewBatch("genesis", 0)
		for _, addr := range traders {
			b.Issue(addr, tokA, ledger.Available, 10_000)
			b.Issue(addr, tokB, ledger.Available, 10_000)
		}
		if err := l.Apply(b); err != nil {
			rt.Fatal(err)
		}
		engine := metadex.NewEngine(l, activation.NewSchedule(map[activation.Feature]int64{activation.FeatureFees: 0}), nil, metadex.DefaultParams())

		n := rapid.IntRange(1, 40).Draw(rt, "orders")
		for i := 0; i < n; i++ {
			sender := rapid.SampledFrom(traders).Draw(rt, "sender")
			forSale, desired := tokA, tokB
			if rapid.Bool().Draw(rt, "flip") {
				forSale, desired = tokB, tokA
			}
			amount := rapid.Int64Range(1, 3_000).Draw(rt, "amount")
			want := rapid.Int64Range(1, 3_000).Draw(rt, "want")

			res, err := engine.PlaceOrder(tx(string(rune('A'+i)), int64(i), 0, sender), forSale, amount, desired, want)
			if err != nil {
				continue
			}
			for _, m := range res.Matches {
				if fpmath.NewPrice(m.AmountPaid, m.AmountBought).Cmp(m.Price) < 0 {
					rt.Fatalf("maker %s paid below quote: %d for %d at %s", m.MakerTxID, m.AmountPaid, m.AmountBought, m.Price)
				}
			}
		}

		for _, tok := range []uint32{tokA, tokB} {
			if got := l.TotalSupply(tok); got != 30_000 {
				rt.Fatalf("supply of %d drifted to %d", tok, got)
			}
		}
		v := ledger.NewInvariantValidator(l, nil)
		if err := v.ValidateNonNegative(); err != nil {
			rt.Fatal(err)
		}

		var reserved int64
		for _, o := range engine.Orders() {
			if o.TokenForSale == tokA {
				reserved += o.Remaining
			}
		}
		var spot int64
		for _, addr := range traders {
			spot += l.Balance(addr, tokA, ledger.SpotReserve)
		}
		if reserved != spot {
			rt.Fatalf("book holds %d of A but spot reserve is %d", reserved, spot)
		}
	})
}
