package contractdex_test

import (
	"fmt"
	"testing"

	"TradeLedger/internal/contractdex"
	"TradeLedger/internal/instruction"
	"TradeLedger/internal/ledger"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// openLong gives addr a long of 10 at 1000 with leverage 5, so 2000 margin.
func (f *fixture) openLong(t *testing.T, addr string) {
	t.Helper()
	f.limit(t, "s-open", 10, 0, "short", 10, price(1000), instruction.ActionSell, 5)
	f.limit(t, "b-open", 10, 1, addr, 10, price(1000), instruction.ActionBuy, 5)
}

// markAt moves the last traded price to px with a one-lot trade between
// bidder and other, leaving bidder's bid resting as liquidity.
func (f *fixture) markAt(t *testing.T, px int64) {
	t.Helper()
	f.limit(t, "bid", 11, 0, "bidder", 50, px, instruction.ActionBuy, 5)
	f.market(t, "mark", 11, 1, "other", 1, instruction.ActionSell, 1)
}

// ============================================================================
// Test: Risk Pass
// ============================================================================

func TestRiskPass_LiquidatesLeveragedLong(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.openLong(t, "long")
	f.markAt(t, price(800))

	actions := f.engine.RiskPass(12)
	require.Len(t, actions, 1)

	a := actions[0]
	require.Equal(t, "long", a.Address)
	require.Equal(t, contractdex.RiskLiquidate, a.Kind)
	require.Equal(t, "liquidate", a.Kind.String())
	require.Equal(t, int64(2000), a.Loss)
	require.Equal(t, int64(2000), a.Margin)
	require.Len(t, a.Trades, 1)
	require.True(t, a.Trades[0].Liquidation)
	require.Equal(t, int64(10), a.Trades[0].Quantity)
	require.Equal(t, contractdex.StatusLongPosNetted, a.Trades[0].TakerStatus)

	_, ok := f.engine.Position("long", native)
	require.False(t, ok)
	require.Equal(t, int64(0), f.ledger.Balance("long", native, ledger.LongPosition))
	require.Equal(t, int64(0), f.ledger.Balance("long", collateral, ledger.Margin))
	require.Equal(t, int64(2000), f.ledger.Balance("long", native, ledger.RealizedLoss))

	bidder, ok := f.engine.Position("bidder", native)
	require.True(t, ok)
	require.Equal(t, int64(11), bidder.Size)

	require.NoError(t, ledger.NewInvariantValidator(f.ledger, nil).ValidatePositionsNetZero())
	require.Empty(t, f.engine.RiskPass(13))
}

func TestRiskPass_LiquidationCancelsRestingOrders(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.openLong(t, "long")
	f.limit(t, "resting", 10, 2, "long", 2, price(700), instruction.ActionBuy, 2)
	f.markAt(t, price(800))

	actions := f.engine.RiskPass(12)
	require.Len(t, actions, 1)
	require.Len(t, actions[0].Cancelled, 1)
	require.Equal(t, "resting", actions[0].Cancelled[0].TxID)
	require.Equal(t, int64(0), f.ledger.Balance("long", collateral, ledger.ContractReserve))
	require.Equal(t, startBalance, f.ledger.Balance("long", collateral, ledger.Available))
}

func TestRiskPass_MarginCallTopsUp(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.openLong(t, "long")
	f.limit(t, "resting", 10, 2, "long", 1, price(900), instruction.ActionBuy, 5)
	f.markAt(t, price(950))

	actions := f.engine.RiskPass(12)
	require.Len(t, actions, 1)

	a := actions[0]
	require.Equal(t, contractdex.RiskMarginCall, a.Kind)
	require.Equal(t, int64(500), a.Loss)
	require.Len(t, a.Cancelled, 1)
	require.Equal(t, int64(100), a.ToppedUp)
	require.Empty(t, a.Trades)

	pos, ok := f.engine.Position("long", native)
	require.True(t, ok)
	require.Equal(t, int64(10), pos.Size)
	require.Equal(t, int64(2100), pos.Margin)
	require.Equal(t, price(790), pos.BankruptcyPrice)
	require.Equal(t, int64(2100), f.ledger.Balance("long", collateral, ledger.Margin))
	require.Equal(t, startBalance-2100, f.ledger.Balance("long", collateral, ledger.Available))
}

func TestRiskPass_ReducesWhenTopUpFallsShort(t *testing.T) {
	f := newFixture(t, nil, map[string]int64{"thin": 2000})
	f.openLong(t, "thin")
	f.markAt(t, price(950))
	require.Equal(t, int64(0), f.ledger.Balance("thin", collateral, ledger.Available))

	actions := f.engine.RiskPass(12)
	require.Len(t, actions, 1)

	a := actions[0]
	require.Equal(t, contractdex.RiskReduce, a.Kind)
	require.Equal(t, int64(0), a.ToppedUp)
	require.Len(t, a.Trades, 1)
	require.Equal(t, int64(1), a.Trades[0].Quantity)

	pos, ok := f.engine.Position("thin", native)
	require.True(t, ok)
	require.Equal(t, int64(9), pos.Size)
	require.Equal(t, int64(1800), pos.Margin)
	require.Equal(t, int64(50), f.ledger.Balance("thin", native, ledger.RealizedLoss))
}

func TestRiskPass_NoActionBelowThreshold(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.openLong(t, "long")
	require.Empty(t, f.engine.RiskPass(11))

	f.markAt(t, price(990))
	require.Empty(t, f.engine.RiskPass(12))
}

func TestRiskPass_LiquidityShortfallRetriedNextBlock(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.openLong(t, "long")
	f.limit(t, "bid", 11, 0, "bidder", 4, price(800), instruction.ActionBuy, 5)
	f.market(t, "mark", 11, 1, "other", 1, instruction.ActionSell, 1)

	actions := f.engine.RiskPass(12)
	require.Len(t, actions, 1)
	pos, ok := f.engine.Position("long", native)
	require.True(t, ok)
	require.Equal(t, int64(7), pos.Size)

	f.limit(t, "bid2", 12, 0, "bidder", 10, price(800), instruction.ActionBuy, 5)
	actions = f.engine.RiskPass(13)
	require.Len(t, actions, 1)
	require.Equal(t, contractdex.RiskLiquidate, actions[0].Kind)
	_, ok = f.engine.Position("long", native)
	require.False(t, ok)
}

// ============================================================================
// Test: Position Algebra (property)
// ============================================================================

func TestPositions_NetZeroAndMatchFills(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(t, nil, nil)
		addrs := []string{"long", "short", "bidder"}
		sizes := make(map[string]int64)

		n := rapid.IntRange(1, 40).Draw(rt, "orders")
		for i := 0; i < n; i++ {
			sender := rapid.SampledFrom(addrs).Draw(rt, "sender")
			action := instruction.ActionBuy
			if rapid.Bool().Draw(rt, "sell") {
				action = instruction.ActionSell
			}
			px := price(rapid.SampledFrom([]int64{990, 1000, 1010}).Draw(rt, "price"))
			amount := rapid.Int64Range(1, 5).Draw(rt, "amount")
			leverage := rapid.Int64Range(1, 5).Draw(rt, "leverage")
			orderType := instruction.OrderLimit
			if rapid.IntRange(0, 3).Draw(rt, "type") == 0 {
				orderType = instruction.OrderMarket
			}

			res, err := f.engine.PlaceOrder(tx(fmt.Sprintf("o%d", i), int64(10+i), 0, sender), native, amount, px, action, leverage, orderType)
			if err != nil {
				rt.Fatalf("place %d: %v", i, err)
			}
			for _, tr := range res.Trades {
				sign := int64(1)
				if tr.TakerAction == instruction.ActionSell {
					sign = -1
				}
				sizes[tr.Taker] += sign * tr.Quantity
				sizes[tr.Maker] -= sign * tr.Quantity
			}
		}

		var net int64
		margins := make(map[string]int64)
		for _, p := range f.engine.Positions() {
			net += p.Size
			margins[p.Address] += p.Margin
			if p.Size != sizes[p.Address] {
				rt.Fatalf("%s size %d, fills sum to %d", p.Address, p.Size, sizes[p.Address])
			}
		}
		if net != 0 {
			rt.Fatalf("positions net to %d", net)
		}
		for _, addr := range addrs {
			if _, open := f.engine.Position(addr, native); !open && sizes[addr] != 0 {
				rt.Fatalf("%s has no position but fills sum to %d", addr, sizes[addr])
			}
			if got := f.ledger.Balance(addr, collateral, ledger.Margin); got != margins[addr] {
				rt.Fatalf("%s ledger margin %d, positions hold %d", addr, got, margins[addr])
			}
			reg := f.ledger.Balance(addr, native, ledger.LongPosition) - f.ledger.Balance(addr, native, ledger.ShortPosition)
			if reg != sizes[addr] {
				rt.Fatalf("%s ledger position %d, fills sum to %d", addr, reg, sizes[addr])
			}
		}

		var reserved int64
		for _, o := range f.engine.AllOrders() {
			reserved += o.Reserved
		}
		var held int64
		for _, addr := range addrs {
			held += f.ledger.Balance(addr, collateral, ledger.ContractReserve)
		}
		if reserved != held {
			rt.Fatalf("orders reserve %d, ledger holds %d", reserved, held)
		}

		v := ledger.NewInvariantValidator(f.ledger, nil)
		if err := v.ValidateNonNegative(); err != nil {
			rt.Fatal(err)
		}
		if err := v.ValidatePositionsNetZero(); err != nil {
			rt.Fatal(err)
		}
	})
}
