package market_test

import (
	"testing"

	"TradeLedger/internal/market"

	"github.com/stretchr/testify/require"
)

func TestTracker_VWAPWindow(t *testing.T) {
	tr := market.NewTracker()
	id := market.Contract(7)

	for i := int64(1); i <= 12; i++ {
		tr.Record(id, i, market.Fill{Price: i * 100, Quantity: 1})
	}

	// last ten fills: prices 300..1200
	vwap, ok := tr.VWAP(id)
	require.True(t, ok)
	require.Equal(t, int64(750), vwap)

	last, ok := tr.LastPrice(id)
	require.True(t, ok)
	require.Equal(t, int64(1200), last)

	s, _ := tr.Get(id)
	require.Equal(t, int64(12), s.Volume)
	require.Equal(t, int64(1), s.BlockVolume)
}

func TestTracker_MarkPricePrefersOracle(t *testing.T) {
	tr := market.NewTracker()
	id := market.Contract(9)

	_, ok := tr.MarkPrice(id)
	require.False(t, ok)

	tr.Record(id, 1, market.Fill{Price: 500, Quantity: 2})
	mark, _ := tr.MarkPrice(id)
	require.Equal(t, int64(500), mark)

	tr.SetOraclePrice(id, 450, 2)
	mark, _ = tr.MarkPrice(id)
	require.Equal(t, int64(450), mark)
}

func TestTracker_LiquidationStats(t *testing.T) {
	tr := market.NewTracker()
	id := market.Contract(1)
	tr.Record(id, 1, market.Fill{Price: 100, Quantity: 4})
	tr.Record(id, 1, market.Fill{Price: 80, Quantity: 2, Liquidation: true})

	s, _ := tr.Get(id)
	require.Equal(t, int64(2), s.LiquidationVolume)
	liq, ok := tr.LiquidationVWAP(id)
	require.True(t, ok)
	require.Equal(t, int64(80), liq)
}

func TestTracker_SnapshotRoundTrip(t *testing.T) {
	tr := market.NewTracker()
	tr.Record(market.DEx(3), 4, market.Fill{Price: 1_000, Quantity: 50})
	tr.Record(market.MetaDEx(3, 4), 5, market.Fill{Price: 2, Quantity: 7, Liquidation: false})
	tr.Record(market.Contract(8), 6, market.Fill{Price: 9, Quantity: 1, Liquidation: true})
	tr.SetOraclePrice(market.Contract(8), 10, 6)

	var lines []string
	require.NoError(t, tr.SnapshotLines(func(l string) error { lines = append(lines, l); return nil }))

	restored := market.NewTracker()
	for _, l := range lines {
		require.NoError(t, restored.RestoreLine(l))
	}

	var again []string
	require.NoError(t, restored.SnapshotLines(func(l string) error { again = append(again, l); return nil }))
	require.Equal(t, lines, again)
}
