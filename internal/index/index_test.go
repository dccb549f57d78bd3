package index_test

import (
	"testing"

	"TradeLedger/internal/index"
	"TradeLedger/internal/kvstore"

	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *index.Store {
	t.Helper()
	db := kvstore.NewMemDB()
	t.Cleanup(func() { db.Close() })
	return index.New(db)
}

func TestTxIndex_PutAndLookup(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.PutTxs([]index.TxRecord{
		{TxID: "b", Block: 10, Index: 1, Kind: "simple_send", Valid: true},
		{TxID: "a", Block: 10, Index: 0, Kind: "grant", Code: 7, Reason: "not issuer"},
		{TxID: "c", Block: 11, Index: 0, Kind: "simple_send", Valid: true},
	}))

	r, ok, err := s.Tx("a")
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, r.Valid)
	require.Equal(t, 7, r.Code)

	_, ok, err = s.Tx("missing")
	require.NoError(t, err)
	require.False(t, ok)

	got, err := s.TxsAt(10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "a", got[0].TxID)
	require.Equal(t, "b", got[1].TxID)
}

func TestTradeHistory_ByAddressAndHeight(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.PutTrades([]index.TradeRecord{
		{Market: "metadex", Block: 12, TakerTxID: "t2", MakerTxID: "m1", Taker: "carol", Maker: "alice", Quantity: 5},
		{Market: "metadex", Block: 10, TakerTxID: "t1", MakerTxID: "m1", Taker: "bob", Maker: "alice", Quantity: 50},
	}))

	trades, err := s.TradesForAddress("alice")
	require.NoError(t, err)
	require.Len(t, trades, 2)
	require.Equal(t, "t1", trades[0].TakerTxID)

	trades, err = s.TradesForAddress("bob")
	require.NoError(t, err)
	require.Len(t, trades, 1)

	trades, err = s.TradesAt(12)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.Equal(t, "carol", trades[0].Taker)

	tr, ok, err := s.Trade("t1", "m1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(50), tr.Quantity)
}

func TestJournal_OrderAndPrune(t *testing.T) {
	s := newStore(t)
	for _, h := range []int64{100, 9, 10} {
		require.NoError(t, s.PutBlock(index.JournalEntry{Height: h, Hash: "h", Raw: []byte(`{}`)}))
	}

	var heights []int64
	require.NoError(t, s.BlocksFrom(10, func(e index.JournalEntry) bool {
		heights = append(heights, e.Height)
		return true
	}))
	require.Equal(t, []int64{10, 100}, heights)

	last, ok, err := s.LastBlock()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(100), last.Height)

	require.NoError(t, s.PruneJournal(10))
	_, ok, err = s.Block(9)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeleteFrom_DropsEverythingAtOrAbove(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.PutTxs([]index.TxRecord{
		{TxID: "old", Block: 9},
		{TxID: "new", Block: 10},
	}))
	require.NoError(t, s.PutTrades([]index.TradeRecord{
		{Block: 9, TakerTxID: "old", MakerTxID: "x", Taker: "a", Maker: "b"},
		{Block: 10, TakerTxID: "new", MakerTxID: "x", Taker: "a", Maker: "b"},
	}))
	require.NoError(t, s.PutBlock(index.JournalEntry{Height: 9}))
	require.NoError(t, s.PutBlock(index.JournalEntry{Height: 10}))

	require.NoError(t, s.DeleteFrom(10))

	ok, err := s.HasTx("old")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.HasTx("new")
	require.NoError(t, err)
	require.False(t, ok)

	trades, err := s.TradesForAddress("a")
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.Equal(t, "old", trades[0].TakerTxID)

	last, _, err := s.LastBlock()
	require.NoError(t, err)
	require.Equal(t, int64(9), last.Height)
}
