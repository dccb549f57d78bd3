package ingestion_test

import (
	"errors"
	"testing"
	"time"

	"TradeLedger/internal/ingestion"
	"TradeLedger/internal/instruction"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestDecodeBlock_FlatInstructions(t *testing.T) {
	doc := `{
		"height": 42,
		"hash": "bb",
		"prev_hash": "aa",
		"time": "2024-03-01T12:00:00Z",
		"instructions": [
			{"kind": "simple_send", "txid": "t1", "index": 0, "sender": "alice", "receiver": "bob", "fee": 1000, "token": 3, "amount": 500},
			{"kind": "metadex_trade", "txid": "t2", "index": 1, "sender": "bob", "token_for_sale": 3, "amount_for_sale": 200, "token_desired": 4, "amount_desired": 100},
			{"kind": "contract_trade", "txid": "t3", "index": 2, "sender": "carol", "contract": 5, "amount": 10, "price": 100000000000, "action": 1, "leverage": 5, "order_type": 0}
		]
	}`

	b, err := ingestion.DecodeBlock([]byte(doc))
	require.NoError(t, err)
	require.Equal(t, int64(42), b.Height)
	require.Equal(t, "aa", b.PrevHash)
	require.Len(t, b.Instructions, 3)

	send, ok := b.Instructions[0].(*instruction.SimpleSend)
	require.True(t, ok, "got %T", b.Instructions[0])
	require.Equal(t, "bob", send.Receiver)
	require.Equal(t, uint32(3), send.Token)
	require.Equal(t, int64(500), send.Amount)
	require.Equal(t, int64(1000), send.Fee)

	// block context comes from the block, not the instruction
	require.Equal(t, int64(42), send.Block)
	require.Equal(t, "bb", send.BlockHash)
	require.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), send.BlockTime)

	trade := b.Instructions[1].(*instruction.MetaDExTrade)
	require.Equal(t, 1, trade.Index)
	require.Equal(t, int64(200), trade.AmountForSale)
	require.Equal(t, uint32(4), trade.TokenDesired)

	ct := b.Instructions[2].(*instruction.ContractTrade)
	require.Equal(t, instruction.ActionBuy, ct.Action)
	require.Equal(t, instruction.OrderLimit, ct.OrderType)
	require.Equal(t, int64(5), ct.Leverage)
}

func TestDecodeBlock_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{"height":`},
		{"negative height", `{"height": -1, "hash": "aa"}`},
		{"no hash", `{"height": 1}`},
		{"unknown kind", `{"height": 1, "hash": "aa", "instructions": [{"kind": "teleport", "txid": "t"}]}`},
		{"no txid", `{"height": 1, "hash": "aa", "instructions": [{"kind": "simple_send", "token": 3}]}`},
		{"wrong field type", `{"height": 1, "hash": "aa", "instructions": [{"kind": "grant", "txid": "t", "amount": "lots"}]}`},
		{"bad time", `{"height": 1, "hash": "aa", "time": "yesterday"}`},
		{"instructions not a list", `{"height": 1, "hash": "aa", "instructions": 5}`},
		{"instruction not an object", `{"height": 1, "hash": "aa", "instructions": [7]}`},
		{"empty document", ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ingestion.DecodeBlock([]byte(tt.doc))
			require.Error(t, err)
			require.True(t, errors.Is(err, ingestion.ErrMalformedBlock), "got %v", err)
		})
	}
}

func TestEncodeBlock_RoundTrip(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	head := func(txid string, index int) instruction.Header {
		return instruction.Header{TxID: txid, Block: 7, BlockHash: "h7", Index: index, Sender: "alice", Receiver: "bob", BlockTime: at}
	}
	in := &instruction.Block{
		Height:   7,
		Hash:     "h7",
		PrevHash: "h6",
		Time:     at,
		Instructions: []instruction.Instruction{
			&instruction.CreateFixed{
				Header:       head("t1", 0),
				PropertyInfo: instruction.PropertyInfo{Ecosystem: 1, Divisible: true, Name: "Quantum", URL: "https://example.org"},
				Amount:       1_000_000,
			},
			&instruction.DExSellOffer{Header: head("t2", 1), Token: 3, Amount: 100, AmountDesired: 50, PaymentWindow: 10, MinFee: 1, Action: instruction.OfferNew},
			&instruction.Activation{Header: head("t3", 2), FeatureID: 5, ActivationBlock: 20, MinClientVersion: 1},
		},
	}

	data, err := ingestion.EncodeBlock(in)
	require.NoError(t, err)
	out, err := ingestion.DecodeBlock(data)
	require.NoError(t, err)

	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}
