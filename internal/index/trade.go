package index

import (
	"fmt"

	"TradeLedger/internal/kvstore"
)

// TradeRecord is one fill in any of the three markets. For DEx and
// MetaDEx fills Quantity is the amount bought and AmountPaid what the
// taker paid; for contract fills Quantity is contracts and Price the fill
// price.
type TradeRecord struct {
	Market      string `json:"market"`
	Block       int64  `json:"block"`
	Index       int    `json:"index"`
	TakerTxID   string `json:"taker_txid"`
	MakerTxID   string `json:"maker_txid"`
	Taker       string `json:"taker"`
	Maker       string `json:"maker"`
	TokenBought uint32 `json:"token_bought,omitempty"`
	TokenPaid   uint32 `json:"token_paid,omitempty"`
	Quantity    int64  `json:"quantity"`
	AmountPaid  int64  `json:"amount_paid,omitempty"`
	Price       int64  `json:"price"`
	TakerFee    int64  `json:"taker_fee,omitempty"`
	MakerRebate int64  `json:"maker_rebate,omitempty"`
	TakerStatus string `json:"taker_status,omitempty"`
	MakerStatus string `json:"maker_status,omitempty"`
	Liquidation bool   `json:"liquidation,omitempty"`
}

func tradeKey(takerTx, makerTx string) []byte {
	return kvstore.Key(prefixTrade, takerTx, makerTx)
}

// keys returns the primary key followed by every secondary key.
func (t TradeRecord) keys() [][]byte {
	keys := [][]byte{
		tradeKey(t.TakerTxID, t.MakerTxID),
		kvstore.Key(prefixTradeHeight, t.Block, t.TakerTxID, t.MakerTxID),
		kvstore.Key(prefixTradeAddr, t.Taker, t.Block, t.TakerTxID, t.MakerTxID),
	}
	if t.Maker != t.Taker {
		keys = append(keys, kvstore.Key(prefixTradeAddr, t.Maker, t.Block, t.TakerTxID, t.MakerTxID))
	}
	return keys
}

// PutTrades writes trades in one batch.
func (s *Store) PutTrades(trades []TradeRecord) error {
	if len(trades) == 0 {
		return nil
	}
	batch := s.kv.NewBatch()
	for _, t := range trades {
		value, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("encode trade %s/%s: %w", t.TakerTxID, t.MakerTxID, err)
		}
		keys := t.keys()
		batch.Set(keys[0], value)
		for _, k := range keys[1:] {
			batch.Set(k, nil)
		}
	}
	return batch.Write()
}

// Trade returns the fill between two transactions.
func (s *Store) Trade(takerTx, makerTx string) (TradeRecord, bool, error) {
	value, err := s.kv.Get(tradeKey(takerTx, makerTx))
	if err != nil || value == nil {
		return TradeRecord{}, false, err
	}
	var t TradeRecord
	if err := json.Unmarshal(value, &t); err != nil {
		return TradeRecord{}, false, fmt.Errorf("decode trade: %w", err)
	}
	return t, true, nil
}

// TradesForAddress returns the address's fills as taker or maker, oldest
// first.
func (s *Store) TradesForAddress(address string) ([]TradeRecord, error) {
	return s.collect(kvstore.Key(prefixTradeAddr, address), nil, func(key []byte) (string, string, error) {
		var (
			prefix, addr, taker, maker string
			block                      int64
		)
		err := kvstore.ParseKey(key, &prefix, &addr, &block, &taker, &maker)
		return taker, maker, err
	})
}

// TradesAt returns the fills of block height.
func (s *Store) TradesAt(height int64) ([]TradeRecord, error) {
	return s.tradesInRange(height, height+1)
}

func (s *Store) tradesInRange(from, to int64) ([]TradeRecord, error) {
	start, end := kvstore.Key(prefixTradeHeight, from), kvstore.Key(prefixTradeHeight, to)
	return s.collect(start, end, func(key []byte) (string, string, error) {
		var (
			prefix, taker, maker string
			block                int64
		)
		err := kvstore.ParseKey(key, &prefix, &block, &taker, &maker)
		return taker, maker, err
	})
}

// collect resolves secondary keys to trades. A nil end iterates start as
// a prefix.
func (s *Store) collect(start, end []byte, parse func(key []byte) (string, string, error)) ([]TradeRecord, error) {
	type pair struct{ taker, maker string }
	var (
		pairs    []pair
		parseErr error
	)
	visit := func(key, _ []byte) bool {
		taker, maker, err := parse(key)
		if err != nil {
			parseErr = err
			return false
		}
		pairs = append(pairs, pair{taker, maker})
		return true
	}
	var err error
	if end == nil {
		err = s.kv.Iterate(start, visit)
	} else {
		err = s.kv.IterateRange(start, end, visit)
	}
	if err != nil {
		return nil, err
	}
	if parseErr != nil {
		return nil, fmt.Errorf("trade key: %w", parseErr)
	}

	out := make([]TradeRecord, 0, len(pairs))
	for _, p := range pairs {
		t, ok, err := s.Trade(p.taker, p.maker)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, t)
		}
	}
	return out, nil
}
