// Package index keeps the transaction index, trade history and the block
// journal in the KV store. Keys are orderedcode composites so every
// secondary index iterates in (height, ...) order.
package index

import (
	"fmt"

	"TradeLedger/internal/kvstore"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	prefixTx          = "tx"
	prefixTxHeight    = "txh"
	prefixTrade       = "trade"
	prefixTradeAddr   = "tradeaddr"
	prefixTradeHeight = "tradeh"
	prefixBlock       = "blk"
)

// Store is the index over a KV store.
type Store struct {
	kv kvstore.Store
}

func New(kv kvstore.Store) *Store {
	return &Store{kv: kv}
}

// DeleteFrom drops every tx, trade and journal entry at or above height.
// Rollback calls it before reloading an older snapshot.
func (s *Store) DeleteFrom(height int64) error {
	batch := s.kv.NewBatch()

	var scanErr error
	err := s.kv.IterateRange(kvstore.Key(prefixTxHeight, height), kvstore.Key(prefixTxHeight, kvstore.MaxInt64), func(key, _ []byte) bool {
		var (
			prefix, txid string
			block, idx   int64
		)
		if scanErr = kvstore.ParseKey(key, &prefix, &block, &idx, &txid); scanErr != nil {
			return false
		}
		batch.Delete(key)
		batch.Delete(txKey(txid))
		return true
	})
	if err != nil {
		return err
	}
	if scanErr != nil {
		return fmt.Errorf("tx height key: %w", scanErr)
	}

	trades, err := s.tradesInRange(height, kvstore.MaxInt64)
	if err != nil {
		return err
	}
	for _, t := range trades {
		for _, key := range t.keys() {
			batch.Delete(key)
		}
	}

	if err := s.kv.IterateRange(kvstore.Key(prefixBlock, height), kvstore.Key(prefixBlock, kvstore.MaxInt64), func(key, _ []byte) bool {
		batch.Delete(key)
		return true
	}); err != nil {
		return err
	}

	if batch.Len() == 0 {
		return nil
	}
	return batch.Write()
}
