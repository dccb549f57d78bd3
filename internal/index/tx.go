package index

import (
	"fmt"

	"TradeLedger/internal/kvstore"
)

// TxRecord is the persisted outcome of one instruction.
type TxRecord struct {
	TxID   string `json:"txid"`
	Block  int64  `json:"block"`
	Index  int    `json:"index"`
	Kind   string `json:"kind"`
	Sender string `json:"sender"`
	Amount int64  `json:"amount"`
	Valid  bool   `json:"valid"`
	Code   int    `json:"code"`
	Reason string `json:"reason,omitempty"`
}

func txKey(txid string) []byte {
	return kvstore.Key(prefixTx, txid)
}

func txHeightKey(r TxRecord) []byte {
	return kvstore.Key(prefixTxHeight, r.Block, int64(r.Index), r.TxID)
}

// PutTxs writes records in one batch.
func (s *Store) PutTxs(records []TxRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := s.kv.NewBatch()
	for _, r := range records {
		value, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode tx %s: %w", r.TxID, err)
		}
		batch.Set(txKey(r.TxID), value)
		batch.Set(txHeightKey(r), []byte(r.TxID))
	}
	return batch.Write()
}

// Tx looks up a transaction; false when it was never indexed.
func (s *Store) Tx(txid string) (TxRecord, bool, error) {
	value, err := s.kv.Get(txKey(txid))
	if err != nil || value == nil {
		return TxRecord{}, false, err
	}
	var r TxRecord
	if err := json.Unmarshal(value, &r); err != nil {
		return TxRecord{}, false, fmt.Errorf("decode tx %s: %w", txid, err)
	}
	return r, true, nil
}

// HasTx reports whether txid was indexed.
func (s *Store) HasTx(txid string) (bool, error) {
	return s.kv.Has(txKey(txid))
}

// TxsAt returns the records of block height in transaction order.
func (s *Store) TxsAt(height int64) ([]TxRecord, error) {
	var ids []string
	err := s.kv.Iterate(kvstore.Key(prefixTxHeight, height), func(_, value []byte) bool {
		ids = append(ids, string(value))
		return true
	})
	if err != nil {
		return nil, err
	}
	out := make([]TxRecord, 0, len(ids))
	for _, id := range ids {
		r, ok, err := s.Tx(id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}
