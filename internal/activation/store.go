package activation

import (
	"fmt"

	"TradeLedger/internal/kvstore"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	prefixActivation = "act"
	prefixAlert      = "alert"
)

// Record is an accepted activation or deactivation message.
type Record struct {
	Feature          Feature `json:"feature"`
	ActivationBlock  int64   `json:"activation_block"`
	MinClientVersion uint32  `json:"min_client_version"`
	Deactivate       bool    `json:"deactivate,omitempty"`
	TxID             string  `json:"txid"`
	Block            int64   `json:"block"`
}

// Alert is an operator notice that stays active until its expiry block.
type Alert struct {
	Type        uint16 `json:"type"`
	ExpiryBlock int64  `json:"expiry_block"`
	Message     string `json:"message"`
	TxID        string `json:"txid"`
	Block       int64  `json:"block"`
}

// Store persists activation records and alerts ordered by block.
type Store struct {
	kv kvstore.Store
}

func NewStore(kv kvstore.Store) *Store {
	return &Store{kv: kv}
}

// Add records an accepted activation message.
func (s *Store) Add(r Record) error {
	value, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.kv.Set(kvstore.Key(prefixActivation, r.Block, r.TxID), value)
}

// Records returns every record in block order.
func (s *Store) Records() ([]Record, error) {
	var out []Record
	var decodeErr error
	err := s.kv.Iterate(kvstore.Key(prefixActivation), func(_, value []byte) bool {
		var r Record
		if decodeErr = json.Unmarshal(value, &r); decodeErr != nil {
			return false
		}
		out = append(out, r)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, decodeErr
}

// AddAlert records an alert.
func (s *Store) AddAlert(a Alert) error {
	value, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return s.kv.Set(kvstore.Key(prefixAlert, a.ExpiryBlock, a.TxID), value)
}

// ActiveAlerts returns alerts whose expiry is after height, soonest first.
func (s *Store) ActiveAlerts(height int64) ([]Alert, error) {
	var out []Alert
	var decodeErr error
	err := s.kv.IterateRange(kvstore.Key(prefixAlert, height+1), kvstore.Key(prefixAlert, kvstore.MaxInt64), func(_, value []byte) bool {
		var a Alert
		if decodeErr = json.Unmarshal(value, &a); decodeErr != nil {
			return false
		}
		out = append(out, a)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, decodeErr
}

// DeleteFrom removes records and alerts created at or above height.
func (s *Store) DeleteFrom(height int64) error {
	batch := s.kv.NewBatch()
	if err := s.kv.IterateRange(kvstore.Key(prefixActivation, height), kvstore.Key(prefixActivation, kvstore.MaxInt64), func(key, _ []byte) bool {
		batch.Delete(key)
		return true
	}); err != nil {
		return err
	}

	var decodeErr error
	if err := s.kv.Iterate(kvstore.Key(prefixAlert), func(key, value []byte) bool {
		var a Alert
		if decodeErr = json.Unmarshal(value, &a); decodeErr != nil {
			return false
		}
		if a.Block >= height {
			batch.Delete(key)
		}
		return true
	}); err != nil {
		return err
	}
	if decodeErr != nil {
		return fmt.Errorf("decode alert: %w", decodeErr)
	}
	if batch.Len() == 0 {
		return nil
	}
	return batch.Write()
}

// Rebuild resets the schedule and replays every stored record.
func (s *Store) Rebuild(schedule *Schedule) error {
	records, err := s.Records()
	if err != nil {
		return err
	}
	schedule.Reset()
	for _, r := range records {
		if r.Deactivate {
			schedule.Deactivate(r.Feature)
		} else {
			schedule.Activate(r.Feature, r.ActivationBlock)
		}
	}
	return nil
}
