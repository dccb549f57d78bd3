package index

import (
	"fmt"

	"TradeLedger/internal/kvstore"
)

// JournalEntry is one processed block as it arrived on the wire, kept so
// blocks after a snapshot can be replayed without the source.
type JournalEntry struct {
	Height    int64  `json:"height"`
	Hash      string `json:"hash"`
	PrevHash  string `json:"prev_hash"`
	StateHash string `json:"state_hash"`
	Raw       []byte `json:"raw"`
}

func journalKey(height int64) []byte {
	return kvstore.Key(prefixBlock, height)
}

// PutBlock records a processed block, replacing any entry at its height.
func (s *Store) PutBlock(e JournalEntry) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode block %d: %w", e.Height, err)
	}
	return s.kv.Set(journalKey(e.Height), value)
}

// Block returns the journal entry at height.
func (s *Store) Block(height int64) (JournalEntry, bool, error) {
	value, err := s.kv.Get(journalKey(height))
	if err != nil || value == nil {
		return JournalEntry{}, false, err
	}
	var e JournalEntry
	if err := json.Unmarshal(value, &e); err != nil {
		return JournalEntry{}, false, fmt.Errorf("decode block %d: %w", height, err)
	}
	return e, true, nil
}

// BlocksFrom visits entries from height upward until fn returns false.
func (s *Store) BlocksFrom(height int64, fn func(JournalEntry) bool) error {
	var decodeErr error
	err := s.kv.IterateRange(journalKey(height), journalKey(kvstore.MaxInt64), func(_, value []byte) bool {
		var e JournalEntry
		if decodeErr = json.Unmarshal(value, &e); decodeErr != nil {
			return false
		}
		return fn(e)
	})
	if err != nil {
		return err
	}
	return decodeErr
}

// LastBlock returns the highest journaled block.
func (s *Store) LastBlock() (JournalEntry, bool, error) {
	var (
		last      JournalEntry
		found     bool
		decodeErr error
	)
	err := s.kv.ReverseIterate(kvstore.Key(prefixBlock), func(_, value []byte) bool {
		decodeErr = json.Unmarshal(value, &last)
		found = decodeErr == nil
		return false
	})
	if err != nil {
		return JournalEntry{}, false, err
	}
	if decodeErr != nil {
		return JournalEntry{}, false, decodeErr
	}
	return last, found, nil
}

// PruneJournal drops journal entries below height.
func (s *Store) PruneJournal(below int64) error {
	batch := s.kv.NewBatch()
	if err := s.kv.IterateRange(journalKey(0), journalKey(below), func(key, _ []byte) bool {
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
