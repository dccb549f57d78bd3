package core

import (
	"container/list"
	"fmt"

	"TradeLedger/internal/observability"
)

// IdempotencyChecker implements two-tier transaction deduplication
type IdempotencyChecker struct {
	// Tier 1: in-memory LRU of recently applied txids
	lru *IdempotencyLRU

	// Tier 2: the persisted tx index
	index TxIndex

	metrics     *observability.Metrics
	tier2Errors int64
}

// TxIndex is the tier 2 lookup, satisfied by *index.Store.
type TxIndex interface {
	HasTx(txid string) (bool, error)
}

func NewIdempotencyChecker(capacity int, index TxIndex, metrics *observability.Metrics) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:     NewIdempotencyLRU(capacity),
		index:   index,
		metrics: metrics,
	}
}

// IsDuplicate checks if a txid has been applied (two-tier lookup). A
// failed index read is an error, never a "not seen".
func (ic *IdempotencyChecker) IsDuplicate(txid string) (bool, error) {
	if ic.lru.Contains(txid) {
		ic.record("lru")
		return true, nil
	}

	if ic.index != nil {
		isDup, err := ic.index.HasTx(txid)
		if err != nil {
			ic.tier2Errors++
			return false, fmt.Errorf("tx index lookup %s: %w", txid, err)
		}
		if isDup {
			ic.record("index")
			ic.lru.Add(txid)
			return true, nil
		}
	}
	return false, nil
}

func (ic *IdempotencyChecker) record(tier string) {
	if ic.metrics != nil {
		ic.metrics.Duplicates.WithLabelValues(tier).Inc()
	}
}

// MarkProcessed adds txid to the LRU after it was applied
func (ic *IdempotencyChecker) MarkProcessed(txid string) {
	ic.lru.Add(txid)
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.lru.Size()))
	}
}

// Reset drops the LRU. Required after a rollback: txids of orphaned
// blocks may legitimately reappear on the new branch.
func (ic *IdempotencyChecker) Reset() {
	ic.lru.Clear()
}

// Tier2Errors returns how many index lookups failed.
func (ic *IdempotencyChecker) Tier2Errors() int64 {
	return ic.tier2Errors
}

// --- LRU Implementation ---

// IdempotencyLRU is an LRU set of txids.
// Not thread-safe: owned by the single writer of the core engine.
type IdempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// Contains checks if key exists (promotes to front)
func (lru *IdempotencyLRU) Contains(key string) bool {
	elem, exists := lru.cache[key]
	if exists {
		lru.lruList.MoveToFront(elem)
		return true
	}
	return false
}

// Add inserts a key (or promotes if exists)
func (lru *IdempotencyLRU) Add(key string) {
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		return
	}
	lru.cache[key] = lru.lruList.PushFront(key)
	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *IdempotencyLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem != nil {
		lru.lruList.Remove(elem)
		delete(lru.cache, elem.Value.(string))
		lru.evictions++
	}
}

// Clear removes every key.
func (lru *IdempotencyLRU) Clear() {
	lru.cache = make(map[string]*list.Element, lru.capacity)
	lru.lruList.Init()
}

// Size returns current number of entries
func (lru *IdempotencyLRU) Size() int {
	return lru.lruList.Len()
}

// Evictions returns total evictions
func (lru *IdempotencyLRU) Evictions() int64 {
	return lru.evictions
}
