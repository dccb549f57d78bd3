package chain

import (
	"container/list"
	"context"
	"sync"

	"github.com/btcsuite/btcd/wire"
)

// CachedAccessor keeps recently fetched transactions in an LRU in front of
// another accessor. Headers are not cached: their active-chain flag moves.
type CachedAccessor struct {
	Accessor

	mu  sync.Mutex
	lru *txLRU

	hits, misses int64
}

func NewCachedAccessor(inner Accessor, capacity int) *CachedAccessor {
	return &CachedAccessor{Accessor: inner, lru: newTxLRU(capacity)}
}

func (c *CachedAccessor) Transaction(ctx context.Context, txid string) (*wire.MsgTx, error) {
	c.mu.Lock()
	if tx, ok := c.lru.get(txid); ok {
		c.hits++
		c.mu.Unlock()
		return tx, nil
	}
	c.misses++
	c.mu.Unlock()

	tx, err := c.Accessor.Transaction(ctx, txid)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.lru.add(txid, tx)
	c.mu.Unlock()
	return tx, nil
}

// Reset empties the cache. Called at the start of every scanning pass.
func (c *CachedAccessor) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru = newTxLRU(c.lru.capacity)
}

// Size returns the number of cached transactions.
func (c *CachedAccessor) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.size()
}

// Stats returns cache hits and misses since construction.
func (c *CachedAccessor) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

type txLRU struct {
	capacity int
	cache    map[string]*list.Element
	order    *list.List
}

type lruEntry struct {
	txid string
	tx   *wire.MsgTx
}

func newTxLRU(capacity int) *txLRU {
	if capacity < 1 {
		capacity = 1
	}
	return &txLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// get returns the entry and promotes it to most recently used.
func (l *txLRU) get(txid string) (*wire.MsgTx, bool) {
	elem, ok := l.cache[txid]
	if !ok {
		return nil, false
	}
	l.order.MoveToFront(elem)
	return elem.Value.(*lruEntry).tx, true
}

func (l *txLRU) add(txid string, tx *wire.MsgTx) {
	if elem, ok := l.cache[txid]; ok {
		elem.Value.(*lruEntry).tx = tx
		l.order.MoveToFront(elem)
		return
	}
	l.cache[txid] = l.order.PushFront(&lruEntry{txid: txid, tx: tx})
	if l.order.Len() > l.capacity {
		oldest := l.order.Back()
		l.order.Remove(oldest)
		delete(l.cache, oldest.Value.(*lruEntry).txid)
	}
}

func (l *txLRU) size() int { return l.order.Len() }
