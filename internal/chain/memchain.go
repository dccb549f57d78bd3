package chain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// MemChain is an in-memory chain for tests and replays. Blocks cut off by
// Rewind stay known but leave the active chain.
type MemChain struct {
	mu      sync.RWMutex
	active  []Header
	headers map[string]Header
	txs     map[string]*wire.MsgTx
}

var _ Accessor = (*MemChain)(nil)

func NewMemChain() *MemChain {
	return &MemChain{
		headers: make(map[string]Header),
		txs:     make(map[string]*wire.MsgTx),
	}
}

// Append extends the active chain with a block whose hash is derived from
// the parent hash and tag. Returns the new header.
func (c *MemChain) Append(tag string, t time.Time) Header {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := ""
	height := int64(0)
	if n := len(c.active); n > 0 {
		prev = c.active[n-1].Hash
		height = c.active[n-1].Height + 1
	}
	hash := chainhash.DoubleHashH([]byte(fmt.Sprintf("%s/%d/%s", prev, height, tag))).String()
	h := Header{Height: height, Hash: hash, PrevHash: prev, Time: t.UTC(), OnActiveChain: true}
	c.active = append(c.active, h)
	c.headers[hash] = h
	return h
}

// Rewind drops every block at or above height from the active chain.
func (c *MemChain) Rewind(height int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.active) > 0 && c.active[len(c.active)-1].Height >= height {
		h := c.active[len(c.active)-1]
		h.OnActiveChain = false
		c.headers[h.Hash] = h
		c.active = c.active[:len(c.active)-1]
	}
}

// AddTx makes tx retrievable by its hash.
func (c *MemChain) AddTx(tx *wire.MsgTx) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := tx.TxHash().String()
	c.txs[id] = tx
	return id
}

func (c *MemChain) BlockHeight(ctx context.Context) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.active) == 0 {
		return -1, nil
	}
	return c.active[len(c.active)-1].Height, nil
}

func (c *MemChain) BlockHashAt(ctx context.Context, height int64) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if height < 0 || height >= int64(len(c.active)) {
		return "", fmt.Errorf("%w: height %d", ErrBlockNotFound, height)
	}
	return c.active[height].Hash, nil
}

func (c *MemChain) BlockHeader(ctx context.Context, hash string) (Header, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.headers[hash]
	if !ok {
		return Header{}, fmt.Errorf("%w: %s", ErrBlockNotFound, hash)
	}
	return h, nil
}

func (c *MemChain) Transaction(ctx context.Context, txid string) (*wire.MsgTx, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tx, ok := c.txs[txid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTxNotFound, txid)
	}
	return tx, nil
}
