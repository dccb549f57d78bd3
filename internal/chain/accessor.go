// Package chain isolates the base chain: block headers, transactions, the
// payload codec carried in OP_RETURN outputs and payment verification.
package chain

import (
	"context"
	"errors"
	"time"

	"github.com/btcsuite/btcd/wire"
)

var (
	ErrBlockNotFound = errors.New("block not found")
	ErrTxNotFound    = errors.New("transaction not found")
)

// Header is what the core needs to know about a block.
type Header struct {
	Height        int64
	Hash          string
	PrevHash      string
	Time          time.Time
	OnActiveChain bool
}

// Accessor reads the base chain.
type Accessor interface {
	BlockHeight(ctx context.Context) (int64, error)
	BlockHashAt(ctx context.Context, height int64) (string, error)
	// BlockHeader returns ErrBlockNotFound for unknown hashes. Known blocks
	// that were reorganized away have OnActiveChain unset.
	BlockHeader(ctx context.Context, hash string) (Header, error)
	Transaction(ctx context.Context, txid string) (*wire.MsgTx, error)
}

// IsActive reports whether hash is a block on the active chain.
func IsActive(ctx context.Context, a Accessor, hash string) (bool, error) {
	h, err := a.BlockHeader(ctx, hash)
	if errors.Is(err, ErrBlockNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return h.OnActiveChain, nil
}
