package chain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
)

// RPCConfig locates a bitcoind-compatible node.
type RPCConfig struct {
	Host       string `yaml:"host"`
	User       string `yaml:"user"`
	Pass       string `yaml:"pass"`
	DisableTLS bool   `yaml:"disable_tls"`
}

// RPCAccessor reads the chain from a node over JSON-RPC.
type RPCAccessor struct {
	client *rpcclient.Client
}

var _ Accessor = (*RPCAccessor)(nil)

func NewRPCAccessor(cfg RPCConfig) (*RPCAccessor, error) {
	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		HTTPPostMode: true,
		DisableTLS:   cfg.DisableTLS,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("rpc client %s: %w", cfg.Host, err)
	}
	return &RPCAccessor{client: client}, nil
}

func (a *RPCAccessor) Close() {
	a.client.Shutdown()
}

func (a *RPCAccessor) BlockHeight(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return a.client.GetBlockCount()
}

func (a *RPCAccessor) BlockHashAt(ctx context.Context, height int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	h, err := a.client.GetBlockHash(height)
	if err != nil {
		return "", fmt.Errorf("block hash at %d: %w", height, err)
	}
	return h.String(), nil
}

func (a *RPCAccessor) BlockHeader(ctx context.Context, hash string) (Header, error) {
	if err := ctx.Err(); err != nil {
		return Header{}, err
	}
	h, err := chainhash.NewHashFromStr(hash)
	if err != nil {
		return Header{}, fmt.Errorf("block hash %q: %w", hash, err)
	}
	res, err := a.client.GetBlockHeaderVerbose(h)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return Header{}, fmt.Errorf("%w: %s", ErrBlockNotFound, hash)
		}
		return Header{}, fmt.Errorf("block header %s: %w", hash, err)
	}
	return Header{
		Height:        int64(res.Height),
		Hash:          res.Hash,
		PrevHash:      res.PreviousHash,
		Time:          time.Unix(res.Time, 0).UTC(),
		OnActiveChain: res.Confirmations >= 0,
	}, nil
}

func (a *RPCAccessor) Transaction(ctx context.Context, txid string) (*wire.MsgTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return nil, fmt.Errorf("txid %q: %w", txid, err)
	}
	tx, err := a.client.GetRawTransaction(h)
	if err != nil {
		if strings.Contains(err.Error(), "No such") {
			return nil, fmt.Errorf("%w: %s", ErrTxNotFound, txid)
		}
		return nil, fmt.Errorf("raw transaction %s: %w", txid, err)
	}
	return tx.MsgTx(), nil
}
