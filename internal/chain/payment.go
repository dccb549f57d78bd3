package chain

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcutil"
)

// Params resolves a network name to its chain parameters.
func Params(network string) (*chaincfg.Params, error) {
	switch network {
	case "", "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "simnet":
		return &chaincfg.SimNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", network)
	}
}

// PaymentVerifier checks DEx payments against the outputs of the paying
// transaction.
type PaymentVerifier struct {
	chain  Accessor
	params *chaincfg.Params
}

func NewPaymentVerifier(a Accessor, params *chaincfg.Params) *PaymentVerifier {
	return &PaymentVerifier{chain: a, params: params}
}

// PaidTo sums the outputs of txid that pay address.
func (v *PaymentVerifier) PaidTo(ctx context.Context, txid, address string) (int64, error) {
	if _, err := btcutil.DecodeAddress(address, v.params); err != nil {
		return 0, fmt.Errorf("address %q: %w", address, err)
	}
	tx, err := v.chain.Transaction(ctx, txid)
	if err != nil {
		return 0, err
	}
	var paid int64
	for _, out := range tx.TxOut {
		_, addrs, _, err := txscript.ExtractPkScriptAddrs(out.PkScript, v.params)
		if err != nil || len(addrs) != 1 {
			continue
		}
		if addrs[0].EncodeAddress() == address {
			paid += out.Value
		}
	}
	return paid, nil
}

// FormatAmount renders base units of the chain currency.
func FormatAmount(units int64) string {
	return btcutil.Amount(units).String()
}
