package chain

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// DefaultMarker prefixes every protocol payload.
var DefaultMarker = []byte("tl")

var ErrPayloadTooLarge = errors.New("payload exceeds data carrier size")

// PayloadCodec puts protocol payloads into OP_RETURN outputs and finds
// them again.
type PayloadCodec struct {
	Marker []byte
}

func NewPayloadCodec(marker []byte) PayloadCodec {
	if len(marker) == 0 {
		marker = DefaultMarker
	}
	return PayloadCodec{Marker: marker}
}

// Encode returns the null-data script carrying marker || payload.
func (c PayloadCodec) Encode(payload []byte) ([]byte, error) {
	data := append(append([]byte(nil), c.Marker...), payload...)
	if len(data) > txscript.MaxDataCarrierSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(data))
	}
	return txscript.NullDataScript(data)
}

// Decode returns the payload of the first marked null-data output of tx.
func (c PayloadCodec) Decode(tx *wire.MsgTx) (bool, []byte, error) {
	for _, out := range tx.TxOut {
		if txscript.GetScriptClass(out.PkScript) != txscript.NullDataTy {
			continue
		}
		pushes, err := txscript.PushedData(out.PkScript)
		if err != nil {
			return false, nil, fmt.Errorf("parse null data: %w", err)
		}
		data := bytes.Join(pushes, nil)
		if bytes.HasPrefix(data, c.Marker) {
			return true, data[len(c.Marker):], nil
		}
	}
	return false, nil, nil
}
