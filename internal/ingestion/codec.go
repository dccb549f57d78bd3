package ingestion

import (
	"errors"
	"fmt"
	"time"

	"TradeLedger/internal/instruction"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var ErrMalformedBlock = errors.New("malformed block")

// --- JSON wire format ---
// A block document carries its header and the decoded instructions in
// transaction order. Every instruction is a flat object with a "kind"
// discriminator, the transaction header fields and the payload fields.

type wireBlock struct {
	Height       int64                 `json:"height"`
	Hash         string                `json:"hash"`
	PrevHash     string                `json:"prev_hash"`
	Time         time.Time             `json:"time"`
	Instructions []jsoniter.RawMessage `json:"instructions"`
}

type wireKind struct {
	Kind string `json:"kind"`
}

// DecodeBlock parses a block document. Block context (height, hash, time)
// is copied into every instruction header.
func DecodeBlock(data []byte) (*instruction.Block, error) {
	var wb wireBlock
	if err := json.Unmarshal(data, &wb); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBlock, err)
	}
	switch {
	case wb.Height < 0:
		return nil, fmt.Errorf("%w: height %d", ErrMalformedBlock, wb.Height)
	case wb.Hash == "":
		return nil, fmt.Errorf("%w: block %d has no hash", ErrMalformedBlock, wb.Height)
	}

	b := &instruction.Block{
		Height:       wb.Height,
		Hash:         wb.Hash,
		PrevHash:     wb.PrevHash,
		Time:         wb.Time.UTC(),
		Instructions: make([]instruction.Instruction, 0, len(wb.Instructions)),
	}
	for i, raw := range wb.Instructions {
		ins, err := decodeInstruction(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: block %d instruction %d: %v", ErrMalformedBlock, wb.Height, i, err)
		}
		h := ins.Head()
		if h.TxID == "" {
			return nil, fmt.Errorf("%w: block %d instruction %d has no txid", ErrMalformedBlock, wb.Height, i)
		}
		h.Block = b.Height
		h.BlockHash = b.Hash
		h.BlockTime = b.Time
		b.Instructions = append(b.Instructions, ins)
	}
	return b, nil
}

func decodeInstruction(raw []byte) (instruction.Instruction, error) {
	var k wireKind
	if err := json.Unmarshal(raw, &k); err != nil {
		return nil, err
	}
	kind, err := instruction.ParseKind(k.Kind)
	if err != nil {
		return nil, err
	}
	ins, err := instruction.New(kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, ins); err != nil {
		return nil, fmt.Errorf("%s: %w", k.Kind, err)
	}
	return ins, nil
}

// EncodeBlock renders b as a block document that DecodeBlock reads back.
func EncodeBlock(b *instruction.Block) ([]byte, error) {
	wb := wireBlock{
		Height:       b.Height,
		Hash:         b.Hash,
		PrevHash:     b.PrevHash,
		Time:         b.Time.UTC(),
		Instructions: make([]jsoniter.RawMessage, 0, len(b.Instructions)),
	}
	for i, ins := range b.Instructions {
		raw, err := encodeInstruction(ins)
		if err != nil {
			return nil, fmt.Errorf("encode instruction %d: %w", i, err)
		}
		wb.Instructions = append(wb.Instructions, raw)
	}
	return json.Marshal(wb)
}

func encodeInstruction(ins instruction.Instruction) (jsoniter.RawMessage, error) {
	body, err := json.Marshal(ins)
	if err != nil {
		return nil, err
	}
	fields := map[string]jsoniter.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	kind, err := json.Marshal(ins.Kind().String())
	if err != nil {
		return nil, err
	}
	fields["kind"] = kind
	return json.Marshal(fields)
}
