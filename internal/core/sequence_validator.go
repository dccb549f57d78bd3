package core

import (
	"errors"
	"fmt"
)

var (
	ErrBlockGap    = errors.New("block gap")
	ErrStaleBlock  = errors.New("stale block")
	ErrOutOfOrder  = errors.New("out-of-order transaction")
	ErrNoOpenBlock = errors.New("no open block")
	ErrBlockOpen   = errors.New("block already open")
)

// SequenceValidator enforces strict (block, index) ordering.
// Not thread-safe: owned by the single writer of the core engine.
type SequenceValidator struct {
	lastBlock int64 // last completed block, -1 before the first
	open      bool
	block     int64
	lastIndex int // last applied index in the open block, -1 before the first

	gaps       int64
	outOfOrder int64
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{lastBlock: -1, lastIndex: -1}
}

// ValidateBlock checks height follows the last completed block and opens
// it.
func (sv *SequenceValidator) ValidateBlock(height int64) error {
	if sv.open {
		return fmt.Errorf("%w: %d", ErrBlockOpen, sv.block)
	}
	expected := sv.lastBlock + 1
	if sv.lastBlock < 0 {
		expected = height
	}
	if height < expected {
		return fmt.Errorf("%w: expected=%d, got=%d", ErrStaleBlock, expected, height)
	}
	if height > expected {
		sv.gaps++
		return fmt.Errorf("%w: expected=%d, got=%d", ErrBlockGap, expected, height)
	}
	sv.open = true
	sv.block = height
	sv.lastIndex = -1
	return nil
}

// ValidateTx checks a transaction of the open block arrives after the
// previous one.
func (sv *SequenceValidator) ValidateTx(block int64, index int) error {
	if !sv.open {
		return ErrNoOpenBlock
	}
	if block != sv.block || index <= sv.lastIndex {
		sv.outOfOrder++
		return fmt.Errorf("%w: block=%d index=%d after block=%d index=%d",
			ErrOutOfOrder, block, index, sv.block, sv.lastIndex)
	}
	sv.lastIndex = index
	return nil
}

// CloseBlock completes the open block.
func (sv *SequenceValidator) CloseBlock() (int64, error) {
	if !sv.open {
		return 0, ErrNoOpenBlock
	}
	sv.open = false
	sv.lastBlock = sv.block
	return sv.block, nil
}

// InBlock reports whether a block is open.
func (sv *SequenceValidator) InBlock() bool {
	return sv.open
}

// LastBlock returns the last completed block, -1 before the first.
func (sv *SequenceValidator) LastBlock() int64 {
	return sv.lastBlock
}

// SetLastBlock initializes the position (used during recovery).
func (sv *SequenceValidator) SetLastBlock(height int64) {
	sv.lastBlock = height
	sv.open = false
	sv.lastIndex = -1
}

func (sv *SequenceValidator) Gaps() int64       { return sv.gaps }
func (sv *SequenceValidator) OutOfOrder() int64 { return sv.outOfOrder }
