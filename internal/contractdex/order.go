// Package contractdex is the leveraged futures book: resting orders,
// per-address positions with posted margin, fees and the per-block risk
// pass that issues margin calls and forced liquidations.
package contractdex

import (
	"TradeLedger/internal/instruction"
	fpmath "TradeLedger/internal/math"
)

// Order is a contract order. Reserved is the collateral still held in the
// contract-order reserve for the unfilled Remaining.
type Order struct {
	Address     string
	TxID        string
	Block       int64
	Index       int
	Contract    uint32
	Amount      int64
	Remaining   int64
	Price       int64
	Action      instruction.Action
	Leverage    int64
	Reserved    int64
	Liquidation bool
}

func (o *Order) sign() int64 {
	if o.Action == instruction.ActionSell {
		return -1
	}
	return 1
}

func (o *Order) before(other *Order) bool {
	if o.Block != other.Block {
		return o.Block < other.Block
	}
	return o.Index < other.Index
}

// takeReserve consumes the reservation share of a fill of qty. The last
// fill takes whatever is left so nothing is stranded by rounding.
func (o *Order) takeReserve(qty int64) int64 {
	share := o.Reserved
	if qty < o.Remaining {
		share = fpmath.MustMulDiv(o.Reserved, qty, o.Remaining, fpmath.RoundDown)
	}
	o.Reserved -= share
	o.Remaining -= qty
	return share
}

// Status labels a position transition for trade history.
type Status uint8

const (
	StatusNone Status = iota
	StatusOpenLongPosition
	StatusOpenShortPosition
	StatusLongPosIncreased
	StatusShortPosIncreased
	StatusLongPosNettedPartly
	StatusShortPosNettedPartly
	StatusLongPosNetted
	StatusShortPosNetted
	StatusOpenShortPosByLongPosNetted
	StatusOpenLongPosByShortPosNetted
)

var statusNames = [...]string{
	"None",
	"OpenLongPosition",
	"OpenShortPosition",
	"LongPosIncreased",
	"ShortPosIncreased",
	"LongPosNettedPartly",
	"ShortPosNettedPartly",
	"LongPosNetted",
	"ShortPosNetted",
	"OpenShortPosByLongPosNetted",
	"OpenLongPosByShortPosNetted",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "Unknown"
}

// classify labels the move of a position from before to after.
func classify(before, after int64) Status {
	switch {
	case before == 0 && after > 0:
		return StatusOpenLongPosition
	case before == 0 && after < 0:
		return StatusOpenShortPosition
	case before > 0 && after > before:
		return StatusLongPosIncreased
	case before < 0 && after < before:
		return StatusShortPosIncreased
	case before > 0 && after > 0:
		return StatusLongPosNettedPartly
	case before < 0 && after < 0:
		return StatusShortPosNettedPartly
	case before > 0 && after == 0:
		return StatusLongPosNetted
	case before < 0 && after == 0:
		return StatusShortPosNetted
	case before > 0:
		return StatusOpenShortPosByLongPosNetted
	case before < 0:
		return StatusOpenLongPosByShortPosNetted
	}
	return StatusNone
}

// Trade is one fill between a taker and a resting maker.
type Trade struct {
	Contract    uint32
	TakerTxID   string
	MakerTxID   string
	Taker       string
	Maker       string
	TakerAction instruction.Action
	Price       int64
	Quantity    int64
	TakerBefore int64
	TakerAfter  int64
	MakerBefore int64
	MakerAfter  int64
	TakerStatus Status
	MakerStatus Status
	TakerFee    int64
	MakerRebate int64
	Liquidation bool
	Block       int64
	Index       int
}
