// Package metadex is the token-for-token continuous double auction. Prices
// are exact rationals; fills round the quantity delivered down and the
// payment up so the maker never trades below its quoted price.
package metadex

import (
	"errors"

	fpmath "TradeLedger/internal/math"
)

var (
	ErrZeroPrice        = errors.New("order price is zero")
	ErrSameToken        = errors.New("token for sale equals token desired")
	ErrCrossEcosystem   = errors.New("tokens belong to different ecosystems")
	ErrNothingToCancel  = errors.New("no matching orders to cancel")
	ErrInvalidEcosystem = errors.New("invalid ecosystem")
)

// Order is a MetaDEx order. AmountForSale and AmountDesired are the
// original terms and fix the price; Remaining and Received track fills.
type Order struct {
	Address       string
	TxID          string
	Block         int64
	Index         int
	TokenForSale  uint32
	AmountForSale int64
	Remaining     int64
	TokenDesired  uint32
	AmountDesired int64
	Received      int64
}

// UnitPrice is units of the desired token asked per unit for sale.
func (o *Order) UnitPrice() fpmath.Price {
	return fpmath.NewPrice(o.AmountDesired, o.AmountForSale)
}

// InversePrice is units offered per desired unit.
func (o *Order) InversePrice() fpmath.Price {
	return fpmath.NewPrice(o.AmountForSale, o.AmountDesired)
}

// StillDesired is the amount of the desired token not yet received.
func (o *Order) StillDesired() int64 {
	return max(o.AmountDesired-o.Received, 0)
}

func (o *Order) before(other *Order) bool {
	if o.Block != other.Block {
		return o.Block < other.Block
	}
	return o.Index < other.Index
}

// Outcome summarizes what placing an order did.
type Outcome uint8

const (
	OutcomeNothing Outcome = iota
	// taker and last maker both filled
	OutcomeTraded
	// taker rests with a remainder
	OutcomeTradedMoreInSeller
	// last maker keeps a remainder
	OutcomeTradedMoreInBuyer
	// rested without trading
	OutcomeAdded
)

var outcomeNames = [...]string{"nothing", "traded", "traded-more-in-seller", "traded-more-in-buyer", "added"}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return "unknown"
}

// Status is the lifecycle state of an order as reported to queries.
type Status uint8

const (
	StatusOpen Status = iota
	StatusOpenPartFilled
	StatusFilled
	StatusCancelled
	StatusCancelledPartFilled
)

var statusNames = [...]string{"open", "open-part-filled", "filled", "cancelled", "cancelled-part-filled"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

// StatusOf derives the status of an order from whether it still rests in
// the book, whether it was cancelled, and how much of it traded.
func StatusOf(o Order, resting, cancelled bool) Status {
	traded := o.Remaining < o.AmountForSale || o.Received > 0
	switch {
	case resting && traded:
		return StatusOpenPartFilled
	case resting:
		return StatusOpen
	case cancelled && traded:
		return StatusCancelledPartFilled
	case cancelled:
		return StatusCancelled
	default:
		return StatusFilled
	}
}

// Match is one fill between a taker and a resting maker.
type Match struct {
	TakerTxID    string
	MakerTxID    string
	Taker        string
	Maker        string
	TokenBought  uint32 // maker's token for sale
	AmountBought int64
	TokenPaid    uint32 // taker's token for sale
	AmountPaid   int64
	TakerFee     int64
	MakerRebate  int64
	Price        fpmath.Price // maker unit price
	Block        int64
	Index        int
	MakerFilled  bool
}

// Cancellation records an order removed from the book by its owner.
type Cancellation struct {
	TxID     string // cancelling transaction
	Order    Order
	Refunded int64
	Block    int64
}
