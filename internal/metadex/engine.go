package metadex

import (
	"fmt"

	"TradeLedger/internal/activation"
	"TradeLedger/internal/instruction"
	"TradeLedger/internal/ledger"
	"TradeLedger/internal/market"
	fpmath "TradeLedger/internal/math"
	"TradeLedger/internal/registry"
)

const bpsDenominator = 10_000

// Params configures the fee split once the fees feature is active.
type Params struct {
	TakerFeeBps    int64
	MakerRebateBps int64
}

// DefaultParams returns the historical 5 bps taker fee and 4 bps maker
// rebate.
func DefaultParams() Params {
	return Params{TakerFeeBps: 5, MakerRebateBps: 4}
}

// PlaceResult is the outcome of PlaceOrder.
type PlaceResult struct {
	Order   Order
	Matches []Match
	Outcome Outcome
	Rested  bool
}

// Engine owns the MetaDEx book.
// Not thread-safe: owned by the single writer of the core engine.
type Engine struct {
	ledger   *ledger.Ledger
	schedule *activation.Schedule
	tracker  *market.Tracker
	params   Params

	book *book
	byTx map[string]*Order
}

func NewEngine(l *ledger.Ledger, schedule *activation.Schedule, tracker *market.Tracker, params Params) *Engine {
	return &Engine{
		ledger:   l,
		schedule: schedule,
		tracker:  tracker,
		params:   params,
		book:     newBook(),
		byTx:     make(map[string]*Order),
	}
}

// PlaceOrder matches a new order against the opposite side of its pair and
// rests any remainder.
func (e *Engine) PlaceOrder(tx *instruction.Header, forSale uint32, amountForSale int64, desired uint32, amountDesired int64) (PlaceResult, error) {
	if amountForSale <= 0 || amountDesired <= 0 {
		return PlaceResult{}, ErrZeroPrice
	}
	if forSale == desired {
		return PlaceResult{}, ErrSameToken
	}
	if registry.EcosystemOf(forSale) != registry.EcosystemOf(desired) {
		return PlaceResult{}, ErrCrossEcosystem
	}
	if _, dup := e.byTx[tx.TxID]; dup {
		return PlaceResult{}, fmt.Errorf("order %s already in book", tx.TxID)
	}
	if have := e.ledger.Balance(tx.Sender, forSale, ledger.Available); have < amountForSale {
		return PlaceResult{}, &ledger.InsufficientFundsError{
			Key:  ledger.Key(tx.Sender, forSale, ledger.Available),
			Have: have,
			Need: amountForSale,
		}
	}

	taker := &Order{
		Address:       tx.Sender,
		TxID:          tx.TxID,
		Block:         tx.Block,
		Index:         tx.Index,
		TokenForSale:  forSale,
		AmountForSale: amountForSale,
		Remaining:     amountForSale,
		TokenDesired:  desired,
		AmountDesired: amountDesired,
	}

	batch := ledger.NewBatch(tx.TxID, tx.Block)
	matches := e.match(batch, taker)

	res := PlaceResult{Matches: matches}
	if taker.Remaining > 0 && taker.StillDesired() > 0 {
		batch.Move(taker.Address, forSale, ledger.Available, ledger.SpotReserve, taker.Remaining, ledger.JournalTypeReserve)
		res.Rested = true
	}
	e.ledger.MustApply(batch)

	for _, m := range matches {
		if m.MakerFilled {
			maker := e.byTx[m.MakerTxID]
			e.book.remove(maker)
			delete(e.byTx, m.MakerTxID)
		}
		if e.tracker != nil {
			e.tracker.Record(market.MetaDEx(m.TokenBought, m.TokenPaid), m.Block, market.Fill{
				Price:    m.Price.Scaled(),
				Quantity: m.AmountBought,
			})
		}
	}
	if res.Rested {
		e.book.insert(taker)
		e.byTx[taker.TxID] = taker
	}

	res.Order = *taker
	switch {
	case len(matches) == 0 && res.Rested:
		res.Outcome = OutcomeAdded
	case len(matches) == 0:
		res.Outcome = OutcomeNothing
	case res.Rested:
		res.Outcome = OutcomeTradedMoreInSeller
	case !matches[len(matches)-1].MakerFilled:
		res.Outcome = OutcomeTradedMoreInBuyer
	default:
		res.Outcome = OutcomeTraded
	}
	return res, nil
}

// match walks the opposite side from the cheapest level and adds every fill
// to batch. Makers are updated in place; removal happens after the batch is
// applied.
func (e *Engine) match(batch *ledger.Batch, taker *Order) []Match {
	opposite := e.book.sideOf(pair{forSale: taker.TokenDesired, desired: taker.TokenForSale})
	if opposite == nil {
		return nil
	}
	limit := taker.InversePrice()
	fees := e.schedule.IsActive(activation.FeatureFees, taker.Block)

	var matches []Match
	for _, lvl := range opposite.levels {
		if limit.Cmp(lvl.price) < 0 {
			break
		}
		for _, maker := range lvl.orders {
			if taker.Remaining == 0 || taker.StillDesired() == 0 {
				return matches
			}
			if maker.Address == taker.Address {
				continue
			}
			if m, ok := e.fill(batch, taker, maker, fees); ok {
				matches = append(matches, m)
			}
		}
	}
	return matches
}

func (e *Engine) fill(batch *ledger.Batch, taker, maker *Order, fees bool) (Match, bool) {
	couldBuy, err := fpmath.MulDiv(taker.Remaining, maker.AmountForSale, maker.AmountDesired, fpmath.RoundDown)
	if err != nil {
		couldBuy = maker.Remaining
	}
	qty := min(couldBuy, maker.Remaining, taker.StillDesired())
	if qty == 0 {
		return Match{}, false
	}
	pay := fpmath.MustMulDiv(qty, maker.AmountDesired, maker.AmountForSale, fpmath.RoundUp)
	if fpmath.NewPrice(pay, qty).Cmp(taker.InversePrice()) > 0 {
		return Match{}, false
	}

	var takerFee, rebate int64
	if fees {
		takerFee = qty * e.params.TakerFeeBps / bpsDenominator
		rebate = qty * e.params.MakerRebateBps / bpsDenominator
	}

	bought, paid := maker.TokenForSale, taker.TokenForSale
	batch.Transfer(taker.Address, ledger.Available, maker.Address, ledger.Available, paid, pay, ledger.JournalTypeTrade)
	batch.Transfer(maker.Address, ledger.SpotReserve, taker.Address, ledger.Available, bought, qty, ledger.JournalTypeTrade)
	batch.Transfer(taker.Address, ledger.Available, maker.Address, ledger.Available, bought, rebate, ledger.JournalTypeFee)
	batch.Transfer(taker.Address, ledger.Available, ledger.FeeCacheAddress, ledger.Available, bought, takerFee-rebate, ledger.JournalTypeFee)

	taker.Remaining -= pay
	taker.Received += qty
	maker.Remaining -= qty
	maker.Received += pay

	return Match{
		TakerTxID:    taker.TxID,
		MakerTxID:    maker.TxID,
		Taker:        taker.Address,
		Maker:        maker.Address,
		TokenBought:  bought,
		AmountBought: qty,
		TokenPaid:    paid,
		AmountPaid:   pay,
		TakerFee:     takerFee,
		MakerRebate:  rebate,
		Price:        maker.UnitPrice(),
		Block:        taker.Block,
		Index:        taker.Index,
		MakerFilled:  maker.Remaining == 0,
	}, true
}

// CancelAtPrice cancels the sender's orders selling forSale for desired at
// exactly amountDesired/amountForSale.
func (e *Engine) CancelAtPrice(tx *instruction.Header, forSale uint32, amountForSale int64, desired uint32, amountDesired int64) ([]Cancellation, error) {
	if amountForSale <= 0 || amountDesired <= 0 {
		return nil, ErrZeroPrice
	}
	price := fpmath.NewPrice(amountDesired, amountForSale)
	s := e.book.sideOf(pair{forSale, desired})
	if s == nil {
		return nil, ErrNothingToCancel
	}
	var victims []*Order
	s.each(func(o *Order) bool {
		if o.Address == tx.Sender && o.UnitPrice().Cmp(price) == 0 {
			victims = append(victims, o)
		}
		return true
	})
	return e.cancel(tx, victims)
}

// CancelPair cancels all of the sender's orders selling forSale for desired.
func (e *Engine) CancelPair(tx *instruction.Header, forSale, desired uint32) ([]Cancellation, error) {
	s := e.book.sideOf(pair{forSale, desired})
	if s == nil {
		return nil, ErrNothingToCancel
	}
	var victims []*Order
	s.each(func(o *Order) bool {
		if o.Address == tx.Sender {
			victims = append(victims, o)
		}
		return true
	})
	return e.cancel(tx, victims)
}

// CancelEcosystem cancels every order of the sender in ecosystem.
func (e *Engine) CancelEcosystem(tx *instruction.Header, eco registry.Ecosystem) ([]Cancellation, error) {
	if !eco.Valid() {
		return nil, ErrInvalidEcosystem
	}
	victims := e.book.collect(func(o *Order) bool {
		return o.Address == tx.Sender && registry.EcosystemOf(o.TokenForSale) == eco
	})
	return e.cancel(tx, victims)
}

func (e *Engine) cancel(tx *instruction.Header, victims []*Order) ([]Cancellation, error) {
	if len(victims) == 0 {
		return nil, ErrNothingToCancel
	}
	batch := ledger.NewBatch(tx.TxID, tx.Block)
	for _, o := range victims {
		batch.Move(o.Address, o.TokenForSale, ledger.SpotReserve, ledger.Available, o.Remaining, ledger.JournalTypeRelease)
	}
	e.ledger.MustApply(batch)

	out := make([]Cancellation, 0, len(victims))
	for _, o := range victims {
		e.book.remove(o)
		delete(e.byTx, o.TxID)
		out = append(out, Cancellation{TxID: tx.TxID, Order: *o, Refunded: o.Remaining, Block: tx.Block})
	}
	return out, nil
}

// GetOrder returns the resting order placed by txid.
func (e *Engine) GetOrder(txid string) (Order, bool) {
	o, ok := e.byTx[txid]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// Orders returns every resting order in pair, price, time order.
func (e *Engine) Orders() []Order {
	var out []Order
	for _, o := range e.book.collect(func(*Order) bool { return true }) {
		out = append(out, *o)
	}
	return out
}

// OrdersForPair returns orders selling forSale for desired, best first.
func (e *Engine) OrdersForPair(forSale, desired uint32) []Order {
	s := e.book.sideOf(pair{forSale, desired})
	if s == nil {
		return nil
	}
	var out []Order
	s.each(func(o *Order) bool {
		out = append(out, *o)
		return true
	})
	return out
}

// BestPrice returns the lowest unit price offered in the pair.
func (e *Engine) BestPrice(forSale, desired uint32) (fpmath.Price, bool) {
	s := e.book.sideOf(pair{forSale, desired})
	if s == nil {
		return fpmath.Price{}, false
	}
	return s.levels[0].price, true
}
