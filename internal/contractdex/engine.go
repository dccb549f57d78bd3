package contractdex

import (
	"fmt"
	"sort"

	"TradeLedger/internal/activation"
	"TradeLedger/internal/instruction"
	"TradeLedger/internal/ledger"
	"TradeLedger/internal/market"
	fpmath "TradeLedger/internal/math"
	"TradeLedger/internal/registry"
)

const bpsDenominator = 10_000

// ContractSource resolves contract ids to their registered terms.
type ContractSource interface {
	Get(id uint32) (registry.Property, bool)
}

// Params configures fees and the risk pass thresholds.
type Params struct {
	TakerFeeBps    int64
	MakerRebateBps int64
	MarginCallPct  int64 // loss/margin at which resting orders are cancelled and margin topped up
	LiquidationPct int64 // loss/margin at which the whole position is closed
}

func DefaultParams() Params {
	return Params{
		TakerFeeBps:    5,
		MakerRebateBps: 2,
		MarginCallPct:  20,
		LiquidationPct: 80,
	}
}

// PlaceResult is the outcome of placing an order.
type PlaceResult struct {
	Order  Order
	Trades []Trade
	Rested bool
}

// Engine owns every contract book and position.
// Not thread-safe: owned by the single writer of the core engine.
type Engine struct {
	ledger    *ledger.Ledger
	schedule  *activation.Schedule
	tracker   *market.Tracker
	contracts ContractSource
	params    Params

	books     map[uint32]*book
	positions map[positionKey]*Position
}

func NewEngine(l *ledger.Ledger, schedule *activation.Schedule, tracker *market.Tracker, contracts ContractSource, params Params) *Engine {
	return &Engine{
		ledger:    l,
		schedule:  schedule,
		tracker:   tracker,
		contracts: contracts,
		params:    params,
		books:     make(map[uint32]*book),
		positions: make(map[positionKey]*Position),
	}
}

func (e *Engine) terms(contract uint32) (registry.Property, *registry.ContractTerms, error) {
	p, ok := e.contracts.Get(contract)
	if !ok || !p.IsContract() {
		return registry.Property{}, nil, fmt.Errorf("%w: %d", ErrNoSuchContract, contract)
	}
	return p, p.Contract, nil
}

func expired(terms *registry.ContractTerms, block int64) bool {
	return terms.ExpiryBlock > 0 && block >= terms.ExpiryBlock
}

func (e *Engine) bookFor(contract uint32) *book {
	b, ok := e.books[contract]
	if !ok {
		b = &book{}
		e.books[contract] = b
	}
	return b
}

func opposite(a instruction.Action) instruction.Action {
	if a == instruction.ActionBuy {
		return instruction.ActionSell
	}
	return instruction.ActionBuy
}

// PlaceOrder reserves margin for a new order, matches it and rests the
// remainder of limit and edge orders. Market order remainders are dropped
// and their reservation released.
func (e *Engine) PlaceOrder(tx *instruction.Header, contract uint32, amount, price int64, action instruction.Action, leverage int64, orderType instruction.OrderType) (PlaceResult, error) {
	_, terms, err := e.terms(contract)
	if err != nil {
		return PlaceResult{}, err
	}
	switch {
	case expired(terms, tx.Block):
		return PlaceResult{}, ErrContractExpired
	case amount <= 0:
		return PlaceResult{}, ErrZeroAmount
	case action != instruction.ActionBuy && action != instruction.ActionSell:
		return PlaceResult{}, ErrInvalidAction
	case leverage < 1 || (terms.LeverageCap > 0 && leverage > terms.LeverageCap):
		return PlaceResult{}, fmt.Errorf("%w: %d", ErrInvalidLeverage, leverage)
	}

	hasLimit := true
	switch orderType {
	case instruction.OrderLimit:
		if price <= 0 {
			return PlaceResult{}, ErrZeroPrice
		}
	case instruction.OrderMarket:
		hasLimit = false
		price = 0
	case instruction.OrderEdge:
		best, ok := e.BestPrice(contract, opposite(action))
		if !ok {
			return PlaceResult{}, ErrEmptyBook
		}
		price = best
	default:
		return PlaceResult{}, fmt.Errorf("unknown order type %d", orderType)
	}

	reserve, err := fpmath.MulDiv(amount, terms.MarginRequirement, leverage, fpmath.RoundUp)
	if err != nil {
		return PlaceResult{}, fmt.Errorf("order margin: %w", err)
	}
	batch := ledger.NewBatch(tx.TxID, tx.Block)
	batch.Move(tx.Sender, terms.CollateralToken, ledger.Available, ledger.ContractReserve, reserve, ledger.JournalTypeReserve)
	if err := e.ledger.Apply(batch); err != nil {
		return PlaceResult{}, err
	}

	o := &Order{
		Address:   tx.Sender,
		TxID:      tx.TxID,
		Block:     tx.Block,
		Index:     tx.Index,
		Contract:  contract,
		Amount:    amount,
		Remaining: amount,
		Price:     price,
		Action:    action,
		Leverage:  leverage,
		Reserved:  reserve,
	}
	res := PlaceResult{Trades: e.execute(o, terms, tx.Block, hasLimit)}

	if o.Remaining > 0 && hasLimit {
		e.bookFor(contract).ladderFor(action).insert(o)
		res.Rested = true
	} else {
		e.releaseReserve(tx.TxID+"/unused", tx.Block, terms, o)
	}
	res.Order = *o
	return res, nil
}

func (e *Engine) releaseReserve(ref string, block int64, terms *registry.ContractTerms, o *Order) {
	if o.Reserved == 0 {
		return
	}
	batch := ledger.NewBatch(ref, block)
	batch.Move(o.Address, terms.CollateralToken, ledger.ContractReserve, ledger.Available, o.Reserved, ledger.JournalTypeRelease)
	e.ledger.MustApply(batch)
	o.Reserved = 0
}

// execute matches taker against the opposite side. Buys walk asks upward
// while the level is at or below the limit; sells walk bids downward while
// the level is at or above it. Every fill trades at the maker's price.
func (e *Engine) execute(taker *Order, terms *registry.ContractTerms, block int64, hasLimit bool) []Trade {
	b, ok := e.books[taker.Contract]
	if !ok {
		return nil
	}
	side := b.ladderFor(opposite(taker.Action))
	buying := taker.Action == instruction.ActionBuy

	var (
		trades []Trade
		filled []*Order
	)
	side.walk(!buying, func(lvl *level) bool {
		if hasLimit && ((buying && lvl.price > taker.Price) || (!buying && lvl.price < taker.Price)) {
			return false
		}
		for _, maker := range lvl.orders {
			if taker.Remaining == 0 {
				return false
			}
			if maker.Address == taker.Address {
				continue
			}
			qty := min(taker.Remaining, maker.Remaining)
			trades = append(trades, e.fill(terms, taker, maker, qty, lvl.price, block))
			if maker.Remaining == 0 {
				filled = append(filled, maker)
			}
		}
		return taker.Remaining > 0
	})
	for _, m := range filled {
		side.remove(m)
	}
	if b.empty() {
		delete(e.books, taker.Contract)
	}
	return trades
}

func (e *Engine) fill(terms *registry.ContractTerms, taker, maker *Order, qty, price, block int64) Trade {
	ref := taker.TxID + "/" + maker.TxID
	batch := ledger.NewBatch(ref, block)
	takerBefore, takerAfter := e.settle(batch, terms, taker, qty, price, block)
	makerBefore, makerAfter := e.settle(batch, terms, maker, qty, price, block)
	e.ledger.MustApply(batch)

	fee, rebate := e.chargeFees(ref+"/fee", terms, taker, maker, qty, block)
	liquidation := taker.Liquidation || maker.Liquidation
	if e.tracker != nil {
		e.tracker.Record(market.Contract(taker.Contract), block, market.Fill{Price: price, Quantity: qty, Liquidation: liquidation})
	}

	return Trade{
		Contract:    taker.Contract,
		TakerTxID:   taker.TxID,
		MakerTxID:   maker.TxID,
		Taker:       taker.Address,
		Maker:       maker.Address,
		TakerAction: taker.Action,
		Price:       price,
		Quantity:    qty,
		TakerBefore: takerBefore,
		TakerAfter:  takerAfter,
		MakerBefore: makerBefore,
		MakerAfter:  makerAfter,
		TakerStatus: classify(takerBefore, takerAfter),
		MakerStatus: classify(makerBefore, makerAfter),
		TakerFee:    fee,
		MakerRebate: rebate,
		Liquidation: liquidation,
		Block:       block,
		Index:       taker.Index,
	}
}

// chargeFees takes the taker fee in collateral, capped at what the taker
// has available, credits the maker rebate and leaves the rest in the fee
// cache.
func (e *Engine) chargeFees(ref string, terms *registry.ContractTerms, taker, maker *Order, qty, block int64) (fee, rebate int64) {
	if !e.schedule.IsActive(activation.FeatureFees, block) {
		return 0, 0
	}
	col := terms.CollateralToken
	fee = fpmath.MustMulDiv(qty, terms.MarginRequirement*e.params.TakerFeeBps, bpsDenominator, fpmath.RoundDown)
	rebate = fpmath.MustMulDiv(qty, terms.MarginRequirement*e.params.MakerRebateBps, bpsDenominator, fpmath.RoundDown)
	fee = min(fee, e.ledger.Balance(taker.Address, col, ledger.Available))
	rebate = min(rebate, fee)

	batch := ledger.NewBatch(ref, block)
	batch.Transfer(taker.Address, ledger.Available, maker.Address, ledger.Available, col, rebate, ledger.JournalTypeFee)
	batch.Transfer(taker.Address, ledger.Available, ledger.FeeCacheAddress, ledger.Available, col, fee-rebate, ledger.JournalTypeFee)
	e.ledger.MustApply(batch)
	return fee, rebate
}

// ClosePosition closes the sender's whole position at market without
// reserving margin.
func (e *Engine) ClosePosition(tx *instruction.Header, contract uint32) (PlaceResult, error) {
	_, terms, err := e.terms(contract)
	if err != nil {
		return PlaceResult{}, err
	}
	pos, ok := e.positions[positionKey{tx.Sender, contract}]
	if !ok {
		return PlaceResult{}, ErrNoPosition
	}
	action := instruction.ActionSell
	if pos.Size < 0 {
		action = instruction.ActionBuy
	}
	if _, ok := e.BestPrice(contract, opposite(action)); !ok {
		return PlaceResult{}, ErrEmptyBook
	}
	o := &Order{
		Address:   tx.Sender,
		TxID:      tx.TxID,
		Block:     tx.Block,
		Index:     tx.Index,
		Contract:  contract,
		Amount:    abs(pos.Size),
		Remaining: abs(pos.Size),
		Action:    action,
		Leverage:  pos.Leverage,
	}
	trades := e.execute(o, terms, tx.Block, false)
	return PlaceResult{Order: *o, Trades: trades}, nil
}

// CancelAll cancels the sender's orders on contract.
func (e *Engine) CancelAll(tx *instruction.Header, contract uint32) ([]Order, error) {
	return e.cancelMatching(tx, func(o *Order) bool {
		return o.Contract == contract
	})
}

// CancelByTx cancels the sender's order placed at (block, index).
func (e *Engine) CancelByTx(tx *instruction.Header, block int64, index int) ([]Order, error) {
	return e.cancelMatching(tx, func(o *Order) bool {
		return o.Block == block && o.Index == index
	})
}

// CancelAtPrice cancels the sender's orders on contract at price on the
// action's side.
func (e *Engine) CancelAtPrice(tx *instruction.Header, contract uint32, price int64, action instruction.Action) ([]Order, error) {
	return e.cancelMatching(tx, func(o *Order) bool {
		return o.Contract == contract && o.Price == price && o.Action == action
	})
}

func (e *Engine) cancelMatching(tx *instruction.Header, match func(*Order) bool) ([]Order, error) {
	var victims []*Order
	for _, id := range e.contractIDs() {
		for _, o := range e.books[id].orders() {
			if o.Address == tx.Sender && match(o) {
				victims = append(victims, o)
			}
		}
	}
	if len(victims) == 0 {
		return nil, ErrNothingToCancel
	}
	return e.cancel(tx.TxID, tx.Block, victims), nil
}

// cancel removes victims from their books and refunds their reservations.
func (e *Engine) cancel(ref string, block int64, victims []*Order) []Order {
	out := make([]Order, 0, len(victims))
	for _, o := range victims {
		b := e.books[o.Contract]
		b.ladderFor(o.Action).remove(o)
		if b.empty() {
			delete(e.books, o.Contract)
		}
		cp := *o
		if o.Reserved > 0 {
			_, terms, err := e.terms(o.Contract)
			if err != nil {
				panic(fmt.Sprintf("FATAL: resting order %s on unknown contract: %v", o.TxID, err))
			}
			e.releaseReserve(ref+"/"+o.TxID, block, terms, o)
		}
		out = append(out, cp)
	}
	return out
}

// SetOraclePrice records the oracle's price for an oracle contract. Only
// the contract issuer may publish.
func (e *Engine) SetOraclePrice(tx *instruction.Header, contract uint32, high, low, closing int64) error {
	p, _, err := e.terms(contract)
	if err != nil {
		return err
	}
	if p.Kind != registry.KindOracleContract {
		return ErrNotOracleContract
	}
	if p.Issuer != tx.Sender {
		return ErrNotOracleIssuer
	}
	if closing <= 0 || low <= 0 || high < low {
		return ErrInvalidOraclePrice
	}
	if e.tracker != nil {
		e.tracker.SetOraclePrice(market.Contract(contract), closing, tx.Block)
	}
	return nil
}

// ExpireContracts cancels every resting order of contracts that expired
// at or before block.
func (e *Engine) ExpireContracts(block int64) []Order {
	var out []Order
	for _, id := range e.contractIDs() {
		_, terms, err := e.terms(id)
		if err != nil || !expired(terms, block) {
			continue
		}
		out = append(out, e.cancel(fmt.Sprintf("expire:%d", id), block, e.books[id].orders())...)
	}
	return out
}

func (e *Engine) contractIDs() []uint32 {
	ids := make([]uint32, 0, len(e.books))
	for id := range e.books {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Orders returns the resting orders of contract, bids then asks.
func (e *Engine) Orders(contract uint32) []Order {
	b, ok := e.books[contract]
	if !ok {
		return nil
	}
	var out []Order
	for _, o := range b.orders() {
		out = append(out, *o)
	}
	return out
}

// AllOrders returns every resting order by contract.
func (e *Engine) AllOrders() []Order {
	var out []Order
	for _, id := range e.contractIDs() {
		out = append(out, e.Orders(id)...)
	}
	return out
}

// BestPrice returns the best bid or ask of contract.
func (e *Engine) BestPrice(contract uint32, side instruction.Action) (int64, bool) {
	b, ok := e.books[contract]
	if !ok {
		return 0, false
	}
	return b.best(side)
}

// Position returns a copy of the address's position in contract.
func (e *Engine) Position(address string, contract uint32) (Position, bool) {
	p, ok := e.positions[positionKey{address, contract}]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Positions returns every open position sorted by (contract, address).
func (e *Engine) Positions() []Position {
	out := make([]Position, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Contract != out[j].Contract {
			return out[i].Contract < out[j].Contract
		}
		return out[i].Address < out[j].Address
	})
	return out
}
