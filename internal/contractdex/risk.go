package contractdex

import (
	"fmt"
	"sort"

	"TradeLedger/internal/instruction"
	"TradeLedger/internal/ledger"
	"TradeLedger/internal/market"
	fpmath "TradeLedger/internal/math"
	"TradeLedger/internal/registry"
)

// RiskKind is the action the risk pass took for one position.
type RiskKind uint8

const (
	RiskMarginCall RiskKind = iota + 1
	RiskReduce
	RiskLiquidate
)

func (k RiskKind) String() string {
	switch k {
	case RiskMarginCall:
		return "margin_call"
	case RiskReduce:
		return "reduce"
	case RiskLiquidate:
		return "liquidate"
	default:
		return "none"
	}
}

// RiskAction reports what the risk pass did to one position.
type RiskAction struct {
	Address   string
	Contract  uint32
	Kind      RiskKind
	Mark      int64
	Loss      int64
	Margin    int64 // posted margin when the pass looked at the position
	Cancelled []Order
	ToppedUp  int64
	Trades    []Trade
}

// RiskPass checks every open position at its contract's mark price, in
// (contract, address) order. Positions losing at least MarginCallPct of
// their margin get their resting orders cancelled and margin topped up
// from available, reducing the position when that is not enough;
// positions losing at least LiquidationPct are closed outright.
func (e *Engine) RiskPass(block int64) []RiskAction {
	if e.tracker == nil {
		return nil
	}
	var actions []RiskAction
	for _, snapshot := range e.Positions() {
		key := positionKey{snapshot.Address, snapshot.Contract}
		pos, ok := e.positions[key]
		if !ok {
			continue // closed earlier in this pass
		}
		_, terms, err := e.terms(pos.Contract)
		if err != nil {
			panic(fmt.Sprintf("FATAL: position %s/%d on unknown contract: %v", pos.Address, pos.Contract, err))
		}
		mark, ok := e.tracker.MarkPrice(market.Contract(pos.Contract))
		if !ok {
			continue
		}
		pnl := pos.UnrealizedPnL(mark, terms.NotionalSize)
		if pnl >= 0 {
			continue
		}
		loss := -pnl

		action := RiskAction{Address: pos.Address, Contract: pos.Contract, Mark: mark, Loss: loss, Margin: pos.Margin}
		switch {
		case pos.Margin == 0 || lossAtLeast(loss, pos.Margin, e.params.LiquidationPct):
			e.liquidate(&action, pos, terms, block)
		case lossAtLeast(loss, pos.Margin, e.params.MarginCallPct):
			e.marginCall(&action, pos, terms, block)
		default:
			continue
		}
		actions = append(actions, action)
	}
	return actions
}

// lossAtLeast reports loss >= margin * pct / 100 without overflow.
func lossAtLeast(loss, margin, pct int64) bool {
	lhs := fpmath.MultiplyInt128(loss, 100)
	rhs := fpmath.MultiplyInt128(margin, pct)
	return lhs.Cmp(rhs) >= 0
}

func (e *Engine) liquidate(action *RiskAction, pos *Position, terms *registry.ContractTerms, block int64) {
	action.Kind = RiskLiquidate
	action.Cancelled = e.cancelFor(pos.Address, pos.Contract, -1, block)
	action.Trades = e.forceReduce(pos, terms, abs(pos.Size), block)
}

func (e *Engine) marginCall(action *RiskAction, pos *Position, terms *registry.ContractTerms, block int64) {
	action.Kind = RiskMarginCall
	needed := action.Loss - fpmath.MustMulDiv(pos.Margin, e.params.MarginCallPct, 100, fpmath.RoundDown)
	action.Cancelled = e.cancelFor(pos.Address, pos.Contract, needed, block)

	col := terms.CollateralToken
	topUp := min(needed, e.ledger.Balance(pos.Address, col, ledger.Available))
	if topUp > 0 {
		batch := ledger.NewBatch(fmt.Sprintf("margincall:%d:%s", pos.Contract, pos.Address), block)
		batch.Move(pos.Address, col, ledger.Available, ledger.Margin, topUp, ledger.JournalTypeMarginPost)
		e.ledger.MustApply(batch)
		pos.Margin += topUp
		pos.BankruptcyPrice = fpmath.ComputeBankruptcyPrice(pos.sideSign(), pos.EntryPrice, abs(pos.Size), pos.Margin, terms.NotionalSize)
		action.ToppedUp = topUp
	}

	shortfall := needed - topUp
	if shortfall <= 0 || terms.MarginRequirement <= 0 {
		return
	}
	action.Kind = RiskReduce
	qty, err := fpmath.MulDiv(shortfall, max(pos.Leverage, 1), terms.MarginRequirement, fpmath.RoundUp)
	if err != nil {
		qty = abs(pos.Size)
	}
	action.Trades = e.forceReduce(pos, terms, min(abs(pos.Size), qty), block)
}

// cancelFor cancels the address's orders on contract oldest first until
// the released reservation reaches target. A negative target cancels all.
func (e *Engine) cancelFor(address string, contract uint32, target, block int64) []Order {
	b, ok := e.books[contract]
	if !ok {
		return nil
	}
	var mine []*Order
	for _, o := range b.orders() {
		if o.Address == address {
			mine = append(mine, o)
		}
	}
	sort.Slice(mine, func(i, j int) bool { return mine[i].before(mine[j]) })

	var (
		victims []*Order
		freed   int64
	)
	for _, o := range mine {
		if target >= 0 && freed >= target {
			break
		}
		victims = append(victims, o)
		freed += o.Reserved
	}
	if len(victims) == 0 {
		return nil
	}
	return e.cancel(fmt.Sprintf("risk:%d:%s", contract, address), block, victims)
}

// forceReduce sends an unreserved liquidation market order against the
// position. Whatever finds no liquidity is dropped and retried next block.
func (e *Engine) forceReduce(pos *Position, terms *registry.ContractTerms, qty, block int64) []Trade {
	if qty <= 0 {
		return nil
	}
	action := instruction.ActionSell
	if pos.Size < 0 {
		action = instruction.ActionBuy
	}
	o := &Order{
		Address:     pos.Address,
		TxID:        fmt.Sprintf("liquidation:%d:%s:%d", pos.Contract, pos.Address, block),
		Block:       block,
		Index:       -1,
		Contract:    pos.Contract,
		Amount:      qty,
		Remaining:   qty,
		Action:      action,
		Leverage:    pos.Leverage,
		Liquidation: true,
	}
	return e.execute(o, terms, block, false)
}
