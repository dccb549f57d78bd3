package contractdex

import (
	"TradeLedger/internal/ledger"
	fpmath "TradeLedger/internal/math"
	"TradeLedger/internal/registry"
)

// Position is an address's open position in one contract. Size is signed:
// positive is long. Margin is the collateral posted for this contract.
type Position struct {
	Address         string
	Contract        uint32
	Size            int64
	Margin          int64
	Leverage        int64
	EntryPrice      int64
	BankruptcyPrice int64
	LastBlock       int64
}

func (p *Position) sideSign() int64 {
	if p.Size < 0 {
		return -1
	}
	return 1
}

// UnrealizedPnL values the position at mark.
func (p *Position) UnrealizedPnL(mark, notional int64) int64 {
	return fpmath.ComputePnL(p.sideSign(), mark, p.EntryPrice, abs(p.Size), notional)
}

type positionKey struct {
	address  string
	contract uint32
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// settle applies one side of a fill of qty at price to the party's
// position: updates the position register, moves the reservation share
// between contract reserve, margin and available, books realized PnL and
// returns the position sizes before and after.
func (e *Engine) settle(b *ledger.Batch, terms *registry.ContractTerms, o *Order, qty, price, block int64) (before, after int64) {
	share := o.takeReserve(qty)
	key := positionKey{o.Address, o.Contract}
	pos, ok := e.positions[key]
	if !ok {
		pos = &Position{Address: o.Address, Contract: o.Contract}
	}

	before = pos.Size
	delta := o.sign() * qty
	after = before + delta
	b.AdjustPosition(o.Address, o.Contract, before, delta)

	col := terms.CollateralToken
	held := abs(before)
	switch {
	case before == 0:
		b.Move(o.Address, col, ledger.ContractReserve, ledger.Margin, share, ledger.JournalTypeMarginPost)
		pos.Margin += share
		pos.EntryPrice = price
		pos.Leverage = o.Leverage

	case (before > 0) == (delta > 0):
		b.Move(o.Address, col, ledger.ContractReserve, ledger.Margin, share, ledger.JournalTypeMarginPost)
		pos.Margin += share
		pos.EntryPrice = fpmath.ComputeAvgEntryPrice(held, pos.EntryPrice, qty, price)

	case qty < held:
		release := fpmath.MustMulDiv(pos.Margin, qty, held, fpmath.RoundDown)
		b.Move(o.Address, col, ledger.Margin, ledger.Available, release, ledger.JournalTypeMarginRelease)
		b.Move(o.Address, col, ledger.ContractReserve, ledger.Available, share, ledger.JournalTypeRelease)
		b.BookPnL(o.Address, o.Contract, fpmath.ComputePnL(pos.sideSign(), price, pos.EntryPrice, qty, terms.NotionalSize))
		pos.Margin -= release

	case qty == held:
		b.Move(o.Address, col, ledger.Margin, ledger.Available, pos.Margin, ledger.JournalTypeMarginRelease)
		b.Move(o.Address, col, ledger.ContractReserve, ledger.Available, share, ledger.JournalTypeRelease)
		b.BookPnL(o.Address, o.Contract, fpmath.ComputePnL(pos.sideSign(), price, pos.EntryPrice, qty, terms.NotionalSize))
		pos.Margin = 0
		pos.Leverage = 0

	default:
		b.Move(o.Address, col, ledger.Margin, ledger.Available, pos.Margin, ledger.JournalTypeMarginRelease)
		b.BookPnL(o.Address, o.Contract, fpmath.ComputePnL(pos.sideSign(), price, pos.EntryPrice, held, terms.NotionalSize))
		kept := fpmath.MustMulDiv(share, qty-held, qty, fpmath.RoundDown)
		b.Move(o.Address, col, ledger.ContractReserve, ledger.Margin, kept, ledger.JournalTypeMarginPost)
		b.Move(o.Address, col, ledger.ContractReserve, ledger.Available, share-kept, ledger.JournalTypeRelease)
		pos.Margin = kept
		pos.EntryPrice = price
		pos.Leverage = o.Leverage
	}

	pos.Size = after
	pos.LastBlock = block
	if after == 0 {
		delete(e.positions, key)
		return before, after
	}
	pos.BankruptcyPrice = fpmath.ComputeBankruptcyPrice(pos.sideSign(), pos.EntryPrice, abs(after), pos.Margin, terms.NotionalSize)
	e.positions[key] = pos
	return before, after
}
