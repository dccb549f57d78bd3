package core

import (
	"TradeLedger/internal/activation"
	"TradeLedger/internal/contractdex"
	"TradeLedger/internal/dex"
	"TradeLedger/internal/index"
	"TradeLedger/internal/instruction"
	"TradeLedger/internal/ledger"
	"TradeLedger/internal/market"
	fpmath "TradeLedger/internal/math"
	"TradeLedger/internal/metadex"
	"TradeLedger/internal/registry"
)

// View is a read-only window on the engine state. It is only valid inside
// the callback passed to Engine.View.
type View struct {
	e *Engine
}

// View runs fn with the read lock held.
func (e *Engine) View(fn func(v View) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fn(View{e: e})
}

// Height is the last completed block, -1 before the first.
func (v View) Height() int64 { return v.e.globals.height }

func (v View) BlockHash() string { return v.e.globals.hash }
func (v View) StateHash() string { return v.e.globals.stateHash() }

func (v View) Balance(address string, token uint32) ledger.Record {
	return v.e.ledger.Get(address, token)
}

func (v View) Holdings(address string) []ledger.Holding {
	return v.e.ledger.HoldingsOf(address)
}

// AllHoldings returns every non-zero record sorted by address then token.
func (v View) AllHoldings() []ledger.Holding {
	return v.e.ledger.Holdings()
}

func (v View) TotalSupply(token uint32) int64 {
	return v.e.ledger.TotalSupply(token)
}

func (v View) Property(id uint32) (registry.Property, bool) {
	return v.e.registry.Get(id)
}

func (v View) Properties() []registry.Property {
	return v.e.registry.Properties()
}

func (v View) Crowdsales() []registry.Crowdsale {
	return v.e.crowdsales.All()
}

// FeatureActive reports whether f is live at the next block.
func (v View) FeatureActive(f activation.Feature) bool {
	return v.e.schedule.IsActive(f, v.e.globals.height+1)
}

func (v View) Alerts() ([]activation.Alert, error) {
	return v.e.activations.ActiveAlerts(v.e.globals.height)
}

func (v View) Offers(token uint32) []dex.Offer {
	if token == 0 {
		return v.e.dex.Offers()
	}
	return v.e.dex.OffersForToken(token)
}

func (v View) Accepts() []dex.Accept {
	return v.e.dex.Accepts()
}

func (v View) MetaDExOrders(forSale, desired uint32) []metadex.Order {
	if forSale == 0 && desired == 0 {
		return v.e.mdex.Orders()
	}
	return v.e.mdex.OrdersForPair(forSale, desired)
}

func (v View) MetaDExBestPrice(forSale, desired uint32) (fpmath.Price, bool) {
	return v.e.mdex.BestPrice(forSale, desired)
}

func (v View) ContractOrders(contract uint32) []contractdex.Order {
	if contract == 0 {
		return v.e.cdex.AllOrders()
	}
	return v.e.cdex.Orders(contract)
}

func (v View) ContractBestPrice(contract uint32, side instruction.Action) (int64, bool) {
	return v.e.cdex.BestPrice(contract, side)
}

func (v View) Position(address string, contract uint32) (contractdex.Position, bool) {
	return v.e.cdex.Position(address, contract)
}

func (v View) Positions() []contractdex.Position {
	return v.e.cdex.Positions()
}

func (v View) Market(id market.ID) (market.Stats, bool) {
	return v.e.tracker.Get(id)
}

func (v View) MarkPrice(id market.ID) (int64, bool) {
	return v.e.tracker.MarkPrice(id)
}

func (v View) VWAP(id market.ID) (int64, bool) {
	return v.e.tracker.VWAP(id)
}

func (v View) LiquidationVWAP(id market.ID) (int64, bool) {
	return v.e.tracker.LiquidationVWAP(id)
}

func (v View) Markets() []market.ID {
	return v.e.tracker.IDs()
}

// Index exposes the tx and trade index. It is safe to use outside the
// callback.
func (v View) Index() *index.Store {
	return v.e.index
}

// Verify runs the ledger invariants: no negative balance, positions net to
// zero per contract and held supply matches the registry.
func (v View) Verify() error {
	return v.e.validator.ValidateAll()
}
