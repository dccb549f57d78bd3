package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TradeLedger/internal/contractdex"
	"TradeLedger/internal/core"
	"TradeLedger/internal/dex"
	"TradeLedger/internal/index"
	"TradeLedger/internal/instruction"
	"TradeLedger/internal/ledger"
	"TradeLedger/internal/market"
	fpmath "TradeLedger/internal/math"
	"TradeLedger/internal/observability"
	"TradeLedger/internal/persistence"
	"TradeLedger/internal/registry"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrArchiveDisabled = errors.New("trade archive not configured")
)

// Service answers read-only queries from the engine state, the KV index
// and, when configured, the Postgres trade archive. Every engine read
// holds the read lock for the duration of one query, so a response is
// consistent with a single block.
type Service struct {
	engine   *core.Engine
	recovery *persistence.Manager
	archive  *persistence.ArchiveWriter
	metrics  *observability.Metrics
}

// NewService builds a query service. recovery, archive and metrics may be
// nil.
func NewService(engine *core.Engine, recovery *persistence.Manager, archive *persistence.ArchiveWriter, metrics *observability.Metrics) *Service {
	return &Service{engine: engine, recovery: recovery, archive: archive, metrics: metrics}
}

// observe records one query. Not-found answers count as successes.
func (s *Service) observe(endpoint string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	if err != nil && !errors.Is(err, ErrNotFound) {
		status = "error"
	}
	s.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
	s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

// Status returns the engine position.
func (s *Service) Status(ctx context.Context) StatusResponse {
	defer s.observe("status", time.Now(), nil)
	var out StatusResponse
	s.engine.View(func(v core.View) error {
		out = StatusResponse{Height: v.Height(), BlockHash: v.BlockHash(), StateHash: v.StateHash()}
		return nil
	})
	out.Recovery = persistence.StateUninitialized.String()
	if s.recovery != nil {
		out.Recovery = s.recovery.State().String()
	}
	return out
}

// --- Balances ---

func balanceResponse(v core.View, address string, token uint32, rec ledger.Record) BalanceResponse {
	p, _ := v.Property(token)
	f := func(b ledger.Bucket) string { return FormatAmount(rec[b], p.Divisible) }
	var total int64
	for b := ledger.Available; b <= ledger.Unvested; b++ {
		total += rec[b]
	}
	return BalanceResponse{
		Address:         address,
		Token:           token,
		Name:            p.Name,
		Divisible:       p.Divisible,
		Available:       f(ledger.Available),
		SellReserve:     f(ledger.SellReserve),
		AcceptReserve:   f(ledger.AcceptReserve),
		SpotReserve:     f(ledger.SpotReserve),
		ContractReserve: f(ledger.ContractReserve),
		Margin:          f(ledger.Margin),
		Unvested:        f(ledger.Unvested),
		Total:           FormatAmount(total, p.Divisible),
		AsOfHeight:      v.Height(),
	}
}

// Balances returns every token balance of address. Position counters kept
// under contract ids are reported by Positions instead.
func (s *Service) Balances(ctx context.Context, address string) ([]BalanceResponse, error) {
	defer s.observe("balances", time.Now(), nil)
	var out []BalanceResponse
	s.engine.View(func(v core.View) error {
		for _, h := range v.Holdings(address) {
			if p, ok := v.Property(h.Token); ok && p.Kind.IsContract() {
				continue
			}
			out = append(out, balanceResponse(v, address, h.Token, h.Record))
		}
		return nil
	})
	return out, nil
}

// Balance returns one token balance of address.
func (s *Service) Balance(ctx context.Context, address string, token uint32) (out BalanceResponse, err error) {
	defer func(start time.Time) { s.observe("balance", start, err) }(time.Now())
	err = s.engine.View(func(v core.View) error {
		if _, ok := v.Property(token); !ok {
			return fmt.Errorf("%w: property %d", ErrNotFound, token)
		}
		out = balanceResponse(v, address, token, v.Balance(address, token))
		return nil
	})
	return out, err
}

// --- Properties ---

func propertyResponse(p registry.Property) PropertyResponse {
	out := PropertyResponse{
		ID:            p.ID,
		Ecosystem:     p.Ecosystem.String(),
		Kind:          p.Kind.String(),
		Name:          p.Name,
		Category:      p.Category,
		Subcategory:   p.Subcategory,
		URL:           p.URL,
		Divisible:     p.Divisible,
		Issuer:        p.Issuer,
		TotalIssued:   FormatAmount(p.TotalIssued, p.Divisible),
		CreationTx:    p.CreationTx,
		CreationBlock: p.CreationBlock,
	}
	if p.Contract != nil {
		out.Contract = &ContractResponse{
			NotionalSize:      p.Contract.NotionalSize,
			CollateralToken:   p.Contract.CollateralToken,
			MarginRequirement: p.Contract.MarginRequirement,
			LeverageCap:       p.Contract.LeverageCap,
			ExpiryBlock:       p.Contract.ExpiryBlock,
			Inverse:           p.Contract.Inverse,
		}
	}
	return out
}

func (s *Service) Property(ctx context.Context, id uint32) (out PropertyResponse, err error) {
	defer func(start time.Time) { s.observe("property", start, err) }(time.Now())
	err = s.engine.View(func(v core.View) error {
		p, ok := v.Property(id)
		if !ok {
			return fmt.Errorf("%w: property %d", ErrNotFound, id)
		}
		out = propertyResponse(p)
		return nil
	})
	return out, err
}

func (s *Service) Properties(ctx context.Context) []PropertyResponse {
	defer s.observe("properties", time.Now(), nil)
	var out []PropertyResponse
	s.engine.View(func(v core.View) error {
		for _, p := range v.Properties() {
			out = append(out, propertyResponse(p))
		}
		return nil
	})
	return out
}

func (s *Service) Crowdsales(ctx context.Context) []CrowdsaleResponse {
	defer s.observe("crowdsales", time.Now(), nil)
	var out []CrowdsaleResponse
	s.engine.View(func(v core.View) error {
		for _, cs := range v.Crowdsales() {
			p, _ := v.Property(cs.PropertyID)
			out = append(out, CrowdsaleResponse{
				Property:      cs.PropertyID,
				Issuer:        cs.Issuer,
				DesiredToken:  cs.DesiredToken,
				TokensPerUnit: cs.TokensPerUnit,
				DeadlineBlock: cs.DeadlineBlock,
				UserCreated:   FormatAmount(cs.UserCreated, p.Divisible),
				IssuerCreated: FormatAmount(cs.IssuerCreated, p.Divisible),
			})
		}
		return nil
	})
	return out
}

// --- Transactions and trades ---

func txResponse(r index.TxRecord) TxResponse {
	return TxResponse{
		TxID:   r.TxID,
		Block:  r.Block,
		Index:  r.Index,
		Kind:   r.Kind,
		Sender: r.Sender,
		Amount: r.Amount,
		Valid:  r.Valid,
		Code:   r.Code,
		Reason: r.Reason,
	}
}

func (s *Service) Tx(ctx context.Context, txid string) (out TxResponse, err error) {
	defer func(start time.Time) { s.observe("tx", start, err) }(time.Now())
	r, ok, err := s.engine.Index().Tx(txid)
	if err != nil {
		return out, err
	}
	if !ok {
		return out, fmt.Errorf("%w: tx %s", ErrNotFound, txid)
	}
	return txResponse(r), nil
}

func (s *Service) TxsAt(ctx context.Context, height int64) (out []TxResponse, err error) {
	defer func(start time.Time) { s.observe("txs", start, err) }(time.Now())
	records, err := s.engine.Index().TxsAt(height)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		out = append(out, txResponse(r))
	}
	return out, nil
}

func tradeResponse(t index.TradeRecord) TradeResponse {
	return TradeResponse{
		Market:      t.Market,
		Block:       t.Block,
		TakerTxID:   t.TakerTxID,
		MakerTxID:   t.MakerTxID,
		Taker:       t.Taker,
		Maker:       t.Maker,
		Quantity:    t.Quantity,
		AmountPaid:  t.AmountPaid,
		Price:       FormatPrice(t.Price),
		Liquidation: t.Liquidation,
	}
}

func (s *Service) TradesForAddress(ctx context.Context, address string) (out []TradeResponse, err error) {
	defer func(start time.Time) { s.observe("trades_address", start, err) }(time.Now())
	records, err := s.engine.Index().TradesForAddress(address)
	if err != nil {
		return nil, err
	}
	for _, t := range records {
		out = append(out, tradeResponse(t))
	}
	return out, nil
}

func (s *Service) TradesAt(ctx context.Context, height int64) (out []TradeResponse, err error) {
	defer func(start time.Time) { s.observe("trades_block", start, err) }(time.Now())
	records, err := s.engine.Index().TradesAt(height)
	if err != nil {
		return nil, err
	}
	for _, t := range records {
		out = append(out, tradeResponse(t))
	}
	return out, nil
}

// ArchivedTrades reads the trades of a block from the Postgres archive.
func (s *Service) ArchivedTrades(ctx context.Context, height int64) (out []ArchivedTrade, err error) {
	defer func(start time.Time) { s.observe("trades_archive", start, err) }(time.Now())
	if s.archive == nil {
		return nil, ErrArchiveDisabled
	}
	rows, err := s.archive.TradesAt(ctx, height)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out = append(out, ArchivedTrade{
			TradeID: r.TradeID.String(),
			TradeResponse: TradeResponse{
				Market:      r.Market,
				Block:       r.Height,
				TakerTxID:   r.TakerTxID,
				MakerTxID:   r.MakerTxID,
				Taker:       r.Taker,
				Maker:       r.Maker,
				Quantity:    r.Quantity,
				AmountPaid:  r.AmountPaid,
				Price:       FormatPrice(r.Price),
				Liquidation: r.Liquidation,
			},
		})
	}
	return out, nil
}

// --- Markets ---

// Offers lists open DEx offers, of one token or of all when token is 0.
func (s *Service) Offers(ctx context.Context, token uint32) []OfferResponse {
	defer s.observe("offers", time.Now(), nil)
	var out []OfferResponse
	s.engine.View(func(v core.View) error {
		for _, o := range v.Offers(token) {
			p, _ := v.Property(o.Token)
			out = append(out, offerResponse(o, p.Divisible))
		}
		return nil
	})
	return out
}

func offerResponse(o dex.Offer, divisible bool) OfferResponse {
	unit := int64(1)
	if divisible {
		unit = fpmath.COIN
	}
	var price int64
	if o.AmountOffered > 0 {
		price, _ = fpmath.MulDiv(o.AmountDesired, unit, o.AmountOffered, fpmath.RoundUp)
	}
	return OfferResponse{
		Maker:         o.Maker,
		Token:         o.Token,
		Side:          o.Option.String(),
		AmountOffered: FormatAmount(o.AmountOffered, divisible),
		AmountDesired: FormatAmount(o.AmountDesired, true),
		UnitPrice:     FormatAmount(price, true),
		MinFee:        FormatAmount(o.MinFee, true),
		PaymentWindow: o.PaymentWindow,
		TxID:          o.TxID,
	}
}

// MetaDExBook returns the resting orders selling forSale for desired,
// best price first.
func (s *Service) MetaDExBook(ctx context.Context, forSale, desired uint32) BookResponse {
	defer s.observe("metadex_book", time.Now(), nil)
	out := BookResponse{Market: string(market.MetaDEx(forSale, desired))}
	s.engine.View(func(v core.View) error {
		out.AsOfHeight = v.Height()
		for _, o := range v.MetaDExOrders(forSale, desired) {
			out.Orders = append(out.Orders, BookLevel{
				Address:   o.Address,
				TxID:      o.TxID,
				Block:     o.Block,
				Price:     FormatRatio(o.UnitPrice()),
				Amount:    o.AmountForSale,
				Remaining: o.Remaining,
			})
		}
		if best, ok := v.MetaDExBestPrice(forSale, desired); ok {
			out.BestPrice = FormatRatio(best)
		}
		return nil
	})
	return out
}

// ContractBook returns the resting orders of a contract.
func (s *Service) ContractBook(ctx context.Context, contract uint32) BookResponse {
	defer s.observe("contract_book", time.Now(), nil)
	out := BookResponse{Market: string(market.Contract(contract))}
	s.engine.View(func(v core.View) error {
		out.AsOfHeight = v.Height()
		for _, o := range v.ContractOrders(contract) {
			out.Orders = append(out.Orders, contractLevel(o))
		}
		if best, ok := v.ContractBestPrice(contract, instruction.ActionBuy); ok {
			out.BestPrice = FormatPrice(best)
		}
		return nil
	})
	return out
}

func contractLevel(o contractdex.Order) BookLevel {
	return BookLevel{
		Address:   o.Address,
		TxID:      o.TxID,
		Block:     o.Block,
		Price:     FormatPrice(o.Price),
		Amount:    o.Amount,
		Remaining: o.Remaining,
		Side:      o.Action.String(),
		Leverage:  o.Leverage,
	}
}

// Positions returns the open positions of address, or all positions when
// address is empty, valued at each contract's mark price.
func (s *Service) Positions(ctx context.Context, address string) []PositionResponse {
	defer s.observe("positions", time.Now(), nil)
	var out []PositionResponse
	s.engine.View(func(v core.View) error {
		for _, pos := range v.Positions() {
			if address != "" && pos.Address != address {
				continue
			}
			r := PositionResponse{
				Address:         pos.Address,
				Contract:        pos.Contract,
				Size:            pos.Size,
				Margin:          pos.Margin,
				Leverage:        pos.Leverage,
				EntryPrice:      FormatPrice(pos.EntryPrice),
				BankruptcyPrice: FormatPrice(pos.BankruptcyPrice),
				AsOfHeight:      v.Height(),
			}
			p, _ := v.Property(pos.Contract)
			if mark, ok := v.MarkPrice(market.Contract(pos.Contract)); ok && p.Contract != nil {
				r.MarkPrice = FormatPrice(mark)
				r.UnrealizedPnL = pos.UnrealizedPnL(mark, p.Contract.NotionalSize)
			}
			out = append(out, r)
		}
		return nil
	})
	return out
}

// Market returns the statistics of one market id, e.g. "cdex/4".
func (s *Service) Market(ctx context.Context, id string) (out MarketResponse, err error) {
	defer func(start time.Time) { s.observe("market", start, err) }(time.Now())
	err = s.engine.View(func(v core.View) error {
		st, ok := v.Market(market.ID(id))
		if !ok {
			return fmt.Errorf("%w: market %s", ErrNotFound, id)
		}
		out = MarketResponse{
			Market:            id,
			LastPrice:         FormatPrice(st.LastPrice),
			Volume:            st.Volume,
			LiquidationVolume: st.LiquidationVolume,
			LastBlock:         st.LastBlock,
		}
		if p, ok := v.MarkPrice(market.ID(id)); ok {
			out.MarkPrice = FormatPrice(p)
		}
		if p, ok := v.VWAP(market.ID(id)); ok {
			out.VWAP = FormatPrice(p)
		}
		if p, ok := v.LiquidationVWAP(market.ID(id)); ok {
			out.LiquidationVWAP = FormatPrice(p)
		}
		return nil
	})
	return out, err
}

func (s *Service) Markets(ctx context.Context) []string {
	defer s.observe("markets", time.Now(), nil)
	var out []string
	s.engine.View(func(v core.View) error {
		for _, id := range v.Markets() {
			out = append(out, string(id))
		}
		return nil
	})
	return out
}

// --- Admin ---

// VerifyIntegrity checks the ledger invariants and that the journal tip
// agrees with the engine's last block and state hash.
func (s *Service) VerifyIntegrity(ctx context.Context) (report IntegrityReport, err error) {
	defer func(start time.Time) { s.observe("verify", start, err) }(time.Now())
	report.CheckedAt = time.Now().UTC()
	err = s.engine.View(func(v core.View) error {
		report.Height = v.Height()
		report.StateHash = v.StateHash()
		if verr := v.Verify(); verr != nil {
			report.Invariants = verr.Error()
		}
		if report.Height < 0 {
			return nil
		}
		tip, ok, jerr := v.Index().LastBlock()
		switch {
		case jerr != nil:
			return jerr
		case !ok:
			report.JournalBreak = fmt.Sprintf("no journal entry for block %d", report.Height)
		case tip.Height != report.Height || tip.Hash != v.BlockHash():
			report.JournalBreak = fmt.Sprintf("journal tip %d %s, engine at %d %s", tip.Height, tip.Hash, report.Height, v.BlockHash())
		case tip.StateHash != report.StateHash:
			report.JournalBreak = fmt.Sprintf("journal state hash %s at %d", tip.StateHash, tip.Height)
		}
		return nil
	})
	report.IsHealthy = err == nil && report.Invariants == "" && report.JournalBreak == ""
	return report, err
}
