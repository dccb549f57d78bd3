package core

import (
	"fmt"

	"TradeLedger/internal/activation"
	"TradeLedger/internal/contractdex"
	"TradeLedger/internal/dex"
	"TradeLedger/internal/index"
	"TradeLedger/internal/instruction"
	"TradeLedger/internal/market"
	fpmath "TradeLedger/internal/math"
	"TradeLedger/internal/metadex"
	"TradeLedger/internal/registry"
)

// ============================================================================
// DEx
// ============================================================================

func (e *Engine) handleDExSellOffer(in *instruction.DExSellOffer) error {
	if err := e.require(activation.FeatureDExSell, in.Block); err != nil {
		return err
	}
	if _, err := e.token(in.Token); err != nil {
		return err
	}
	var err error
	switch in.Action {
	case instruction.OfferNew:
		_, err = e.dex.CreateSellOffer(&in.Header, in.Token, in.Amount, in.AmountDesired, in.MinFee, in.PaymentWindow)
	case instruction.OfferUpdate:
		_, err = e.dex.UpdateSellOffer(&in.Header, in.Token, in.Amount, in.AmountDesired, in.MinFee, in.PaymentWindow)
	case instruction.OfferCancel:
		_, err = e.dex.DestroyOffer(&in.Header, in.Token)
	default:
		err = fmt.Errorf("%w: offer action %d", ErrMalformed, in.Action)
	}
	return err
}

func (e *Engine) handleDExBuyOffer(in *instruction.DExBuyOffer) error {
	if err := e.require(activation.FeatureDExBuy, in.Block); err != nil {
		return err
	}
	if _, err := e.token(in.Token); err != nil {
		return err
	}
	var err error
	switch in.Action {
	case instruction.OfferNew:
		_, err = e.dex.CreateBuyOffer(&in.Header, in.Token, in.Amount, in.AmountDesired, in.MinFee, in.PaymentWindow)
	case instruction.OfferCancel:
		_, err = e.dex.DestroyOffer(&in.Header, in.Token)
	default:
		err = fmt.Errorf("%w: buy offer action %d", ErrMalformed, in.Action)
	}
	return err
}

func (e *Engine) handleDExAccept(in *instruction.DExAccept) error {
	if err := e.require(activation.FeatureDExSell, in.Block); err != nil {
		return err
	}
	if in.Receiver == "" {
		return fmt.Errorf("%w: accept names no offer maker", ErrMalformed)
	}
	_, err := e.dex.AcceptOffer(&in.Header, in.Receiver, in.Token, in.Amount, in.Fee)
	return err
}

func (e *Engine) handleDExPayment(in *instruction.DExPayment) error {
	if in.Receiver == "" {
		return fmt.Errorf("%w: payment without receiver", ErrMalformed)
	}
	p, err := e.dex.SettlePayment(&in.Header, in.AmountPaid)
	if err != nil {
		return err
	}
	e.recordTrade(dexTradeRecord(p), "dex")
	return nil
}

func dexTradeRecord(p dex.Purchase) index.TradeRecord {
	return index.TradeRecord{
		Market:      string(market.DEx(p.Token)),
		Block:       p.Block,
		Index:       p.Index,
		TakerTxID:   p.TxID,
		MakerTxID:   p.OfferTxID,
		Taker:       p.Buyer,
		Maker:       p.Seller,
		TokenBought: p.Token,
		Quantity:    p.AmountPurchased,
		AmountPaid:  p.AmountPaid,
		Price:       fpmath.MustMulDiv(p.AmountPaid, fpmath.COIN, p.AmountPurchased, fpmath.RoundDown),
	}
}

// ============================================================================
// MetaDEx
// ============================================================================

// tradingPair checks both sides of a MetaDEx pair are registered tokens.
func (e *Engine) tradingPair(forSale, desired uint32) error {
	if _, err := e.token(forSale); err != nil {
		return err
	}
	_, err := e.token(desired)
	return err
}

func (e *Engine) handleMetaDExTrade(in *instruction.MetaDExTrade) error {
	if err := e.require(activation.FeatureMetaDEx, in.Block); err != nil {
		return err
	}
	if err := e.tradingPair(in.TokenForSale, in.TokenDesired); err != nil {
		return err
	}
	res, err := e.mdex.PlaceOrder(&in.Header, in.TokenForSale, in.AmountForSale, in.TokenDesired, in.AmountDesired)
	if err != nil {
		return err
	}
	for _, m := range res.Matches {
		e.recordTrade(metaDExTradeRecord(m), "mdex")
	}
	return nil
}

func metaDExTradeRecord(m metadex.Match) index.TradeRecord {
	return index.TradeRecord{
		Market:      string(market.MetaDEx(m.TokenBought, m.TokenPaid)),
		Block:       m.Block,
		Index:       m.Index,
		TakerTxID:   m.TakerTxID,
		MakerTxID:   m.MakerTxID,
		Taker:       m.Taker,
		Maker:       m.Maker,
		TokenBought: m.TokenBought,
		TokenPaid:   m.TokenPaid,
		Quantity:    m.AmountBought,
		AmountPaid:  m.AmountPaid,
		Price:       m.Price.Scaled(),
		TakerFee:    m.TakerFee,
		MakerRebate: m.MakerRebate,
	}
}

func (e *Engine) handleMetaDExCancelPrice(in *instruction.MetaDExCancelPrice) error {
	if err := e.require(activation.FeatureMetaDEx, in.Block); err != nil {
		return err
	}
	_, err := e.mdex.CancelAtPrice(&in.Header, in.TokenForSale, in.AmountForSale, in.TokenDesired, in.AmountDesired)
	return err
}

func (e *Engine) handleMetaDExCancelPair(in *instruction.MetaDExCancelPair) error {
	if err := e.require(activation.FeatureMetaDEx, in.Block); err != nil {
		return err
	}
	_, err := e.mdex.CancelPair(&in.Header, in.TokenForSale, in.TokenDesired)
	return err
}

func (e *Engine) handleMetaDExCancelEcosystem(in *instruction.MetaDExCancelEcosystem) error {
	if err := e.require(activation.FeatureMetaDEx, in.Block); err != nil {
		return err
	}
	_, err := e.mdex.CancelEcosystem(&in.Header, registry.Ecosystem(in.Ecosystem))
	return err
}

// ============================================================================
// ContractDEx
// ============================================================================

func (e *Engine) handleCreateContract(in *instruction.CreateContract) error {
	if err := e.require(activation.FeatureContractDEx, in.Block); err != nil {
		return err
	}
	kind := registry.KindNativeContract
	if in.Oracle {
		if err := e.require(activation.FeatureContractDExOracle, in.Block); err != nil {
			return err
		}
		kind = registry.KindOracleContract
	}
	switch {
	case in.NotionalSize <= 0, in.MarginRequirement <= 0, in.LeverageCap <= 0:
		return fmt.Errorf("%w: contract terms must be positive", ErrMalformed)
	case in.BlocksUntilExpiry < 0:
		return fmt.Errorf("%w: blocks until expiry %d", ErrMalformed, in.BlocksUntilExpiry)
	}
	collateral, err := e.token(in.CollateralToken)
	if err != nil {
		return err
	}
	if collateral.Ecosystem != registry.Ecosystem(in.Ecosystem) {
		return fmt.Errorf("%w: collateral %d is in the %s ecosystem", ErrWrongKind, collateral.ID, collateral.Ecosystem)
	}

	terms := &registry.ContractTerms{
		NotionalSize:      in.NotionalSize,
		CollateralToken:   in.CollateralToken,
		MarginRequirement: in.MarginRequirement,
		LeverageCap:       in.LeverageCap,
		Inverse:           in.Inverse,
	}
	if in.BlocksUntilExpiry > 0 {
		terms.ExpiryBlock = in.Block + in.BlocksUntilExpiry
	}
	_, err = e.createProperty(&in.Header, in.PropertyInfo, kind, 0, terms)
	return err
}

func (e *Engine) handleContractTrade(in *instruction.ContractTrade) error {
	if err := e.require(activation.FeatureContractDEx, in.Block); err != nil {
		return err
	}
	res, err := e.cdex.PlaceOrder(&in.Header, in.Contract, in.Amount, in.Price, in.Action, in.Leverage, in.OrderType)
	if err != nil {
		return err
	}
	e.recordContractTrades(res.Trades)
	return nil
}

func (e *Engine) handleContractClosePosition(in *instruction.ContractClosePosition) error {
	if err := e.require(activation.FeatureContractDEx, in.Block); err != nil {
		return err
	}
	res, err := e.cdex.ClosePosition(&in.Header, in.Contract)
	if err != nil {
		return err
	}
	e.recordContractTrades(res.Trades)
	return nil
}

func (e *Engine) handleContractCancelAll(in *instruction.ContractCancelAll) error {
	if err := e.require(activation.FeatureContractDEx, in.Block); err != nil {
		return err
	}
	_, err := e.cdex.CancelAll(&in.Header, in.Contract)
	return err
}

func (e *Engine) handleContractCancelByTx(in *instruction.ContractCancelByTx) error {
	if err := e.require(activation.FeatureContractDEx, in.Block); err != nil {
		return err
	}
	_, err := e.cdex.CancelByTx(&in.Header, in.OrderBlock, in.OrderIndex)
	return err
}

func (e *Engine) handleContractCancelPrice(in *instruction.ContractCancelPrice) error {
	if err := e.require(activation.FeatureContractDEx, in.Block); err != nil {
		return err
	}
	_, err := e.cdex.CancelAtPrice(&in.Header, in.Contract, in.Price, in.Action)
	return err
}

func (e *Engine) handleOraclePrice(in *instruction.OraclePrice) error {
	if err := e.require(activation.FeatureContractDExOracle, in.Block); err != nil {
		return err
	}
	return e.cdex.SetOraclePrice(&in.Header, in.Contract, in.High, in.Low, in.Close)
}

func (e *Engine) recordContractTrades(trades []contractdex.Trade) {
	for _, t := range trades {
		e.recordTrade(contractTradeRecord(t), "cdex")
	}
}

func contractTradeRecord(t contractdex.Trade) index.TradeRecord {
	return index.TradeRecord{
		Market:      string(market.Contract(t.Contract)),
		Block:       t.Block,
		Index:       t.Index,
		TakerTxID:   t.TakerTxID,
		MakerTxID:   t.MakerTxID,
		Taker:       t.Taker,
		Maker:       t.Maker,
		Quantity:    t.Quantity,
		Price:       t.Price,
		TakerFee:    t.TakerFee,
		MakerRebate: t.MakerRebate,
		TakerStatus: t.TakerStatus.String(),
		MakerStatus: t.MakerStatus.String(),
		Liquidation: t.Liquidation,
	}
}
