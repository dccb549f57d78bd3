// Package dex is the bilateral exchange of tokens against the base chain
// currency: offers, accepts and payments observed on chain.
package dex

import (
	"fmt"
	"sort"

	"TradeLedger/internal/activation"
	"TradeLedger/internal/instruction"
	"TradeLedger/internal/ledger"
	"TradeLedger/internal/market"
	fpmath "TradeLedger/internal/math"
)

// Engine holds DEx offers and accepts.
// Not thread-safe: owned by the single writer of the core engine.
type Engine struct {
	ledger   *ledger.Ledger
	schedule *activation.Schedule
	tracker  *market.Tracker

	offers  map[offerKey]*Offer
	accepts map[acceptKey]*Accept
}

func NewEngine(l *ledger.Ledger, schedule *activation.Schedule, tracker *market.Tracker) *Engine {
	return &Engine{
		ledger:   l,
		schedule: schedule,
		tracker:  tracker,
		offers:   make(map[offerKey]*Offer),
		accepts:  make(map[acceptKey]*Accept),
	}
}

// GetOffer returns a copy of the maker's offer for token.
func (e *Engine) GetOffer(maker string, token uint32) (Offer, bool) {
	o, ok := e.offers[offerKey{maker, token}]
	if !ok {
		return Offer{}, false
	}
	return *o, true
}

// GetAccept returns a copy of the accept for (seller, buyer, token).
func (e *Engine) GetAccept(seller, buyer string, token uint32) (Accept, bool) {
	a, ok := e.accepts[acceptKey{seller, buyer, token}]
	if !ok {
		return Accept{}, false
	}
	return *a, true
}

func validateTerms(amount, desired int64, window uint8) error {
	switch {
	case window == 0:
		return ErrZeroPaymentWindow
	case desired <= 0:
		return ErrZeroDesired
	case amount <= 0:
		return ErrZeroAmount
	}
	return nil
}

// CreateSellOffer reserves amount of token from the maker's available
// balance and publishes it for amountDesired of the base currency.
func (e *Engine) CreateSellOffer(tx *instruction.Header, token uint32, amount, desired, minFee int64, window uint8) (Offer, error) {
	if err := validateTerms(amount, desired, window); err != nil {
		return Offer{}, err
	}
	if _, exists := e.offers[offerKey{tx.Sender, token}]; exists {
		return Offer{}, ErrOfferExists
	}

	batch := ledger.NewBatch(tx.TxID, tx.Block)
	offer, err := e.placeSellOffer(batch, tx, token, amount, desired, minFee, window, e.ledger.Balance(tx.Sender, token, ledger.Available))
	if err != nil {
		return Offer{}, err
	}
	e.ledger.MustApply(batch)
	e.offers[offerKey{tx.Sender, token}] = offer
	return *offer, nil
}

// placeSellOffer sizes the offer against available and adds the
// reservation to batch.
func (e *Engine) placeSellOffer(batch *ledger.Batch, tx *instruction.Header, token uint32, amount, desired, minFee int64, window uint8, available int64) (*Offer, error) {
	if amount > available {
		if e.schedule.DExMath(tx.Block) == activation.Current {
			return nil, &ledger.InsufficientFundsError{
				Key:  ledger.Key(tx.Sender, token, ledger.Available),
				Have: available,
				Need: amount,
			}
		}
		desired = fpmath.LegacyDesiredForAvailable(desired, available, amount)
		amount = available
		if desired <= 0 {
			return nil, ErrZeroDesired
		}
	}
	if amount <= 0 {
		return nil, &ledger.InsufficientFundsError{Key: ledger.Key(tx.Sender, token, ledger.Available), Have: available, Need: 1}
	}

	batch.Move(tx.Sender, token, ledger.Available, ledger.SellReserve, amount, ledger.JournalTypeReserve)
	return &Offer{
		Maker:         tx.Sender,
		Token:         token,
		AmountOffered: amount,
		AmountDesired: desired,
		MinFee:        minFee,
		PaymentWindow: window,
		Block:         tx.Block,
		TxID:          tx.TxID,
		Option:        OptionSell,
	}, nil
}

// UpdateSellOffer replaces the maker's sell offer. Either the old offer is
// destroyed and the new one created, or nothing changes.
func (e *Engine) UpdateSellOffer(tx *instruction.Header, token uint32, amount, desired, minFee int64, window uint8) (Offer, error) {
	key := offerKey{tx.Sender, token}
	old, ok := e.offers[key]
	if !ok || old.Option != OptionSell {
		return Offer{}, ErrNoSuchOffer
	}
	if err := validateTerms(amount, desired, window); err != nil {
		return Offer{}, err
	}

	reserved := e.ledger.Balance(tx.Sender, token, ledger.SellReserve)
	available := e.ledger.Balance(tx.Sender, token, ledger.Available) + reserved

	batch := ledger.NewBatch(tx.TxID, tx.Block)
	batch.Move(tx.Sender, token, ledger.SellReserve, ledger.Available, reserved, ledger.JournalTypeRelease)
	offer, err := e.placeSellOffer(batch, tx, token, amount, desired, minFee, window, available)
	if err != nil {
		return Offer{}, err
	}
	e.ledger.MustApply(batch)
	e.offers[key] = offer
	return *offer, nil
}

// CreateBuyOffer publishes a bid for amount of token paying desired base
// currency. Nothing is reserved until a seller accepts.
func (e *Engine) CreateBuyOffer(tx *instruction.Header, token uint32, amount, desired, minFee int64, window uint8) (Offer, error) {
	if err := validateTerms(amount, desired, window); err != nil {
		return Offer{}, err
	}
	key := offerKey{tx.Sender, token}
	if _, exists := e.offers[key]; exists {
		return Offer{}, ErrOfferExists
	}
	offer := &Offer{
		Maker:         tx.Sender,
		Token:         token,
		AmountOffered: amount,
		AmountDesired: desired,
		MinFee:        minFee,
		PaymentWindow: window,
		Block:         tx.Block,
		TxID:          tx.TxID,
		Option:        OptionBuy,
	}
	e.offers[key] = offer
	return *offer, nil
}

// DestroyOffer removes the maker's offer and returns the unaccepted
// reservation to available. Open accepts keep their reservation.
func (e *Engine) DestroyOffer(tx *instruction.Header, token uint32) (Offer, error) {
	key := offerKey{tx.Sender, token}
	offer, ok := e.offers[key]
	if !ok {
		return Offer{}, ErrNoSuchOffer
	}
	if offer.Option == OptionSell {
		batch := ledger.NewBatch(tx.TxID, tx.Block)
		reserved := e.ledger.Balance(tx.Sender, token, ledger.SellReserve)
		batch.Move(tx.Sender, token, ledger.SellReserve, ledger.Available, reserved, ledger.JournalTypeRelease)
		e.ledger.MustApply(batch)
	}
	delete(e.offers, key)
	return *offer, nil
}

// AcceptOffer reserves tokens of maker's offer for the sender.
func (e *Engine) AcceptOffer(tx *instruction.Header, maker string, token uint32, requested, feePaid int64) (Accept, error) {
	offer, ok := e.offers[offerKey{maker, token}]
	if !ok {
		return Accept{}, ErrNoSuchOffer
	}
	if tx.Sender == maker {
		return Accept{}, ErrSelfAccept
	}
	if feePaid < offer.MinFee {
		return Accept{}, ErrFeeTooLow
	}
	if requested <= 0 {
		return Accept{}, ErrZeroAmount
	}

	seller, buyer := maker, tx.Sender
	if offer.Option == OptionBuy {
		seller, buyer = tx.Sender, maker
	}
	key := acceptKey{seller, buyer, token}
	if _, exists := e.accepts[key]; exists {
		return Accept{}, ErrAcceptExists
	}

	batch := ledger.NewBatch(tx.TxID, tx.Block)
	var reserve int64
	if offer.Option == OptionSell {
		reserve = min(requested, e.ledger.Balance(seller, token, ledger.SellReserve))
		if reserve == 0 {
			return Accept{}, ErrNothingToAccept
		}
		batch.Move(seller, token, ledger.SellReserve, ledger.AcceptReserve, reserve, ledger.JournalTypeReserve)
	} else {
		reserve = min(requested, offer.AmountOffered)
		batch.Move(seller, token, ledger.Available, ledger.AcceptReserve, reserve, ledger.JournalTypeReserve)
	}
	if err := e.ledger.Apply(batch); err != nil {
		return Accept{}, err
	}

	accept := &Accept{
		Seller:          seller,
		Buyer:           buyer,
		Token:           token,
		AmountReserved:  reserve,
		AmountRemaining: reserve,
		Block:           tx.Block,
		PaymentWindow:   offer.PaymentWindow,
		TxID:            tx.TxID,
		Option:          offer.Option,
		OfferTxID:       offer.TxID,
		OfferAmount:     offer.AmountOffered,
		OfferDesired:    offer.AmountDesired,
	}
	e.accepts[key] = accept
	return *accept, nil
}

// findAccept locates the accept a payment from payer to receiver settles:
// sell-offer accepts first by token id, then buy-offer accepts when buy
// offers are active.
func (e *Engine) findAccept(payer, receiver string, block int64) *Accept {
	var candidates []*Accept
	for k, a := range e.accepts {
		if k.seller == receiver && k.buyer == payer {
			candidates = append(candidates, a)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Token < candidates[j].Token })

	for _, a := range candidates {
		if a.Option == OptionSell {
			return a
		}
	}
	if e.schedule.IsActive(activation.FeatureDExBuy, block) {
		for _, a := range candidates {
			if a.Option == OptionBuy {
				return a
			}
		}
	}
	return nil
}

// SettlePayment applies a base-currency payment of amountPaid from the
// sender to the receiver against their open accept.
func (e *Engine) SettlePayment(tx *instruction.Header, amountPaid int64) (Purchase, error) {
	if amountPaid <= 0 {
		return Purchase{}, ErrZeroAmount
	}
	accept := e.findAccept(tx.Sender, tx.Receiver, tx.Block)
	if accept == nil {
		return Purchase{}, ErrNoActiveAccept
	}
	if accept.OfferDesired <= 0 {
		return Purchase{}, ErrZeroDesired
	}

	var purchased int64
	if e.schedule.DExMath(tx.Block) == activation.Current {
		var err error
		purchased, err = fpmath.PurchaseAmount(amountPaid, accept.OfferAmount, accept.OfferDesired)
		if err != nil {
			return Purchase{}, fmt.Errorf("purchase amount: %w", err)
		}
	} else {
		purchased = fpmath.LegacyPurchaseAmount(amountPaid, accept.OfferAmount, accept.OfferDesired)
	}
	purchased = min(purchased, accept.AmountRemaining)
	if purchased <= 0 {
		return Purchase{}, ErrPaymentTooSmall
	}

	batch := ledger.NewBatch(tx.TxID, tx.Block)
	batch.Transfer(accept.Seller, ledger.AcceptReserve, accept.Buyer, ledger.Available, accept.Token, purchased, ledger.JournalTypeTrade)
	e.ledger.MustApply(batch)

	accept.AmountRemaining -= purchased
	purchase := Purchase{
		TxID:            tx.TxID,
		OfferTxID:       accept.OfferTxID,
		Seller:          accept.Seller,
		Buyer:           accept.Buyer,
		Token:           accept.Token,
		AmountPaid:      amountPaid,
		AmountPurchased: purchased,
		Block:           tx.Block,
		Index:           tx.Index,
	}

	if accept.AmountRemaining == 0 {
		delete(e.accepts, acceptKey{accept.Seller, accept.Buyer, accept.Token})
		e.closeDrainedOffer(accept)
	}

	if e.tracker != nil {
		price := fpmath.MustMulDiv(amountPaid, fpmath.COIN, purchased, fpmath.RoundDown)
		e.tracker.Record(market.DEx(accept.Token), tx.Block, market.Fill{Price: price, Quantity: purchased})
	}
	return purchase, nil
}

// closeDrainedOffer removes a sell offer once nothing remains reserved for
// it anywhere.
func (e *Engine) closeDrainedOffer(a *Accept) {
	if a.Option != OptionSell {
		return
	}
	key := offerKey{a.Seller, a.Token}
	offer, ok := e.offers[key]
	if !ok || offer.TxID != a.OfferTxID {
		return
	}
	if e.ledger.Balance(a.Seller, a.Token, ledger.SellReserve) == 0 &&
		e.ledger.Balance(a.Seller, a.Token, ledger.AcceptReserve) == 0 {
		delete(e.offers, key)
	}
}

// CancelAccept releases an accept before payment.
func (e *Engine) CancelAccept(tx *instruction.Header, seller, buyer string, token uint32) (Accept, error) {
	a, ok := e.accepts[acceptKey{seller, buyer, token}]
	if !ok {
		return Accept{}, ErrNoSuchAccept
	}
	e.destroyAccept(tx.TxID, tx.Block, a)
	return *a, nil
}

// destroyAccept returns the remaining reservation to the offer it came
// from when that offer still exists, otherwise to available.
func (e *Engine) destroyAccept(ref string, block int64, a *Accept) {
	batch := ledger.NewBatch(ref, block)
	target := ledger.Available
	if a.Option == OptionSell {
		if offer, ok := e.offers[offerKey{a.Seller, a.Token}]; ok && offer.TxID == a.OfferTxID {
			target = ledger.SellReserve
		}
	}
	batch.Move(a.Seller, a.Token, ledger.AcceptReserve, target, a.AmountRemaining, ledger.JournalTypeRelease)
	e.ledger.MustApply(batch)
	delete(e.accepts, acceptKey{a.Seller, a.Buyer, a.Token})
}

// ExpireAccepts destroys every accept whose payment window has elapsed at
// block and returns them in (seller, buyer, token) order.
func (e *Engine) ExpireAccepts(block int64) []Accept {
	var expired []*Accept
	for _, a := range e.accepts {
		if a.Expired(block) {
			expired = append(expired, a)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return lessAccept(expired[i], expired[j]) })

	out := make([]Accept, 0, len(expired))
	for _, a := range expired {
		e.destroyAccept(fmt.Sprintf("expire:%d", block), block, a)
		out = append(out, *a)
	}
	return out
}

func lessAccept(a, b *Accept) bool {
	if a.Seller != b.Seller {
		return a.Seller < b.Seller
	}
	if a.Buyer != b.Buyer {
		return a.Buyer < b.Buyer
	}
	return a.Token < b.Token
}

// Offers returns all offers sorted by (maker, token).
func (e *Engine) Offers() []Offer {
	out := make([]Offer, 0, len(e.offers))
	for _, o := range e.offers {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Maker != out[j].Maker {
			return out[i].Maker < out[j].Maker
		}
		return out[i].Token < out[j].Token
	})
	return out
}

// OffersForToken returns the offers on token sorted by maker.
func (e *Engine) OffersForToken(token uint32) []Offer {
	var out []Offer
	for _, o := range e.Offers() {
		if o.Token == token {
			out = append(out, o)
		}
	}
	return out
}

// Accepts returns all accepts sorted by (seller, buyer, token).
func (e *Engine) Accepts() []Accept {
	list := make([]*Accept, 0, len(e.accepts))
	for _, a := range e.accepts {
		list = append(list, a)
	}
	sort.Slice(list, func(i, j int) bool { return lessAccept(list[i], list[j]) })
	out := make([]Accept, len(list))
	for i, a := range list {
		out[i] = *a
	}
	return out
}
