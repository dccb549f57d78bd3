package core

import (
	"errors"
	"fmt"
	"math"

	"TradeLedger/internal/activation"
	"TradeLedger/internal/instruction"
	"TradeLedger/internal/ledger"
	"TradeLedger/internal/registry"
)

// mustStore panics on registry failures that are not validation errors:
// the KV store is gone and the block cannot complete.
func mustStore(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, registry.ErrInvalidProperty) || errors.Is(err, registry.ErrIDsExhausted) || errors.Is(err, registry.ErrNotFound) {
		return err
	}
	panic(fmt.Sprintf("FATAL: %s: %v", what, err))
}

// property returns a registered property.
func (e *Engine) property(id uint32) (registry.Property, error) {
	p, ok := e.registry.Get(id)
	if !ok {
		return registry.Property{}, fmt.Errorf("%w: %d", ErrNoSuchProperty, id)
	}
	return p, nil
}

// token returns a registered property that can be held and traded, i.e.
// anything but a futures contract.
func (e *Engine) token(id uint32) (registry.Property, error) {
	p, err := e.property(id)
	if err != nil {
		return p, err
	}
	if p.Kind.IsContract() {
		return p, fmt.Errorf("%w: %d is a contract", ErrWrongKind, id)
	}
	return p, nil
}

// issuedBy returns a property whose issuer is sender.
func (e *Engine) issuedBy(id uint32, sender string, kinds ...registry.Kind) (registry.Property, error) {
	p, err := e.property(id)
	if err != nil {
		return p, err
	}
	if p.Issuer != sender {
		return p, fmt.Errorf("%w: %s is not the issuer of %d", ErrUnauthorized, sender, id)
	}
	if len(kinds) == 0 {
		return p, nil
	}
	for _, k := range kinds {
		if p.Kind == k {
			return p, nil
		}
	}
	return p, fmt.Errorf("%w: %d is %s", ErrWrongKind, id, p.Kind)
}

func (e *Engine) createProperty(tx *instruction.Header, info instruction.PropertyInfo, kind registry.Kind, issued int64, terms *registry.ContractTerms) (uint32, error) {
	id, err := e.registry.Create(registry.Property{
		Ecosystem:   registry.Ecosystem(info.Ecosystem),
		Kind:        kind,
		Name:        info.Name,
		Category:    info.Category,
		Subcategory: info.Subcategory,
		URL:         info.URL,
		Data:        info.Data,
		Divisible:   info.Divisible,
		Issuer:      tx.Sender,
		TotalIssued: issued,
		CreationTx:  tx.TxID,
		Contract:    terms,
	}, tx.Block, tx.BlockHash)
	return id, mustStore(err, "create property")
}

func (e *Engine) handleSimpleSend(in *instruction.SimpleSend) error {
	tx := &in.Header
	if in.Amount <= 0 {
		return fmt.Errorf("%w: amount %d", ErrMalformed, in.Amount)
	}
	if tx.Receiver == "" || tx.Receiver == tx.Sender {
		return fmt.Errorf("%w: send needs a distinct receiver", ErrMalformed)
	}
	p, err := e.token(in.Token)
	if err != nil {
		return err
	}

	batch := ledger.NewBatch(tx.TxID, tx.Block)
	batch.Transfer(tx.Sender, ledger.Available, tx.Receiver, ledger.Available, in.Token, in.Amount, ledger.JournalTypeTransfer)
	if err := e.ledger.Apply(batch); err != nil {
		return err
	}
	e.participate(tx, p, in.Amount)
	return nil
}

// participate mints crowdsale units when a send pays the receiver's
// active crowdsale in its desired token.
func (e *Engine) participate(tx *instruction.Header, paid registry.Property, amount int64) {
	cs, ok := e.crowdsales.ActiveFor(tx.Receiver)
	if !ok || cs.DesiredToken != paid.ID {
		return
	}
	user, issuer, err := cs.Participation(amount, paid.Divisible, tx.Block)
	if err == nil && user > math.MaxInt64-issuer {
		err = fmt.Errorf("minted amount overflows")
	}
	if err != nil || user+issuer == 0 {
		e.logger.Warn().Err(err).Str("txid", tx.TxID).Uint32("property", cs.PropertyID).Msg("crowdsale participation mints nothing")
		return
	}
	if err := mustStore(e.registry.AdjustIssued(cs.PropertyID, user+issuer, tx.Block, tx.BlockHash), "crowdsale issuance"); err != nil {
		e.logger.Warn().Err(err).Str("txid", tx.TxID).Uint32("property", cs.PropertyID).Msg("crowdsale supply cap reached")
		return
	}

	batch := ledger.NewBatch(tx.TxID+":crowdsale", tx.Block)
	batch.Issue(tx.Sender, cs.PropertyID, ledger.Available, user)
	batch.Issue(cs.Issuer, cs.PropertyID, ledger.Available, issuer)
	e.ledger.MustApply(batch)
	cs.UserCreated += user
	cs.IssuerCreated += issuer
}

func (e *Engine) handleCreateFixed(in *instruction.CreateFixed) error {
	if err := e.require(activation.FeatureFixed, in.Block); err != nil {
		return err
	}
	if in.Amount <= 0 {
		return fmt.Errorf("%w: amount %d", ErrMalformed, in.Amount)
	}
	id, err := e.createProperty(&in.Header, in.PropertyInfo, registry.KindFixed, in.Amount, nil)
	if err != nil {
		return err
	}
	batch := ledger.NewBatch(in.TxID, in.Block)
	batch.Issue(in.Sender, id, ledger.Available, in.Amount)
	e.ledger.MustApply(batch)
	return nil
}

func (e *Engine) handleCreateManaged(in *instruction.CreateManaged) error {
	if err := e.require(activation.FeatureManaged, in.Block); err != nil {
		return err
	}
	_, err := e.createProperty(&in.Header, in.PropertyInfo, registry.KindManaged, 0, nil)
	return err
}

func (e *Engine) handleGrant(in *instruction.Grant) error {
	if err := e.require(activation.FeatureManaged, in.Block); err != nil {
		return err
	}
	if in.Amount <= 0 {
		return fmt.Errorf("%w: amount %d", ErrMalformed, in.Amount)
	}
	if _, err := e.issuedBy(in.Token, in.Sender, registry.KindManaged); err != nil {
		return err
	}
	if err := mustStore(e.registry.AdjustIssued(in.Token, in.Amount, in.Block, in.BlockHash), "grant"); err != nil {
		return err
	}
	receiver := in.Receiver
	if receiver == "" {
		receiver = in.Sender
	}
	batch := ledger.NewBatch(in.TxID, in.Block)
	batch.Issue(receiver, in.Token, ledger.Available, in.Amount)
	e.ledger.MustApply(batch)
	return nil
}

func (e *Engine) handleRevoke(in *instruction.Revoke) error {
	if err := e.require(activation.FeatureManaged, in.Block); err != nil {
		return err
	}
	if in.Amount <= 0 {
		return fmt.Errorf("%w: amount %d", ErrMalformed, in.Amount)
	}
	if _, err := e.issuedBy(in.Token, in.Sender, registry.KindManaged); err != nil {
		return err
	}
	batch := ledger.NewBatch(in.TxID, in.Block)
	batch.Destroy(in.Sender, in.Token, ledger.Available, in.Amount)
	if err := e.ledger.Apply(batch); err != nil {
		return err
	}
	if err := e.registry.AdjustIssued(in.Token, -in.Amount, in.Block, in.BlockHash); err != nil {
		panic(fmt.Sprintf("FATAL: revoke %d of %d after destroying held units: %v", in.Amount, in.Token, err))
	}
	return nil
}

func (e *Engine) handleChangeIssuer(in *instruction.ChangeIssuer) error {
	if in.Receiver == "" || in.Receiver == in.Sender {
		return fmt.Errorf("%w: change issuer needs a distinct receiver", ErrMalformed)
	}
	p, err := e.issuedBy(in.Token, in.Sender)
	if err != nil {
		return err
	}
	if cs, ok := e.crowdsales.ActiveFor(in.Sender); ok && cs.PropertyID == in.Token {
		return fmt.Errorf("%w: crowdsale of %d is still open", ErrCrowdsaleActive, in.Token)
	}
	p.Issuer = in.Receiver
	return mustStore(e.registry.Update(p, in.Block, in.BlockHash), "change issuer")
}

func (e *Engine) handleCreateCrowdsale(in *instruction.CreateCrowdsale) error {
	switch {
	case in.TokensPerUnit <= 0:
		return fmt.Errorf("%w: tokens per unit %d", ErrMalformed, in.TokensPerUnit)
	case in.DeadlineBlock <= in.Block:
		return fmt.Errorf("%w: deadline %d not after block %d", ErrMalformed, in.DeadlineBlock, in.Block)
	case in.EarlyBirdPct < 0 || in.IssuerPct < 0 || in.IssuerPct > 100:
		return fmt.Errorf("%w: bonus percentages %d/%d", ErrMalformed, in.EarlyBirdPct, in.IssuerPct)
	}
	desired, err := e.token(in.DesiredToken)
	if err != nil {
		return err
	}
	if desired.Ecosystem != registry.Ecosystem(in.Ecosystem) {
		return fmt.Errorf("%w: desired token %d is in the %s ecosystem", ErrWrongKind, desired.ID, desired.Ecosystem)
	}
	if _, ok := e.crowdsales.ActiveFor(in.Sender); ok {
		return ErrCrowdsaleActive
	}

	id, err := e.createProperty(&in.Header, in.PropertyInfo, registry.KindCrowdsale, 0, nil)
	if err != nil {
		return err
	}
	if err := e.crowdsales.Start(registry.Crowdsale{
		PropertyID:    id,
		Issuer:        in.Sender,
		DesiredToken:  in.DesiredToken,
		TokensPerUnit: in.TokensPerUnit,
		DeadlineBlock: in.DeadlineBlock,
		EarlyBirdPct:  in.EarlyBirdPct,
		IssuerPct:     in.IssuerPct,
		CreationBlock: in.Block,
		CreationTx:    in.TxID,
	}); err != nil {
		panic(fmt.Sprintf("FATAL: start crowdsale %d: %v", id, err))
	}
	return nil
}

func (e *Engine) handleCloseCrowdsale(in *instruction.CloseCrowdsale) error {
	cs, ok := e.crowdsales.ActiveFor(in.Sender)
	if !ok || cs.PropertyID != in.Token {
		return fmt.Errorf("%w: %s has no open crowdsale for %d", ErrNoCrowdsale, in.Sender, in.Token)
	}
	e.crowdsales.Close(in.Sender)
	return nil
}
