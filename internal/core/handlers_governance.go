package core

import (
	"fmt"

	"TradeLedger/internal/activation"
	"TradeLedger/internal/instruction"
)

// authorized checks sender is the configured activation authority.
func (e *Engine) authorized(sender string) error {
	if e.cfg.ActivationAuthority == "" || sender != e.cfg.ActivationAuthority {
		return fmt.Errorf("%w: %s may not send governance messages", ErrUnauthorized, sender)
	}
	return nil
}

func (e *Engine) handleActivation(in *instruction.Activation) error {
	if err := e.authorized(in.Sender); err != nil {
		return err
	}
	f := activation.Feature(in.FeatureID)
	if !f.Known() {
		return fmt.Errorf("%w: unknown feature %d", ErrMalformed, in.FeatureID)
	}
	if in.ActivationBlock < in.Block {
		return fmt.Errorf("%w: activation block %d is in the past", ErrMalformed, in.ActivationBlock)
	}
	if err := e.activations.Add(activation.Record{
		Feature:          f,
		ActivationBlock:  in.ActivationBlock,
		MinClientVersion: in.MinClientVersion,
		TxID:             in.TxID,
		Block:            in.Block,
	}); err != nil {
		panic(fmt.Sprintf("FATAL: store activation %s: %v", in.TxID, err))
	}
	e.schedule.Activate(f, in.ActivationBlock)
	e.logger.Info().Str("feature", f.String()).Int64("height", in.ActivationBlock).Msg("feature scheduled")
	return nil
}

func (e *Engine) handleDeactivation(in *instruction.Deactivation) error {
	if err := e.authorized(in.Sender); err != nil {
		return err
	}
	f := activation.Feature(in.FeatureID)
	if _, ok := e.schedule.ActivationHeight(f); !ok {
		return fmt.Errorf("%w: feature %s is not scheduled", ErrMalformed, f)
	}
	if err := e.activations.Add(activation.Record{
		Feature:    f,
		Deactivate: true,
		TxID:       in.TxID,
		Block:      in.Block,
	}); err != nil {
		panic(fmt.Sprintf("FATAL: store deactivation %s: %v", in.TxID, err))
	}
	e.schedule.Deactivate(f)
	e.logger.Info().Str("feature", f.String()).Msg("feature deactivated")
	return nil
}

func (e *Engine) handleAlert(in *instruction.Alert) error {
	if err := e.authorized(in.Sender); err != nil {
		return err
	}
	if in.ExpiryBlock <= in.Block {
		return fmt.Errorf("%w: alert expires at %d", ErrMalformed, in.ExpiryBlock)
	}
	if err := e.activations.AddAlert(activation.Alert{
		Type:        in.AlertType,
		ExpiryBlock: in.ExpiryBlock,
		Message:     in.Message,
		TxID:        in.TxID,
		Block:       in.Block,
	}); err != nil {
		panic(fmt.Sprintf("FATAL: store alert %s: %v", in.TxID, err))
	}
	e.logger.Warn().Uint16("type", in.AlertType).Int64("expiry", in.ExpiryBlock).Str("message", in.Message).Msg("alert received")
	return nil
}
