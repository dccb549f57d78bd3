package contractdex

import "errors"

var (
	ErrNoSuchContract     = errors.New("no such contract")
	ErrContractExpired    = errors.New("contract expired")
	ErrZeroAmount         = errors.New("amount is zero")
	ErrZeroPrice          = errors.New("price is zero")
	ErrInvalidLeverage    = errors.New("leverage out of range")
	ErrInvalidAction      = errors.New("invalid trading action")
	ErrEmptyBook          = errors.New("no opposite orders")
	ErrNothingToCancel    = errors.New("no matching orders to cancel")
	ErrNoPosition         = errors.New("no open position")
	ErrNotOracleContract  = errors.New("not an oracle contract")
	ErrNotOracleIssuer    = errors.New("sender is not the oracle issuer")
	ErrInvalidOraclePrice = errors.New("invalid oracle price")
)
