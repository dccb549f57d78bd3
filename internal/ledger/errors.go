package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientFunds is matched by every *InsufficientFundsError.
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("invalid amount")
)

// InsufficientFundsError reports the first bucket that would go negative.
type InsufficientFundsError struct {
	Key  BalanceKey
	Have int64
	Need int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds in %s: have=%d, need=%d", e.Key.Path(), e.Have, e.Need)
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}
