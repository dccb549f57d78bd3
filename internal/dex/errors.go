package dex

import "errors"

var (
	ErrZeroPaymentWindow = errors.New("payment window is zero")
	ErrZeroDesired       = errors.New("amount desired is zero")
	ErrZeroAmount        = errors.New("amount is zero")
	ErrOfferExists       = errors.New("offer already exists")
	ErrNoSuchOffer       = errors.New("no such offer")
	ErrAcceptExists      = errors.New("accept already exists")
	ErrFeeTooLow         = errors.New("accept fee below offer minimum")
	ErrNothingToAccept   = errors.New("offer has nothing left to accept")
	ErrSelfAccept        = errors.New("cannot accept own offer")
	ErrNoActiveAccept    = errors.New("no active accept for payment")
	ErrPaymentTooSmall   = errors.New("payment buys zero units")
	ErrNoSuchAccept      = errors.New("no such accept")
)
