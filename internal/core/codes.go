package core

import (
	"errors"

	"TradeLedger/internal/contractdex"
	"TradeLedger/internal/dex"
	"TradeLedger/internal/instruction"
	"TradeLedger/internal/ledger"
	"TradeLedger/internal/metadex"
	"TradeLedger/internal/registry"
)

// Result codes persisted in the tx index. Zero is success.
const (
	CodeOK                = 0
	CodeMalformed         = 1
	CodeDuplicate         = 2
	CodeOutOfOrder        = 3
	CodeFeatureInactive   = 4
	CodeUnknownKind       = 5
	CodeInsufficientFunds = 10
	CodeNotFound          = 11
	CodeAlreadyExists     = 12
	CodeUnauthorized      = 13
	CodeInvalidProperty   = 14
	CodeWrongEcosystem    = 15
	CodeFeeTooLow         = 20
	CodeNothingToAccept   = 21
	CodeSelfTrade         = 22
	CodePaymentTooSmall   = 23
	CodeInvalidPrice      = 30
	CodeNothingToCancel   = 31
	CodeContractExpired   = 40
	CodeInvalidLeverage   = 41
	CodeEmptyBook         = 42
	CodeNoPosition        = 43
	CodeOracle            = 44
	CodeBlockAborted      = 50
)

var (
	ErrMalformed       = errors.New("malformed instruction")
	ErrFeatureInactive = errors.New("feature not active")
	ErrUnknownKind     = errors.New("unknown instruction kind")
	ErrUnauthorized    = errors.New("sender not authorized")
	ErrNoSuchProperty  = errors.New("no such property")
	ErrWrongKind       = errors.New("property kind does not allow this")
	ErrDuplicateTx     = errors.New("duplicate transaction")
	ErrCrowdsaleActive = errors.New("sender already runs a crowdsale")
	ErrNoCrowdsale     = errors.New("no active crowdsale")
	ErrBlockAborted    = errors.New("block aborted")
)

// codeTable maps sentinel errors to result codes, first match wins.
var codeTable = []struct {
	err  error
	code int
}{
	{ErrBlockAborted, CodeBlockAborted},
	{ErrMalformed, CodeMalformed},
	{ErrDuplicateTx, CodeDuplicate},
	{ErrOutOfOrder, CodeOutOfOrder},
	{ErrFeatureInactive, CodeFeatureInactive},
	{ErrUnknownKind, CodeUnknownKind},
	{ErrUnauthorized, CodeUnauthorized},
	{ErrNoSuchProperty, CodeNotFound},
	{ErrWrongKind, CodeInvalidProperty},
	{ErrCrowdsaleActive, CodeAlreadyExists},
	{ErrNoCrowdsale, CodeNotFound},
	{ledger.ErrInsufficientFunds, CodeInsufficientFunds},
	{ledger.ErrInvalidAmount, CodeMalformed},
	{registry.ErrNotFound, CodeNotFound},
	{registry.ErrInvalidProperty, CodeInvalidProperty},
	{registry.ErrIDsExhausted, CodeInvalidProperty},

	{dex.ErrZeroPaymentWindow, CodeMalformed},
	{dex.ErrZeroDesired, CodeMalformed},
	{dex.ErrZeroAmount, CodeMalformed},
	{dex.ErrOfferExists, CodeAlreadyExists},
	{dex.ErrAcceptExists, CodeAlreadyExists},
	{dex.ErrNoSuchOffer, CodeNotFound},
	{dex.ErrNoSuchAccept, CodeNotFound},
	{dex.ErrNoActiveAccept, CodeNotFound},
	{dex.ErrFeeTooLow, CodeFeeTooLow},
	{dex.ErrNothingToAccept, CodeNothingToAccept},
	{dex.ErrSelfAccept, CodeSelfTrade},
	{dex.ErrPaymentTooSmall, CodePaymentTooSmall},

	{metadex.ErrZeroPrice, CodeInvalidPrice},
	{metadex.ErrSameToken, CodeMalformed},
	{metadex.ErrCrossEcosystem, CodeWrongEcosystem},
	{metadex.ErrInvalidEcosystem, CodeWrongEcosystem},
	{metadex.ErrNothingToCancel, CodeNothingToCancel},

	{contractdex.ErrNoSuchContract, CodeNotFound},
	{contractdex.ErrContractExpired, CodeContractExpired},
	{contractdex.ErrZeroAmount, CodeMalformed},
	{contractdex.ErrZeroPrice, CodeInvalidPrice},
	{contractdex.ErrInvalidLeverage, CodeInvalidLeverage},
	{contractdex.ErrInvalidAction, CodeMalformed},
	{contractdex.ErrEmptyBook, CodeEmptyBook},
	{contractdex.ErrNothingToCancel, CodeNothingToCancel},
	{contractdex.ErrNoPosition, CodeNoPosition},
	{contractdex.ErrNotOracleContract, CodeOracle},
	{contractdex.ErrNotOracleIssuer, CodeUnauthorized},
	{contractdex.ErrInvalidOraclePrice, CodeOracle},
}

// codeFor classifies a handler error. Unclassified errors are reported
// as malformed.
func codeFor(err error) int {
	for _, c := range codeTable {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeMalformed
}

// rejected converts a handler error to a result.
func rejected(err error) instruction.Result {
	return instruction.Rejected(codeFor(err), err.Error())
}
