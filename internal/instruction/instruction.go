// Package instruction defines the decoded protocol instructions the core
// consumes. Payload extraction and decoding happen upstream.
package instruction

import (
	"fmt"
	"time"
)

// Kind discriminates instruction payloads.
type Kind int32

const (
	KindUnknown Kind = iota

	// token lifecycle
	KindSimpleSend
	KindCreateFixed
	KindCreateManaged
	KindGrant
	KindRevoke
	KindChangeIssuer
	KindCreateCrowdsale
	KindCloseCrowdsale

	// DEx
	KindDExSellOffer
	KindDExBuyOffer
	KindDExAccept
	KindDExPayment

	// MetaDEx
	KindMetaDExTrade
	KindMetaDExCancelPrice
	KindMetaDExCancelPair
	KindMetaDExCancelEcosystem

	// ContractDEx
	KindCreateContract
	KindContractTrade
	KindContractCancelAll
	KindContractCancelByTx
	KindContractCancelPrice
	KindContractClosePosition
	KindOraclePrice

	// governance
	KindActivation
	KindDeactivation
	KindAlert
)

var kindNames = map[Kind]string{
	KindSimpleSend:             "simple_send",
	KindCreateFixed:            "create_fixed",
	KindCreateManaged:          "create_managed",
	KindGrant:                  "grant",
	KindRevoke:                 "revoke",
	KindChangeIssuer:           "change_issuer",
	KindCreateCrowdsale:        "create_crowdsale",
	KindCloseCrowdsale:         "close_crowdsale",
	KindDExSellOffer:           "dex_sell_offer",
	KindDExBuyOffer:            "dex_buy_offer",
	KindDExAccept:              "dex_accept",
	KindDExPayment:             "dex_payment",
	KindMetaDExTrade:           "metadex_trade",
	KindMetaDExCancelPrice:     "metadex_cancel_price",
	KindMetaDExCancelPair:      "metadex_cancel_pair",
	KindMetaDExCancelEcosystem: "metadex_cancel_ecosystem",
	KindCreateContract:         "create_contract",
	KindContractTrade:          "contract_trade",
	KindContractCancelAll:      "contract_cancel_all",
	KindContractCancelByTx:     "contract_cancel_by_tx",
	KindContractCancelPrice:    "contract_cancel_price",
	KindContractClosePosition:  "contract_close_position",
	KindOraclePrice:            "oracle_price",
	KindActivation:             "activation",
	KindDeactivation:           "deactivation",
	KindAlert:                  "alert",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("unknown instruction kind %q", s)
}

// Header carries the transaction context every instruction shares. Block
// context is filled from the enclosing block, never from the wire.
type Header struct {
	TxID      string    `json:"txid"`     // transaction id, hex
	Block     int64     `json:"-"`        // block height
	BlockHash string    `json:"-"`        // block hash, hex
	Index     int       `json:"index"`    // position of the transaction in the block
	Sender    string    `json:"sender"`   // address that signed the transaction
	Receiver  string    `json:"receiver"` // reference output address, may be empty
	Fee       int64     `json:"fee"`      // base-currency fee paid by the transaction
	BlockTime time.Time `json:"-"`        // block header time
}

// Head returns the header; promoted to every instruction type.
func (h *Header) Head() *Header { return h }

// Instruction is implemented by every decoded payload.
type Instruction interface {
	Kind() Kind
	Head() *Header
}

// New returns an empty instruction of kind k.
func New(k Kind) (Instruction, error) {
	switch k {
	case KindSimpleSend:
		return &SimpleSend{}, nil
	case KindCreateFixed:
		return &CreateFixed{}, nil
	case KindCreateManaged:
		return &CreateManaged{}, nil
	case KindGrant:
		return &Grant{}, nil
	case KindRevoke:
		return &Revoke{}, nil
	case KindChangeIssuer:
		return &ChangeIssuer{}, nil
	case KindCreateCrowdsale:
		return &CreateCrowdsale{}, nil
	case KindCloseCrowdsale:
		return &CloseCrowdsale{}, nil
	case KindDExSellOffer:
		return &DExSellOffer{}, nil
	case KindDExBuyOffer:
		return &DExBuyOffer{}, nil
	case KindDExAccept:
		return &DExAccept{}, nil
	case KindDExPayment:
		return &DExPayment{}, nil
	case KindMetaDExTrade:
		return &MetaDExTrade{}, nil
	case KindMetaDExCancelPrice:
		return &MetaDExCancelPrice{}, nil
	case KindMetaDExCancelPair:
		return &MetaDExCancelPair{}, nil
	case KindMetaDExCancelEcosystem:
		return &MetaDExCancelEcosystem{}, nil
	case KindCreateContract:
		return &CreateContract{}, nil
	case KindContractTrade:
		return &ContractTrade{}, nil
	case KindContractCancelAll:
		return &ContractCancelAll{}, nil
	case KindContractCancelByTx:
		return &ContractCancelByTx{}, nil
	case KindContractCancelPrice:
		return &ContractCancelPrice{}, nil
	case KindContractClosePosition:
		return &ContractClosePosition{}, nil
	case KindOraclePrice:
		return &OraclePrice{}, nil
	case KindActivation:
		return &Activation{}, nil
	case KindDeactivation:
		return &Deactivation{}, nil
	case KindAlert:
		return &Alert{}, nil
	default:
		return nil, fmt.Errorf("no instruction of kind %d", k)
	}
}

// Block is one block worth of decoded instructions in transaction order.
type Block struct {
	Height       int64
	Hash         string
	PrevHash     string
	Time         time.Time
	Instructions []Instruction
}
