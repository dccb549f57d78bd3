package dex

// Option tells which side of the trade the offer maker is on.
type Option uint8

const (
	OptionBuy  Option = 1 // maker buys tokens for base currency
	OptionSell Option = 2 // maker sells tokens for base currency
)

func (o Option) String() string {
	if o == OptionBuy {
		return "buy"
	}
	return "sell"
}

// Offer is an open DEx offer, at most one per (maker, token).
type Offer struct {
	Maker         string
	Token         uint32
	AmountOffered int64 // tokens
	AmountDesired int64 // base currency
	MinFee        int64
	PaymentWindow uint8
	Block         int64
	TxID          string
	Option        Option
}

// Accept reserves tokens of an offer for a buyer until payment or expiry.
// Seller always holds the reserved tokens and Buyer always pays.
type Accept struct {
	Seller          string
	Buyer           string
	Token           uint32
	AmountReserved  int64
	AmountRemaining int64
	Block           int64
	PaymentWindow   uint8
	TxID            string
	Option          Option

	// terms of the offer frozen at accept time
	OfferTxID    string
	OfferAmount  int64
	OfferDesired int64
}

// Maker returns the address that created the accepted offer.
func (a *Accept) Maker() string {
	if a.Option == OptionBuy {
		return a.Buyer
	}
	return a.Seller
}

// Expired reports whether the payment window has passed at block.
func (a *Accept) Expired(block int64) bool {
	return block-a.Block >= int64(a.PaymentWindow)
}

// Purchase is a settled payment.
type Purchase struct {
	TxID            string
	OfferTxID       string
	Seller          string
	Buyer           string
	Token           uint32
	AmountPaid      int64
	AmountPurchased int64
	Block           int64
	Index           int
}

type offerKey struct {
	maker string
	token uint32
}

type acceptKey struct {
	seller string
	buyer  string
	token  uint32
}
