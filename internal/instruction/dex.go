package instruction

// OfferAction is the sub-action of a DEx offer instruction.
type OfferAction uint8

const (
	OfferNew    OfferAction = 1
	OfferUpdate OfferAction = 2
	OfferCancel OfferAction = 3
)

// DExSellOffer offers Amount of Token for AmountDesired of the base
// currency.
type DExSellOffer struct {
	Header
	Token         uint32      `json:"token"`
	Amount        int64       `json:"amount"`
	AmountDesired int64       `json:"amount_desired"`
	PaymentWindow uint8       `json:"payment_window"`
	MinFee        int64       `json:"min_fee"`
	Action        OfferAction `json:"action"`
}

func (*DExSellOffer) Kind() Kind { return KindDExSellOffer }

// DExBuyOffer bids AmountDesired of the base currency for Amount of Token.
type DExBuyOffer struct {
	Header
	Token         uint32      `json:"token"`
	Amount        int64       `json:"amount"`
	AmountDesired int64       `json:"amount_desired"`
	PaymentWindow uint8       `json:"payment_window"`
	MinFee        int64       `json:"min_fee"`
	Action        OfferAction `json:"action"`
}

func (*DExBuyOffer) Kind() Kind { return KindDExBuyOffer }

// DExAccept accepts the offer of the receiver for Token.
type DExAccept struct {
	Header
	Token  uint32 `json:"token"`
	Amount int64  `json:"amount"`
}

func (*DExAccept) Kind() Kind { return KindDExAccept }

// DExPayment is a base-currency payment from the sender to the receiver
// that settles an open accept.
type DExPayment struct {
	Header
	AmountPaid int64 `json:"amount_paid"`
}

func (*DExPayment) Kind() Kind { return KindDExPayment }
