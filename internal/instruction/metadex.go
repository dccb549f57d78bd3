package instruction

// MetaDExTrade places an order selling AmountForSale of TokenForSale for
// AmountDesired of TokenDesired.
type MetaDExTrade struct {
	Header
	TokenForSale  uint32 `json:"token_for_sale"`
	AmountForSale int64  `json:"amount_for_sale"`
	TokenDesired  uint32 `json:"token_desired"`
	AmountDesired int64  `json:"amount_desired"`
}

func (*MetaDExTrade) Kind() Kind { return KindMetaDExTrade }

// MetaDExCancelPrice cancels the sender's orders in the pair at exactly
// the given price.
type MetaDExCancelPrice struct {
	Header
	TokenForSale  uint32 `json:"token_for_sale"`
	AmountForSale int64  `json:"amount_for_sale"`
	TokenDesired  uint32 `json:"token_desired"`
	AmountDesired int64  `json:"amount_desired"`
}

func (*MetaDExCancelPrice) Kind() Kind { return KindMetaDExCancelPrice }

// MetaDExCancelPair cancels all of the sender's orders in a pair.
type MetaDExCancelPair struct {
	Header
	TokenForSale uint32 `json:"token_for_sale"`
	TokenDesired uint32 `json:"token_desired"`
}

func (*MetaDExCancelPair) Kind() Kind { return KindMetaDExCancelPair }

// MetaDExCancelEcosystem cancels all of the sender's orders in an
// ecosystem.
type MetaDExCancelEcosystem struct {
	Header
	Ecosystem uint8 `json:"ecosystem"`
}

func (*MetaDExCancelEcosystem) Kind() Kind { return KindMetaDExCancelEcosystem }
