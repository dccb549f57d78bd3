package instruction

// Action is the side of a contract order.
type Action uint8

const (
	ActionBuy  Action = 1
	ActionSell Action = 2
)

func (a Action) String() string {
	switch a {
	case ActionBuy:
		return "buy"
	case ActionSell:
		return "sell"
	default:
		return "invalid"
	}
}

// OrderType selects how a contract order is priced.
type OrderType uint8

const (
	OrderLimit  OrderType = 0
	OrderMarket OrderType = 1
	OrderEdge   OrderType = 2
)

// CreateContract registers a native or oracle futures contract.
type CreateContract struct {
	Header
	PropertyInfo
	Oracle            bool   `json:"oracle"`
	NotionalSize      int64  `json:"notional_size"`
	CollateralToken   uint32 `json:"collateral_token"`
	MarginRequirement int64  `json:"margin_requirement"`
	LeverageCap       int64  `json:"leverage_cap"`
	BlocksUntilExpiry int64  `json:"blocks_until_expiry"`
	Inverse           bool   `json:"inverse"`
}

func (*CreateContract) Kind() Kind { return KindCreateContract }

// ContractTrade places a contract order.
type ContractTrade struct {
	Header
	Contract  uint32    `json:"contract"`
	Amount    int64     `json:"amount"`
	Price     int64     `json:"price"` // COIN scaled, ignored for market and edge orders
	Action    Action    `json:"action"`
	Leverage  int64     `json:"leverage"`
	OrderType OrderType `json:"order_type"`
}

func (*ContractTrade) Kind() Kind { return KindContractTrade }

// ContractCancelAll cancels the sender's orders on Contract.
type ContractCancelAll struct {
	Header
	Contract uint32 `json:"contract"`
}

func (*ContractCancelAll) Kind() Kind { return KindContractCancelAll }

// ContractCancelByTx cancels the sender's order placed by the transaction
// at (OrderBlock, OrderIndex).
type ContractCancelByTx struct {
	Header
	OrderBlock int64 `json:"order_block"`
	OrderIndex int   `json:"order_index"`
}

func (*ContractCancelByTx) Kind() Kind { return KindContractCancelByTx }

// ContractCancelPrice cancels the sender's orders on Contract at Price
// with Action.
type ContractCancelPrice struct {
	Header
	Contract uint32 `json:"contract"`
	Price    int64  `json:"price"`
	Action   Action `json:"action"`
}

func (*ContractCancelPrice) Kind() Kind { return KindContractCancelPrice }

// ContractClosePosition closes the sender's whole position at market.
type ContractClosePosition struct {
	Header
	Contract uint32 `json:"contract"`
}

func (*ContractClosePosition) Kind() Kind { return KindContractClosePosition }

// OraclePrice publishes the oracle's price for an oracle contract.
type OraclePrice struct {
	Header
	Contract uint32 `json:"contract"`
	High     int64  `json:"high"`
	Low      int64  `json:"low"`
	Close    int64  `json:"close"`
}

func (*OraclePrice) Kind() Kind { return KindOraclePrice }
