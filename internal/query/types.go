package query

import "time"

// StatusResponse describes how far the engine has processed.
type StatusResponse struct {
	Height    int64  `json:"height"`
	BlockHash string `json:"block_hash"`
	StateHash string `json:"state_hash"`
	Recovery  string `json:"recovery"`
}

// BalanceResponse is one (address, token) ledger record. Amounts are
// rendered with eight decimals for divisible tokens.
type BalanceResponse struct {
	Address         string `json:"address"`
	Token           uint32 `json:"token"`
	Name            string `json:"name"`
	Divisible       bool   `json:"divisible"`
	Available       string `json:"available"`
	SellReserve     string `json:"sell_reserve"`
	AcceptReserve   string `json:"accept_reserve"`
	SpotReserve     string `json:"spot_reserve"`
	ContractReserve string `json:"contract_reserve"`
	Margin          string `json:"margin"`
	Unvested        string `json:"unvested"`
	Total           string `json:"total"`
	AsOfHeight      int64  `json:"as_of_height"`
}

// PropertyResponse is a registered property.
type PropertyResponse struct {
	ID            uint32            `json:"id"`
	Ecosystem     string            `json:"ecosystem"`
	Kind          string            `json:"kind"`
	Name          string            `json:"name"`
	Category      string            `json:"category,omitempty"`
	Subcategory   string            `json:"subcategory,omitempty"`
	URL           string            `json:"url,omitempty"`
	Divisible     bool              `json:"divisible"`
	Issuer        string            `json:"issuer"`
	TotalIssued   string            `json:"total_issued"`
	CreationTx    string            `json:"creation_tx"`
	CreationBlock int64             `json:"creation_block"`
	Contract      *ContractResponse `json:"contract,omitempty"`
}

// ContractResponse holds the terms of a futures contract.
type ContractResponse struct {
	NotionalSize      int64  `json:"notional_size"`
	CollateralToken   uint32 `json:"collateral_token"`
	MarginRequirement int64  `json:"margin_requirement"`
	LeverageCap       int64  `json:"leverage_cap"`
	ExpiryBlock       int64  `json:"expiry_block,omitempty"`
	Inverse           bool   `json:"inverse"`
}

// TxResponse is an indexed transaction with its validity.
type TxResponse struct {
	TxID   string `json:"txid"`
	Block  int64  `json:"block"`
	Index  int    `json:"index"`
	Kind   string `json:"kind"`
	Sender string `json:"sender"`
	Amount int64  `json:"amount"`
	Valid  bool   `json:"valid"`
	Code   int    `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// TradeResponse is a fill in any market.
type TradeResponse struct {
	Market      string `json:"market"`
	Block       int64  `json:"block"`
	TakerTxID   string `json:"taker_txid"`
	MakerTxID   string `json:"maker_txid"`
	Taker       string `json:"taker"`
	Maker       string `json:"maker"`
	Quantity    int64  `json:"quantity"`
	AmountPaid  int64  `json:"amount_paid,omitempty"`
	Price       string `json:"price"`
	Liquidation bool   `json:"liquidation,omitempty"`
}

// OfferResponse is an open DEx offer.
type OfferResponse struct {
	Maker         string `json:"maker"`
	Token         uint32 `json:"token"`
	Side          string `json:"side"`
	AmountOffered string `json:"amount_offered"`
	AmountDesired string `json:"amount_desired"`
	UnitPrice     string `json:"unit_price"`
	MinFee        string `json:"min_fee"`
	PaymentWindow uint8  `json:"payment_window"`
	TxID          string `json:"txid"`
}

// BookLevel is one resting order of a book.
type BookLevel struct {
	Address   string `json:"address"`
	TxID      string `json:"txid"`
	Block     int64  `json:"block"`
	Price     string `json:"price"`
	Amount    int64  `json:"amount"`
	Remaining int64  `json:"remaining"`
	Side      string `json:"side,omitempty"`
	Leverage  int64  `json:"leverage,omitempty"`
}

// BookResponse is a MetaDEx pair or a contract order book.
type BookResponse struct {
	Market     string      `json:"market"`
	Orders     []BookLevel `json:"orders"`
	BestPrice  string      `json:"best_price,omitempty"`
	AsOfHeight int64       `json:"as_of_height"`
}

// PositionResponse is an open contract position valued at the mark.
type PositionResponse struct {
	Address         string `json:"address"`
	Contract        uint32 `json:"contract"`
	Size            int64  `json:"size"`
	Margin          int64  `json:"margin"`
	Leverage        int64  `json:"leverage"`
	EntryPrice      string `json:"entry_price"`
	BankruptcyPrice string `json:"bankruptcy_price"`
	MarkPrice       string `json:"mark_price,omitempty"`
	UnrealizedPnL   int64  `json:"unrealized_pnl"` // derived at query time
	AsOfHeight      int64  `json:"as_of_height"`
}

// MarketResponse holds the statistics of one market.
type MarketResponse struct {
	Market            string `json:"market"`
	LastPrice         string `json:"last_price"`
	MarkPrice         string `json:"mark_price,omitempty"`
	VWAP              string `json:"vwap,omitempty"`
	LiquidationVWAP   string `json:"liquidation_vwap,omitempty"`
	Volume            int64  `json:"volume"`
	LiquidationVolume int64  `json:"liquidation_volume"`
	LastBlock         int64  `json:"last_block"`
}

// CrowdsaleResponse is an active crowdsale.
type CrowdsaleResponse struct {
	Property      uint32 `json:"property"`
	Issuer        string `json:"issuer"`
	DesiredToken  uint32 `json:"desired_token"`
	TokensPerUnit int64  `json:"tokens_per_unit"`
	DeadlineBlock int64  `json:"deadline_block"`
	UserCreated   string `json:"user_created"`
	IssuerCreated string `json:"issuer_created"`
}

// ArchivedTrade is a trade read back from the Postgres archive.
type ArchivedTrade struct {
	TradeID string `json:"trade_id"`
	TradeResponse
}

// IntegrityReport is the result of an integrity verification.
type IntegrityReport struct {
	IsHealthy    bool      `json:"is_healthy"`
	Height       int64     `json:"height"`
	StateHash    string    `json:"state_hash"`
	Invariants   string    `json:"invariants,omitempty"`    // invariant failure, empty when they hold
	JournalBreak string    `json:"journal_break,omitempty"` // journal tip disagreeing with the engine
	CheckedAt    time.Time `json:"checked_at"`
}
