package instruction

// SimpleSend transfers Amount of Token from the sender to the receiver.
type SimpleSend struct {
	Header
	Token  uint32 `json:"token"`
	Amount int64  `json:"amount"`
}

func (*SimpleSend) Kind() Kind { return KindSimpleSend }

// PropertyInfo is the descriptive part of every property creation.
type PropertyInfo struct {
	Ecosystem   uint8  `json:"ecosystem"`
	Divisible   bool   `json:"divisible"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	Subcategory string `json:"subcategory"`
	URL         string `json:"url"`
	Data        string `json:"data"`
}

// CreateFixed creates a token with its full supply issued to the sender.
type CreateFixed struct {
	Header
	PropertyInfo
	Amount int64 `json:"amount"`
}

func (*CreateFixed) Kind() Kind { return KindCreateFixed }

// CreateManaged creates a token whose supply the issuer grants and revokes.
type CreateManaged struct {
	Header
	PropertyInfo
}

func (*CreateManaged) Kind() Kind { return KindCreateManaged }

// Grant issues new units of a managed token to the receiver, or to the
// issuer when no receiver is given.
type Grant struct {
	Header
	Token  uint32 `json:"token"`
	Amount int64  `json:"amount"`
	Memo   string `json:"memo"`
}

func (*Grant) Kind() Kind { return KindGrant }

// Revoke destroys units of a managed token held by the issuer.
type Revoke struct {
	Header
	Token  uint32 `json:"token"`
	Amount int64  `json:"amount"`
	Memo   string `json:"memo"`
}

func (*Revoke) Kind() Kind { return KindRevoke }

// ChangeIssuer hands a property over to the receiver.
type ChangeIssuer struct {
	Header
	Token uint32 `json:"token"`
}

func (*ChangeIssuer) Kind() Kind { return KindChangeIssuer }

// CreateCrowdsale creates a token sold for DesiredToken until Deadline.
type CreateCrowdsale struct {
	Header
	PropertyInfo
	DesiredToken  uint32 `json:"desired_token"`
	TokensPerUnit int64  `json:"tokens_per_unit"`
	DeadlineBlock int64  `json:"deadline_block"`
	EarlyBirdPct  int64  `json:"early_bird_pct"`
	IssuerPct     int64  `json:"issuer_pct"`
}

func (*CreateCrowdsale) Kind() Kind { return KindCreateCrowdsale }

// CloseCrowdsale ends the sender's active crowdsale early.
type CloseCrowdsale struct {
	Header
	Token uint32 `json:"token"`
}

func (*CloseCrowdsale) Kind() Kind { return KindCloseCrowdsale }
