package registry

import "fmt"

// Ecosystem partitions token ids.
type Ecosystem uint8

const (
	EcosystemMain Ecosystem = 1
	EcosystemTest Ecosystem = 2
)

const (
	// NativeMain and NativeTest are reserved and never created.
	NativeMain uint32 = 1
	NativeTest uint32 = 2

	firstMainID uint32 = 3
	testBase    uint32 = 0x80000000
	firstTestID uint32 = testBase + 3
)

// EcosystemOf derives the ecosystem from an id.
func EcosystemOf(id uint32) Ecosystem {
	if id >= testBase || id == NativeTest {
		return EcosystemTest
	}
	return EcosystemMain
}

func (e Ecosystem) String() string {
	switch e {
	case EcosystemMain:
		return "main"
	case EcosystemTest:
		return "test"
	default:
		return fmt.Sprintf("ecosystem(%d)", uint8(e))
	}
}

// Valid reports whether e is a known ecosystem.
func (e Ecosystem) Valid() bool {
	return e == EcosystemMain || e == EcosystemTest
}

// Kind is how a property's supply is managed.
type Kind uint8

const (
	KindFixed Kind = iota + 1
	KindManaged
	KindCrowdsale
	KindNativeContract
	KindOracleContract
)

func (k Kind) String() string {
	switch k {
	case KindFixed:
		return "fixed"
	case KindManaged:
		return "managed"
	case KindCrowdsale:
		return "crowdsale"
	case KindNativeContract:
		return "native_contract"
	case KindOracleContract:
		return "oracle_contract"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// IsContract reports whether the property is a futures contract.
func (k Kind) IsContract() bool {
	return k == KindNativeContract || k == KindOracleContract
}

// ContractTerms describe a futures contract.
type ContractTerms struct {
	NotionalSize      int64  `json:"notional_size"`
	CollateralToken   uint32 `json:"collateral_token"`
	MarginRequirement int64  `json:"margin_requirement"`
	LeverageCap       int64  `json:"leverage_cap"`
	ExpiryBlock       int64  `json:"expiry_block"`
	Inverse           bool   `json:"inverse"`
}

// Property is one registered token or contract.
type Property struct {
	ID            uint32         `json:"id"`
	Ecosystem     Ecosystem      `json:"ecosystem"`
	Kind          Kind           `json:"kind"`
	Name          string         `json:"name"`
	Category      string         `json:"category,omitempty"`
	Subcategory   string         `json:"subcategory,omitempty"`
	URL           string         `json:"url,omitempty"`
	Data          string         `json:"data,omitempty"`
	Divisible     bool           `json:"divisible"`
	Issuer        string         `json:"issuer"`
	TotalIssued   int64          `json:"total_issued"`
	CreationTx    string         `json:"creation_tx"`
	CreationBlock int64          `json:"creation_block"`
	UpdateBlock   int64          `json:"update_block"`
	Contract      *ContractTerms `json:"contract,omitempty"`
}

// IsContract reports whether the property is a futures contract.
func (p *Property) IsContract() bool {
	return p.Kind.IsContract() && p.Contract != nil
}
