package ledger

import "fmt"

// Bucket is one of the per-(address, token) balance slots.
type Bucket uint8

const (
	// Conserved token buckets.
	Available Bucket = iota
	SellReserve
	AcceptReserve
	SpotReserve
	ContractReserve
	Margin
	Unvested

	// Counters keyed by contract id.
	LongPosition
	ShortPosition
	RealizedProfit
	RealizedLoss

	NumBuckets
)

var bucketNames = [NumBuckets]string{
	"available",
	"sell_reserve",
	"accept_reserve",
	"spot_reserve",
	"contract_reserve",
	"margin",
	"unvested",
	"long_position",
	"short_position",
	"realized_profit",
	"realized_loss",
}

func (b Bucket) String() string {
	if b < NumBuckets {
		return bucketNames[b]
	}
	return fmt.Sprintf("bucket(%d)", uint8(b))
}

// Conserved reports whether the bucket holds actual tokens. Conserved
// buckets only change through paired transfers, issuance or destruction.
func (b Bucket) Conserved() bool {
	return b <= Unvested
}

// IsPosition reports whether the bucket is a position register.
func (b Bucket) IsPosition() bool {
	return b == LongPosition || b == ShortPosition
}

// IsPnL reports whether the bucket is a realized PnL counter.
func (b Bucket) IsPnL() bool {
	return b == RealizedProfit || b == RealizedLoss
}

// ParseBucket is the inverse of Bucket.String.
func ParseBucket(s string) (Bucket, error) {
	for i, name := range bucketNames {
		if name == s {
			return Bucket(i), nil
		}
	}
	return 0, fmt.Errorf("unknown bucket %q", s)
}

// ExternalAddress is the boundary account on the far side of issuance,
// destruction, position and PnL journals. It never carries a balance.
const ExternalAddress = ""

// FeeCacheAddress holds trading fees retained by the protocol.
const FeeCacheAddress = "~feecache"

// BalanceKey addresses a single bucket.
type BalanceKey struct {
	Address string
	Token   uint32
	Bucket  Bucket
}

// Key builds a BalanceKey.
func Key(address string, token uint32, bucket Bucket) BalanceKey {
	return BalanceKey{Address: address, Token: token, Bucket: bucket}
}

// ExternalKey builds the boundary key for a token bucket.
func ExternalKey(token uint32, bucket Bucket) BalanceKey {
	return BalanceKey{Address: ExternalAddress, Token: token, Bucket: bucket}
}

// IsExternal reports whether the key is the boundary account.
func (k BalanceKey) IsExternal() bool {
	return k.Address == ExternalAddress
}

// Path returns the string representation for logging.
func (k BalanceKey) Path() string {
	if k.IsExternal() {
		return fmt.Sprintf("external:%d:%s", k.Token, k.Bucket)
	}
	return fmt.Sprintf("%s:%d:%s", k.Address, k.Token, k.Bucket)
}
