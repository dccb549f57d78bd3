package math

import (
	"fmt"
	"math/big"
)

// Price is an exact rational price, num/den, always reduced.
// MetaDEx prices compare exactly; no float or fixed-scale rounding happens
// until a price is rendered for display.
type Price struct {
	r *big.Rat
}

// NewPrice returns num/den. den must be positive.
func NewPrice(num, den int64) Price {
	if den <= 0 {
		panic(fmt.Sprintf("FATAL: price with non-positive denominator %d", den))
	}
	return Price{r: big.NewRat(num, den)}
}

func (p Price) rat() *big.Rat {
	if p.r == nil {
		return new(big.Rat)
	}
	return p.r
}

// Cmp compares p and q, returning -1, 0 or +1.
func (p Price) Cmp(q Price) int {
	return p.rat().Cmp(q.rat())
}

// Inverse returns 1/p. Inverse of zero panics.
func (p Price) Inverse() Price {
	if p.rat().Sign() == 0 {
		panic("FATAL: inverse of zero price")
	}
	return Price{r: new(big.Rat).Inv(p.rat())}
}

// IsZero reports whether the price is zero.
func (p Price) IsZero() bool {
	return p.rat().Sign() == 0
}

// Num and Den return the reduced numerator and denominator.
func (p Price) Num() *big.Int { return p.rat().Num() }
func (p Price) Den() *big.Int { return p.rat().Denom() }

// Scaled returns floor(p * COIN), saturating at the int64 range.
func (p Price) Scaled() int64 {
	n := new(big.Int).Mul(p.rat().Num(), big.NewInt(COIN))
	n.Quo(n, p.rat().Denom())
	if !n.IsInt64() {
		return int64(^uint64(0) >> 1)
	}
	return n.Int64()
}

// String renders the price with 50 decimals, which is how order books and
// snapshots display it.
func (p Price) String() string {
	return p.rat().FloatString(50)
}

// Key returns a canonical "num/den" form usable as a map key.
func (p Price) Key() string {
	return p.rat().RatString()
}

// ParsePrice parses the output of Key.
func ParsePrice(s string) (Price, error) {
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return Price{}, fmt.Errorf("invalid price %q", s)
	}
	return Price{r: r}, nil
}
