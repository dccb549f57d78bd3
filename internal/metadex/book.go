package metadex

import (
	"sort"

	fpmath "TradeLedger/internal/math"
)

// pair identifies the side of the book holding orders that sell forSale
// for desired.
type pair struct {
	forSale uint32
	desired uint32
}

// level is a price level; orders are kept in (block, index) order.
type level struct {
	price  fpmath.Price
	orders []*Order
}

// side holds the levels of one pair sorted by ascending unit price.
type side struct {
	levels []*level
}

func (s *side) find(price fpmath.Price) (int, bool) {
	i := sort.Search(len(s.levels), func(i int) bool {
		return s.levels[i].price.Cmp(price) >= 0
	})
	return i, i < len(s.levels) && s.levels[i].price.Cmp(price) == 0
}

func (s *side) insert(o *Order) {
	price := o.UnitPrice()
	i, ok := s.find(price)
	if !ok {
		s.levels = append(s.levels, nil)
		copy(s.levels[i+1:], s.levels[i:])
		s.levels[i] = &level{price: price}
	}
	lvl := s.levels[i]
	j := sort.Search(len(lvl.orders), func(j int) bool { return o.before(lvl.orders[j]) })
	lvl.orders = append(lvl.orders, nil)
	copy(lvl.orders[j+1:], lvl.orders[j:])
	lvl.orders[j] = o
}

// remove drops o and any level left empty.
func (s *side) remove(o *Order) {
	i, ok := s.find(o.UnitPrice())
	if !ok {
		return
	}
	lvl := s.levels[i]
	for j, other := range lvl.orders {
		if other == o {
			lvl.orders = append(lvl.orders[:j], lvl.orders[j+1:]...)
			break
		}
	}
	if len(lvl.orders) == 0 {
		s.levels = append(s.levels[:i], s.levels[i+1:]...)
	}
}

func (s *side) empty() bool { return len(s.levels) == 0 }

// each visits orders in price-time priority until fn returns false.
func (s *side) each(fn func(*Order) bool) {
	for _, lvl := range s.levels {
		for _, o := range lvl.orders {
			if !fn(o) {
				return
			}
		}
	}
}

// book indexes resting orders by pair.
type book struct {
	sides map[pair]*side
}

func newBook() *book {
	return &book{sides: make(map[pair]*side)}
}

func (b *book) sideOf(p pair) *side {
	return b.sides[p]
}

func (b *book) insert(o *Order) {
	p := pair{o.TokenForSale, o.TokenDesired}
	s, ok := b.sides[p]
	if !ok {
		s = &side{}
		b.sides[p] = s
	}
	s.insert(o)
}

func (b *book) remove(o *Order) {
	p := pair{o.TokenForSale, o.TokenDesired}
	s, ok := b.sides[p]
	if !ok {
		return
	}
	s.remove(o)
	if s.empty() {
		delete(b.sides, p)
	}
}

// pairs returns every non-empty pair sorted by (forSale, desired).
func (b *book) pairs() []pair {
	out := make([]pair, 0, len(b.sides))
	for p := range b.sides {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].forSale != out[j].forSale {
			return out[i].forSale < out[j].forSale
		}
		return out[i].desired < out[j].desired
	})
	return out
}

// collect returns orders across all pairs in deterministic order that
// satisfy keep.
func (b *book) collect(keep func(*Order) bool) []*Order {
	var out []*Order
	for _, p := range b.pairs() {
		b.sides[p].each(func(o *Order) bool {
			if keep(o) {
				out = append(out, o)
			}
			return true
		})
	}
	return out
}
