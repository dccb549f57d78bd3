package contractdex

import (
	"sort"

	"TradeLedger/internal/instruction"
)

type level struct {
	price  int64
	orders []*Order // (block, index) order
}

// ladder is one side of a contract book, levels ascending by price.
type ladder struct {
	levels []*level
}

func (l *ladder) find(price int64) (int, bool) {
	i := sort.Search(len(l.levels), func(i int) bool { return l.levels[i].price >= price })
	return i, i < len(l.levels) && l.levels[i].price == price
}

func (l *ladder) insert(o *Order) {
	i, ok := l.find(o.Price)
	if !ok {
		l.levels = append(l.levels, nil)
		copy(l.levels[i+1:], l.levels[i:])
		l.levels[i] = &level{price: o.Price}
	}
	lvl := l.levels[i]
	j := sort.Search(len(lvl.orders), func(j int) bool { return o.before(lvl.orders[j]) })
	lvl.orders = append(lvl.orders, nil)
	copy(lvl.orders[j+1:], lvl.orders[j:])
	lvl.orders[j] = o
}

func (l *ladder) remove(o *Order) {
	i, ok := l.find(o.Price)
	if !ok {
		return
	}
	lvl := l.levels[i]
	for j, other := range lvl.orders {
		if other == o {
			lvl.orders = append(lvl.orders[:j], lvl.orders[j+1:]...)
			break
		}
	}
	if len(lvl.orders) == 0 {
		l.levels = append(l.levels[:i], l.levels[i+1:]...)
	}
}

// walk visits levels ascending, or descending when reverse is set, until
// fn returns false.
func (l *ladder) walk(reverse bool, fn func(*level) bool) {
	n := len(l.levels)
	for k := 0; k < n; k++ {
		i := k
		if reverse {
			i = n - 1 - k
		}
		if !fn(l.levels[i]) {
			return
		}
	}
}

// book is the order book of one contract.
type book struct {
	bids ladder
	asks ladder
}

func (b *book) ladderFor(a instruction.Action) *ladder {
	if a == instruction.ActionBuy {
		return &b.bids
	}
	return &b.asks
}

func (b *book) empty() bool {
	return len(b.bids.levels) == 0 && len(b.asks.levels) == 0
}

// orders returns bids then asks, each in price-time order.
func (b *book) orders() []*Order {
	var out []*Order
	for _, l := range []*ladder{&b.bids, &b.asks} {
		for _, lvl := range l.levels {
			out = append(out, lvl.orders...)
		}
	}
	return out
}

// best returns the best price resting on side a: highest bid or lowest ask.
func (b *book) best(a instruction.Action) (int64, bool) {
	l := b.ladderFor(a)
	if len(l.levels) == 0 {
		return 0, false
	}
	if a == instruction.ActionBuy {
		return l.levels[len(l.levels)-1].price, true
	}
	return l.levels[0].price, true
}
