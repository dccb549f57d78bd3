// Package market keeps per-market price and volume statistics fed by the
// three matching engines.
package market

import (
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"
)

// WindowSize is how many recent fills the VWAP covers.
const WindowSize = 10

// ID names a market, e.g. "dex/3", "mdex/3/4", "cdex/7".
type ID string

func DEx(token uint32) ID { return ID("dex/" + strconv.FormatUint(uint64(token), 10)) }
func Contract(contract uint32) ID { return ID("cdex/" + strconv.FormatUint(uint64(contract), 10)) }
func MetaDEx(forSale, desired uint32) ID {
	return ID(fmt.Sprintf("mdex/%d/%d", forSale, desired))
}

// Fill is one execution. Price is COIN scaled quote per unit.
type Fill struct {
	Price       int64
	Quantity    int64
	Liquidation bool
}

// Stats is the state of one market.
type Stats struct {
	LastPrice         int64
	Volume            int64
	LiquidationVolume int64
	BlockVolume       int64
	LastBlock         int64
	OraclePrice       int64
	OracleBlock       int64
	window            []Fill
	liqWindow         []Fill
}

// Tracker aggregates Stats per market.
// Not thread-safe: owned by the single writer of the core engine.
type Tracker struct {
	markets map[ID]*Stats
}

func NewTracker() *Tracker {
	return &Tracker{markets: make(map[ID]*Stats)}
}

func (t *Tracker) stats(id ID) *Stats {
	s, ok := t.markets[id]
	if !ok {
		s = &Stats{}
		t.markets[id] = s
	}
	return s
}

// Record adds a fill executed at block.
func (t *Tracker) Record(id ID, block int64, f Fill) {
	if f.Quantity <= 0 {
		return
	}
	s := t.stats(id)
	if s.LastBlock != block {
		s.BlockVolume = 0
		s.LastBlock = block
	}
	s.LastPrice = f.Price
	s.Volume += f.Quantity
	s.BlockVolume += f.Quantity
	s.window = push(s.window, f)
	if f.Liquidation {
		s.LiquidationVolume += f.Quantity
		s.liqWindow = push(s.liqWindow, f)
	}
}

func push(w []Fill, f Fill) []Fill {
	w = append(w, f)
	if len(w) > WindowSize {
		w = append(w[:0:0], w[len(w)-WindowSize:]...)
	}
	return w
}

// SetOraclePrice records an oracle price published at block.
func (t *Tracker) SetOraclePrice(id ID, price, block int64) {
	s := t.stats(id)
	s.OraclePrice = price
	s.OracleBlock = block
}

// Get returns a copy of the market's stats.
func (t *Tracker) Get(id ID) (Stats, bool) {
	s, ok := t.markets[id]
	if !ok {
		return Stats{}, false
	}
	return *s, true
}

// LastPrice returns the price of the last fill.
func (t *Tracker) LastPrice(id ID) (int64, bool) {
	s, ok := t.markets[id]
	if !ok || s.LastPrice == 0 {
		return 0, false
	}
	return s.LastPrice, true
}

// MarkPrice is the oracle price when one was published, else the last
// traded price.
func (t *Tracker) MarkPrice(id ID) (int64, bool) {
	s, ok := t.markets[id]
	if !ok {
		return 0, false
	}
	if s.OraclePrice > 0 {
		return s.OraclePrice, true
	}
	if s.LastPrice > 0 {
		return s.LastPrice, true
	}
	return 0, false
}

// VWAP is the volume-weighted price over the last WindowSize fills.
func (t *Tracker) VWAP(id ID) (int64, bool) {
	s, ok := t.markets[id]
	if !ok {
		return 0, false
	}
	return vwap(s.window)
}

// LiquidationVWAP is VWAP over recent liquidation fills only.
func (t *Tracker) LiquidationVWAP(id ID) (int64, bool) {
	s, ok := t.markets[id]
	if !ok {
		return 0, false
	}
	return vwap(s.liqWindow)
}

func vwap(w []Fill) (int64, bool) {
	if len(w) == 0 {
		return 0, false
	}
	num := new(big.Int)
	var qty int64
	for _, f := range w {
		num.Add(num, new(big.Int).Mul(big.NewInt(f.Price), big.NewInt(f.Quantity)))
		qty += f.Quantity
	}
	num.Quo(num, big.NewInt(qty))
	return num.Int64(), true
}

// IDs returns every tracked market sorted.
func (t *Tracker) IDs() []ID {
	out := make([]ID, 0, len(t.markets))
	for id := range t.markets {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SnapshotPrefix names the market statistics file.
func (t *Tracker) SnapshotPrefix() string { return "marketprices" }

// SnapshotLines emits one line per market:
//
//	id=last,volume,liqVolume,blockVolume,lastBlock,oracle,oracleBlock|p:q:l;p:q:l...|p:q:l...
func (t *Tracker) SnapshotLines(emit func(string) error) error {
	for _, id := range t.IDs() {
		s := t.markets[id]
		var sb strings.Builder
		sb.WriteString(string(id))
		sb.WriteByte('=')
		for i, v := range []int64{s.LastPrice, s.Volume, s.LiquidationVolume, s.BlockVolume, s.LastBlock, s.OraclePrice, s.OracleBlock} {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(strconv.FormatInt(v, 10))
		}
		sb.WriteByte('|')
		writeFills(&sb, s.window)
		sb.WriteByte('|')
		writeFills(&sb, s.liqWindow)
		if err := emit(sb.String()); err != nil {
			return err
		}
	}
	return nil
}

func writeFills(sb *strings.Builder, w []Fill) {
	for i, f := range w {
		if i > 0 {
			sb.WriteByte(';')
		}
		liq := "0"
		if f.Liquidation {
			liq = "1"
		}
		sb.WriteString(strconv.FormatInt(f.Price, 10) + ":" + strconv.FormatInt(f.Quantity, 10) + ":" + liq)
	}
}

func parseFills(s string) ([]Fill, error) {
	if s == "" {
		return nil, nil
	}
	var out []Fill
	for _, part := range strings.Split(s, ";") {
		f := strings.Split(part, ":")
		if len(f) != 3 {
			return nil, fmt.Errorf("malformed fill %q", part)
		}
		price, err := strconv.ParseInt(f[0], 10, 64)
		if err != nil {
			return nil, err
		}
		qty, err := strconv.ParseInt(f[1], 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, Fill{Price: price, Quantity: qty, Liquidation: f[2] == "1"})
	}
	return out, nil
}

// RestoreLine parses one line produced by SnapshotLines.
func (t *Tracker) RestoreLine(line string) error {
	id, rest, ok := strings.Cut(line, "=")
	if !ok {
		return fmt.Errorf("marketprices: malformed line %q", line)
	}
	parts := strings.Split(rest, "|")
	if len(parts) != 3 {
		return fmt.Errorf("marketprices: expected 3 sections, got %d", len(parts))
	}
	nums := strings.Split(parts[0], ",")
	if len(nums) != 7 {
		return fmt.Errorf("marketprices: expected 7 values, got %d", len(nums))
	}
	var v [7]int64
	for i, n := range nums {
		x, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return fmt.Errorf("marketprices: %w", err)
		}
		v[i] = x
	}
	window, err := parseFills(parts[1])
	if err != nil {
		return fmt.Errorf("marketprices: %w", err)
	}
	liq, err := parseFills(parts[2])
	if err != nil {
		return fmt.Errorf("marketprices: %w", err)
	}
	t.markets[ID(id)] = &Stats{
		LastPrice: v[0], Volume: v[1], LiquidationVolume: v[2], BlockVolume: v[3],
		LastBlock: v[4], OraclePrice: v[5], OracleBlock: v[6],
		window: window, liqWindow: liq,
	}
	return nil
}

// ResetState clears every market.
func (t *Tracker) ResetState() {
	t.markets = make(map[ID]*Stats)
}
