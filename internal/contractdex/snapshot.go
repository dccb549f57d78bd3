package contractdex

import (
	"fmt"
	"strconv"
	"strings"

	"TradeLedger/internal/instruction"
)

func (e *Engine) SnapshotPrefix() string { return "cdexorders" }

// SnapshotLines emits one line per resting order:
//
//	address,txid,block,index,contract,amount,remaining,price,action,leverage,reserved,liquidation
func (e *Engine) SnapshotLines(emit func(string) error) error {
	for _, o := range e.AllOrders() {
		line := strings.Join([]string{
			o.Address,
			o.TxID,
			strconv.FormatInt(o.Block, 10),
			strconv.Itoa(o.Index),
			strconv.FormatUint(uint64(o.Contract), 10),
			strconv.FormatInt(o.Amount, 10),
			strconv.FormatInt(o.Remaining, 10),
			strconv.FormatInt(o.Price, 10),
			strconv.FormatUint(uint64(o.Action), 10),
			strconv.FormatInt(o.Leverage, 10),
			strconv.FormatInt(o.Reserved, 10),
			strconv.FormatBool(o.Liquidation),
		}, ",")
		if err := emit(line); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) RestoreLine(line string) error {
	f := strings.Split(line, ",")
	if len(f) != 12 {
		return fmt.Errorf("cdexorders: expected 12 fields, got %d", len(f))
	}
	p := fieldParser{name: "cdexorders", fields: f}
	o := &Order{
		Address:   f[0],
		TxID:      f[1],
		Block:     p.parseInt(2),
		Index:     int(p.parseInt(3)),
		Contract:  uint32(p.parseUint(4, 32)),
		Amount:    p.parseInt(5),
		Remaining: p.parseInt(6),
		Price:     p.parseInt(7),
		Action:    instruction.Action(p.parseUint(8, 8)),
		Leverage:  p.parseInt(9),
		Reserved:  p.parseInt(10),
	}
	liq, err := strconv.ParseBool(f[11])
	if p.err == nil && err != nil {
		p.err = fmt.Errorf("cdexorders: field 11: %w", err)
	}
	if p.err != nil {
		return p.err
	}
	o.Liquidation = liq
	if o.Remaining <= 0 || o.Price <= 0 {
		return fmt.Errorf("cdexorders: order %s cannot rest", o.TxID)
	}
	e.bookFor(o.Contract).ladderFor(o.Action).insert(o)
	return nil
}

func (e *Engine) ResetState() {
	e.books = make(map[uint32]*book)
}

// PositionSnapshot exposes the position registers as a persistence
// subsystem.
type PositionSnapshot struct{ e *Engine }

func (e *Engine) PositionSnapshot() PositionSnapshot { return PositionSnapshot{e} }

func (PositionSnapshot) SnapshotPrefix() string { return "positions" }

// SnapshotLines emits address,contract,size,margin,leverage,entry,bankruptcy,lastBlock.
func (s PositionSnapshot) SnapshotLines(emit func(string) error) error {
	for _, p := range s.e.Positions() {
		line := strings.Join([]string{
			p.Address,
			strconv.FormatUint(uint64(p.Contract), 10),
			strconv.FormatInt(p.Size, 10),
			strconv.FormatInt(p.Margin, 10),
			strconv.FormatInt(p.Leverage, 10),
			strconv.FormatInt(p.EntryPrice, 10),
			strconv.FormatInt(p.BankruptcyPrice, 10),
			strconv.FormatInt(p.LastBlock, 10),
		}, ",")
		if err := emit(line); err != nil {
			return err
		}
	}
	return nil
}

func (s PositionSnapshot) RestoreLine(line string) error {
	f := strings.Split(line, ",")
	if len(f) != 8 {
		return fmt.Errorf("positions: expected 8 fields, got %d", len(f))
	}
	p := fieldParser{name: "positions", fields: f}
	pos := &Position{
		Address:         f[0],
		Contract:        uint32(p.parseUint(1, 32)),
		Size:            p.parseInt(2),
		Margin:          p.parseInt(3),
		Leverage:        p.parseInt(4),
		EntryPrice:      p.parseInt(5),
		BankruptcyPrice: p.parseInt(6),
		LastBlock:       p.parseInt(7),
	}
	if p.err != nil {
		return p.err
	}
	if pos.Size == 0 {
		return fmt.Errorf("positions: %s/%d is flat", pos.Address, pos.Contract)
	}
	key := positionKey{pos.Address, pos.Contract}
	if _, dup := s.e.positions[key]; dup {
		return fmt.Errorf("positions: duplicate %s/%d", pos.Address, pos.Contract)
	}
	s.e.positions[key] = pos
	return nil
}

func (s PositionSnapshot) ResetState() {
	s.e.positions = make(map[positionKey]*Position)
}

type fieldParser struct {
	name   string
	fields []string
	err    error
}

func (p *fieldParser) parseInt(i int) int64 {
	if p.err != nil {
		return 0
	}
	v, err := strconv.ParseInt(p.fields[i], 10, 64)
	if err != nil {
		p.err = fmt.Errorf("%s: field %d: %w", p.name, i, err)
	}
	return v
}

func (p *fieldParser) parseUint(i, bits int) uint64 {
	if p.err != nil {
		return 0
	}
	v, err := strconv.ParseUint(p.fields[i], 10, bits)
	if err != nil {
		p.err = fmt.Errorf("%s: field %d: %w", p.name, i, err)
	}
	return v
}
