package dex

import (
	"fmt"
	"strconv"
	"strings"
)

// OfferSnapshot exposes the offer book as a persistence subsystem.
type OfferSnapshot struct{ e *Engine }

// AcceptSnapshot exposes open accepts as a persistence subsystem.
type AcceptSnapshot struct{ e *Engine }

func (e *Engine) OfferSnapshot() OfferSnapshot   { return OfferSnapshot{e} }
func (e *Engine) AcceptSnapshot() AcceptSnapshot { return AcceptSnapshot{e} }

func (OfferSnapshot) SnapshotPrefix() string { return "offers" }

// SnapshotLines emits maker,token,offered,desired,minFee,window,block,txid,option.
func (s OfferSnapshot) SnapshotLines(emit func(string) error) error {
	for _, o := range s.e.Offers() {
		line := strings.Join([]string{
			o.Maker,
			strconv.FormatUint(uint64(o.Token), 10),
			strconv.FormatInt(o.AmountOffered, 10),
			strconv.FormatInt(o.AmountDesired, 10),
			strconv.FormatInt(o.MinFee, 10),
			strconv.FormatUint(uint64(o.PaymentWindow), 10),
			strconv.FormatInt(o.Block, 10),
			o.TxID,
			strconv.FormatUint(uint64(o.Option), 10),
		}, ",")
		if err := emit(line); err != nil {
			return err
		}
	}
	return nil
}

func (s OfferSnapshot) RestoreLine(line string) error {
	f := strings.Split(line, ",")
	if len(f) != 9 {
		return fmt.Errorf("offers: expected 9 fields, got %d", len(f))
	}
	p := fieldParser{name: "offers", fields: f}
	o := &Offer{
		Maker:         f[0],
		Token:         uint32(p.parseUint(1, 32)),
		AmountOffered: p.parseInt(2),
		AmountDesired: p.parseInt(3),
		MinFee:        p.parseInt(4),
		PaymentWindow: uint8(p.parseUint(5, 8)),
		Block:         p.parseInt(6),
		TxID:          f[7],
		Option:        Option(p.parseUint(8, 8)),
	}
	if p.err != nil {
		return p.err
	}
	key := offerKey{o.Maker, o.Token}
	if _, exists := s.e.offers[key]; exists {
		return fmt.Errorf("offers: duplicate offer %s/%d", o.Maker, o.Token)
	}
	s.e.offers[key] = o
	return nil
}

func (s OfferSnapshot) ResetState() { s.e.offers = make(map[offerKey]*Offer) }

func (AcceptSnapshot) SnapshotPrefix() string { return "accepts" }

// SnapshotLines emits
// seller,buyer,token,reserved,remaining,block,window,txid,option,offerTx,offerAmount,offerDesired.
func (s AcceptSnapshot) SnapshotLines(emit func(string) error) error {
	for _, a := range s.e.Accepts() {
		line := strings.Join([]string{
			a.Seller,
			a.Buyer,
			strconv.FormatUint(uint64(a.Token), 10),
			strconv.FormatInt(a.AmountReserved, 10),
			strconv.FormatInt(a.AmountRemaining, 10),
			strconv.FormatInt(a.Block, 10),
			strconv.FormatUint(uint64(a.PaymentWindow), 10),
			a.TxID,
			strconv.FormatUint(uint64(a.Option), 10),
			a.OfferTxID,
			strconv.FormatInt(a.OfferAmount, 10),
			strconv.FormatInt(a.OfferDesired, 10),
		}, ",")
		if err := emit(line); err != nil {
			return err
		}
	}
	return nil
}

func (s AcceptSnapshot) RestoreLine(line string) error {
	f := strings.Split(line, ",")
	if len(f) != 12 {
		return fmt.Errorf("accepts: expected 12 fields, got %d", len(f))
	}
	p := fieldParser{name: "accepts", fields: f}
	a := &Accept{
		Seller:          f[0],
		Buyer:           f[1],
		Token:           uint32(p.parseUint(2, 32)),
		AmountReserved:  p.parseInt(3),
		AmountRemaining: p.parseInt(4),
		Block:           p.parseInt(5),
		PaymentWindow:   uint8(p.parseUint(6, 8)),
		TxID:            f[7],
		Option:          Option(p.parseUint(8, 8)),
		OfferTxID:       f[9],
		OfferAmount:     p.parseInt(10),
		OfferDesired:    p.parseInt(11),
	}
	if p.err != nil {
		return p.err
	}
	key := acceptKey{a.Seller, a.Buyer, a.Token}
	if _, exists := s.e.accepts[key]; exists {
		return fmt.Errorf("accepts: duplicate accept %s/%s/%d", a.Seller, a.Buyer, a.Token)
	}
	s.e.accepts[key] = a
	return nil
}

func (s AcceptSnapshot) ResetState() { s.e.accepts = make(map[acceptKey]*Accept) }

// fieldParser parses numeric fields and keeps the first error.
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
