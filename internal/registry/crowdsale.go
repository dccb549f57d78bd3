package registry

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	fpmath "TradeLedger/internal/math"
)

// BlocksPerWeek converts the early-bird bonus schedule to blocks.
const BlocksPerWeek = 1008

// Crowdsale is an open issuance window where sending the desired token to
// the issuer mints new units of the crowdsale property.
type Crowdsale struct {
	PropertyID    uint32
	Issuer        string
	DesiredToken  uint32
	TokensPerUnit int64 // minted per COIN (or per unit if indivisible) paid
	DeadlineBlock int64
	EarlyBirdPct  int64 // bonus percent per remaining week
	IssuerPct     int64 // extra percent minted to the issuer
	CreationBlock int64
	CreationTx    string
	UserCreated   int64
	IssuerCreated int64
}

// Crowdsales tracks active crowdsales, at most one per issuer.
// Not thread-safe: owned by the single writer of the core engine.
type Crowdsales struct {
	active map[string]*Crowdsale // issuer -> sale
}

func NewCrowdsales() *Crowdsales {
	return &Crowdsales{active: make(map[string]*Crowdsale)}
}

// Start registers a new crowdsale. An issuer can run one at a time.
func (c *Crowdsales) Start(cs Crowdsale) error {
	if _, ok := c.active[cs.Issuer]; ok {
		return fmt.Errorf("issuer %s already has an active crowdsale", cs.Issuer)
	}
	c.active[cs.Issuer] = &cs
	return nil
}

// ActiveFor returns the issuer's active crowdsale.
func (c *Crowdsales) ActiveFor(issuer string) (*Crowdsale, bool) {
	cs, ok := c.active[issuer]
	return cs, ok
}

// Close ends the issuer's crowdsale and returns it.
func (c *Crowdsales) Close(issuer string) (*Crowdsale, bool) {
	cs, ok := c.active[issuer]
	if ok {
		delete(c.active, issuer)
	}
	return cs, ok
}

// Expire closes every crowdsale whose deadline is at or before height, in
// property id order.
func (c *Crowdsales) Expire(height int64) []*Crowdsale {
	var closed []*Crowdsale
	for issuer, cs := range c.active {
		if cs.DeadlineBlock <= height {
			closed = append(closed, cs)
			delete(c.active, issuer)
		}
	}
	sort.Slice(closed, func(i, j int) bool { return closed[i].PropertyID < closed[j].PropertyID })
	return closed
}

// All returns active crowdsales sorted by property id.
func (c *Crowdsales) All() []Crowdsale {
	out := make([]Crowdsale, 0, len(c.active))
	for _, cs := range c.active {
		out = append(out, *cs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PropertyID < out[j].PropertyID })
	return out
}

// Participation computes the units minted to the participant and to the
// issuer for amountPaid of the desired token sent at height.
func (cs *Crowdsale) Participation(amountPaid int64, desiredDivisible bool, height int64) (user, issuer int64, err error) {
	unit := int64(1)
	if desiredDivisible {
		unit = fpmath.COIN
	}
	base, err := fpmath.MulDiv(amountPaid, cs.TokensPerUnit, unit, fpmath.RoundDown)
	if err != nil {
		return 0, 0, err
	}

	weeksLeft := (cs.DeadlineBlock - height) / BlocksPerWeek
	if weeksLeft < 0 {
		weeksLeft = 0
	}
	bonus, err := fpmath.MulDiv(base, weeksLeft*cs.EarlyBirdPct, 100, fpmath.RoundDown)
	if err != nil {
		return 0, 0, err
	}
	user = base + bonus
	issuer, err = fpmath.MulDiv(user, cs.IssuerPct, 100, fpmath.RoundDown)
	if err != nil {
		return 0, 0, err
	}
	return user, issuer, nil
}

// SnapshotPrefix names the crowdsale snapshot file.
func (c *Crowdsales) SnapshotPrefix() string { return "crowdsales" }

// SnapshotLines emits one line per active crowdsale:
//
//	issuer,property,desired,perUnit,deadline,earlyBird,issuerPct,block,tx,userCreated,issuerCreated
func (c *Crowdsales) SnapshotLines(emit func(string) error) error {
	for _, cs := range c.All() {
		line := strings.Join([]string{
			cs.Issuer,
			strconv.FormatUint(uint64(cs.PropertyID), 10),
			strconv.FormatUint(uint64(cs.DesiredToken), 10),
			strconv.FormatInt(cs.TokensPerUnit, 10),
			strconv.FormatInt(cs.DeadlineBlock, 10),
			strconv.FormatInt(cs.EarlyBirdPct, 10),
			strconv.FormatInt(cs.IssuerPct, 10),
			strconv.FormatInt(cs.CreationBlock, 10),
			cs.CreationTx,
			strconv.FormatInt(cs.UserCreated, 10),
			strconv.FormatInt(cs.IssuerCreated, 10),
		}, ",")
		if err := emit(line); err != nil {
			return err
		}
	}
	return nil
}

// RestoreLine parses one line produced by SnapshotLines.
func (c *Crowdsales) RestoreLine(line string) error {
	f := strings.Split(line, ",")
	if len(f) != 11 {
		return fmt.Errorf("crowdsales: expected 11 fields, got %d", len(f))
	}
	var nums [9]int64
	for i, idx := range []int{1, 2, 3, 4, 5, 6, 7, 9, 10} {
		v, err := strconv.ParseInt(f[idx], 10, 64)
		if err != nil {
			return fmt.Errorf("crowdsales: field %d: %w", idx, err)
		}
		nums[i] = v
	}
	return c.Start(Crowdsale{
		Issuer:        f[0],
		PropertyID:    uint32(nums[0]),
		DesiredToken:  uint32(nums[1]),
		TokensPerUnit: nums[2],
		DeadlineBlock: nums[3],
		EarlyBirdPct:  nums[4],
		IssuerPct:     nums[5],
		CreationBlock: nums[6],
		CreationTx:    f[8],
		UserCreated:   nums[7],
		IssuerCreated: nums[8],
	})
}

// ResetState clears every active crowdsale.
func (c *Crowdsales) ResetState() {
	c.active = make(map[string]*Crowdsale)
}
