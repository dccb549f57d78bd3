package ledger

import (
	"fmt"
	"sort"

	fpmath "TradeLedger/internal/math"
)

// Record is the full bucket vector of one (address, token) pair.
type Record [NumBuckets]int64

// IsZero reports whether every bucket is zero.
func (r *Record) IsZero() bool {
	for _, v := range r {
		if v != 0 {
			return false
		}
	}
	return true
}

type holdingKey struct {
	address string
	token   uint32
}

// Ledger maintains per-(address, token) bucket balances.
// Not thread-safe: owned by the single writer of the core engine.
type Ledger struct {
	balances map[holdingKey]*Record
}

func New() *Ledger {
	return &Ledger{
		balances: make(map[holdingKey]*Record),
	}
}

// Balance returns the bucket balance, zero for unknown keys.
func (l *Ledger) Balance(address string, token uint32, bucket Bucket) int64 {
	rec, ok := l.balances[holdingKey{address, token}]
	if !ok {
		return 0
	}
	return rec[bucket]
}

// Get returns a copy of the record for (address, token).
func (l *Ledger) Get(address string, token uint32) Record {
	if rec, ok := l.balances[holdingKey{address, token}]; ok {
		return *rec
	}
	return Record{}
}

// Credit adds amount to a bucket and returns the new balance. Engines use
// Apply; Credit and Debit exist for restores and tests.
func (l *Ledger) Credit(address string, token uint32, amount int64, bucket Bucket) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("%w: credit of %d", ErrInvalidAmount, amount)
	}
	return l.adjust(address, token, bucket, amount)
}

// Debit subtracts amount from a bucket and returns the new balance. It fails
// without mutation when the bucket would go negative.
func (l *Ledger) Debit(address string, token uint32, amount int64, bucket Bucket) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("%w: debit of %d", ErrInvalidAmount, amount)
	}
	return l.adjust(address, token, bucket, -amount)
}

func (l *Ledger) adjust(address string, token uint32, bucket Bucket, delta int64) (int64, error) {
	current := l.Balance(address, token, bucket)
	next, err := fpmath.AddChecked(current, delta)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", Key(address, token, bucket).Path(), err)
	}
	if next < 0 {
		return 0, &InsufficientFundsError{Key: Key(address, token, bucket), Have: current, Need: -delta}
	}
	l.set(holdingKey{address, token}, bucket, next)
	return next, nil
}

func (l *Ledger) set(k holdingKey, bucket Bucket, value int64) {
	rec, ok := l.balances[k]
	if !ok {
		if value == 0 {
			return
		}
		rec = &Record{}
		l.balances[k] = rec
	}
	rec[bucket] = value
	if rec.IsZero() {
		delete(l.balances, k)
	}
}

// Apply validates and applies a batch atomically. A structurally invalid
// batch panics. If any bucket would go negative nothing is applied and an
// *InsufficientFundsError is returned.
func (l *Ledger) Apply(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		panic(fmt.Sprintf("FATAL: invalid batch: %v", err))
	}

	pending := make(map[BalanceKey]int64)
	order := make([]BalanceKey, 0, 2*len(batch.Journals))
	touch := func(key BalanceKey, delta int64) error {
		if key.IsExternal() {
			return nil
		}
		current, seen := pending[key]
		if !seen {
			current = l.Balance(key.Address, key.Token, key.Bucket)
			order = append(order, key)
		}
		next, err := fpmath.AddChecked(current, delta)
		if err != nil {
			return fmt.Errorf("%s: %w", key.Path(), err)
		}
		pending[key] = next
		return nil
	}

	for _, j := range batch.Journals {
		if err := touch(j.CreditAccount, -j.Amount); err != nil {
			return err
		}
		if err := touch(j.DebitAccount, j.Amount); err != nil {
			return err
		}
	}

	for _, key := range order {
		if next := pending[key]; next < 0 {
			have := l.Balance(key.Address, key.Token, key.Bucket)
			return &InsufficientFundsError{Key: key, Have: have, Need: have - next}
		}
	}

	for _, key := range order {
		l.set(holdingKey{key.Address, key.Token}, key.Bucket, pending[key])
	}
	return nil
}

// MustApply applies a batch the caller has already proven fundable. A
// failure is a consistency violation.
func (l *Ledger) MustApply(batch *Batch) {
	if err := l.Apply(batch); err != nil {
		panic(fmt.Sprintf("FATAL: batch %s for %s failed after pre-checks: %v", batch.BatchID, batch.TxRef, err))
	}
}

// TotalSupply sums every conserved bucket of token over all addresses.
func (l *Ledger) TotalSupply(token uint32) int64 {
	var total int64
	for k, rec := range l.balances {
		if k.token != token {
			continue
		}
		for b := Available; b <= Unvested; b++ {
			total += rec[b]
		}
	}
	return total
}

// Holding is one non-zero record in iteration order.
type Holding struct {
	Address string
	Token   uint32
	Record  Record
}

// Holdings returns every non-zero record sorted by address then token.
func (l *Ledger) Holdings() []Holding {
	out := make([]Holding, 0, len(l.balances))
	for k, rec := range l.balances {
		out = append(out, Holding{Address: k.address, Token: k.token, Record: *rec})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Address != out[j].Address {
			return out[i].Address < out[j].Address
		}
		return out[i].Token < out[j].Token
	})
	return out
}

// HoldingsOf returns the records of one address sorted by token.
func (l *Ledger) HoldingsOf(address string) []Holding {
	var out []Holding
	for k, rec := range l.balances {
		if k.address == address {
			out = append(out, Holding{Address: k.address, Token: k.token, Record: *rec})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out
}

// Tokens returns every token with at least one non-zero record, ascending.
func (l *Ledger) Tokens() []uint32 {
	seen := make(map[uint32]struct{})
	for k := range l.balances {
		seen[k.token] = struct{}{}
	}
	out := make([]uint32, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Reset clears every balance.
func (l *Ledger) Reset() {
	l.balances = make(map[holdingKey]*Record)
}
