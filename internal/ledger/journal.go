package ledger

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeTransfer JournalType = iota
	JournalTypeReserve
	JournalTypeRelease
	JournalTypeTrade
	JournalTypeFee
	JournalTypeMarginPost
	JournalTypeMarginRelease
	JournalTypeIssuance
	JournalTypeDestruction
	JournalTypePosition
	JournalTypeRealizedPnL
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeTransfer:
		return "transfer"
	case JournalTypeReserve:
		return "reserve"
	case JournalTypeRelease:
		return "release"
	case JournalTypeTrade:
		return "trade"
	case JournalTypeFee:
		return "fee"
	case JournalTypeMarginPost:
		return "margin_post"
	case JournalTypeMarginRelease:
		return "margin_release"
	case JournalTypeIssuance:
		return "issuance"
	case JournalTypeDestruction:
		return "destruction"
	case JournalTypePosition:
		return "position"
	case JournalTypeRealizedPnL:
		return "realized_pnl"
	default:
		return "unknown"
	}
}

// crossesBoundary reports whether the journal type may use the external
// account on one side.
func (t JournalType) crossesBoundary() bool {
	switch t {
	case JournalTypeIssuance, JournalTypeDestruction, JournalTypePosition, JournalTypeRealizedPnL:
		return true
	}
	return false
}

// batchNamespace seeds deterministic batch ids. Two nodes processing the
// same instruction derive the same ids.
var batchNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("TradeLedger:batch:v1"))

// Journal moves Amount from CreditAccount to DebitAccount.
type Journal struct {
	JournalID     uuid.UUID
	BatchID       uuid.UUID
	TxRef         string
	DebitAccount  BalanceKey // balance increases
	CreditAccount BalanceKey // balance decreases
	Amount        int64      // ALWAYS positive
	JournalType   JournalType
}

// Batch is a set of journals that succeeds or fails as a unit.
type Batch struct {
	BatchID  uuid.UUID
	TxRef    string
	Block    int64
	Journals []Journal
}

// NewBatch creates an empty batch for the instruction identified by txRef.
func NewBatch(txRef string, block int64) *Batch {
	return &Batch{
		BatchID: uuid.NewSHA1(batchNamespace, []byte(txRef+":"+strconv.FormatInt(block, 10))),
		TxRef:   txRef,
		Block:   block,
	}
}

// Add appends a journal. Zero amounts are dropped so callers can add
// computed legs unconditionally.
func (b *Batch) Add(debit, credit BalanceKey, amount int64, jt JournalType) {
	if amount == 0 {
		return
	}
	b.Journals = append(b.Journals, Journal{
		JournalID:     uuid.NewSHA1(b.BatchID, []byte(strconv.Itoa(len(b.Journals)))),
		BatchID:       b.BatchID,
		TxRef:         b.TxRef,
		DebitAccount:  debit,
		CreditAccount: credit,
		Amount:        amount,
		JournalType:   jt,
	})
}

// Move shifts amount between two buckets of the same address and token.
func (b *Batch) Move(address string, token uint32, from, to Bucket, amount int64, jt JournalType) {
	b.Add(Key(address, token, to), Key(address, token, from), amount, jt)
}

// Transfer moves amount of token from one address bucket to another.
func (b *Batch) Transfer(fromAddr string, fromBucket Bucket, toAddr string, toBucket Bucket, token uint32, amount int64, jt JournalType) {
	b.Add(Key(toAddr, token, toBucket), Key(fromAddr, token, fromBucket), amount, jt)
}

// Issue creates amount of token in the address's bucket.
func (b *Batch) Issue(address string, token uint32, bucket Bucket, amount int64) {
	b.Add(Key(address, token, bucket), ExternalKey(token, bucket), amount, JournalTypeIssuance)
}

// Destroy removes amount of token from the address's bucket.
func (b *Batch) Destroy(address string, token uint32, bucket Bucket, amount int64) {
	b.Add(ExternalKey(token, bucket), Key(address, token, bucket), amount, JournalTypeDestruction)
}

// AdjustPosition adds delta (signed) to the address's position register of
// contract. Longs and shorts are netted: a sell against a long reduces the
// long bucket before opening a short.
func (b *Batch) AdjustPosition(address string, contract uint32, current, delta int64) {
	if delta == 0 {
		return
	}
	ext := func(bucket Bucket) BalanceKey { return ExternalKey(contract, bucket) }
	key := func(bucket Bucket) BalanceKey { return Key(address, contract, bucket) }

	next := current + delta
	switch {
	case current >= 0 && next >= 0:
		if delta > 0 {
			b.Add(key(LongPosition), ext(LongPosition), delta, JournalTypePosition)
		} else {
			b.Add(ext(LongPosition), key(LongPosition), -delta, JournalTypePosition)
		}
	case current <= 0 && next <= 0:
		if delta < 0 {
			b.Add(key(ShortPosition), ext(ShortPosition), -delta, JournalTypePosition)
		} else {
			b.Add(ext(ShortPosition), key(ShortPosition), delta, JournalTypePosition)
		}
	case current > 0:
		b.Add(ext(LongPosition), key(LongPosition), current, JournalTypePosition)
		b.Add(key(ShortPosition), ext(ShortPosition), -next, JournalTypePosition)
	default:
		b.Add(ext(ShortPosition), key(ShortPosition), -current, JournalTypePosition)
		b.Add(key(LongPosition), ext(LongPosition), next, JournalTypePosition)
	}
}

// BookPnL records realized profit (pnl > 0) or loss (pnl < 0) for the
// address on contract.
func (b *Batch) BookPnL(address string, contract uint32, pnl int64) {
	switch {
	case pnl > 0:
		b.Add(Key(address, contract, RealizedProfit), ExternalKey(contract, RealizedProfit), pnl, JournalTypeRealizedPnL)
	case pnl < 0:
		b.Add(Key(address, contract, RealizedLoss), ExternalKey(contract, RealizedLoss), -pnl, JournalTypeRealizedPnL)
	}
}

// Empty reports whether the batch has no journals.
func (b *Batch) Empty() bool {
	return len(b.Journals) == 0
}

// Validate checks the batch is structurally well-formed. A failure here is
// a bug in the engine that built the batch, not a user error.
func (b *Batch) Validate() error {
	positionNet := make(map[uint32]int64)

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
		if j.DebitAccount.Token != j.CreditAccount.Token {
			return fmt.Errorf("journal %s moves between tokens %d and %d",
				j.JournalID, j.CreditAccount.Token, j.DebitAccount.Token)
		}

		debitExt, creditExt := j.DebitAccount.IsExternal(), j.CreditAccount.IsExternal()
		switch {
		case debitExt && creditExt:
			return fmt.Errorf("journal %s is external on both sides", j.JournalID)
		case debitExt || creditExt:
			if !j.JournalType.crossesBoundary() {
				return fmt.Errorf("journal %s of type %s crosses the boundary", j.JournalID, j.JournalType)
			}
			if j.DebitAccount.Bucket != j.CreditAccount.Bucket {
				return fmt.Errorf("journal %s changes bucket across the boundary", j.JournalID)
			}
			if err := checkBoundaryBucket(j); err != nil {
				return err
			}
		default:
			if !j.DebitAccount.Bucket.Conserved() || !j.CreditAccount.Bucket.Conserved() {
				return fmt.Errorf("journal %s moves %s -> %s between addresses",
					j.JournalID, j.CreditAccount.Bucket, j.DebitAccount.Bucket)
			}
		}

		if j.JournalType == JournalTypePosition {
			positionNet[j.DebitAccount.Token] += signedPositionDelta(j)
		}
	}

	for contract, net := range positionNet {
		if net != 0 {
			return fmt.Errorf("position journals for contract %d net to %d", contract, net)
		}
	}

	return nil
}

func checkBoundaryBucket(j Journal) error {
	bucket := j.DebitAccount.Bucket
	var ok bool
	switch j.JournalType {
	case JournalTypeIssuance, JournalTypeDestruction:
		ok = bucket.Conserved()
	case JournalTypePosition:
		ok = bucket.IsPosition()
	case JournalTypeRealizedPnL:
		ok = bucket.IsPnL()
	}
	if !ok {
		return fmt.Errorf("journal %s of type %s cannot use bucket %s", j.JournalID, j.JournalType, bucket)
	}
	return nil
}

// signedPositionDelta is the change the journal makes to long minus short.
func signedPositionDelta(j Journal) int64 {
	delta := j.Amount
	if j.CreditAccount.IsExternal() {
		// user side is the debit account, which grows
		if j.DebitAccount.Bucket == ShortPosition {
			return -delta
		}
		return delta
	}
	if j.CreditAccount.Bucket == ShortPosition {
		return delta
	}
	return -delta
}
