package ledger

import "fmt"

// SupplySource reports the issued amount of a token as recorded by the
// property registry.
type SupplySource interface {
	TotalIssued(token uint32) (int64, bool)
}

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	ledger *Ledger
	supply SupplySource
}

func NewInvariantValidator(l *Ledger, supply SupplySource) *InvariantValidator {
	return &InvariantValidator{
		ledger: l,
		supply: supply,
	}
}

// ValidateNonNegative checks every bucket of every record is >= 0.
func (v *InvariantValidator) ValidateNonNegative() error {
	for k, rec := range v.ledger.balances {
		for b := Bucket(0); b < NumBuckets; b++ {
			if rec[b] < 0 {
				return fmt.Errorf("%s is negative: %d", Key(k.address, k.token, b).Path(), rec[b])
			}
		}
	}
	return nil
}

// ValidatePositionsNetZero checks that longs and shorts cancel per contract.
func (v *InvariantValidator) ValidatePositionsNetZero() error {
	net := make(map[uint32]int64)
	for k, rec := range v.ledger.balances {
		net[k.token] += rec[LongPosition] - rec[ShortPosition]
	}
	for contract, n := range net {
		if n != 0 {
			return fmt.Errorf("positions on contract %d net to %d", contract, n)
		}
	}
	return nil
}

// ValidateSupply checks the ledger holds exactly what the registry issued.
func (v *InvariantValidator) ValidateSupply() error {
	if v.supply == nil {
		return nil
	}
	for _, token := range v.ledger.Tokens() {
		held := v.ledger.TotalSupply(token)
		issued, known := v.supply.TotalIssued(token)
		if !known {
			if held != 0 {
				return fmt.Errorf("token %d is not registered but %d units are held", token, held)
			}
			continue
		}
		if held != issued {
			return fmt.Errorf("token %d supply mismatch: held=%d, issued=%d", token, held, issued)
		}
	}
	return nil
}

// ValidateAll runs every check and returns the first violation.
func (v *InvariantValidator) ValidateAll() error {
	if err := v.ValidateNonNegative(); err != nil {
		return err
	}
	if err := v.ValidatePositionsNetZero(); err != nil {
		return err
	}
	return v.ValidateSupply()
}
