package metadex

import (
	"fmt"
	"strconv"
	"strings"
)

func (e *Engine) SnapshotPrefix() string { return "mdexorders" }

// SnapshotLines emits one line per resting order:
//
//	address,txid,block,index,forSale,amountForSale,remaining,desired,amountDesired,received
func (e *Engine) SnapshotLines(emit func(string) error) error {
	for _, o := range e.Orders() {
		line := strings.Join([]string{
			o.Address,
			o.TxID,
			strconv.FormatInt(o.Block, 10),
			strconv.Itoa(o.Index),
			strconv.FormatUint(uint64(o.TokenForSale), 10),
			strconv.FormatInt(o.AmountForSale, 10),
			strconv.FormatInt(o.Remaining, 10),
			strconv.FormatUint(uint64(o.TokenDesired), 10),
			strconv.FormatInt(o.AmountDesired, 10),
			strconv.FormatInt(o.Received, 10),
		}, ",")
		if err := emit(line); err != nil {
			return err
		}
	}
	return nil
}

// RestoreLine re-inserts an order written by SnapshotLines. Reserved funds
// are restored with the balances file, not here.
func (e *Engine) RestoreLine(line string) error {
	f := strings.Split(line, ",")
	if len(f) != 10 {
		return fmt.Errorf("mdexorders: expected 10 fields, got %d", len(f))
	}
	nums := make([]int64, len(f))
	for _, i := range []int{2, 3, 4, 5, 6, 7, 8, 9} {
		v, err := strconv.ParseInt(f[i], 10, 64)
		if err != nil {
			return fmt.Errorf("mdexorders: field %d: %w", i, err)
		}
		nums[i] = v
	}
	o := &Order{
		Address:       f[0],
		TxID:          f[1],
		Block:         nums[2],
		Index:         int(nums[3]),
		TokenForSale:  uint32(nums[4]),
		AmountForSale: nums[5],
		Remaining:     nums[6],
		TokenDesired:  uint32(nums[7]),
		AmountDesired: nums[8],
		Received:      nums[9],
	}
	if o.AmountForSale <= 0 || o.AmountDesired <= 0 {
		return fmt.Errorf("mdexorders: order %s has zero price", o.TxID)
	}
	if _, dup := e.byTx[o.TxID]; dup {
		return fmt.Errorf("mdexorders: duplicate order %s", o.TxID)
	}
	e.book.insert(o)
	e.byTx[o.TxID] = o
	return nil
}

// ResetState empties the book.
func (e *Engine) ResetState() {
	e.book = newBook()
	e.byTx = make(map[string]*Order)
}
