package ledger

import (
	"fmt"
	"strconv"
	"strings"
)

// SnapshotPrefix names the ledger's snapshot file.
func (l *Ledger) SnapshotPrefix() string { return "balances" }

// SnapshotLines emits one line per address:
//
//	address=token:b0,b1,...,b10;token:...
//
// Tokens are ascending, addresses ascending, all-zero records omitted.
func (l *Ledger) SnapshotLines(emit func(line string) error) error {
	holdings := l.Holdings()
	for i := 0; i < len(holdings); {
		address := holdings[i].Address
		var sb strings.Builder
		sb.WriteString(address)
		sb.WriteByte('=')
		first := true
		for ; i < len(holdings) && holdings[i].Address == address; i++ {
			if !first {
				sb.WriteByte(';')
			}
			first = false
			sb.WriteString(strconv.FormatUint(uint64(holdings[i].Token), 10))
			sb.WriteByte(':')
			for b, v := range holdings[i].Record {
				if b > 0 {
					sb.WriteByte(',')
				}
				sb.WriteString(strconv.FormatInt(v, 10))
			}
		}
		if err := emit(sb.String()); err != nil {
			return err
		}
	}
	return nil
}

// RestoreLine parses one line produced by SnapshotLines.
func (l *Ledger) RestoreLine(line string) error {
	address, rest, ok := strings.Cut(line, "=")
	if !ok || address == "" {
		return fmt.Errorf("balances: malformed line %q", line)
	}
	for _, entry := range strings.Split(rest, ";") {
		tokenStr, values, ok := strings.Cut(entry, ":")
		if !ok {
			return fmt.Errorf("balances: malformed entry %q", entry)
		}
		token, err := strconv.ParseUint(tokenStr, 10, 32)
		if err != nil {
			return fmt.Errorf("balances: token %q: %w", tokenStr, err)
		}
		fields := strings.Split(values, ",")
		if len(fields) != int(NumBuckets) {
			return fmt.Errorf("balances: expected %d buckets, got %d", NumBuckets, len(fields))
		}
		for b, f := range fields {
			v, err := strconv.ParseInt(f, 10, 64)
			if err != nil {
				return fmt.Errorf("balances: bucket %s: %w", Bucket(b), err)
			}
			if v < 0 {
				return fmt.Errorf("balances: negative %s for %s", Bucket(b), address)
			}
			l.set(holdingKey{address, uint32(token)}, Bucket(b), v)
		}
	}
	return nil
}

// ResetState clears the ledger before a restore.
func (l *Ledger) ResetState() { l.Reset() }
