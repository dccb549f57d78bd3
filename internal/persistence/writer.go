package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"TradeLedger/internal/index"

	"github.com/google/uuid"
)

// tradeNamespace seeds the name-based ids of archived trades so a replayed
// block writes the same ids again.
var tradeNamespace = uuid.MustParse("6f1d2c8e-4a57-5b0e-9a43-2f7c1e0d9b11")

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// BlockRow is a row in archive.blocks.
type BlockRow struct {
	Height     int64
	Hash       string
	StateHash  string
	TradeCount int
	BlockTime  time.Time
}

// TradeRow is a row in archive.trades.
type TradeRow struct {
	TradeID     uuid.UUID
	Height      int64
	Market      string
	TakerTxID   string
	MakerTxID   string
	Taker       string
	Maker       string
	TokenBought uint32
	TokenPaid   uint32
	Quantity    int64
	AmountPaid  int64
	Price       int64
	TakerFee    int64
	MakerRebate int64
	Liquidation bool
}

// NewTradeRow maps an indexed trade to its archive row.
func NewTradeRow(t index.TradeRecord) TradeRow {
	return TradeRow{
		TradeID:     uuid.NewSHA1(tradeNamespace, []byte(t.TakerTxID+":"+t.MakerTxID)),
		Height:      t.Block,
		Market:      t.Market,
		TakerTxID:   t.TakerTxID,
		MakerTxID:   t.MakerTxID,
		Taker:       t.Taker,
		Maker:       t.Maker,
		TokenBought: t.TokenBought,
		TokenPaid:   t.TokenPaid,
		Quantity:    t.Quantity,
		AmountPaid:  t.AmountPaid,
		Price:       t.Price,
		TakerFee:    t.TakerFee,
		MakerRebate: t.MakerRebate,
		Liquidation: t.Liquidation,
	}
}

// ArchiveWriter writes blocks and trades to Postgres with multi-row
// INSERTs. Writes are idempotent: replays hit ON CONFLICT.
type ArchiveWriter struct {
	db *sql.DB
}

func NewArchiveWriter(db *sql.DB) *ArchiveWriter {
	return &ArchiveWriter{db: db}
}

const tradeColumns = 15

func tradeInsert(rows []TradeRow) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO archive.trades
		(trade_id, height, market, taker_txid, maker_txid, taker, maker, token_bought, token_paid,
		 quantity, amount_paid, price, taker_fee, maker_rebate, liquidation)
		VALUES `)

	args := make([]interface{}, 0, len(rows)*tradeColumns)
	for i, r := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for c := 1; c <= tradeColumns; c++ {
			if c > 1 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", i*tradeColumns+c)
		}
		sb.WriteByte(')')
		args = append(args,
			r.TradeID, r.Height, r.Market, r.TakerTxID, r.MakerTxID, r.Taker, r.Maker,
			int64(r.TokenBought), int64(r.TokenPaid), r.Quantity, r.AmountPaid, r.Price,
			r.TakerFee, r.MakerRebate, r.Liquidation,
		)
	}
	sb.WriteString(" ON CONFLICT (trade_id) DO NOTHING")
	return sb.String(), args
}

func blockInsert(rows []BlockRow) (string, []interface{}) {
	query := `INSERT INTO archive.blocks (height, hash, state_hash, trade_count, block_time) VALUES `
	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*5)
	for i, b := range rows {
		base := i * 5
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5))
		args = append(args, b.Height, b.Hash, b.StateHash, b.TradeCount, b.BlockTime)
	}
	query += strings.Join(values, ", ")
	query += ` ON CONFLICT (height) DO UPDATE SET hash = EXCLUDED.hash,
		state_hash = EXCLUDED.state_hash, trade_count = EXCLUDED.trade_count,
		block_time = EXCLUDED.block_time`
	return query, args
}

// WriteTrades inserts trades.
func (w *ArchiveWriter) WriteTrades(ctx context.Context, ex execer, rows []TradeRow) error {
	if len(rows) == 0 {
		return nil
	}
	query, args := tradeInsert(rows)
	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteBlocks upserts block rows.
func (w *ArchiveWriter) WriteBlocks(ctx context.Context, ex execer, rows []BlockRow) error {
	if len(rows) == 0 {
		return nil
	}
	query, args := blockInsert(rows)
	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// DeleteFrom removes blocks and trades at or above height.
func (w *ArchiveWriter) DeleteFrom(ctx context.Context, ex execer, height int64) error {
	if _, err := ex.ExecContext(ctx, `DELETE FROM archive.trades WHERE height >= $1`, height); err != nil {
		return err
	}
	_, err := ex.ExecContext(ctx, `DELETE FROM archive.blocks WHERE height >= $1`, height)
	return err
}

// LastHeight returns the highest archived block, -1 when empty.
func (w *ArchiveWriter) LastHeight(ctx context.Context) (int64, error) {
	var h sql.NullInt64
	if err := w.db.QueryRowContext(ctx, `SELECT MAX(height) FROM archive.blocks`).Scan(&h); err != nil {
		return 0, err
	}
	if !h.Valid {
		return -1, nil
	}
	return h.Int64, nil
}

// TradesAt reads back the archived trades of a block ordered by id.
func (w *ArchiveWriter) TradesAt(ctx context.Context, height int64) ([]TradeRow, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT trade_id, height, market, taker_txid, maker_txid, taker, maker, token_bought, token_paid,
		       quantity, amount_paid, price, taker_fee, maker_rebate, liquidation
		FROM archive.trades
		WHERE height = $1
		ORDER BY trade_id`, height)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeRow
	for rows.Next() {
		var (
			r            TradeRow
			bought, paid int64
		)
		if err := rows.Scan(
			&r.TradeID, &r.Height, &r.Market, &r.TakerTxID, &r.MakerTxID, &r.Taker, &r.Maker,
			&bought, &paid, &r.Quantity, &r.AmountPaid, &r.Price, &r.TakerFee, &r.MakerRebate,
			&r.Liquidation,
		); err != nil {
			return nil, err
		}
		r.TokenBought, r.TokenPaid = uint32(bought), uint32(paid)
		out = append(out, r)
	}
	return out, rows.Err()
}
