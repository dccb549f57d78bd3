package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"TradeLedger/internal/index"
	"TradeLedger/internal/observability"

	"github.com/rs/zerolog"
)

// ArchiveOp is one unit of work for the archive worker: either the
// trades of a processed block, or a rollback of everything at or above
// RollbackFrom.
type ArchiveOp struct {
	Block        BlockRow
	Trades       []index.TradeRecord
	Rollback     bool
	RollbackFrom int64
}

// ArchiveWorker drains the archive channel and batch-writes to Postgres.
// It runs outside the deterministic core; the core blocks on the channel
// when the worker falls behind, so no block is lost.
type ArchiveWorker struct {
	writer       *ArchiveWriter
	db           *sql.DB
	inputChan    <-chan ArchiveOp
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

func NewArchiveWorker(
	db *sql.DB,
	inputChan <-chan ArchiveOp,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *ArchiveWorker {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &ArchiveWorker{
		writer:       NewArchiveWriter(db),
		db:           db,
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		logger:       logger,
	}
}

// Run batches incoming blocks and flushes when the batch is full or the
// flush timeout expires. A rollback flushes pending blocks first. Blocks
// until ctx is cancelled or the channel closes.
func (w *ArchiveWorker) Run(ctx context.Context) error {
	batch := make([]ArchiveOp, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	drain := func(ctx context.Context, reason string) {
		if len(batch) == 0 {
			return
		}
		if err := w.flushWithRetry(ctx, batch); err != nil {
			w.logger.Error().Err(err).Str("reason", reason).Int("blocks", len(batch)).Msg("archive flush failed")
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			drain(context.Background(), "shutdown")
			return ctx.Err()

		case op, ok := <-w.inputChan:
			if !ok {
				drain(context.Background(), "closed")
				return nil
			}
			if op.Rollback {
				drain(ctx, "rollback")
				if err := w.retry(ctx, "rollback", func(ctx context.Context) error {
					return w.writer.DeleteFrom(ctx, w.db, op.RollbackFrom)
				}); err != nil {
					w.logger.Error().Err(err).Int64("from", op.RollbackFrom).Msg("archive rollback failed")
				}
				continue
			}
			batch = append(batch, op)
			if len(batch) >= w.batchSize {
				drain(ctx, "full")
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			drain(ctx, "timeout")
			timer.Reset(w.flushTimeout)
		}
	}
}

func (w *ArchiveWorker) flushWithRetry(ctx context.Context, batch []ArchiveOp) error {
	return w.retry(ctx, "flush", func(ctx context.Context) error {
		return w.flush(ctx, batch)
	})
}

// retry runs fn with exponential backoff until it succeeds. On shutdown it
// makes one last attempt with a background context.
func (w *ArchiveWorker) retry(ctx context.Context, what string, fn func(context.Context) error) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.logger.Warn().Int("attempt", attempt).Dur("backoff", backoff).Str("op", what).Msg("archive retry")
			select {
			case <-ctx.Done():
				if err := fn(context.Background()); err != nil {
					return fmt.Errorf("final %s on shutdown failed: %w", what, err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				w.logger.Info().Int("retries", attempt).Str("op", what).Msg("archive write succeeded")
			}
			return nil
		}
		w.logger.Debug().Err(err).Str("op", what).Msg("archive write failed")
		if w.metrics != nil {
			w.metrics.ArchiveErrors.WithLabelValues("retry").Inc()
		}
	}
}

func (w *ArchiveWorker) flush(ctx context.Context, batch []ArchiveOp) error {
	start := time.Now()

	blocks := make([]BlockRow, 0, len(batch))
	var trades []TradeRow
	for _, op := range batch {
		op.Block.TradeCount = len(op.Trades)
		blocks = append(blocks, op.Block)
		for _, t := range op.Trades {
			trades = append(trades, NewTradeRow(t))
		}
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		w.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteBlocks(ctx, tx, blocks); err != nil {
		w.countError("write_blocks")
		return err
	}
	if err := w.writer.WriteTrades(ctx, tx, trades); err != nil {
		w.countError("write_trades")
		return err
	}
	if err := tx.Commit(); err != nil {
		w.countError("tx_commit")
		return err
	}

	if w.metrics != nil {
		w.metrics.ArchiveBatchDuration.Observe(time.Since(start).Seconds())
		w.metrics.ArchiveBatchSize.Observe(float64(len(batch)))
		w.metrics.ArchiveTradesWritten.Add(float64(len(trades)))
		w.metrics.ArchiveLastHeight.Set(float64(blocks[len(blocks)-1].Height))
	}
	return nil
}

func (w *ArchiveWorker) countError(kind string) {
	if w.metrics != nil {
		w.metrics.ArchiveErrors.WithLabelValues(kind).Inc()
	}
}

// Writer returns the underlying writer for read-back queries.
func (w *ArchiveWorker) Writer() *ArchiveWriter {
	return w.writer
}
