package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TradeLedger/internal/chain"
	"TradeLedger/internal/index"
	"TradeLedger/internal/instruction"
	"TradeLedger/internal/observability"
	"TradeLedger/internal/persistence"

	"github.com/rs/zerolog"
)

// ErrDisconnected means a block does not chain onto the state even after
// any rollback it triggered. The source should redeliver from the
// processor's next height.
var ErrDisconnected = errors.New("block does not connect")

// Decoder turns a wire block into instructions. The same bytes are
// journaled and decoded again on replay.
type Decoder func(raw []byte) (*instruction.Block, error)

// PaymentChecker reports what a base-chain transaction paid to an address.
type PaymentChecker interface {
	PaidTo(ctx context.Context, txid, address string) (int64, error)
}

// ProcessorConfig wires the processor's optional collaborators.
type ProcessorConfig struct {
	Decode Decoder
	// Payments, when set, replaces the declared amount of every DEx
	// payment with what the chain shows was paid to the seller.
	Payments PaymentChecker
	// Archive receives every block's trades. Sends block.
	Archive chan<- persistence.ArchiveOp
	// Publish receives block summaries. Sends never block; a full channel
	// drops the summary.
	Publish chan<- Summary
	Health  *observability.HealthChecker
}

// Processor drives the engine from a stream of wire blocks: it recovers
// state on start, detects redelivered and reorganized blocks, journals
// every processed block and fans results out to the archive and
// subscribers.
//
// Not thread-safe: Start and Process are called from one goroutine.
type Processor struct {
	engine   *Engine
	recovery *persistence.Manager
	chain    chain.Accessor
	cfg      ProcessorConfig
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

func NewProcessor(
	engine *Engine,
	recovery *persistence.Manager,
	accessor chain.Accessor,
	cfg ProcessorConfig,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Processor {
	return &Processor{
		engine:   engine,
		recovery: recovery,
		chain:    accessor,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
	}
}

// Start restores the newest usable state and replays the journal above
// it. Returns the next height the source should deliver; 0 after a full
// reparse means "from the first block".
func (p *Processor) Start(ctx context.Context) (int64, error) {
	p.setPhase("recovering")
	var (
		rec  persistence.Recovered
		full bool
	)
	err := p.engine.Exclusive(func() error {
		var err error
		rec, err = p.recovery.Load(ctx)
		if errors.Is(err, persistence.ErrFullReparse) {
			full = true
			if err := p.recovery.Reset(); err != nil {
				return fmt.Errorf("reset for full reparse: %w", err)
			}
			return p.engine.afterRestore()
		}
		if err != nil {
			return err
		}
		return p.engine.afterRestore()
	})
	if err != nil {
		return 0, fmt.Errorf("recover: %w", err)
	}
	p.resetChainCache()

	if full {
		p.logger.Warn().Msg("starting from an empty state")
		if err := p.archive(ctx, persistence.ArchiveOp{Rollback: true, RollbackFrom: 0}); err != nil {
			return 0, err
		}
		p.setPhase("scanning")
		return 0, nil
	}

	p.logger.Info().
		Int64("height", rec.Height).
		Str("hash", rec.Hash).
		Int("replay", len(rec.Replay)).
		Msg("state recovered")
	if err := p.archive(ctx, persistence.ArchiveOp{Rollback: true, RollbackFrom: rec.Height + 1}); err != nil {
		return 0, err
	}
	if err := p.replay(ctx, rec.Replay); err != nil {
		return 0, err
	}
	p.setPhase("scanning")
	last, _ := p.engine.LastBlock()
	return last + 1, nil
}

// NextHeight is the height the source should deliver next.
func (p *Processor) NextHeight() int64 {
	last, _ := p.engine.LastBlock()
	return last + 1
}

// Process decodes and applies one wire block.
func (p *Processor) Process(ctx context.Context, raw []byte) error {
	b, err := p.cfg.Decode(raw)
	if err != nil {
		return fmt.Errorf("decode block: %w", err)
	}
	skip, err := p.reconcile(ctx, b)
	if err != nil || skip {
		return err
	}
	return p.apply(ctx, b, raw)
}

// reconcile places b against the current state. Redelivered blocks are
// skipped; a block competing with a processed one, or whose parent is not
// the last processed block, rolls the state back first.
func (p *Processor) reconcile(ctx context.Context, b *instruction.Block) (bool, error) {
	if _, pending := p.recovery.PendingRollback(); pending {
		if err := p.rollback(ctx); err != nil {
			return false, err
		}
	}

	last, lastHash := p.engine.LastBlock()
	switch {
	case last < 0:
		return false, nil
	case b.Height == last+1 && b.PrevHash == lastHash:
		return false, nil
	case b.Height > last+1:
		return false, fmt.Errorf("%w: block %d after %d", ErrBlockGap, b.Height, last)
	case b.Height <= last:
		seen, ok, err := p.engine.Index().Block(b.Height)
		if err != nil {
			return false, fmt.Errorf("journal lookup %d: %w", b.Height, err)
		}
		// pruned journal entries are below the reorg window
		if !ok || seen.Hash == b.Hash {
			p.logger.Debug().Int64("height", b.Height).Msg("block already applied")
			return true, nil
		}
		p.recovery.MarkRollback(b.Height)
	default:
		fork, err := p.forkPoint(ctx, last)
		if err != nil {
			return false, err
		}
		p.recovery.MarkRollback(fork)
	}

	if err := p.rollback(ctx); err != nil {
		return false, err
	}
	last, lastHash = p.engine.LastBlock()
	if last >= 0 && (b.Height != last+1 || b.PrevHash != lastHash) {
		return false, fmt.Errorf("%w: block %d prev=%s onto %d %s", ErrDisconnected, b.Height, b.PrevHash, last, lastHash)
	}
	return false, nil
}

// forkPoint walks the journal down from last and returns the lowest
// height whose block left the active chain. At least the tip goes.
func (p *Processor) forkPoint(ctx context.Context, last int64) (int64, error) {
	fork := last
	for h := last - 1; h >= 0; h-- {
		e, ok, err := p.engine.Index().Block(h)
		if err != nil {
			return 0, fmt.Errorf("journal lookup %d: %w", h, err)
		}
		if !ok {
			break
		}
		active, err := chain.IsActive(ctx, p.chain, e.Hash)
		if err != nil {
			return 0, err
		}
		if active {
			break
		}
		fork = h
	}
	return fork, nil
}

// rollback restores the state below the pending rollback height and
// replays the journaled blocks that survived.
func (p *Processor) rollback(ctx context.Context) error {
	from, _ := p.recovery.PendingRollback()
	p.setPhase("rolling_back")

	var rec persistence.Recovered
	err := p.engine.Exclusive(func() error {
		var err error
		rec, err = p.recovery.Rollback(ctx)
		if errors.Is(err, persistence.ErrFullReparse) {
			if rerr := p.recovery.Reset(); rerr != nil {
				return fmt.Errorf("reset for full reparse: %w", rerr)
			}
			if rerr := p.engine.afterRestore(); rerr != nil {
				return rerr
			}
			return err
		}
		if err != nil {
			return err
		}
		return p.engine.afterRestore()
	})
	p.resetChainCache()
	if errors.Is(err, persistence.ErrFullReparse) {
		if aerr := p.archive(ctx, persistence.ArchiveOp{Rollback: true, RollbackFrom: 0}); aerr != nil {
			return aerr
		}
		return err
	}
	if err != nil {
		return fmt.Errorf("rollback from %d: %w", from, err)
	}

	p.logger.Warn().
		Int64("from", from).
		Int64("restored", rec.Height).
		Int("replay", len(rec.Replay)).
		Msg("state rolled back")
	if err := p.archive(ctx, persistence.ArchiveOp{Rollback: true, RollbackFrom: rec.Height + 1}); err != nil {
		return err
	}
	if err := p.replay(ctx, rec.Replay); err != nil {
		return err
	}
	p.setPhase("scanning")
	return nil
}

func (p *Processor) replay(ctx context.Context, entries []index.JournalEntry) error {
	for _, e := range entries {
		b, err := p.cfg.Decode(e.Raw)
		if err != nil {
			return fmt.Errorf("decode journaled block %d: %w", e.Height, err)
		}
		if err := p.apply(ctx, b, e.Raw); err != nil {
			return fmt.Errorf("replay block %d: %w", e.Height, err)
		}
	}
	return nil
}

// apply runs one block through the engine, journals it, snapshots and
// fans out the summary.
func (p *Processor) apply(ctx context.Context, b *instruction.Block, raw []byte) error {
	start := time.Now()
	if err := p.engine.BeginBlock(BlockHeader{
		Height:   b.Height,
		Hash:     b.Hash,
		PrevHash: b.PrevHash,
		Time:     b.Time,
	}); err != nil {
		return err
	}
	for _, ins := range b.Instructions {
		p.verifyPayment(ctx, ins)
		p.engine.Apply(ins)
	}
	sum, err := p.engine.EndBlock()
	if err != nil {
		return err
	}

	if err := p.engine.Index().PutBlock(index.JournalEntry{
		Height:    b.Height,
		Hash:      b.Hash,
		PrevHash:  b.PrevHash,
		StateHash: sum.StateHash,
		Raw:       raw,
	}); err != nil {
		return fmt.Errorf("journal block %d: %w", b.Height, err)
	}

	tip := p.tip(ctx, b.Height)
	if err := p.engine.Shared(func() error {
		return p.recovery.AfterBlock(ctx, b.Height, b.Hash, tip)
	}); err != nil {
		return fmt.Errorf("after block %d: %w", b.Height, err)
	}

	if err := p.archive(ctx, persistence.ArchiveOp{
		Block: persistence.BlockRow{
			Height:     sum.Height,
			Hash:       sum.Hash,
			StateHash:  sum.StateHash,
			TradeCount: len(sum.Trades),
			BlockTime:  sum.Time,
		},
		Trades: sum.Trades,
	}); err != nil {
		return err
	}
	p.publish(sum)

	if p.metrics != nil {
		p.metrics.BlocksProcessed.Inc()
		p.metrics.BlockDuration.Observe(time.Since(start).Seconds())
		p.metrics.BlockHeight.Set(float64(b.Height))
		if c, ok := p.chain.(*chain.CachedAccessor); ok {
			hits, misses := c.Stats()
			p.metrics.ChainCacheHits.Set(float64(hits))
			p.metrics.ChainCacheMisses.Set(float64(misses))
		}
	}
	if p.cfg.Health != nil {
		p.cfg.Health.SetHeight(b.Height)
	}
	if b.Height >= tip && p.recovery.State() == persistence.StateScanning {
		p.recovery.SetState(persistence.StateSynced)
		p.setPhase("synced")
		if p.cfg.Health != nil {
			p.cfg.Health.SetReady(true)
		}
	}

	p.logger.Debug().
		Int64("height", b.Height).
		Int("applied", sum.Applied).
		Int("rejected", sum.Rejected).
		Int("trades", len(sum.Trades)).
		Str("state", sum.StateHash).
		Msg("block processed")
	return nil
}

// verifyPayment rewrites a DEx payment to the amount the chain shows. An
// unverifiable payment counts as nothing paid.
func (p *Processor) verifyPayment(ctx context.Context, ins instruction.Instruction) {
	pay, ok := ins.(*instruction.DExPayment)
	if !ok || p.cfg.Payments == nil {
		return
	}
	paid, err := p.cfg.Payments.PaidTo(ctx, pay.TxID, pay.Receiver)
	if err != nil {
		p.logger.Warn().Err(err).Str("txid", pay.TxID).Msg("payment not verifiable")
		paid = 0
	}
	pay.AmountPaid = paid
}

// tip is the chain height, falling back to height when the chain is
// unreachable.
func (p *Processor) tip(ctx context.Context, height int64) int64 {
	tip, err := p.chain.BlockHeight(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("chain height unavailable")
		return height
	}
	if tip < height {
		return height
	}
	return tip
}

func (p *Processor) archive(ctx context.Context, op persistence.ArchiveOp) error {
	if p.cfg.Archive == nil {
		return nil
	}
	select {
	case p.cfg.Archive <- op:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Processor) publish(sum Summary) {
	if p.cfg.Publish == nil {
		return
	}
	select {
	case p.cfg.Publish <- sum:
	default:
		if p.metrics != nil {
			p.metrics.PublishDrops.Inc()
		}
	}
}

func (p *Processor) resetChainCache() {
	if c, ok := p.chain.(*chain.CachedAccessor); ok {
		c.Reset()
	}
}

func (p *Processor) setPhase(phase string) {
	if p.cfg.Health == nil {
		return
	}
	p.cfg.Health.SetPhase(phase)
	if phase != "synced" {
		p.cfg.Health.SetReady(false)
	}
}
