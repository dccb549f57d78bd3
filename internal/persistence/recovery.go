package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"TradeLedger/internal/chain"
	"TradeLedger/internal/index"
	"TradeLedger/internal/observability"
	"TradeLedger/internal/registry"

	"github.com/rs/zerolog"
)

// ErrFullReparse means no usable snapshot exists and the caller must
// rebuild all state from the first block.
var ErrFullReparse = errors.New("no usable snapshot, full reparse required")

// State is the recovery state machine.
//
//	Uninitialized -> Scanning -> Synced
//	Synced -> RollingBack -> Scanning
type State int32

const (
	StateUninitialized State = iota
	StateScanning
	StateSynced
	StateRollingBack
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateScanning:
		return "scanning"
	case StateSynced:
		return "synced"
	case StateRollingBack:
		return "rolling_back"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Truncater drops records created at or above a height. The tx index and
// the activation store implement it.
type Truncater interface {
	DeleteFrom(height int64) error
}

// Config controls snapshot cadence and the recovery window.
type Config struct {
	MaxStateHistory int64 `yaml:"max_state_history"`
	SnapshotEvery   int64 `yaml:"snapshot_every"`
}

func DefaultConfig() Config {
	return Config{MaxStateHistory: 50, SnapshotEvery: 1}
}

// Recovered is the outcome of a successful Load.
type Recovered struct {
	Height int64
	Hash   string
	// Replay holds journaled blocks above Height still on the active
	// chain, ascending. The caller re-processes them.
	Replay []index.JournalEntry
}

// Manager writes snapshots after blocks and restores the most recent
// usable one on startup or reorg.
//
// Not thread-safe: owned by the single writer of the core engine.
type Manager struct {
	cfg      Config
	files    *FileStore
	subs     []Subsystem
	registry *registry.Registry
	index    *index.Store
	others   []Truncater
	chain    chain.Accessor
	metrics  *observability.Metrics
	logger   zerolog.Logger

	state        atomic.Int32
	rollbackFrom int64
}

func NewManager(
	cfg Config,
	files *FileStore,
	subs []Subsystem,
	reg *registry.Registry,
	idx *index.Store,
	others []Truncater,
	accessor chain.Accessor,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Manager {
	if cfg.MaxStateHistory <= 0 {
		cfg.MaxStateHistory = DefaultConfig().MaxStateHistory
	}
	if cfg.SnapshotEvery <= 0 {
		cfg.SnapshotEvery = 1
	}
	return &Manager{
		cfg:          cfg,
		files:        files,
		subs:         subs,
		registry:     reg,
		index:        idx,
		others:       others,
		chain:        accessor,
		metrics:      metrics,
		logger:       logger,
		rollbackFrom: -1,
	}
}

func (m *Manager) State() State {
	return State(m.state.Load())
}

// SetState moves the state machine. Invalid transitions panic.
func (m *Manager) SetState(next State) {
	cur := m.State()
	if cur == next {
		return
	}
	valid := false
	switch cur {
	case StateUninitialized:
		valid = next == StateScanning || next == StateRollingBack
	case StateScanning:
		valid = next == StateSynced || next == StateRollingBack
	case StateSynced:
		valid = next == StateRollingBack || next == StateScanning
	case StateRollingBack:
		valid = next == StateScanning
	}
	if !valid {
		panic(fmt.Sprintf("FATAL: recovery state %s -> %s", cur, next))
	}
	m.state.Store(int32(next))
	if m.metrics != nil {
		m.metrics.RecoveryState.Set(float64(next))
	}
	m.logger.Info().Str("from", cur.String()).Str("to", next.String()).Msg("recovery state")
}

func (m *Manager) prefixes() []string {
	out := make([]string, len(m.subs))
	for i, s := range m.subs {
		out[i] = s.SnapshotPrefix()
	}
	return out
}

// AfterBlock records that block height/hash is fully applied. The registry
// watermark always moves; snapshot files are written when the block is
// within maxStateHistory of tip and on the snapshot cadence, after which
// stale files are pruned.
func (m *Manager) AfterBlock(ctx context.Context, height int64, hash string, tip int64) error {
	if err := m.registry.SetWatermark(registry.Watermark{Height: height, Hash: hash}); err != nil {
		return fmt.Errorf("set watermark: %w", err)
	}
	if tip-height > m.cfg.MaxStateHistory || height%m.cfg.SnapshotEvery != 0 {
		return nil
	}

	start := time.Now()
	var size int64
	for _, sub := range m.subs {
		n, err := m.files.Write(sub, hash)
		if err != nil {
			// a partial set is never complete, so recovery skips it
			return fmt.Errorf("snapshot %s at %d: %w", sub.SnapshotPrefix(), height, err)
		}
		size += n
	}
	if m.metrics != nil {
		m.metrics.SnapshotTaken.Inc()
		m.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		m.metrics.SnapshotSizeBytes.Set(float64(size))
		m.metrics.SnapshotHeight.Set(float64(height))
	}
	m.logger.Debug().Int64("height", height).Str("hash", hash).Int64("bytes", size).Msg("snapshot written")

	return m.Prune(ctx, tip)
}

// Prune removes snapshot files of blocks unknown to the chain, off the
// active chain or older than maxStateHistory below tip, and trims registry
// history and the journal to the same window.
func (m *Manager) Prune(ctx context.Context, tip int64) error {
	hashes, err := m.files.Blocks()
	if err != nil {
		return err
	}
	floor := tip - m.cfg.MaxStateHistory
	for _, h := range hashes {
		hdr, err := m.chain.BlockHeader(ctx, h)
		keep := err == nil && hdr.OnActiveChain && hdr.Height >= floor
		if err != nil && !errors.Is(err, chain.ErrBlockNotFound) {
			return err
		}
		if keep {
			continue
		}
		if err := m.files.Remove(h); err != nil {
			return fmt.Errorf("prune %s: %w", h, err)
		}
	}
	if floor <= 0 {
		return nil
	}
	if err := m.registry.PruneHistory(floor); err != nil {
		return fmt.Errorf("prune registry history: %w", err)
	}
	return m.index.PruneJournal(floor)
}

// MarkRollback records that blocks at or above height were invalidated.
// The lowest height wins until Rollback runs.
func (m *Manager) MarkRollback(height int64) {
	if m.rollbackFrom < 0 || height < m.rollbackFrom {
		m.rollbackFrom = height
	}
	if m.metrics != nil {
		m.metrics.Reorgs.Inc()
	}
	m.logger.Warn().Int64("height", height).Msg("rollback marked")
}

// PendingRollback returns the height marked by MarkRollback.
func (m *Manager) PendingRollback() (int64, bool) {
	return m.rollbackFrom, m.rollbackFrom >= 0
}

// Rollback drops indexed data at or above the marked height and loads the
// newest valid snapshot below it. The marked blocks are undone even when
// the chain still reports them active. Returns ErrFullReparse when no
// snapshot below the mark qualifies.
func (m *Manager) Rollback(ctx context.Context) (Recovered, error) {
	from, ok := m.PendingRollback()
	if !ok {
		return Recovered{}, errors.New("no rollback pending")
	}
	m.SetState(StateRollingBack)
	if err := m.truncate(from); err != nil {
		return Recovered{}, err
	}
	rec, err := m.load(ctx, from)
	if err != nil {
		return Recovered{}, err
	}
	m.rollbackFrom = -1
	if m.metrics != nil {
		m.metrics.RollbackDepth.Observe(float64(from - rec.Height))
	}
	return rec, nil
}

// Load restores the most recent usable state:
//
//  1. while the watermarked block is off the active chain, or at or above
//     a pending rollback, undo its registry changes and move the watermark
//     to its parent;
//  2. walk back at most maxStateHistory blocks; the first block whose
//     subsystem files all exist, verify and load wins; every discarded
//     block undoes its registry changes;
//  3. drop indexed data above the winner and return the journaled
//     blocks that are still active for replay.
//
// Returns ErrFullReparse when no snapshot qualifies.
func (m *Manager) Load(ctx context.Context) (Recovered, error) {
	return m.load(ctx, -1)
}

// load is Load with an upper bound: when below is not negative, blocks at
// or above it are popped before any snapshot is considered.
func (m *Manager) load(ctx context.Context, below int64) (Recovered, error) {
	if m.State() == StateUninitialized {
		m.SetState(StateScanning)
		m.SetState(StateRollingBack)
	}
	defer func() {
		if m.State() == StateRollingBack {
			m.SetState(StateScanning)
		}
	}()

	wm, ok, err := m.registry.GetWatermark()
	if err != nil {
		return Recovered{}, err
	}
	if !ok {
		return m.fullReparse("no watermark")
	}

	cur, err := m.chain.BlockHeader(ctx, wm.Hash)
	if errors.Is(err, chain.ErrBlockNotFound) {
		return m.fullReparse("watermark block unknown")
	}
	if err != nil {
		return Recovered{}, err
	}

	for !cur.OnActiveChain || (below >= 0 && cur.Height >= below) {
		if cur, err = m.popTo(ctx, cur); err != nil {
			return m.fullReparseOrErr(err)
		}
	}

	hashes, err := m.files.Blocks()
	if err != nil {
		return Recovered{}, err
	}
	if len(hashes) == 0 {
		return m.fullReparse("no snapshot files")
	}

	prefixes := m.prefixes()
	abortBelow := cur.Height - m.cfg.MaxStateHistory
	for cur.Height >= abortBelow && cur.Height >= 0 {
		if m.files.Complete(prefixes, cur.Hash) {
			err := m.files.Load(m.subs, cur.Hash)
			if err == nil {
				m.logger.Info().Int64("height", cur.Height).Str("hash", cur.Hash).Msg("state loaded")
				return m.finishLoad(ctx, cur)
			}
			m.logger.Warn().Err(err).Int64("height", cur.Height).Msg("snapshot rejected")
			if m.metrics != nil {
				m.metrics.SnapshotRejected.WithLabelValues(rejectReason(err)).Inc()
			}
			for _, sub := range m.subs {
				sub.ResetState()
			}
			if err := m.files.Remove(cur.Hash); err != nil {
				return Recovered{}, err
			}
		}
		if cur.PrevHash == "" {
			break
		}
		if cur, err = m.popTo(ctx, cur); err != nil {
			return m.fullReparseOrErr(err)
		}
	}
	return m.fullReparse("snapshot window exhausted")
}

// popTo undoes the registry changes of h and moves the watermark to its
// parent, returning the parent header.
func (m *Manager) popTo(ctx context.Context, h chain.Header) (chain.Header, error) {
	n, err := m.registry.PopBlock(h.Height, h.Hash)
	if err != nil {
		return chain.Header{}, fmt.Errorf("pop block %d: %w", h.Height, err)
	}
	if n > 0 {
		m.logger.Debug().Int64("height", h.Height).Int("properties", n).Msg("registry block popped")
	}
	if h.PrevHash == "" {
		return chain.Header{}, fmt.Errorf("%w: popped genesis", ErrFullReparse)
	}
	parent, err := m.chain.BlockHeader(ctx, h.PrevHash)
	if errors.Is(err, chain.ErrBlockNotFound) {
		return chain.Header{}, fmt.Errorf("%w: parent of %d unknown", ErrFullReparse, h.Height)
	}
	if err != nil {
		return chain.Header{}, err
	}
	if err := m.registry.SetWatermark(registry.Watermark{Height: parent.Height, Hash: parent.Hash}); err != nil {
		return chain.Header{}, err
	}
	return parent, nil
}

func (m *Manager) finishLoad(ctx context.Context, at chain.Header) (Recovered, error) {
	rec := Recovered{Height: at.Height, Hash: at.Hash}
	var scanErr error
	prev := at.Hash
	err := m.index.BlocksFrom(at.Height+1, func(e index.JournalEntry) bool {
		if e.PrevHash != prev {
			return false
		}
		active, err := chain.IsActive(ctx, m.chain, e.Hash)
		if err != nil {
			scanErr = err
			return false
		}
		if !active {
			return false
		}
		rec.Replay = append(rec.Replay, e)
		prev = e.Hash
		return true
	})
	if err != nil {
		return Recovered{}, err
	}
	if scanErr != nil {
		return Recovered{}, scanErr
	}
	if err := m.truncate(at.Height + 1); err != nil {
		return Recovered{}, err
	}
	if m.metrics != nil {
		m.metrics.ReplayedBlocks.Add(float64(len(rec.Replay)))
	}
	return rec, nil
}

func (m *Manager) truncate(from int64) error {
	if err := m.index.DeleteFrom(from); err != nil {
		return fmt.Errorf("truncate index: %w", err)
	}
	for _, t := range m.others {
		if err := t.DeleteFrom(from); err != nil {
			return fmt.Errorf("truncate: %w", err)
		}
	}
	return nil
}

func (m *Manager) fullReparseOrErr(err error) (Recovered, error) {
	if errors.Is(err, ErrFullReparse) {
		return m.fullReparse(err.Error())
	}
	return Recovered{}, err
}

func (m *Manager) fullReparse(reason string) (Recovered, error) {
	m.logger.Warn().Str("reason", reason).Msg("full reparse required")
	if m.metrics != nil {
		m.metrics.FullReparses.Inc()
	}
	return Recovered{}, fmt.Errorf("%w: %s", ErrFullReparse, reason)
}

// Reset wipes all persisted and in-memory state for a full reparse.
func (m *Manager) Reset() error {
	if err := m.registry.ClearAll(); err != nil {
		return fmt.Errorf("clear registry: %w", err)
	}
	for _, sub := range m.subs {
		sub.ResetState()
	}
	if err := m.truncate(0); err != nil {
		return err
	}
	m.rollbackFrom = -1
	return m.files.RemoveAll()
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrChecksumMismatch):
		return "checksum"
	case errors.Is(err, ErrMissingChecksum):
		return "no_checksum"
	case errors.Is(err, ErrSnapshotMissing):
		return "missing"
	default:
		return "restore"
	}
}
