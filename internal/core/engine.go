package core

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"TradeLedger/internal/activation"
	"TradeLedger/internal/contractdex"
	"TradeLedger/internal/dex"
	"TradeLedger/internal/index"
	"TradeLedger/internal/instruction"
	"TradeLedger/internal/kvstore"
	"TradeLedger/internal/ledger"
	"TradeLedger/internal/market"
	"TradeLedger/internal/metadex"
	"TradeLedger/internal/observability"
	"TradeLedger/internal/persistence"
	"TradeLedger/internal/registry"

	"github.com/rs/zerolog"
)

var ErrPrevHashMismatch = errors.New("previous block hash mismatch")

// Config parameterizes the engine.
type Config struct {
	// ActivationAuthority is the only sender whose activation, deactivation
	// and alert messages are accepted.
	ActivationAuthority string
	Features            map[activation.Feature]int64
	MetaDEx             metadex.Params
	ContractDEx         contractdex.Params
	DedupCapacity       int
}

func DefaultConfig() Config {
	return Config{
		Features:      map[activation.Feature]int64{},
		MetaDEx:       metadex.DefaultParams(),
		ContractDEx:   contractdex.DefaultParams(),
		DedupCapacity: 1_000_000,
	}
}

// BlockHeader opens a block.
type BlockHeader struct {
	Height   int64
	Hash     string
	PrevHash string
	Time     time.Time
}

// Summary is everything a completed block produced.
type Summary struct {
	Height           int64
	Hash             string
	PrevHash         string
	Time             time.Time
	StateHash        string
	Applied          int
	Rejected         int
	Txs              []index.TxRecord
	Trades           []index.TradeRecord
	ExpiredAccepts   []dex.Accept
	ClosedCrowdsales []registry.Crowdsale
	ExpiredOrders    []contractdex.Order
	RiskActions      []contractdex.RiskAction
}

type openBlock struct {
	header BlockHeader
	sum    Summary
	// aborted is set when the block cannot be applied deterministically;
	// EndBlock then fails and the state must be recovered.
	aborted error
}

// Engine is the single-writer state machine. Every state container is
// owned here; the mutex serializes the writer against readers.
type Engine struct {
	mu sync.RWMutex

	ledger      *ledger.Ledger
	registry    *registry.Registry
	crowdsales  *registry.Crowdsales
	schedule    *activation.Schedule
	activations *activation.Store
	index       *index.Store
	tracker     *market.Tracker
	dex         *dex.Engine
	mdex        *metadex.Engine
	cdex        *contractdex.Engine

	validator   *ledger.InvariantValidator
	hasher      *StateHasher
	sequence    *SequenceValidator
	idempotency *IdempotencyChecker
	globals     *globals

	cfg     Config
	metrics *observability.Metrics
	logger  zerolog.Logger

	block *openBlock
}

// NewEngine builds an engine whose registry, tx index and activation
// records live in kv.
func NewEngine(kv kvstore.Store, cfg Config, metrics *observability.Metrics, logger zerolog.Logger) (*Engine, error) {
	reg, err := registry.New(kv)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	l := ledger.New()
	schedule := activation.NewSchedule(cfg.Features)
	tracker := market.NewTracker()
	idx := index.New(kv)

	e := &Engine{
		ledger:      l,
		registry:    reg,
		crowdsales:  registry.NewCrowdsales(),
		schedule:    schedule,
		activations: activation.NewStore(kv),
		index:       idx,
		tracker:     tracker,
		dex:         dex.NewEngine(l, schedule, tracker),
		mdex:        metadex.NewEngine(l, schedule, tracker, cfg.MetaDEx),
		cdex:        contractdex.NewEngine(l, schedule, tracker, reg, cfg.ContractDEx),
		validator:   ledger.NewInvariantValidator(l, reg),
		hasher:      NewStateHasher(),
		sequence:    NewSequenceValidator(),
		idempotency: NewIdempotencyChecker(cfg.DedupCapacity, idx, metrics),
		cfg:         cfg,
		metrics:     metrics,
		logger:      logger,
	}
	e.globals = &globals{e: e}
	e.globals.ResetState()
	if err := e.activations.Rebuild(schedule); err != nil {
		return nil, fmt.Errorf("rebuild activations: %w", err)
	}
	return e, nil
}

// Registry returns the property registry for recovery wiring.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Index returns the tx index for recovery wiring.
func (e *Engine) Index() *index.Store { return e.index }

// Truncaters returns the KV stores besides the index that must drop
// records above a rollback height.
func (e *Engine) Truncaters() []persistence.Truncater {
	return []persistence.Truncater{e.activations}
}

// Subsystems returns every snapshot subsystem in file order.
func (e *Engine) Subsystems() []persistence.Subsystem {
	return append([]persistence.Subsystem{e.globals}, e.hashedSubsystems()...)
}

// hashedSubsystems are the subsystems covered by the state digest.
func (e *Engine) hashedSubsystems() []persistence.Subsystem {
	return []persistence.Subsystem{
		e.ledger,
		e.crowdsales,
		e.dex.OfferSnapshot(),
		e.dex.AcceptSnapshot(),
		e.mdex,
		e.cdex,
		e.cdex.PositionSnapshot(),
		e.tracker,
	}
}

// Shared runs fn under the read lock.
func (e *Engine) Shared(fn func() error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fn()
}

// Exclusive runs fn under the write lock.
func (e *Engine) Exclusive(fn func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn()
}

// LastBlock returns the last completed block, height -1 before the first.
func (e *Engine) LastBlock() (int64, string) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.globals.height, e.globals.hash
}

// StateHash returns the hex state hash after the last completed block.
func (e *Engine) StateHash() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.globals.stateHash()
}

// afterRestore resynchronizes the derived state after snapshot files were
// loaded or the state was reset. Callers hold the write lock.
func (e *Engine) afterRestore() error {
	if err := e.activations.Rebuild(e.schedule); err != nil {
		return fmt.Errorf("rebuild activations: %w", err)
	}
	e.idempotency.Reset()
	e.sequence.SetLastBlock(e.globals.height)
	e.block = nil
	return nil
}

// BeginBlock opens a block. Blocks must be contiguous and chain onto the
// last completed block.
func (e *Engine) BeginBlock(h BlockHeader) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.globals.hash != "" && h.PrevHash != e.globals.hash {
		return fmt.Errorf("%w: block %d prev=%s, last=%s", ErrPrevHashMismatch, h.Height, h.PrevHash, e.globals.hash)
	}
	if err := e.sequence.ValidateBlock(h.Height); err != nil {
		return err
	}
	e.block = &openBlock{
		header: h,
		sum: Summary{
			Height:   h.Height,
			Hash:     h.Hash,
			PrevHash: h.PrevHash,
			Time:     h.Time,
		},
	}
	return nil
}

// Apply applies one instruction of the open block. Rejected instructions
// leave no state change.
func (e *Engine) Apply(ins instruction.Instruction) instruction.Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.block == nil {
		panic("FATAL: Apply called without an open block")
	}
	kind := ins.Kind().String()
	tx := ins.Head()
	if e.block.aborted != nil {
		return rejected(e.block.aborted)
	}

	if err := e.sequence.ValidateTx(tx.Block, tx.Index); err != nil {
		if e.metrics != nil {
			e.metrics.OutOfOrder.Inc()
		}
		return e.reject(kind, rejected(err))
	}
	dup, err := e.idempotency.IsDuplicate(tx.TxID)
	if err != nil {
		e.block.aborted = fmt.Errorf("%w at %d: %w", ErrBlockAborted, e.block.header.Height, err)
		e.logger.Error().Err(err).Str("txid", tx.TxID).Msg("duplicate check failed, aborting block")
		return rejected(e.block.aborted)
	}
	if dup {
		return e.reject(kind, rejected(fmt.Errorf("%w: %s", ErrDuplicateTx, tx.TxID)))
	}
	if tx.BlockHash == "" {
		tx.BlockHash = e.block.header.Hash
	}
	if tx.BlockTime.IsZero() {
		tx.BlockTime = e.block.header.Time
	}

	res := instruction.OK()
	if err := e.dispatch(ins); err != nil {
		res = rejected(err)
	}
	e.idempotency.MarkProcessed(tx.TxID)
	e.block.sum.Txs = append(e.block.sum.Txs, index.TxRecord{
		TxID:   tx.TxID,
		Block:  tx.Block,
		Index:  tx.Index,
		Kind:   kind,
		Sender: tx.Sender,
		Amount: amountOf(ins),
		Valid:  res.Valid,
		Code:   res.Code,
		Reason: res.Reason,
	})
	if !res.Valid {
		return e.reject(kind, res)
	}
	e.block.sum.Applied++
	if e.metrics != nil {
		e.metrics.InstructionsApplied.WithLabelValues(kind).Inc()
	}
	return res
}

func (e *Engine) reject(kind string, res instruction.Result) instruction.Result {
	e.block.sum.Rejected++
	if e.metrics != nil {
		e.metrics.InstructionsRejected.WithLabelValues(kind, fmt.Sprint(res.Code)).Inc()
	}
	e.logger.Debug().
		Int64("block", e.block.header.Height).
		Str("kind", kind).
		Int("code", res.Code).
		Str("reason", res.Reason).
		Msg("instruction rejected")
	return res
}

// EndBlock runs the end-of-block passes, validates invariants, chains the
// state hash and indexes the block's transactions and trades.
func (e *Engine) EndBlock() (Summary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.block == nil {
		return Summary{}, ErrNoOpenBlock
	}
	b := e.block
	if b.aborted != nil {
		e.block = nil
		return Summary{}, b.aborted
	}
	height := b.header.Height

	b.sum.ExpiredAccepts = e.dex.ExpireAccepts(height)
	for _, cs := range e.crowdsales.Expire(height) {
		b.sum.ClosedCrowdsales = append(b.sum.ClosedCrowdsales, *cs)
	}
	b.sum.ExpiredOrders = e.cdex.ExpireContracts(height)

	b.sum.RiskActions = e.cdex.RiskPass(height)
	for _, a := range b.sum.RiskActions {
		for _, t := range a.Trades {
			e.recordTrade(contractTradeRecord(t), "cdex")
			if e.metrics != nil && t.Liquidation {
				e.metrics.LiquidationContracts.WithLabelValues(fmt.Sprint(t.Contract)).Add(float64(t.Quantity))
			}
		}
		if e.metrics != nil {
			e.metrics.RiskActions.WithLabelValues(a.Kind.String()).Inc()
		}
	}

	if err := e.validator.ValidateAll(); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated after block %d: %v", height, err))
	}

	start := time.Now()
	digest, err := e.stateDigest()
	if err != nil {
		panic(fmt.Sprintf("FATAL: state digest of block %d: %v", height, err))
	}
	stateHash := e.hasher.ComputeHash(height, digest)
	if e.metrics != nil {
		e.metrics.StateHashDuration.Observe(time.Since(start).Seconds())
	}
	b.sum.StateHash = hex.EncodeToString(stateHash[:])

	if _, err := e.sequence.CloseBlock(); err != nil {
		return Summary{}, err
	}
	e.globals.height = height
	e.globals.hash = b.header.Hash
	e.block = nil

	if err := e.index.PutTxs(b.sum.Txs); err != nil {
		return Summary{}, fmt.Errorf("index txs of block %d: %w", height, err)
	}
	if err := e.index.PutTrades(b.sum.Trades); err != nil {
		return Summary{}, fmt.Errorf("index trades of block %d: %w", height, err)
	}
	return b.sum, nil
}

// stateDigest covers every registered property and every line of every
// subsystem except the globals, which carry the hash chain itself.
func (e *Engine) stateDigest() ([]byte, error) {
	d := NewDigestWriter()
	d.Section("properties")
	for _, p := range e.registry.Properties() {
		line, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		d.Line(string(line))
	}
	for _, sub := range e.hashedSubsystems() {
		d.Section(sub.SnapshotPrefix())
		if err := sub.SnapshotLines(d.Line); err != nil {
			return nil, fmt.Errorf("%s: %w", sub.SnapshotPrefix(), err)
		}
	}
	return d.Sum(), nil
}

func (e *Engine) recordTrade(t index.TradeRecord, kind string) {
	e.block.sum.Trades = append(e.block.sum.Trades, t)
	if e.metrics != nil {
		e.metrics.Trades.WithLabelValues(kind).Inc()
	}
}

// require rejects instructions gated behind a feature not yet active.
func (e *Engine) require(f activation.Feature, block int64) error {
	if !e.schedule.IsActive(f, block) {
		return fmt.Errorf("%w: %s at block %d", ErrFeatureInactive, f, block)
	}
	return nil
}

func (e *Engine) dispatch(ins instruction.Instruction) error {
	switch in := ins.(type) {
	case *instruction.SimpleSend:
		return e.handleSimpleSend(in)
	case *instruction.CreateFixed:
		return e.handleCreateFixed(in)
	case *instruction.CreateManaged:
		return e.handleCreateManaged(in)
	case *instruction.Grant:
		return e.handleGrant(in)
	case *instruction.Revoke:
		return e.handleRevoke(in)
	case *instruction.ChangeIssuer:
		return e.handleChangeIssuer(in)
	case *instruction.CreateCrowdsale:
		return e.handleCreateCrowdsale(in)
	case *instruction.CloseCrowdsale:
		return e.handleCloseCrowdsale(in)
	case *instruction.DExSellOffer:
		return e.handleDExSellOffer(in)
	case *instruction.DExBuyOffer:
		return e.handleDExBuyOffer(in)
	case *instruction.DExAccept:
		return e.handleDExAccept(in)
	case *instruction.DExPayment:
		return e.handleDExPayment(in)
	case *instruction.MetaDExTrade:
		return e.handleMetaDExTrade(in)
	case *instruction.MetaDExCancelPrice:
		return e.handleMetaDExCancelPrice(in)
	case *instruction.MetaDExCancelPair:
		return e.handleMetaDExCancelPair(in)
	case *instruction.MetaDExCancelEcosystem:
		return e.handleMetaDExCancelEcosystem(in)
	case *instruction.CreateContract:
		return e.handleCreateContract(in)
	case *instruction.ContractTrade:
		return e.handleContractTrade(in)
	case *instruction.ContractCancelAll:
		return e.handleContractCancelAll(in)
	case *instruction.ContractCancelByTx:
		return e.handleContractCancelByTx(in)
	case *instruction.ContractCancelPrice:
		return e.handleContractCancelPrice(in)
	case *instruction.ContractClosePosition:
		return e.handleContractClosePosition(in)
	case *instruction.OraclePrice:
		return e.handleOraclePrice(in)
	case *instruction.Activation:
		return e.handleActivation(in)
	case *instruction.Deactivation:
		return e.handleDeactivation(in)
	case *instruction.Alert:
		return e.handleAlert(in)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownKind, ins)
	}
}

// amountOf is the amount recorded in the tx index.
func amountOf(ins instruction.Instruction) int64 {
	switch in := ins.(type) {
	case *instruction.SimpleSend:
		return in.Amount
	case *instruction.CreateFixed:
		return in.Amount
	case *instruction.Grant:
		return in.Amount
	case *instruction.Revoke:
		return in.Amount
	case *instruction.DExSellOffer:
		return in.Amount
	case *instruction.DExBuyOffer:
		return in.Amount
	case *instruction.DExAccept:
		return in.Amount
	case *instruction.DExPayment:
		return in.AmountPaid
	case *instruction.MetaDExTrade:
		return in.AmountForSale
	case *instruction.MetaDExCancelPrice:
		return in.AmountForSale
	case *instruction.ContractTrade:
		return in.Amount
	default:
		return 0
	}
}
