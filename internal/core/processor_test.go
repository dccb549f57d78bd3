package core_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"TradeLedger/internal/chain"
	"TradeLedger/internal/core"
	"TradeLedger/internal/ingestion"
	"TradeLedger/internal/instruction"
	"TradeLedger/internal/kvstore"
	"TradeLedger/internal/ledger"
	"TradeLedger/internal/observability"
	"TradeLedger/internal/persistence"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

// node is one processor over its own engine, sharing kv and snapshot dir
// with any node restarted from it.
type node struct {
	engine    *core.Engine
	recovery  *persistence.Manager
	processor *core.Processor
	archive   chan persistence.ArchiveOp
	publish   chan core.Summary
	health    *observability.HealthChecker
}

type nodeStorage struct {
	kv  *kvstore.LevelDB
	dir string
}

func newStorage(t *testing.T) nodeStorage {
	t.Helper()
	kv := kvstore.NewMemDB()
	t.Cleanup(func() { kv.Close() })
	return nodeStorage{kv: kv, dir: t.TempDir()}
}

func startNode(t *testing.T, st nodeStorage, mc chain.Accessor, pcfg persistence.Config, payments core.PaymentChecker) (*node, int64) {
	t.Helper()
	cfg := core.DefaultConfig()
	cfg.Features = liveFeatures()
	cfg.ActivationAuthority = authority
	engine, err := core.NewEngine(st.kv, cfg, nil, zerolog.Nop())
	require.NoError(t, err)

	files, err := persistence.NewFileStore(st.dir)
	require.NoError(t, err)
	mgr := persistence.NewManager(pcfg, files, engine.Subsystems(), engine.Registry(), engine.Index(), engine.Truncaters(), mc, nil, zerolog.Nop())

	n := &node{
		engine:   engine,
		recovery: mgr,
		archive:  make(chan persistence.ArchiveOp, 256),
		publish:  make(chan core.Summary, 256),
		health:   observability.NewHealthChecker(),
	}
	n.processor = core.NewProcessor(engine, mgr, mc, core.ProcessorConfig{
		Decode:   ingestion.DecodeBlock,
		Payments: payments,
		Archive:  n.archive,
		Publish:  n.publish,
		Health:   n.health,
	}, nil, zerolog.Nop())

	next, err := n.processor.Start(context.Background())
	require.NoError(t, err)
	return n, next
}

func (n *node) process(t *testing.T, raw []byte) {
	t.Helper()
	require.NoError(t, n.processor.Process(context.Background(), raw))
}

func (n *node) holdings() []ledger.Holding {
	var out []ledger.Holding
	n.engine.View(func(v core.View) error {
		out = v.AllHoldings()
		return nil
	})
	return out
}

// blockContent builds the instructions of the block at height on the
// branch named by tag. Block 0 creates tokens 3 (alice) and 4 (bob);
// later blocks send and trade amounts that differ per branch.
func blockContent(height int64, tag string) []instruction.Instruction {
	if height == 0 {
		return []instruction.Instruction{
			createFixed("alice", "Alpha", 1_000_000),
			createFixed("bob", "Beta", 1_000_000),
		}
	}
	step := int64(10)
	if tag[0] == 'b' {
		step = 7
	}
	ins := []instruction.Instruction{
		send("alice", "bob", 3, height*step),
		&instruction.MetaDExTrade{Header: from("alice", ""), TokenForSale: 3, AmountForSale: 10 * step, TokenDesired: 4, AmountDesired: 5 * step},
	}
	if height%2 == 0 {
		ins = append(ins, &instruction.MetaDExTrade{Header: from("bob", ""), TokenForSale: 4, AmountForSale: 5 * step, TokenDesired: 3, AmountDesired: 10 * step})
	}
	return ins
}

// encode renders the block of hdr as wire bytes. Txids are unique per
// branch and position.
func encode(t *testing.T, hdr chain.Header, tag string, ins []instruction.Instruction) []byte {
	t.Helper()
	for i, in := range ins {
		h := in.Head()
		h.TxID = fmt.Sprintf("%s-%d", tag, i)
		h.Index = i
	}
	raw, err := ingestion.EncodeBlock(&instruction.Block{
		Height:       hdr.Height,
		Hash:         hdr.Hash,
		PrevHash:     hdr.PrevHash,
		Time:         hdr.Time,
		Instructions: ins,
	})
	require.NoError(t, err)
	return raw
}

// extend appends blocks tagged prefix+height to mc and returns their
// wire bytes.
func extend(t *testing.T, mc *chain.MemChain, prefix string, from, to int64) [][]byte {
	t.Helper()
	var out [][]byte
	for h := from; h <= to; h++ {
		tag := fmt.Sprintf("%s%d", prefix, h)
		hdr := mc.Append(tag, genesisTime.Add(time.Duration(h)*10*time.Minute))
		require.Equal(t, h, hdr.Height)
		out = append(out, encode(t, hdr, tag, blockContent(h, tag)))
	}
	return out
}

func drainArchive(n *node) []persistence.ArchiveOp {
	var ops []persistence.ArchiveOp
	for {
		select {
		case op := <-n.archive:
			ops = append(ops, op)
		default:
			return ops
		}
	}
}

// ============================================================================
// Test: Startup and Restart
// ============================================================================

func TestProcessor_FreshStartScansFromGenesis(t *testing.T) {
	mc := chain.NewMemChain()
	blocks := extend(t, mc, "a", 0, 2)

	n, next := startNode(t, newStorage(t), mc, persistence.DefaultConfig(), nil)
	require.Equal(t, int64(0), next)
	ops := drainArchive(n)
	require.Len(t, ops, 1)
	require.True(t, ops[0].Rollback)
	require.Equal(t, int64(0), ops[0].RollbackFrom)

	for _, raw := range blocks {
		n.process(t, raw)
	}
	height, _ := n.engine.LastBlock()
	require.Equal(t, int64(2), height)
	require.Equal(t, persistence.StateSynced, n.recovery.State())
	require.True(t, n.health.IsReady())

	ops = drainArchive(n)
	require.Len(t, ops, 3)
	require.Equal(t, int64(2), ops[2].Block.Height)
	require.Equal(t, len(ops[2].Trades), ops[2].Block.TradeCount)
	require.Len(t, n.publish, 3)
}

func TestProcessor_RestartMatchesLiveState(t *testing.T) {
	mc := chain.NewMemChain()
	blocks := extend(t, mc, "a", 0, 7)
	st := newStorage(t)
	pcfg := persistence.Config{MaxStateHistory: 50, SnapshotEvery: 3}

	live, _ := startNode(t, st, mc, pcfg, nil)
	for _, raw := range blocks {
		live.process(t, raw)
	}
	wantHash := live.engine.StateHash()
	wantHoldings := live.holdings()

	// block 6 is the newest snapshot; block 7 comes back from the journal
	restarted, next := startNode(t, st, mc, pcfg, nil)
	require.Equal(t, int64(8), next)
	require.Equal(t, wantHash, restarted.engine.StateHash())
	if diff := cmp.Diff(wantHoldings, restarted.holdings()); diff != "" {
		t.Fatalf("holdings after restart (-live +restarted):\n%s", diff)
	}

	ops := drainArchive(restarted)
	require.NotEmpty(t, ops)
	require.True(t, ops[0].Rollback)
	require.Equal(t, int64(7), ops[0].RollbackFrom)
	require.Equal(t, int64(7), ops[len(ops)-1].Block.Height)

	// redelivery after a restart is a no-op
	restarted.process(t, blocks[7])
	restarted.process(t, blocks[3])
	require.Equal(t, wantHash, restarted.engine.StateHash())
}

// ============================================================================
// Test: Redelivery and Gaps
// ============================================================================

func TestProcessor_RedeliveredBlockSkipped(t *testing.T) {
	mc := chain.NewMemChain()
	blocks := extend(t, mc, "a", 0, 3)
	n, _ := startNode(t, newStorage(t), mc, persistence.DefaultConfig(), nil)
	for _, raw := range blocks {
		n.process(t, raw)
	}
	want := n.engine.StateHash()
	drainArchive(n)

	n.process(t, blocks[2])
	n.process(t, blocks[3])
	require.Equal(t, want, n.engine.StateHash())
	require.Empty(t, drainArchive(n))
}

func TestProcessor_GapRejected(t *testing.T) {
	mc := chain.NewMemChain()
	blocks := extend(t, mc, "a", 0, 2)
	n, _ := startNode(t, newStorage(t), mc, persistence.DefaultConfig(), nil)
	n.process(t, blocks[0])

	err := n.processor.Process(context.Background(), blocks[2])
	require.ErrorIs(t, err, core.ErrBlockGap)
	height, _ := n.engine.LastBlock()
	require.Equal(t, int64(0), height)

	n.process(t, blocks[1])
	n.process(t, blocks[2])
}

func TestProcessor_MalformedBlockRejected(t *testing.T) {
	n, _ := startNode(t, newStorage(t), chain.NewMemChain(), persistence.DefaultConfig(), nil)
	err := n.processor.Process(context.Background(), []byte(`{"height": 0}`))
	require.ErrorIs(t, err, ingestion.ErrMalformedBlock)
}

// ============================================================================
// Test: Reorganizations
// ============================================================================

func TestProcessor_ReorgMatchesReferenceChain(t *testing.T) {
	mc := chain.NewMemChain()
	mainBlocks := extend(t, mc, "a", 0, 4)
	n, _ := startNode(t, newStorage(t), mc, persistence.DefaultConfig(), nil)
	for _, raw := range mainBlocks {
		n.process(t, raw)
	}

	mc.Rewind(3)
	alt := extend(t, mc, "b", 3, 4)
	for _, raw := range alt {
		n.process(t, raw)
	}

	refChain := chain.NewMemChain()
	refBlocks := append(extend(t, refChain, "a", 0, 2), extend(t, refChain, "b", 3, 4)...)
	ref, _ := startNode(t, newStorage(t), refChain, persistence.DefaultConfig(), nil)
	for _, raw := range refBlocks {
		ref.process(t, raw)
	}

	gotHeight, gotHash := n.engine.LastBlock()
	wantHeight, wantHash := ref.engine.LastBlock()
	require.Equal(t, wantHeight, gotHeight)
	require.Equal(t, wantHash, gotHash)
	require.Equal(t, ref.engine.StateHash(), n.engine.StateHash())
	if diff := cmp.Diff(ref.holdings(), n.holdings()); diff != "" {
		t.Fatalf("holdings after reorg (-reference +reorged):\n%s", diff)
	}

	// the orphaned branch's transactions are gone from the index
	has, err := n.engine.Index().HasTx("a3-0")
	require.NoError(t, err)
	require.False(t, has)
	has, err = n.engine.Index().HasTx("b3-0")
	require.NoError(t, err)
	require.True(t, has)

	_, pending := n.recovery.PendingRollback()
	require.False(t, pending)
}

func TestProcessor_CompetingBlockRollsBackBelowIt(t *testing.T) {
	mc := chain.NewMemChain()
	mainBlocks := extend(t, mc, "a", 0, 4)
	n, _ := startNode(t, newStorage(t), mc, persistence.DefaultConfig(), nil)
	for _, raw := range mainBlocks {
		n.process(t, raw)
	}

	// the competitor for height 3 arrives before the accessor moved off a3
	refChain := chain.NewMemChain()
	refBlocks := append(extend(t, refChain, "a", 0, 2), extend(t, refChain, "b", 3, 3)...)
	n.process(t, refBlocks[3])

	ref, _ := startNode(t, newStorage(t), refChain, persistence.DefaultConfig(), nil)
	for _, raw := range refBlocks {
		ref.process(t, raw)
	}

	gotHeight, gotHash := n.engine.LastBlock()
	wantHeight, wantHash := ref.engine.LastBlock()
	require.Equal(t, wantHeight, gotHeight)
	require.Equal(t, wantHash, gotHash)
	require.Equal(t, ref.engine.StateHash(), n.engine.StateHash())

	for txid, want := range map[string]bool{"a2-0": true, "a3-0": false, "a4-0": false, "b3-0": true} {
		has, err := n.engine.Index().HasTx(txid)
		require.NoError(t, err)
		require.Equal(t, want, has, txid)
	}
}

func TestProcessor_UnknownParentRollsBackToForkPoint(t *testing.T) {
	mc := chain.NewMemChain()
	mainBlocks := extend(t, mc, "a", 0, 4)
	n, _ := startNode(t, newStorage(t), mc, persistence.DefaultConfig(), nil)
	for _, raw := range mainBlocks {
		n.process(t, raw)
	}

	mc.Rewind(3)
	alt := extend(t, mc, "b", 3, 5)

	// b5 arrives first: its parent is unknown, so the state drops to the
	// last block still on the active chain
	err := n.processor.Process(context.Background(), alt[2])
	require.ErrorIs(t, err, core.ErrDisconnected)
	height, _ := n.engine.LastBlock()
	require.Equal(t, int64(2), height)

	for _, raw := range alt {
		n.process(t, raw)
	}
	height, _ = n.engine.LastBlock()
	require.Equal(t, int64(5), height)
}

// ============================================================================
// Test: Payment Verification
// ============================================================================

type fixedPayments struct {
	paid  int64
	calls []string
}

func (f *fixedPayments) PaidTo(_ context.Context, txid, address string) (int64, error) {
	f.calls = append(f.calls, txid+"->"+address)
	return f.paid, nil
}

func TestProcessor_PaymentAmountFromChain(t *testing.T) {
	mc := chain.NewMemChain()
	contents := [][]instruction.Instruction{
		{
			createFixed("seller", "Widgets", 100),
			&instruction.DExSellOffer{Header: from("seller", ""), Token: 3, Amount: 100, AmountDesired: coin, PaymentWindow: 5, Action: instruction.OfferNew},
		},
		{&instruction.DExAccept{Header: from("payer", "seller"), Token: 3, Amount: 100}},
		// declares full payment, the chain shows half
		{&instruction.DExPayment{Header: from("payer", "seller"), AmountPaid: coin}},
	}
	var blocks [][]byte
	for h, ins := range contents {
		tag := fmt.Sprintf("p%d", h)
		hdr := mc.Append(tag, genesisTime)
		blocks = append(blocks, encode(t, hdr, tag, ins))
	}

	payments := &fixedPayments{paid: coin / 2}
	n, _ := startNode(t, newStorage(t), mc, persistence.DefaultConfig(), payments)
	for _, raw := range blocks {
		n.process(t, raw)
	}

	require.Equal(t, []string{"p2-0->seller"}, payments.calls)
	n.engine.View(func(v core.View) error {
		require.Equal(t, int64(50), v.Balance("payer", 3)[ledger.Available])
		require.Equal(t, int64(50), v.Balance("seller", 3)[ledger.AcceptReserve])
		return nil
	})
}
