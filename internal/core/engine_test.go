package core_test

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"TradeLedger/internal/activation"
	"TradeLedger/internal/contractdex"
	"TradeLedger/internal/core"
	"TradeLedger/internal/instruction"
	"TradeLedger/internal/kvstore"
	"TradeLedger/internal/ledger"
	fpmath "TradeLedger/internal/math"
	"TradeLedger/internal/registry"
	"TradeLedger/internal/testutil"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	authority = "authority"
	coin      = fpmath.COIN
)

var genesisTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// --- Test helpers ---

// liveFeatures activates everything but fees at block 0.
func liveFeatures() map[activation.Feature]int64 {
	return map[activation.Feature]int64{
		activation.FeatureDExSell:           0,
		activation.FeatureDExBuy:            0,
		activation.FeatureMetaDEx:           0,
		activation.FeatureFixed:             0,
		activation.FeatureManaged:           0,
		activation.FeatureContractDEx:       0,
		activation.FeatureContractDExOracle: 0,
		activation.FeatureDExMath:           0,
	}
}

type harness struct {
	t      *testing.T
	engine *core.Engine
	height int64
	prev   string
}

func newHarness(t *testing.T, features map[activation.Feature]int64) *harness {
	t.Helper()
	kv := kvstore.NewMemDB()
	t.Cleanup(func() { kv.Close() })

	cfg := core.DefaultConfig()
	cfg.Features = features
	cfg.ActivationAuthority = authority
	e, err := core.NewEngine(kv, cfg, nil, zerolog.Nop())
	require.NoError(t, err)
	return &harness{t: t, engine: e}
}

// block applies ins as the next block. Instructions get their block
// height, index and, when missing, a txid.
func (h *harness) block(ins ...instruction.Instruction) ([]instruction.Result, core.Summary) {
	h.t.Helper()
	hash := fmt.Sprintf("%064x", h.height+1)
	require.NoError(h.t, h.engine.BeginBlock(core.BlockHeader{
		Height:   h.height,
		Hash:     hash,
		PrevHash: h.prev,
		Time:     genesisTime.Add(time.Duration(h.height) * 10 * time.Minute),
	}))

	results := make([]instruction.Result, 0, len(ins))
	for i, in := range ins {
		hd := in.Head()
		hd.Block = h.height
		hd.Index = i
		if hd.TxID == "" {
			hd.TxID = fmt.Sprintf("tx-%d-%d", h.height, i)
		}
		results = append(results, h.engine.Apply(in))
	}
	sum, err := h.engine.EndBlock()
	require.NoError(h.t, err)

	h.prev = hash
	h.height++
	return results, sum
}

// mustBlock applies ins and requires every instruction to be valid.
func (h *harness) mustBlock(ins ...instruction.Instruction) core.Summary {
	h.t.Helper()
	results, sum := h.block(ins...)
	for i, r := range results {
		require.True(h.t, r.Valid, "instruction %d rejected: code=%d %s", i, r.Code, r.Reason)
	}
	return sum
}

func (h *harness) balance(addr string, token uint32, bucket ledger.Bucket) int64 {
	var out int64
	h.engine.View(func(v core.View) error {
		out = v.Balance(addr, token)[bucket]
		return nil
	})
	return out
}

func from(sender, receiver string) instruction.Header {
	return instruction.Header{Sender: sender, Receiver: receiver}
}

func info(name string, divisible bool) instruction.PropertyInfo {
	return instruction.PropertyInfo{Ecosystem: uint8(registry.EcosystemMain), Divisible: divisible, Name: name}
}

func createFixed(issuer, name string, amount int64) *instruction.CreateFixed {
	return &instruction.CreateFixed{Header: from(issuer, ""), PropertyInfo: info(name, false), Amount: amount}
}

func send(sender, receiver string, token uint32, amount int64) *instruction.SimpleSend {
	return &instruction.SimpleSend{Header: from(sender, receiver), Token: token, Amount: amount}
}

// ============================================================================
// Test: Example Scenarios
// ============================================================================

func TestEngine_DExPartialPayment(t *testing.T) {
	h := newHarness(t, liveFeatures())
	h.mustBlock(
		createFixed("seller", "Widgets", 100),
		&instruction.DExSellOffer{Header: from("seller", ""), Token: 3, Amount: 100, AmountDesired: coin, PaymentWindow: 5, Action: instruction.OfferNew},
	)
	h.mustBlock(&instruction.DExAccept{Header: from("payer", "seller"), Token: 3, Amount: 100})
	sum := h.mustBlock(&instruction.DExPayment{Header: from("payer", "seller"), AmountPaid: coin / 2})

	require.Equal(t, int64(50), h.balance("payer", 3, ledger.Available))
	require.Equal(t, int64(50), h.balance("seller", 3, ledger.AcceptReserve))

	require.Len(t, sum.Trades, 1)
	require.Equal(t, "dex/3", sum.Trades[0].Market)
	require.Equal(t, int64(50), sum.Trades[0].Quantity)
	require.Equal(t, coin/2, sum.Trades[0].AmountPaid)
	require.Equal(t, 1_000_000*coin, sum.Trades[0].Price, "price per whole unit, COIN scaled")
}

func TestEngine_MetaDExPartialFill(t *testing.T) {
	h := newHarness(t, liveFeatures())
	h.mustBlock(
		createFixed("maker", "Alpha", 1_000_000),
		createFixed("taker", "Beta", 1_000_000),
	)
	h.mustBlock(&instruction.MetaDExTrade{Header: from("maker", ""), TokenForSale: 3, AmountForSale: 200, TokenDesired: 4, AmountDesired: 100})
	sum := h.mustBlock(&instruction.MetaDExTrade{Header: from("taker", ""), TokenForSale: 4, AmountForSale: 30, TokenDesired: 3, AmountDesired: 50})

	require.Len(t, sum.Trades, 1)
	require.Equal(t, int64(50), sum.Trades[0].Quantity)
	require.Equal(t, int64(25), sum.Trades[0].AmountPaid)

	require.Equal(t, int64(50), h.balance("taker", 3, ledger.Available))
	require.Equal(t, int64(1_000_000-25), h.balance("taker", 4, ledger.Available))
	require.Equal(t, int64(25), h.balance("maker", 4, ledger.Available))
	require.Equal(t, int64(150), h.balance("maker", 3, ledger.SpotReserve))

	h.engine.View(func(v core.View) error {
		orders := v.MetaDExOrders(3, 4)
		require.Len(t, orders, 1)
		require.Equal(t, int64(150), orders[0].Remaining)
		return nil
	})
}

// openContractMarket creates collateral token 3, funds traders and
// creates contract 4: notional 1, margin requirement 1000, leverage cap 10.
func openContractMarket(h *harness) {
	h.mustBlock(
		createFixed("issuer", "Collateral", 10_000_000),
		send("issuer", "long", 3, 1_000_000),
		send("issuer", "short", 3, 1_000_000),
		send("issuer", "bidder", 3, 1_000_000),
		send("issuer", "other", 3, 1_000_000),
		&instruction.CreateContract{
			Header:            from("issuer", ""),
			PropertyInfo:      info("Perp", false),
			NotionalSize:      1,
			CollateralToken:   3,
			MarginRequirement: 1000,
			LeverageCap:       10,
		},
	)
}

func contractOrder(sender string, amount, px int64, action instruction.Action, leverage int64, orderType instruction.OrderType) *instruction.ContractTrade {
	return &instruction.ContractTrade{
		Header:    from(sender, ""),
		Contract:  4,
		Amount:    amount,
		Price:     px,
		Action:    action,
		Leverage:  leverage,
		OrderType: orderType,
	}
}

func TestEngine_LeveragedLongLiquidated(t *testing.T) {
	h := newHarness(t, liveFeatures())
	openContractMarket(h)

	h.mustBlock(
		contractOrder("short", 10, 1000*coin, instruction.ActionSell, 5, instruction.OrderLimit),
		contractOrder("long", 10, 1000*coin, instruction.ActionBuy, 5, instruction.OrderLimit),
	)
	require.Equal(t, int64(2000), h.balance("long", 3, ledger.Margin))

	// a one-lot trade at 800 marks the long at a loss of its whole margin
	sum := h.mustBlock(
		contractOrder("bidder", 50, 800*coin, instruction.ActionBuy, 5, instruction.OrderLimit),
		contractOrder("other", 1, 0, instruction.ActionSell, 1, instruction.OrderMarket),
	)

	require.Len(t, sum.RiskActions, 1)
	require.Equal(t, contractdex.RiskLiquidate, sum.RiskActions[0].Kind)
	require.Equal(t, "long", sum.RiskActions[0].Address)

	var liquidations int
	for _, tr := range sum.Trades {
		if tr.Liquidation {
			liquidations++
			require.Equal(t, int64(10), tr.Quantity)
		}
	}
	require.Equal(t, 1, liquidations)

	h.engine.View(func(v core.View) error {
		_, ok := v.Position("long", 4)
		require.False(t, ok)
		return nil
	})
	require.Equal(t, int64(0), h.balance("long", 4, ledger.LongPosition))
	require.Equal(t, int64(0), h.balance("long", 3, ledger.Margin))
	require.Equal(t, int64(2000), h.balance("long", 4, ledger.RealizedLoss))
}

// ============================================================================
// Test: Ordering and Idempotency
// ============================================================================

func TestEngine_DuplicateTxRejected(t *testing.T) {
	h := newHarness(t, liveFeatures())
	h.mustBlock(createFixed("alice", "Alpha", 1000))

	first := send("alice", "bob", 3, 10)
	first.TxID = "dup"
	again := send("alice", "bob", 3, 10)
	again.TxID = "dup"
	results, sum := h.block(first, again)

	require.True(t, results[0].Valid)
	require.False(t, results[1].Valid)
	require.Equal(t, core.CodeDuplicate, results[1].Code)
	require.Equal(t, int64(10), h.balance("bob", 3, ledger.Available))
	require.Len(t, sum.Txs, 1, "duplicates are not indexed")

	// still caught in a later block
	later := send("alice", "bob", 3, 10)
	later.TxID = "dup"
	results, _ = h.block(later)
	require.Equal(t, core.CodeDuplicate, results[0].Code)

	rec, ok, err := h.engine.Index().Tx("dup")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, rec.Valid)
	require.Equal(t, int64(1), rec.Block)
}

func TestEngine_OutOfOrderTxRejected(t *testing.T) {
	h := newHarness(t, liveFeatures())
	h.mustBlock(createFixed("alice", "Alpha", 1000))

	require.NoError(t, h.engine.BeginBlock(core.BlockHeader{Height: 1, Hash: "b1", PrevHash: h.prev}))
	second := send("alice", "bob", 3, 10)
	second.Header.TxID, second.Header.Block, second.Header.Index = "t2", 1, 2
	first := send("alice", "bob", 3, 10)
	first.Header.TxID, first.Header.Block, first.Header.Index = "t1", 1, 1

	require.True(t, h.engine.Apply(second).Valid)
	res := h.engine.Apply(first)
	require.False(t, res.Valid)
	require.Equal(t, core.CodeOutOfOrder, res.Code)

	sum, err := h.engine.EndBlock()
	require.NoError(t, err)
	require.Equal(t, 1, sum.Applied)
	require.Equal(t, 1, sum.Rejected)
}

type failingIndex struct{ err error }

func (f failingIndex) HasTx(string) (bool, error) { return false, f.err }

func TestIdempotencyChecker_IndexErrorIsNotUnseen(t *testing.T) {
	boom := errors.New("index unavailable")
	ic := core.NewIdempotencyChecker(8, failingIndex{err: boom}, nil)

	dup, err := ic.IsDuplicate("t1")
	require.ErrorIs(t, err, boom)
	require.False(t, dup)
	require.Equal(t, int64(1), ic.Tier2Errors())

	// the LRU answers before the index is consulted
	ic.MarkProcessed("t1")
	dup, err = ic.IsDuplicate("t1")
	require.NoError(t, err)
	require.True(t, dup)
	require.Equal(t, int64(1), ic.Tier2Errors())
}

func TestEngine_IndexFailureAbortsBlock(t *testing.T) {
	kv := kvstore.NewMemDB()
	cfg := core.DefaultConfig()
	cfg.Features = liveFeatures()
	cfg.ActivationAuthority = authority
	e, err := core.NewEngine(kv, cfg, nil, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, e.BeginBlock(core.BlockHeader{Height: 0, Hash: "b0", Time: genesisTime}))
	require.NoError(t, kv.Close())

	in := createFixed("alice", "Alpha", 1000)
	in.Header.TxID = "t0"
	res := e.Apply(in)
	require.False(t, res.Valid)
	require.Equal(t, core.CodeBlockAborted, res.Code)

	// later instructions of the block are refused without a lookup
	next := send("alice", "bob", 3, 10)
	next.Header.TxID, next.Header.Index = "t1", 1
	require.Equal(t, core.CodeBlockAborted, e.Apply(next).Code)

	_, err = e.EndBlock()
	require.ErrorIs(t, err, core.ErrBlockAborted)
	last, _ := e.LastBlock()
	require.Equal(t, int64(-1), last)
}

func TestEngine_BlockMustChain(t *testing.T) {
	h := newHarness(t, liveFeatures())
	h.mustBlock()

	err := h.engine.BeginBlock(core.BlockHeader{Height: 1, Hash: "x", PrevHash: "not-the-tip"})
	require.ErrorIs(t, err, core.ErrPrevHashMismatch)

	err = h.engine.BeginBlock(core.BlockHeader{Height: 3, Hash: "x", PrevHash: h.prev})
	require.ErrorIs(t, err, core.ErrBlockGap)

	_, err = h.engine.EndBlock()
	require.ErrorIs(t, err, core.ErrNoOpenBlock)
}

// ============================================================================
// Test: Rejections
// ============================================================================

func TestEngine_RejectionsLeaveStateUntouched(t *testing.T) {
	h := newHarness(t, liveFeatures())
	h.mustBlock(createFixed("alice", "Alpha", 1000))

	var before []ledger.Holding
	h.engine.View(func(v core.View) error {
		before = v.AllHoldings()
		return nil
	})

	tests := []struct {
		name string
		ins  instruction.Instruction
		code int
	}{
		{"overdraw", send("alice", "bob", 3, 1001), core.CodeInsufficientFunds},
		{"self send", send("alice", "alice", 3, 1), core.CodeMalformed},
		{"unknown token", send("alice", "bob", 99, 1), core.CodeNotFound},
		{"zero amount", send("alice", "bob", 3, 0), core.CodeMalformed},
		{"grant on fixed", &instruction.Grant{Header: from("alice", ""), Token: 3, Amount: 5}, core.CodeInvalidProperty},
		{"grant by stranger", &instruction.Grant{Header: from("mallory", ""), Token: 3, Amount: 5}, core.CodeUnauthorized},
		{"no name", &instruction.CreateFixed{Header: from("alice", ""), PropertyInfo: instruction.PropertyInfo{Ecosystem: 1}, Amount: 1}, core.CodeInvalidProperty},
		{"accept nothing", &instruction.DExAccept{Header: from("bob", "alice"), Token: 3, Amount: 1}, core.CodeNotFound},
		{"activation by stranger", &instruction.Activation{Header: from("mallory", ""), FeatureID: 101, ActivationBlock: 5}, core.CodeUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h.t = t
			results, _ := h.block(tt.ins)
			require.False(t, results[0].Valid)
			require.Equal(t, tt.code, results[0].Code, results[0].Reason)
		})
	}

	h.t = t
	h.engine.View(func(v core.View) error {
		require.Equal(t, before, v.AllHoldings())
		require.Len(t, v.Properties(), 1)
		return nil
	})
}

func TestEngine_FeatureGate(t *testing.T) {
	h := newHarness(t, map[activation.Feature]int64{activation.FeatureFixed: 0})
	h.mustBlock(createFixed("alice", "Alpha", 1000), createFixed("bob", "Beta", 1000))

	results, _ := h.block(&instruction.MetaDExTrade{Header: from("alice", ""), TokenForSale: 3, AmountForSale: 10, TokenDesired: 4, AmountDesired: 10})
	require.Equal(t, core.CodeFeatureInactive, results[0].Code)

	// the authority schedules the feature two blocks ahead
	h.mustBlock(&instruction.Activation{Header: from(authority, ""), FeatureID: uint16(activation.FeatureMetaDEx), ActivationBlock: h.height + 2})
	results, _ = h.block(&instruction.MetaDExTrade{Header: from("alice", ""), TokenForSale: 3, AmountForSale: 10, TokenDesired: 4, AmountDesired: 10})
	require.Equal(t, core.CodeFeatureInactive, results[0].Code)
	h.mustBlock(&instruction.MetaDExTrade{Header: from("alice", ""), TokenForSale: 3, AmountForSale: 10, TokenDesired: 4, AmountDesired: 10})

	h.engine.View(func(v core.View) error {
		require.True(t, v.FeatureActive(activation.FeatureMetaDEx))
		require.False(t, v.FeatureActive(activation.FeatureContractDEx))
		return nil
	})
}

// ============================================================================
// Test: Token Lifecycle
// ============================================================================

func TestEngine_ManagedTokenLifecycle(t *testing.T) {
	h := newHarness(t, liveFeatures())
	h.mustBlock(&instruction.CreateManaged{Header: from("issuer", ""), PropertyInfo: info("Managed", false)})
	h.mustBlock(&instruction.Grant{Header: from("issuer", "holder"), Token: 3, Amount: 500})
	h.mustBlock(&instruction.Grant{Header: from("issuer", ""), Token: 3, Amount: 100})
	h.mustBlock(&instruction.Revoke{Header: from("issuer", ""), Token: 3, Amount: 40})

	require.Equal(t, int64(500), h.balance("holder", 3, ledger.Available))
	require.Equal(t, int64(60), h.balance("issuer", 3, ledger.Available))

	results, _ := h.block(&instruction.Revoke{Header: from("issuer", ""), Token: 3, Amount: 61})
	require.Equal(t, core.CodeInsufficientFunds, results[0].Code)

	h.mustBlock(&instruction.ChangeIssuer{Header: from("issuer", "successor"), Token: 3})
	results, _ = h.block(&instruction.Grant{Header: from("issuer", ""), Token: 3, Amount: 1})
	require.Equal(t, core.CodeUnauthorized, results[0].Code)
	h.mustBlock(&instruction.Grant{Header: from("successor", ""), Token: 3, Amount: 1})

	h.engine.View(func(v core.View) error {
		p, ok := v.Property(3)
		require.True(t, ok)
		require.Equal(t, "successor", p.Issuer)
		require.Equal(t, int64(561), p.TotalIssued)
		require.Equal(t, int64(561), v.TotalSupply(3))
		return nil
	})
}

func TestEngine_CrowdsaleParticipation(t *testing.T) {
	h := newHarness(t, liveFeatures())
	h.mustBlock(createFixed("alice", "Alpha", 1000), send("alice", "bob", 3, 100))
	h.mustBlock(&instruction.CreateCrowdsale{
		Header:        from("carol", ""),
		PropertyInfo:  info("Sale", false),
		DesiredToken:  3,
		TokensPerUnit: 10,
		DeadlineBlock: 10,
		IssuerPct:     10,
	})
	h.mustBlock(send("bob", "carol", 3, 5))

	require.Equal(t, int64(5), h.balance("carol", 3, ledger.Available))
	require.Equal(t, int64(50), h.balance("bob", 4, ledger.Available))
	require.Equal(t, int64(5), h.balance("carol", 4, ledger.Available))

	results, _ := h.block(&instruction.CreateCrowdsale{Header: from("carol", ""), PropertyInfo: info("Again", false), DesiredToken: 3, TokensPerUnit: 1, DeadlineBlock: 20})
	require.Equal(t, core.CodeAlreadyExists, results[0].Code)

	// the sale closes at its deadline; later payments are plain sends
	for h.height <= 10 {
		h.mustBlock()
	}
	h.mustBlock(send("bob", "carol", 3, 5))
	require.Equal(t, int64(50), h.balance("bob", 4, ledger.Available))

	h.engine.View(func(v core.View) error {
		p, _ := v.Property(4)
		require.Equal(t, int64(55), p.TotalIssued)
		require.Empty(t, v.Crowdsales())
		return nil
	})
}

// ============================================================================
// Test: Determinism
// ============================================================================

func TestEngine_StateHashIsDeterministic(t *testing.T) {
	run := func() []string {
		h := newHarness(t, liveFeatures())
		var hashes []string
		hashes = append(hashes, h.mustBlock(createFixed("maker", "Alpha", 1_000_000), createFixed("taker", "Beta", 1_000_000)).StateHash)
		hashes = append(hashes, h.mustBlock(&instruction.MetaDExTrade{Header: from("maker", ""), TokenForSale: 3, AmountForSale: 200, TokenDesired: 4, AmountDesired: 100}).StateHash)
		hashes = append(hashes, h.mustBlock(&instruction.MetaDExTrade{Header: from("taker", ""), TokenForSale: 4, AmountForSale: 30, TokenDesired: 3, AmountDesired: 50}).StateHash)
		require.Equal(t, hashes[len(hashes)-1], h.engine.StateHash())
		return hashes
	}

	a, b := run(), run()
	require.Equal(t, a, b)
	require.NotEqual(t, a[0], a[1])
	require.NotEqual(t, a[1], a[2])
}

// stateDump renders the snapshot lines of the named subsystems, each under
// a [prefix] header.
func stateDump(t *testing.T, e *core.Engine, prefixes ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, want := range prefixes {
		found := false
		for _, sub := range e.Subsystems() {
			if sub.SnapshotPrefix() != want {
				continue
			}
			found = true
			fmt.Fprintf(&buf, "[%s]\n", want)
			require.NoError(t, sub.SnapshotLines(func(line string) error {
				buf.WriteString(line)
				buf.WriteByte('\n')
				return nil
			}))
		}
		require.True(t, found, "no subsystem %q", want)
	}
	return buf.Bytes()
}

func TestEngine_MetaDExFillMatchesGolden(t *testing.T) {
	h := newHarness(t, liveFeatures())
	h.mustBlock(createFixed("maker", "Alpha", 1_000_000), createFixed("taker", "Beta", 1_000_000))
	h.mustBlock(&instruction.MetaDExTrade{Header: from("maker", ""), TokenForSale: 3, AmountForSale: 200, TokenDesired: 4, AmountDesired: 100})
	h.mustBlock(&instruction.MetaDExTrade{Header: from("taker", ""), TokenForSale: 4, AmountForSale: 30, TokenDesired: 3, AmountDesired: 50})

	testutil.AssertGolden(t, "metadex_fill.golden", stateDump(t, h.engine, "balances", "mdexorders", "offers"))
}
