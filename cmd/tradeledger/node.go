package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"TradeLedger/internal/chain"
	"TradeLedger/internal/config"
	"TradeLedger/internal/core"
	"TradeLedger/internal/ingestion"
	"TradeLedger/internal/kvstore"
	"TradeLedger/internal/observability"
	"TradeLedger/internal/persistence"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
)

// node holds the state-side components shared by run and verify.
type node struct {
	cfg      config.Config
	logOut   io.Writer
	logClose io.Closer
	level    zerolog.Level
	registry *prometheus.Registry
	metrics  *observability.Metrics
	health   *observability.HealthChecker

	kv       *kvstore.LevelDB
	rpc      *chain.RPCAccessor
	accessor *chain.CachedAccessor
	engine   *core.Engine
	recovery *persistence.Manager
}

func openNode(cfg config.Config) (*node, error) {
	out, closer, err := observability.Output(cfg.LogFile)
	if err != nil {
		return nil, fmt.Errorf("log output: %w", err)
	}
	n := &node{
		cfg:      cfg,
		logOut:   out,
		logClose: closer,
		level:    observability.ParseLevel(cfg.LogLevel),
		registry: prometheus.NewRegistry(),
		health:   observability.NewHealthChecker(),
	}
	n.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	n.metrics = observability.NewMetrics(n.registry)

	if err := os.MkdirAll(cfg.StateDir(), 0o755); err != nil {
		n.Close()
		return nil, err
	}
	if n.kv, err = kvstore.Open(cfg.StateDir(), "ledger"); err != nil {
		n.Close()
		return nil, fmt.Errorf("open state db: %w", err)
	}
	if n.rpc, err = chain.NewRPCAccessor(cfg.Chain.RPC); err != nil {
		n.Close()
		return nil, err
	}
	n.accessor = chain.NewCachedAccessor(n.rpc, cfg.Chain.CacheSize)

	if n.engine, err = core.NewEngine(n.kv, cfg.Core(), n.metrics, n.logger("engine")); err != nil {
		n.Close()
		return nil, fmt.Errorf("engine: %w", err)
	}
	files, err := persistence.NewFileStore(cfg.SnapshotDir())
	if err != nil {
		n.Close()
		return nil, fmt.Errorf("snapshot dir: %w", err)
	}
	n.recovery = persistence.NewManager(
		cfg.Persistence,
		files,
		n.engine.Subsystems(),
		n.engine.Registry(),
		n.engine.Index(),
		n.engine.Truncaters(),
		n.accessor,
		n.metrics,
		n.logger("recovery"),
	)
	return n, nil
}

func (n *node) logger(component string) zerolog.Logger {
	return observability.NewLoggerTo(n.logOut, component, n.level)
}

// processor builds the block processor. archive and publish may be nil.
func (n *node) processor(archive chan<- persistence.ArchiveOp, publish chan<- core.Summary) (*core.Processor, error) {
	pcfg := core.ProcessorConfig{
		Decode:  ingestion.DecodeBlock,
		Archive: archive,
		Publish: publish,
		Health:  n.health,
	}
	if n.cfg.Chain.VerifyPayments {
		params, err := chain.Params(n.cfg.Chain.Network)
		if err != nil {
			return nil, err
		}
		pcfg.Payments = chain.NewPaymentVerifier(n.accessor, params)
	}
	return core.NewProcessor(n.engine, n.recovery, n.accessor, pcfg, n.metrics, n.logger("processor")), nil
}

// recover restores the state without following the stream.
func (n *node) recover(ctx context.Context) (*core.Processor, int64, error) {
	proc, err := n.processor(nil, nil)
	if err != nil {
		return nil, 0, err
	}
	next, err := proc.Start(ctx)
	if err != nil {
		return nil, 0, err
	}
	return proc, next, nil
}

func (n *node) Close() {
	if n.rpc != nil {
		n.rpc.Close()
	}
	if n.kv != nil {
		n.kv.Close()
	}
	if n.logClose != nil {
		n.logClose.Close()
	}
}
