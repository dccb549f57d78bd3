package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"TradeLedger/internal/config"
	"TradeLedger/internal/core"
	"TradeLedger/internal/ingestion"
	"TradeLedger/internal/persistence"
	"TradeLedger/internal/query"
	"TradeLedger/internal/server"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newRunCmd(load func() (config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Recover state, follow the block stream and serve queries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	n, err := openNode(cfg)
	if err != nil {
		return err
	}
	defer n.Close()
	logger := n.logger("main")
	logger.Info().Str("data_dir", cfg.DataDir).Msg("tradeledger starting")

	// --- Postgres trade archive (optional) ---
	var (
		db        *sql.DB
		archiveCh chan persistence.ArchiveOp
		worker    *persistence.ArchiveWorker
	)
	if cfg.Archive.DSN != "" {
		if db, err = openArchive(ctx, cfg.Archive, n.logger("migrator")); err != nil {
			return err
		}
		defer db.Close()
		archiveCh = make(chan persistence.ArchiveOp, cfg.Archive.ChanSize)
		worker = persistence.NewArchiveWorker(db, archiveCh, cfg.Archive.BatchSize, cfg.Archive.FlushTimeout, n.metrics, n.logger("archive"))
	} else {
		logger.Warn().Msg("no archive dsn configured, trade archive disabled")
	}

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL, n.logger("nats"))
	if err != nil {
		return err
	}
	defer nc.Close()
	if err := ingestion.EnsureStreams(ctx, js, cfg.NATS.Streams); err != nil {
		return err
	}

	publishCh := make(chan core.Summary, cfg.NATS.PublishChanSize)
	proc, err := n.processor(archiveCh, publishCh)
	if err != nil {
		return err
	}
	if _, err := proc.Start(ctx); err != nil {
		return err
	}

	var archive *persistence.ArchiveWriter
	if worker != nil {
		archive = worker.Writer()
	}
	svc := query.NewService(n.engine, n.recovery, archive, n.metrics)
	srv, err := server.New(cfg.Server, svc, n.health, n.registry, n.logger("server"))
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	source := ingestion.NewBlockSource(js, cfg.NATS.Streams, n.logger("source"))
	g.Go(func() error {
		return ignoreCancel(follow(ctx, source, proc, cfg.NATS.BlockChanSize, n.logger("follow")))
	})
	if worker != nil {
		g.Go(func() error { return ignoreCancel(worker.Run(ctx)) })
	}
	publisher := ingestion.NewOutboundPublisher(js, cfg.NATS.Streams.LedgerSubject, publishCh, n.logger("publisher"))
	g.Go(func() error { return ignoreCancel(publisher.Run(ctx)) })
	g.Go(func() error { return srv.Run(ctx) })
	g.Go(func() error { return reportChannels(ctx, n, archiveCh, publishCh) })

	err = g.Wait()
	n.health.SetReady(false)
	if err != nil {
		logger.Error().Err(err).Msg("shutting down on error")
		return err
	}
	logger.Info().Msg("tradeledger stopped")
	return nil
}

func openArchive(ctx context.Context, cfg config.ArchiveConfig, logger zerolog.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	applied, err := persistence.NewMigrator(db, cfg.MigrationsDir, logger).Up(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	logger.Info().Int("applied", applied).Msg("archive schema up to date")
	return db, nil
}

// blockStream is the consumer side of the block stream.
type blockStream interface {
	Run(ctx context.Context, from int64, out chan<- ingestion.RawBlock) error
}

// follow feeds the block stream to the processor until ctx is cancelled.
// A block that does not connect to the state resubscribes from the
// processor's next height; a rollback that left no usable snapshot
// resubscribes from the first block.
func follow(ctx context.Context, source blockStream, proc *core.Processor, buf int, logger zerolog.Logger) error {
	for {
		resubscribe, err := followOnce(ctx, source, proc, buf, logger)
		if err != nil || !resubscribe {
			return err
		}
		logger.Info().Int64("from", proc.NextHeight()).Msg("resubscribing to the block stream")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(resubscribeDelay):
		}
	}
}

const resubscribeDelay = 500 * time.Millisecond

func followOnce(ctx context.Context, source blockStream, proc *core.Processor, buf int, logger zerolog.Logger) (bool, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	blocks := make(chan ingestion.RawBlock, buf)
	done := make(chan error, 1)
	from := proc.NextHeight()
	go func() { done <- source.Run(ctx, from, blocks) }()

	for {
		select {
		case <-ctx.Done():
			return false, nil
		case err := <-done:
			return false, ignoreCancel(err)
		case rb := <-blocks:
			err := proc.Process(ctx, rb.Data)
			switch {
			case err == nil:
			case errors.Is(err, core.ErrDisconnected), errors.Is(err, core.ErrBlockGap):
				logger.Warn().Err(err).Uint64("seq", rb.Sequence).Msg("block does not extend the state")
				return true, nil
			case errors.Is(err, persistence.ErrFullReparse):
				logger.Warn().Err(err).Uint64("seq", rb.Sequence).Msg("rollback left no usable snapshot, reparsing from the first block")
				return true, nil
			case errors.Is(err, ingestion.ErrMalformedBlock):
				logger.Error().Err(err).Uint64("seq", rb.Sequence).Msg("skipping malformed block")
			default:
				return false, err
			}
		}
	}
}

func reportChannels(ctx context.Context, n *node, archive chan persistence.ArchiveOp, publish chan core.Summary) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if archive != nil {
				n.metrics.SetChannelMetrics("archive", len(archive), cap(archive))
			}
			n.metrics.SetChannelMetrics("publish", len(publish), cap(publish))
		}
	}
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
