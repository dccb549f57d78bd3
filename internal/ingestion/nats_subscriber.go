package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// StreamConfig names the JetStream streams and subjects.
type StreamConfig struct {
	BlockStream  string `yaml:"block_stream"`
	BlockSubject string `yaml:"block_subject"`
	// BlockMaxAge limits block retention; zero keeps every block. A full
	// reparse reads from the first block, so a limited stream can only
	// recover from a snapshot inside the window.
	BlockMaxAge   time.Duration `yaml:"block_max_age"`
	LedgerStream  string        `yaml:"ledger_stream"`
	LedgerSubject string        `yaml:"ledger_subject"`
	MaxAge        time.Duration `yaml:"max_age"`
}

func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		BlockStream:   "TL_BLOCKS",
		BlockSubject:  "tl.blocks",
		LedgerStream:  "TL_LEDGER",
		LedgerSubject: "tl.ledger",
		MaxAge:        72 * time.Hour,
	}
}

// RawBlock is one block document as delivered by the stream.
type RawBlock struct {
	Data     []byte
	Sequence uint64
	Received time.Time
}

// BlockSource reads block documents from JetStream in stream order.
//
// Blocks are published under {BlockSubject}.{height}. Run starts at the
// first message for the requested height, so a restart does not depend on
// the oldest blocks still being retained. Heights the stream no longer
// holds fall back to the start of the stream.
type BlockSource struct {
	js     jetstream.JetStream
	cfg    StreamConfig
	logger zerolog.Logger
}

func NewBlockSource(js jetstream.JetStream, cfg StreamConfig, logger zerolog.Logger) *BlockSource {
	return &BlockSource{js: js, cfg: cfg, logger: logger}
}

// BlockSubjectFor is the subject a block at height is published on.
func BlockSubjectFor(base string, height int64) string {
	return fmt.Sprintf("%s.%d", base, height)
}

// startSequence finds the stream sequence of the first block at height
// from. Zero means deliver everything.
func (s *BlockSource) startSequence(ctx context.Context, from int64) (uint64, error) {
	if from <= 0 {
		return 0, nil
	}
	stream, err := s.js.Stream(ctx, s.cfg.BlockStream)
	if err != nil {
		return 0, fmt.Errorf("lookup stream %s: %w", s.cfg.BlockStream, err)
	}
	msg, err := stream.GetMsg(ctx, 1, jetstream.WithGetMsgSubject(BlockSubjectFor(s.cfg.BlockSubject, from)))
	switch {
	case errors.Is(err, jetstream.ErrMsgNotFound):
		s.logger.Warn().Int64("height", from).Msg("no retained block at height, reading the whole stream")
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("find block %d: %w", from, err)
	}
	return msg.Sequence, nil
}

// Run delivers blocks at and above height from to out until ctx is
// cancelled.
func (s *BlockSource) Run(ctx context.Context, from int64, out chan<- RawBlock) error {
	seq, err := s.startSequence(ctx, from)
	if err != nil {
		return err
	}
	occ := jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{s.cfg.BlockSubject + ".>"},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	}
	if seq > 0 {
		occ.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		occ.OptStartSeq = seq
	}
	consumer, err := s.js.OrderedConsumer(ctx, s.cfg.BlockStream, occ)
	if err != nil {
		return fmt.Errorf("create block consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		rb := RawBlock{Data: msg.Data(), Received: time.Now()}
		if md, err := msg.Metadata(); err == nil {
			rb.Sequence = md.Sequence.Stream
		}
		select {
		case out <- rb:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", s.cfg.BlockSubject, err)
	}
	s.logger.Info().Str("stream", s.cfg.BlockStream).Int64("from", from).Uint64("seq", seq).Msg("block source started")

	<-ctx.Done()
	cc.Stop()
	s.logger.Info().Msg("block source stopped")
	return ctx.Err()
}

// EnsureStreams creates the block and ledger streams if they don't exist.
// Streams use FileStorage with limits retention.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, cfg StreamConfig) error {
	streams := []jetstream.StreamConfig{
		{
			Name:       cfg.BlockStream,
			Subjects:   []string{cfg.BlockSubject + ".>"},
			Storage:    jetstream.FileStorage,
			Retention:  jetstream.LimitsPolicy,
			MaxAge:     cfg.BlockMaxAge,
			Duplicates: 10 * time.Minute,
			Replicas:   1,
		},
		{
			Name:      cfg.LedgerStream,
			Subjects:  []string{cfg.LedgerSubject + ".>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    cfg.MaxAge,
			Replicas:  1,
		},
	}
	for _, sc := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream %s: %w", sc.Name, err)
		}
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
