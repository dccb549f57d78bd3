package ingestion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"TradeLedger/internal/core"
	"TradeLedger/internal/index"
	"TradeLedger/internal/instruction"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// BlockEvent is the outbound document for one processed block.
type BlockEvent struct {
	Height    int64               `json:"height"`
	Hash      string              `json:"hash"`
	PrevHash  string              `json:"prev_hash"`
	Time      time.Time           `json:"time"`
	StateHash string              `json:"state_hash"`
	Applied   int                 `json:"applied"`
	Rejected  int                 `json:"rejected"`
	Txs       []index.TxRecord    `json:"txs"`
	Trades    []index.TradeRecord `json:"trades"`
}

// OutboundPublisher publishes block summaries to NATS after the core
// committed them. Subjects: {prefix}.blocks and {prefix}.trades.{market}
// with the market id's slashes turned into dots.
type OutboundPublisher struct {
	js        jetstream.JetStream
	prefix    string
	inputChan <-chan core.Summary
	logger    zerolog.Logger
}

func NewOutboundPublisher(js jetstream.JetStream, prefix string, inputChan <-chan core.Summary, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		prefix:    prefix,
		inputChan: inputChan,
		logger:    logger,
	}
}

// Run publishes until ctx is cancelled or the channel closes. Publish
// failures are logged and skipped: subscribers can read the tx index.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case sum, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if err := op.publish(ctx, sum); err != nil {
				op.logger.Warn().Err(err).Int64("height", sum.Height).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, sum core.Summary) error {
	data, err := json.Marshal(BlockEvent{
		Height:    sum.Height,
		Hash:      sum.Hash,
		PrevHash:  sum.PrevHash,
		Time:      sum.Time,
		StateHash: sum.StateHash,
		Applied:   sum.Applied,
		Rejected:  sum.Rejected,
		Txs:       sum.Txs,
		Trades:    sum.Trades,
	})
	if err != nil {
		return fmt.Errorf("marshal block %d: %w", sum.Height, err)
	}
	// the block hash dedupes republished summaries after a restart
	if _, err := op.js.Publish(ctx, op.prefix+".blocks", data, jetstream.WithMsgID(sum.Hash)); err != nil {
		return err
	}

	for _, t := range sum.Trades {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshal trade %s: %w", t.TakerTxID, err)
		}
		subject := op.prefix + ".trades." + strings.ReplaceAll(t.Market, "/", ".")
		if _, err := op.js.Publish(ctx, subject, data, jetstream.WithMsgID(t.TakerTxID+":"+t.MakerTxID)); err != nil {
			return err
		}
	}
	return nil
}

// BlockPublisher feeds block documents into the block stream. It is the
// producer side of BlockSource, used by the CLI and tests.
type BlockPublisher struct {
	js      jetstream.JetStream
	subject string
}

func NewBlockPublisher(js jetstream.JetStream, subject string) *BlockPublisher {
	return &BlockPublisher{js: js, subject: subject}
}

// Publish encodes and publishes b on its height subject. The block hash
// is the message id, so a retried publish is stored once.
func (p *BlockPublisher) Publish(ctx context.Context, b *instruction.Block) error {
	data, err := EncodeBlock(b)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(BlockSubjectFor(p.subject, b.Height))
	msg.Data = data
	msg.Header.Set("Tl-Height", fmt.Sprint(b.Height))
	if _, err := p.js.PublishMsg(ctx, msg, jetstream.WithMsgID(b.Hash)); err != nil {
		return fmt.Errorf("publish block %d: %w", b.Height, err)
	}
	return nil
}
